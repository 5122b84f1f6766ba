package cmd

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raedjah1/adtbot/internal/decision"
	"github.com/raedjah1/adtbot/internal/orchestrator"
	"github.com/raedjah1/adtbot/internal/workflow"
)

type decideOptions struct {
	input    commandInput
	elements []string
	jsonOut  bool
}

func newDecideCmd() *cobra.Command {
	opts := &decideOptions{}
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Ask the decision engine for the next action",
		Long: `Ask the decision engine which action to take toward an intent in the
given environment, with its confidence, risk level and fallbacks.

Candidate elements are given as selector=text pairs or in the "elements"
section of a YAML file.

Examples:
  adtbot decide --intent "click the login button" --element "#login=Log in"
  adtbot decide -f situation.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecide(cmd, opts)
		},
	}
	opts.input.register(cmd)
	cmd.Flags().StringArrayVar(&opts.elements, "element", nil, "candidate element as selector=text (repeatable)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the decision as JSON")
	return cmd
}

func runDecide(cmd *cobra.Command, opts *decideOptions) error {
	in, err := opts.input.resolve(cmd)
	if err != nil {
		return err
	}
	in.Elements = append(in.Elements, parseElements(opts.elements)...)

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Close()

	orch, err := orchestrator.New(cfg, dryRunSteps(nil, 0), orchestrator.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := orch.Start(cmd.Context()); err != nil {
		return err
	}
	defer orch.Shutdown(cmd.Context())

	intent := in.Command.Intent
	if in.Command.Text != "" && in.Command.Text != intent {
		intent = in.Command.Text
	}
	d := orch.Decide(intent, in.Environment, in.Elements)

	p := newPrinter(cmd.OutOrStdout())
	if opts.jsonOut {
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode decision: %w", err)
		}
		p.println(string(data))
		return nil
	}
	printDecision(p, d)
	return nil
}

// parseElements reads selector=text pairs. A bare value is a selector.
func parseElements(raw []string) []decision.CandidateElement {
	out := make([]decision.CandidateElement, 0, len(raw))
	for _, r := range raw {
		sel, text, _ := strings.Cut(r, "=")
		if sel = strings.TrimSpace(sel); sel == "" {
			continue
		}
		out = append(out, decision.CandidateElement{Selector: sel, Text: strings.TrimSpace(text)})
	}
	return out
}

func printDecision(p *printer, d workflow.ActionDecision) {
	risk := string(d.Risk)
	switch d.Risk {
	case workflow.RiskHigh:
		risk = p.failure(risk)
	case workflow.RiskMedium:
		risk = p.warning(risk)
	default:
		risk = p.success(risk)
	}

	p.printf("%s %s\n", p.title("Action"), d.Action)
	p.printf("  Confidence: %.2f\n", d.Confidence)
	p.printf("  Risk:       %s\n", risk)
	p.printf("  Duration:   %s\n", d.EstimatedDuration)
	p.printf("  Reasoning:  %s\n", d.Reasoning)
	for _, k := range slices.Sorted(maps.Keys(d.Parameters)) {
		p.printf("  %s %v\n", p.muted(k+":"), d.Parameters[k])
	}
	if len(d.Fallbacks) > 0 {
		p.println()
		p.println(p.muted("Fallbacks:"))
		for i, f := range d.Fallbacks {
			p.printf("  %d. %s (%.2f) %s\n", i+1, f.Action, f.Confidence, p.muted(f.Reasoning))
		}
	}
}
