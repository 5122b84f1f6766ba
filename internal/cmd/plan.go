package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raedjah1/adtbot/internal/orchestrator"
	"github.com/raedjah1/adtbot/internal/workflow"
)

type planOptions struct {
	input  commandInput
	output string
}

func newPlanCmd() *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the workflow plan for a command",
		Long: `Expand a command into a workflow plan without executing it.

The command is read from flags or from a YAML file with a "command" section.
Planning failures print the single-step fallback plan with its reason.

Examples:
  # Plan a post on twitter
  adtbot plan --intent post_content --platform twitter --param content="hello"

  # Plan from a file and print JSON
  adtbot plan -f command.yaml -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts)
		},
	}
	opts.input.register(cmd)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func runPlan(cmd *cobra.Command, opts *planOptions) error {
	in, err := opts.input.resolve(cmd)
	if err != nil {
		return err
	}
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

	plan := orch.Plan(cmd.Context(), &in.Command, in.Environment)
	return writePlan(newPrinter(cmd.OutOrStdout()), plan, opts.output)
}

func writePlan(p *printer, plan *workflow.WorkflowPlan, format string) error {
	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		p.println(string(data))
		return nil
	case "yaml":
		data, err := yaml.Marshal(plan)
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		p.printf("%s", data)
		return nil
	case "text", "":
		printPlan(p, plan)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
	}
}

func printPlan(p *printer, plan *workflow.WorkflowPlan) {
	p.printf("%s %s\n", p.title("Plan"), plan.ID)
	p.printf("  Command:   %s\n", plan.Command.Text)
	p.printf("  Intent:    %s", plan.Command.Intent)
	if plan.Command.Platform != "" {
		p.printf(" on %s", plan.Command.Platform)
	}
	p.println()
	p.printf("  Steps:     %d\n", plan.StepCount())
	p.printf("  Estimated: %s\n", plan.EstimatedDuration)
	if plan.Fallback {
		p.printf("  %s %s\n", p.warning("Fallback plan:"), plan.PlanningError)
	}
	p.println()

	for i, s := range plan.Steps {
		marker := " "
		if s.Critical {
			marker = p.failure("!")
		}
		p.printf("%s %2d. %-28s %s\n", marker, i+1, s.ID, p.muted(string(s.Type)))
		p.printf("       %s\n", clip(s.Description, 72))
		if len(s.Dependencies) > 0 {
			p.printf("       %s %s\n", p.muted("after"), strings.Join(s.Dependencies, ", "))
		}
		if s.ParallelEligible {
			p.printf("       %s\n", p.success("parallel"))
		}
	}

	if len(plan.FailureConditions) > 0 {
		p.println()
		p.printf("%s %s\n", p.muted("Fails on:"), strings.Join(plan.FailureConditions, ", "))
	}
}
