package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/raedjah1/adtbot/internal/browserexec"
	"github.com/raedjah1/adtbot/internal/config"
	"github.com/raedjah1/adtbot/internal/event"
	"github.com/raedjah1/adtbot/internal/executor"
	"github.com/raedjah1/adtbot/internal/logging"
	"github.com/raedjah1/adtbot/internal/orchestrator"
	"github.com/raedjah1/adtbot/internal/progress"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// maxErrorWidth bounds step errors printed in progress lines.
const maxErrorWidth = 60

type runOptions struct {
	input      commandInput
	browser    bool
	delay      time.Duration
	failSteps  []string
	sequential bool
	timeout    time.Duration
	jsonOut    bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and execute a command",
		Long: `Plan a command and execute the plan, printing progress as steps finish.

By default steps are simulated (dry run). Use --browser to perform them in
Chrome, launched locally or reached through browser.remote_url. Press Ctrl+C
to cancel; the workflow stops after the steps in flight finish.

Examples:
  # Dry run with one simulated failure
  adtbot run --intent search --platform github --param query=chromedp --fail-step extract_results

  # Real run against a running Chrome
  ADTBOT_BROWSER_REMOTE_URL=ws://localhost:9222 adtbot run -f command.yaml --browser`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts)
		},
	}
	opts.input.register(cmd)
	f := cmd.Flags()
	f.BoolVar(&opts.browser, "browser", false, "perform steps in a browser instead of simulating them")
	f.DurationVar(&opts.delay, "sim-delay", 200*time.Millisecond, "duration of each simulated step")
	f.StringSliceVar(&opts.failSteps, "fail-step", nil, "step name or id that fails in the simulation (repeatable)")
	f.BoolVar(&opts.sequential, "sequential", false, "dispatch one step at a time")
	f.DurationVar(&opts.timeout, "timeout", 0, "cancel the workflow after this long (0 disables)")
	f.BoolVar(&opts.jsonOut, "json", false, "print the final summary as JSON")
	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
	in, err := opts.input.resolve(cmd)
	if err != nil {
		return err
	}
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Close()
	if opts.sequential {
		cfg.Executor.Parallel = false
	}

	var steps executor.StepExecutor
	var browser *browserexec.Executor
	if opts.browser {
		browser = newBrowser(cfg, logger)
		defer browser.Close()
		steps = browser
	} else {
		steps = dryRunSteps(opts.failSteps, opts.delay)
	}

	orch, err := orchestrator.New(cfg, steps, orchestrator.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := orch.Start(cmd.Context()); err != nil {
		return err
	}
	defer orch.Shutdown(context.WithoutCancel(cmd.Context()))

	p := newPrinter(cmd.OutOrStdout())
	if !opts.jsonOut {
		unsubscribe := watchProgress(orch.Bus(), p)
		defer unsubscribe()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	plan := orch.Plan(ctx, &in.Command, in.Environment)
	if !opts.jsonOut {
		printPlan(p, plan)
		p.println()
	}

	exec, err := orch.Execute(ctx, plan, in.Environment)
	if err != nil {
		return err
	}
	sum, err := exec.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if browser != nil {
		browser.Release(plan.ID)
	}

	metrics, _ := orch.Metrics(plan.ID)
	if opts.jsonOut {
		data, err := json.MarshalIndent(runOutput{Summary: sum, Metrics: metrics}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		p.println(string(data))
	} else {
		printSummary(p, sum, metrics)
	}

	if sum.Status != workflow.StatusCompleted {
		return fmt.Errorf("workflow %s: %s", strings.ToLower(string(sum.Status)), sum.Reason)
	}
	return nil
}

// runOutput is the JSON form of a finished run.
type runOutput struct {
	Summary executor.Summary `json:"summary"`
	Metrics progress.Metrics `json:"metrics"`
}

func newBrowser(cfg *config.Config, logger *logging.Logger) *browserexec.Executor {
	creds := make(browserexec.StaticCredentials, len(cfg.Browser.Credentials))
	for platform, c := range cfg.Browser.Credentials {
		creds[strings.ToLower(platform)] = browserexec.Credentials{
			Username: c.Username,
			Password: c.ResolvePassword(),
		}
	}
	return browserexec.New(
		browserexec.WithRemoteURL(cfg.Browser.RemoteURL),
		browserexec.WithHeadless(cfg.Browser.Headless),
		browserexec.WithUserAgent(cfg.Browser.UserAgent),
		browserexec.WithCredentials(creds),
		browserexec.WithLogger(logger),
	)
}

// watchProgress prints workflow events as they are published and returns a
// function that stops printing.
func watchProgress(bus *event.Bus, p *printer) func() {
	var mu sync.Mutex
	id := bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch ev := e.(type) {
		case event.WorkflowStartedEvent:
			p.printf("%s %s (%d steps)\n", p.status(workflow.StatusRunning), ev.PlanID, ev.TotalSteps)
		case event.StepCompletedEvent:
			mark := p.success("ok  ")
			if !ev.Success {
				mark = p.failure("FAIL")
			}
			line := fmt.Sprintf("  %s %-28s %s", mark, ev.StepID, p.muted(ev.Duration.Round(time.Millisecond).String()))
			if ev.Retries > 0 {
				line += p.warning(fmt.Sprintf(" retries=%d", ev.Retries))
			}
			if ev.Error != "" {
				line += " " + p.failure(clip(ev.Error, maxErrorWidth))
			}
			p.println(line)
		case event.ProgressUpdatedEvent:
			p.printf("  %s\n", p.muted(fmt.Sprintf("%.0f%% (%d/%d)", ev.Percentage, ev.Completed+ev.Failed, ev.Total)))
		case event.WorkflowPausedEvent:
			p.printf("%s %s\n", p.status(workflow.StatusPaused), ev.PlanID)
		case event.WorkflowResumedEvent:
			p.printf("%s %s\n", p.status(workflow.StatusRunning), ev.PlanID)
		}
	})
	return func() { bus.Unsubscribe(id) }
}

func printSummary(p *printer, sum executor.Summary, m progress.Metrics) {
	p.println()
	p.printf("%s %s", p.title("Result"), p.status(sum.Status))
	if sum.Reason != "" {
		p.printf(" %s", p.muted("("+sum.Reason+")"))
	}
	p.println()
	p.printf("  Completed: %d  Failed: %d  Duration: %s\n", sum.Completed, sum.Failed, sum.Duration.Round(time.Millisecond))
	p.printf("  Success rate: %.0f%%  Efficiency: %.2f\n", m.SuccessRate*100, m.EfficiencyScore)
}
