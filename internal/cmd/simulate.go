package cmd

import (
	"context"
	"slices"
	"time"

	"github.com/raedjah1/adtbot/internal/executor"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// dryRunSteps returns a Step Executor that performs nothing. Each step takes
// delay and succeeds, except steps named in fail, which report a failure.
func dryRunSteps(fail []string, delay time.Duration) executor.StepExecutor {
	return executor.StepFunc(func(ctx context.Context, step workflow.WorkflowStep, _ workflow.EnvironmentSnapshot) workflow.ExecutionResult {
		start := time.Now()
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return workflow.Failed(step.ID, ctx.Err())
			}
		}

		if slices.Contains(fail, step.Name) || slices.Contains(fail, step.ID) {
			r := workflow.Failed(step.ID, nil)
			r.Error = "simulated failure"
			r.ExecutionTime = time.Since(start)
			return r
		}
		return workflow.ExecutionResult{
			StepID:        step.ID,
			Success:       true,
			Data:          map[string]any{"simulated": true, "type": string(step.Type)},
			ExecutionTime: time.Since(start),
		}
	})
}
