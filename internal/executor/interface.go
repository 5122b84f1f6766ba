// Package executor runs workflow plans.
//
// An [Executor] drives one goroutine per active workflow. Each iteration of
// the driver loop computes the ready set (steps that have not finished and
// whose dependencies all completed), dispatches it to a [StepExecutor] and
// records the results before recomputing. Independent ready steps run
// concurrently in parallel mode. Pause and cancel are cooperative: they take
// effect only at the top of the loop, so a dispatched step always finishes
// and is reported.
//
// Consumers observe a workflow through the [Execution] returned by
// [Executor.Execute]: one [Update] per finished step, then a final update
// carrying the terminal status.
package executor

import (
	"context"

	"github.com/raedjah1/adtbot/internal/progress"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// StepExecutor performs individual steps. Implementations must be safe for
// concurrent use by independent steps. Execute reports failure through the
// returned result rather than by panicking; a panic is recovered and turned
// into a failed result.
type StepExecutor interface {
	// Execute performs step. ctx carries the plan id (see PlanIDFromContext)
	// and is canceled when the caller of Executor.Execute gives up.
	Execute(ctx context.Context, step workflow.WorkflowStep, env workflow.EnvironmentSnapshot) workflow.ExecutionResult

	// CanExecute reports whether step is supported. Unsupported steps fail
	// without being executed.
	CanExecute(step workflow.WorkflowStep) bool
}

// StepFunc adapts a function to a StepExecutor that accepts every step.
type StepFunc func(ctx context.Context, step workflow.WorkflowStep, env workflow.EnvironmentSnapshot) workflow.ExecutionResult

// Execute calls f.
func (f StepFunc) Execute(ctx context.Context, step workflow.WorkflowStep, env workflow.EnvironmentSnapshot) workflow.ExecutionResult {
	return f(ctx, step, env)
}

// CanExecute always returns true.
func (f StepFunc) CanExecute(workflow.WorkflowStep) bool { return true }

// Update is one element of an execution's stream.
type Update struct {
	PlanID string

	// Result is set for step updates and nil on the final update.
	Result *workflow.ExecutionResult

	// Status is the workflow status after this update.
	Status workflow.Status

	// Reason explains a FAILED or CANCELLED final status.
	Reason string

	// Final marks the last update of the stream.
	Final bool

	Progress progress.Progress
}

type planIDKey struct{}

// WithPlanID returns a context carrying planID.
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, planIDKey{}, planID)
}

// PlanIDFromContext returns the plan id stored by WithPlanID, or "".
func PlanIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(planIDKey{}).(string)
	return id
}
