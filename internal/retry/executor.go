package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/raedjah1/adtbot/internal/errors"
	"github.com/raedjah1/adtbot/internal/executor"
	"github.com/raedjah1/adtbot/internal/logging"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// Decider is the part of the decision engine the retry loop consults.
type Decider interface {
	DecideStep(step workflow.WorkflowStep, env workflow.EnvironmentSnapshot) workflow.ActionDecision
	ShouldRetry(decision workflow.ActionDecision, failureCount int, err error) bool
	RecordOutcomeFor(intent string, env workflow.EnvironmentSnapshot, decision workflow.ActionDecision, success bool, err error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithManager sets the state manager. By default each Executor has its own.
func WithManager(m *Manager) Option {
	return func(r *Executor) {
		if m != nil {
			r.manager = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Executor) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSleep overrides the delay between attempts, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Executor) { r.sleep = sleep }
}

// Executor is a step executor that retries failed attempts of the wrapped
// executor.
type Executor struct {
	inner   executor.StepExecutor
	decider Decider
	manager *Manager
	logger  *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// New wraps inner. decider supplies the retry policy.
func New(inner executor.StepExecutor, decider Decider, opts ...Option) *Executor {
	r := &Executor{
		inner:   inner,
		decider: decider,
		manager: NewManager(),
		logger:  logging.NopLogger(),
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("retry")
	return r
}

// Manager returns the retry state manager.
func (r *Executor) Manager() *Manager { return r.manager }

// CanExecute delegates to the wrapped executor.
func (r *Executor) CanExecute(step workflow.WorkflowStep) bool {
	return r.inner.CanExecute(step)
}

// Execute runs step until it succeeds, its retry count is spent, the
// decision engine refuses another attempt or ctx is done. The returned
// result is the last attempt's, with RetryCount set to the number of
// retries and ExecutionTime covering every attempt.
//
// A step is retried at most min(step.RetryCount, engine max retries - 1)
// times: the engine refuses once the failure count reaches its max.
func (r *Executor) Execute(ctx context.Context, step workflow.WorkflowStep, env workflow.EnvironmentSnapshot) workflow.ExecutionResult {
	planID := executor.PlanIDFromContext(ctx)
	log := r.logger.WithPlan(planID).WithStep(step.ID)
	decision := r.decider.DecideStep(step, env)
	r.manager.Begin(planID, step.ID, step.RetryCount)

	start := r.now()
	var (
		result   workflow.ExecutionResult
		failures int
	)
	for {
		attemptStart := r.now()
		var err error
		result, err = r.attempt(ctx, step, env)
		r.manager.RecordAttempt(planID, step.ID, result.Success, result.Error, r.now().Sub(attemptStart))
		r.decider.RecordOutcomeFor(step.Name, env, decision, result.Success, err)
		if result.Success {
			break
		}

		failures++
		if failures > step.RetryCount || ctx.Err() != nil {
			break
		}
		if !r.decider.ShouldRetry(decision, failures, err) {
			log.Debug("retry refused by decision engine", "failures", failures, "error", result.Error)
			break
		}

		log.Info("retrying step",
			"attempt", failures+1,
			"delay", step.RetryDelay.String(),
			"error", result.Error,
		)
		if err := r.sleep(ctx, step.RetryDelay); err != nil {
			break
		}
	}

	// Every failure but the last was followed by a retry.
	result.StepID = step.ID
	result.RetryCount = failures
	if !result.Success && failures > 0 {
		result.RetryCount = failures - 1
	}
	result.ExecutionTime = r.now().Sub(start)
	return result
}

// attempt runs one bounded attempt. The error mirrors a failed result so
// the retry policy can classify it.
func (r *Executor) attempt(ctx context.Context, step workflow.WorkflowStep, env workflow.EnvironmentSnapshot) (workflow.ExecutionResult, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if step.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, step.Timeout)
	}
	defer cancel()

	done := make(chan workflow.ExecutionResult, 1)
	go func() {
		var res workflow.ExecutionResult
		var pc panics.Catcher
		pc.Try(func() { res = r.inner.Execute(actx, step, env) })
		if rec := pc.Recovered(); rec != nil {
			res = workflow.Failed(step.ID, rec.AsError())
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.Success {
			return res, nil
		}
		if res.Error == "" {
			res.Error = "unknown error"
		}
		return res, errors.New(res.Error)

	case <-actx.Done():
		var err error
		if ctx.Err() != nil {
			err = fmt.Errorf("%s: %w", step.ID, errors.ErrCanceled)
		} else {
			err = errors.NewTimeoutError(step.ID, step.Timeout)
		}
		return workflow.Failed(step.ID, err), err
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ executor.StepExecutor = (*Executor)(nil)
