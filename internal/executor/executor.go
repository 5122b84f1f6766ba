package executor

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/raedjah1/adtbot/internal/errors"
	"github.com/raedjah1/adtbot/internal/event"
	"github.com/raedjah1/adtbot/internal/logging"
	"github.com/raedjah1/adtbot/internal/progress"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// Default executor values.
const (
	defaultMaxConcurrent = 5
	defaultStepDelay     = 500 * time.Millisecond
)

// Terminal reasons.
const (
	ReasonBlocked       = "blocked by failed steps"
	ReasonUnsatisfiable = "circular or unsatisfiable dependency"
	ReasonCancelled     = "cancelled"
)

// Option configures an Executor.
type Option func(*Executor)

// WithMaxConcurrent sets the maximum number of simultaneously active workflows.
func WithMaxConcurrent(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrent = n
		}
	}
}

// WithParallel enables or disables concurrent dispatch of ready steps.
func WithParallel(enabled bool) Option {
	return func(e *Executor) { e.parallel = enabled }
}

// WithStepDelay sets the pacing delay between sequential steps.
func WithStepDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.stepDelay = d
		}
	}
}

// WithTracker sets the progress tracker.
func WithTracker(t *progress.Tracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithBus sets the event bus workflow events are published on.
func WithBus(b *event.Bus) Option {
	return func(e *Executor) { e.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// Executor runs workflow plans against a StepExecutor. It is safe for
// concurrent use.
type Executor struct {
	steps         StepExecutor
	tracker       *progress.Tracker
	bus           *event.Bus
	logger        *logging.Logger
	now           func() time.Time
	maxConcurrent int
	parallel      bool
	stepDelay     time.Duration

	mu     sync.Mutex
	active map[string]*Execution
	closed bool

	// drivers.Go is only called under mu while !closed, so every driver is
	// registered before Shutdown waits.
	drivers conc.WaitGroup
}

// New creates an Executor that dispatches steps to steps.
func New(steps StepExecutor, opts ...Option) *Executor {
	e := &Executor{
		steps:         steps,
		logger:        logging.NopLogger(),
		now:           time.Now,
		maxConcurrent: defaultMaxConcurrent,
		parallel:      true,
		stepDelay:     defaultStepDelay,
		active:        make(map[string]*Execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracker == nil {
		e.tracker = progress.NewTracker(progress.WithBus(e.bus), progress.WithLogger(e.logger))
	}
	e.logger = e.logger.WithComponent("executor")
	return e
}

// Tracker returns the progress tracker used by the executor.
func (e *Executor) Tracker() *progress.Tracker { return e.tracker }

// Execute starts running plan and returns immediately. It fails with a
// CapacityError when the active-workflow cap is reached, and with
// ErrAlreadyRunning when a plan with the same id is active. Step failures
// never surface here; they arrive as results on the execution's stream.
//
// ctx bounds the whole run: when it is done the workflow ends CANCELLED and
// in-flight steps see the cancellation.
func (e *Executor) Execute(ctx context.Context, plan *workflow.WorkflowPlan, env workflow.EnvironmentSnapshot) (*Execution, error) {
	if plan == nil {
		return nil, errors.NewValidationError("plan is nil")
	}
	if err := checkUniqueIDs(plan); err != nil {
		return nil, err
	}
	plan = plan.Clone()

	x := newExecution(plan.ID, len(plan.Steps))

	d := &driver{
		e:         e,
		x:         x,
		plan:      plan,
		env:       env,
		ctx:       WithPlanID(ctx, plan.ID),
		logger:    e.logger.WithPlan(plan.ID),
		completed: make(map[string]bool, len(plan.Steps)),
		failed:    make(map[string]bool),
	}
	start := make(chan struct{})

	// The cap check, the insert and the driver registration happen under
	// one lock.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.ErrExecutorClosed
	}
	if _, exists := e.active[plan.ID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("plan %s: %w", plan.ID, errors.ErrAlreadyRunning)
	}
	if n := len(e.active); n >= e.maxConcurrent {
		e.mu.Unlock()
		return nil, errors.NewCapacityError(n, e.maxConcurrent)
	}
	e.active[plan.ID] = x
	e.drivers.Go(func() {
		<-start
		d.run()
	})
	e.mu.Unlock()

	x.setRunning(e.now())
	e.tracker.StartTracking(plan.ID, len(plan.Steps))
	e.bus.Publish(event.NewWorkflowStartedEvent(plan.ID, plan.Command.Intent, len(plan.Steps)))
	e.logger.WithPlan(plan.ID).Info("workflow started",
		"steps", len(plan.Steps),
		"parallel", e.parallel,
	)
	close(start)
	return x, nil
}

// Pause suspends dispatch of new steps for planID. It returns false when
// the plan is not active or not running.
func (e *Executor) Pause(planID string) bool {
	x := e.lookup(planID)
	if x == nil || !x.pause() {
		return false
	}
	e.logger.WithPlan(planID).Info("workflow paused")
	e.bus.Publish(event.NewWorkflowPausedEvent(planID))
	return true
}

// Resume continues a paused workflow. It returns false when the plan is not
// active or not paused.
func (e *Executor) Resume(planID string) bool {
	x := e.lookup(planID)
	if x == nil || !x.resume() {
		return false
	}
	e.logger.WithPlan(planID).Info("workflow resumed")
	e.bus.Publish(event.NewWorkflowResumedEvent(planID))
	return true
}

// Cancel stops planID at the next loop boundary and removes it from the
// active registry. Steps already dispatched still finish and are reported.
// It returns false when the plan is not active.
func (e *Executor) Cancel(planID string) bool {
	e.mu.Lock()
	x, ok := e.active[planID]
	if ok {
		delete(e.active, planID)
	}
	e.mu.Unlock()

	if !ok || !x.cancel(ReasonCancelled) {
		return false
	}
	e.logger.WithPlan(planID).Info("workflow cancel requested")
	return true
}

// Status returns the status of an active workflow.
func (e *Executor) Status(planID string) (workflow.Status, bool) {
	x := e.lookup(planID)
	if x == nil {
		return "", false
	}
	return x.Status(), true
}

// Active returns the ids of all active workflows, sorted.
func (e *Executor) Active() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Shutdown rejects new executions, cancels every active workflow and waits
// for their drivers to exit or for ctx to be done. It may be called more
// than once.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	for _, id := range e.Active() {
		e.Cancel(id)
	}

	done := make(chan struct{})
	go func() {
		e.drivers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) lookup(planID string) *Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[planID]
}

// release removes x from the registry unless Cancel already did.
func (e *Executor) release(x *Execution) {
	e.mu.Lock()
	if e.active[x.planID] == x {
		delete(e.active, x.planID)
	}
	e.mu.Unlock()
}

func checkUniqueIDs(plan *workflow.WorkflowPlan) error {
	seen := make(map[string]bool, len(plan.Steps))
	for _, s := range plan.Steps {
		if seen[s.ID] {
			return errors.Wrapf(errors.ErrPlanInvalid, "duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// -----------------------------------------------------------------------------
// Driver loop
// -----------------------------------------------------------------------------

// driver owns the state of one workflow run. Only its goroutine touches
// the completed and failed sets.
type driver struct {
	e      *Executor
	x      *Execution
	plan   *workflow.WorkflowPlan
	env    workflow.EnvironmentSnapshot
	ctx    context.Context
	logger *logging.Logger

	completed  map[string]bool
	failed     map[string]bool
	dispatched int
	last       progress.Progress
}

func (d *driver) run() {
	status, reason := d.loop()
	d.finalize(status, reason)
}

// loop runs until the workflow reaches a terminal status.
func (d *driver) loop() (workflow.Status, string) {
	for {
		if stop, reason := d.boundary(); stop {
			return workflow.StatusCancelled, reason
		}

		if d.finishedCount() == len(d.plan.Steps) {
			if len(d.failed) > 0 {
				return workflow.StatusFailed, fmt.Sprintf("%d of %d steps failed", len(d.failed), len(d.plan.Steps))
			}
			return workflow.StatusCompleted, ""
		}

		ready := d.readySteps()
		if len(ready) == 0 {
			reason := ReasonUnsatisfiable
			if len(d.failed) > 0 {
				reason = ReasonBlocked
			}
			err := errors.NewBlockedWorkflowError(d.plan.ID, reason, d.pending())
			d.logger.Warn("workflow blocked", "error", err.Error())
			return workflow.StatusFailed, reason
		}

		var results []workflow.ExecutionResult
		if d.e.parallel && len(ready) > 1 {
			results = d.dispatchParallel(ready)
		} else {
			// One step per iteration so pause and cancel are honored
			// between sequential steps.
			r, ok := d.dispatchSequential(ready[0])
			if !ok {
				continue
			}
			results = []workflow.ExecutionResult{r}
		}

		var critical []string
		for i, r := range results {
			d.record(r)
			if !r.Success && ready[i].Critical {
				critical = append(critical, r.StepID)
			}
		}
		if len(critical) > 0 {
			return workflow.StatusFailed, fmt.Sprintf("critical step %s failed", critical[0])
		}
	}
}

// boundary honors cancel and pause. It blocks while paused and reports
// whether the loop must stop.
func (d *driver) boundary() (bool, string) {
	for {
		if cancelled, reason := d.x.isCancelled(); cancelled {
			return true, reason
		}
		if err := d.ctx.Err(); err != nil {
			return true, err.Error()
		}

		resumeCh := d.x.pausedCh()
		if resumeCh == nil {
			return false, ""
		}
		select {
		case <-resumeCh:
		case <-d.x.cancelCh:
		case <-d.ctx.Done():
		}
	}
}

// readySteps returns the unfinished steps whose dependencies all
// completed, in plan order.
func (d *driver) readySteps() []workflow.WorkflowStep {
	var ready []workflow.WorkflowStep
	for _, s := range d.plan.Steps {
		if d.completed[s.ID] || d.failed[s.ID] {
			continue
		}
		ok := true
		for _, dep := range s.Dependencies {
			if !d.completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready
}

func (d *driver) pending() []string {
	var ids []string
	for _, s := range d.plan.Steps {
		if !d.completed[s.ID] && !d.failed[s.ID] {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (d *driver) finishedCount() int { return len(d.completed) + len(d.failed) }

// dispatchParallel runs all ready steps concurrently and returns their
// results in ready order once every one has finished.
func (d *driver) dispatchParallel(ready []workflow.WorkflowStep) []workflow.ExecutionResult {
	d.logger.Debug("dispatching steps concurrently", "steps", len(ready))
	d.dispatched += len(ready)

	results := make([]workflow.ExecutionResult, len(ready))
	var wg conc.WaitGroup
	for i, step := range ready {
		wg.Go(func() {
			results[i] = d.execute(step)
		})
	}
	wg.Wait()
	return results
}

// dispatchSequential paces and runs one step. It returns false when the
// pacing wait was interrupted by cancel or pause.
func (d *driver) dispatchSequential(step workflow.WorkflowStep) (workflow.ExecutionResult, bool) {
	if d.dispatched > 0 && d.e.stepDelay > 0 {
		timer := time.NewTimer(d.e.stepDelay)
		select {
		case <-timer.C:
		case <-d.x.cancelCh:
			timer.Stop()
			return workflow.ExecutionResult{}, false
		case <-d.ctx.Done():
			timer.Stop()
			return workflow.ExecutionResult{}, false
		}
		if d.x.pausedCh() != nil {
			return workflow.ExecutionResult{}, false
		}
	}
	d.dispatched++
	return d.execute(step), true
}

// execute runs one step through the StepExecutor, converting unsupported
// steps and panics into failed results.
func (d *driver) execute(step workflow.WorkflowStep) (result workflow.ExecutionResult) {
	log := d.logger.WithStep(step.ID)

	if !d.e.steps.CanExecute(step) {
		log.Warn("step not supported", "type", string(step.Type))
		return workflow.Failed(step.ID, fmt.Errorf("%s: %w", step.Type, errors.ErrUnsupportedStep))
	}

	log.Debug("step dispatched", "type", string(step.Type))
	start := d.e.now()

	var pc panics.Catcher
	pc.Try(func() {
		result = d.e.steps.Execute(d.ctx, step, d.env)
	})
	if r := pc.Recovered(); r != nil {
		log.Error("step executor panicked", "panic", fmt.Sprint(r.Value), "stack", string(r.Stack))
		result = workflow.Failed(step.ID, r.AsError())
	}

	// Results are attributed to the dispatched step.
	result.StepID = step.ID
	if !result.Success && result.Error == "" {
		result.Error = "unknown error"
	}
	if result.ExecutionTime == 0 {
		result.ExecutionTime = d.e.now().Sub(start)
	}
	return result
}

// record stores a result, updates progress and emits it.
func (d *driver) record(r workflow.ExecutionResult) {
	if r.Success {
		d.completed[r.StepID] = true
	} else {
		d.failed[r.StepID] = true
	}

	status := d.x.addResult(r)
	if p, ok := d.e.tracker.UpdateProgress(d.plan.ID, len(d.completed), len(d.failed), len(d.plan.Steps)); ok {
		d.last = p
	}
	d.e.bus.Publish(event.NewStepCompletedEvent(d.plan.ID, r.StepID, r.Success, r.Error, r.ExecutionTime, r.RetryCount))

	log := d.logger.WithStep(r.StepID)
	if r.Success {
		log.Info("step completed", "duration", r.ExecutionTime.String(), "retries", r.RetryCount)
	} else {
		log.Warn("step failed", "error", r.Error, "retries", r.RetryCount)
	}

	res := r
	res.Data = maps.Clone(r.Data)
	d.x.updates <- Update{
		PlanID:   d.plan.ID,
		Result:   &res,
		Status:   status,
		Progress: d.last,
	}
}

// finalize moves the workflow to its terminal status and releases it.
func (d *driver) finalize(status workflow.Status, reason string) {
	d.e.release(d.x)
	if p, ok := d.e.tracker.StopTracking(d.plan.ID); ok {
		d.last = p
	}

	summary := d.x.terminate(status, reason, len(d.completed), len(d.failed), d.e.now())
	d.e.bus.Publish(event.NewWorkflowFinishedEvent(d.plan.ID, string(status), reason, summary.Completed, summary.Failed, summary.Duration))

	args := []any{
		"status", string(status),
		"completed", summary.Completed,
		"failed", summary.Failed,
		"duration", summary.Duration.String(),
	}
	if reason != "" {
		args = append(args, "reason", reason)
	}
	if status == workflow.StatusCompleted {
		d.logger.Info("workflow finished", args...)
	} else {
		d.logger.Warn("workflow finished", args...)
	}

	d.x.close(Update{
		PlanID:   d.plan.ID,
		Status:   status,
		Reason:   reason,
		Final:    true,
		Progress: d.last,
	})
}
