package executor

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/raedjah1/adtbot/internal/workflow"
)

// Summary is the outcome of a finished execution.
type Summary struct {
	PlanID    string                     `json:"plan_id"`
	Status    workflow.Status            `json:"status"`
	Reason    string                     `json:"reason,omitempty"`
	Results   []workflow.ExecutionResult `json:"results"`
	Completed int                        `json:"completed"`
	Failed    int                        `json:"failed"`
	Duration  time.Duration              `json:"duration"`
}

// Execution is the handle to one running workflow.
type Execution struct {
	planID  string
	updates chan Update
	done    chan struct{}

	// control token, checked by the driver at the loop boundary
	mu        sync.Mutex
	status    workflow.Status
	reason    string
	resumeCh  chan struct{}
	cancelCh  chan struct{}
	cancelled bool

	results   []workflow.ExecutionResult
	startedAt time.Time
	summary   Summary
}

func newExecution(planID string, steps int) *Execution {
	return &Execution{
		planID: planID,
		// One update per step plus the final one, so the driver never
		// blocks on a consumer that stopped reading.
		updates:  make(chan Update, steps+1),
		done:     make(chan struct{}),
		status:   workflow.StatusPlanned,
		cancelCh: make(chan struct{}),
	}
}

// PlanID returns the id of the plan being executed.
func (x *Execution) PlanID() string { return x.planID }

// Updates returns the update stream. It is closed after the final update.
func (x *Execution) Updates() <-chan Update { return x.updates }

// Done is closed when the execution has reached a terminal status.
func (x *Execution) Done() <-chan struct{} { return x.done }

// Status returns the current workflow status.
func (x *Execution) Status() workflow.Status {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

// Results returns the results produced so far.
func (x *Execution) Results() []workflow.ExecutionResult {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.results)
}

// Wait blocks until the execution finishes or ctx is done.
func (x *Execution) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-x.done:
		x.mu.Lock()
		defer x.mu.Unlock()
		s := x.summary
		s.Results = slices.Clone(s.Results)
		return s, nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

// pause moves a running execution to PAUSED.
func (x *Execution) pause() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cancelled || !x.status.CanTransitionTo(workflow.StatusPaused) {
		return false
	}
	x.status = workflow.StatusPaused
	x.resumeCh = make(chan struct{})
	return true
}

// resume moves a paused execution back to RUNNING.
func (x *Execution) resume() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cancelled || x.status != workflow.StatusPaused {
		return false
	}
	x.status = workflow.StatusRunning
	close(x.resumeCh)
	x.resumeCh = nil
	return true
}

// cancel marks the execution cancelled and wakes the driver.
func (x *Execution) cancel(reason string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cancelled || x.status.IsTerminal() {
		return false
	}
	x.cancelled = true
	x.reason = reason
	close(x.cancelCh)
	return true
}

// pausedCh returns a channel closed on resume, or nil when not paused.
func (x *Execution) pausedCh() chan struct{} {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.status != workflow.StatusPaused {
		return nil
	}
	return x.resumeCh
}

func (x *Execution) isCancelled() (bool, string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cancelled, x.reason
}

func (x *Execution) setRunning(now time.Time) {
	x.mu.Lock()
	x.status = workflow.StatusRunning
	x.startedAt = now
	x.mu.Unlock()
}

func (x *Execution) addResult(r workflow.ExecutionResult) workflow.Status {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.results = append(x.results, r)
	return x.status
}

// terminate records the terminal status and returns the summary.
func (x *Execution) terminate(status workflow.Status, reason string, completed, failed int, now time.Time) Summary {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.status = status
	x.reason = reason
	if x.resumeCh != nil {
		close(x.resumeCh)
		x.resumeCh = nil
	}
	x.summary = Summary{
		PlanID:    x.planID,
		Status:    status,
		Reason:    reason,
		Results:   slices.Clone(x.results),
		Completed: completed,
		Failed:    failed,
		Duration:  now.Sub(x.startedAt),
	}
	return x.summary
}

// close emits the final update and closes the stream.
func (x *Execution) close(u Update) {
	x.updates <- u
	close(x.updates)
	close(x.done)
}
