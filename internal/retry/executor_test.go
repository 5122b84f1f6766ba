package retry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raedjah1/adtbot/internal/decision"
	"github.com/raedjah1/adtbot/internal/executor"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// scriptedSteps fails the first failures attempts with errMsg, then succeeds.
type scriptedSteps struct {
	mu       sync.Mutex
	failures int
	errMsg   string
	block    bool
	panics   bool
	calls    int
}

func (s *scriptedSteps) Execute(ctx context.Context, step workflow.WorkflowStep, _ workflow.EnvironmentSnapshot) workflow.ExecutionResult {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if s.panics {
		panic("executor exploded")
	}
	if s.block {
		<-ctx.Done()
		return workflow.Failed(step.ID, ctx.Err())
	}
	if n <= s.failures {
		return workflow.ExecutionResult{StepID: step.ID, Error: s.errMsg}
	}
	return workflow.ExecutionResult{StepID: step.ID, Success: true}
}

func (s *scriptedSteps) CanExecute(step workflow.WorkflowStep) bool {
	return step.Type != workflow.StepDataExtraction
}

func (s *scriptedSteps) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func clickStep(retries int) workflow.WorkflowStep {
	return workflow.WorkflowStep{
		ID:          "step_2_click_button",
		Name:        "click_button",
		Type:        workflow.StepElementInteraction,
		Description: "Click the button",
		Timeout:     time.Second,
		RetryCount:  retries,
		RetryDelay:  2 * time.Second,
	}
}

// With the default step retry count and the default engine, a failing step
// gets three attempts: the engine stops once the failure count reaches its
// max, before the step's own count is spent.
func TestExecute_DefaultRetryBudget(t *testing.T) {
	inner := &scriptedSteps{failures: 10, errMsg: "page still loading"}
	r := New(inner, decision.NewEngine(), WithSleep((&sleepRecorder{}).sleep))

	step := clickStep(3)
	res := r.Execute(executor.WithPlanID(context.Background(), "plan-d"), step, workflow.EnvironmentSnapshot{})

	if res.Success {
		t.Fatal("step should fail")
	}
	if inner.Calls() != 3 {
		t.Errorf("attempts = %d, want 3", inner.Calls())
	}
	if res.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", res.RetryCount)
	}
}

func TestExecute_Retries(t *testing.T) {
	tests := []struct {
		name        string
		step        workflow.WorkflowStep
		failures    int
		errMsg      string
		engineMax   int
		wantSuccess bool
		wantCalls   int
		wantRetries int
	}{
		{"first attempt succeeds", clickStep(3), 0, "", 3, true, 1, 0},
		{"succeeds after two failures", clickStep(3), 2, "flaky", 3, true, 3, 2},
		{"step retry count exhausted", clickStep(1), 5, "flaky", 3, false, 2, 1},
		{"no retries configured", clickStep(0), 5, "flaky", 3, false, 1, 0},
		{"engine max retries caps attempts", clickStep(10), 10, "flaky", 3, false, 3, 2},
		{"equal budgets allow three attempts", clickStep(3), 5, "flaky", 3, false, 3, 2},
		{"step budget below engine max", clickStep(2), 5, "flaky", 5, false, 3, 2},
		{"non-retryable error", clickStep(3), 5, "Element not found: #submit", 3, false, 1, 0},
		{
			name: "high risk step gets one attempt",
			step: workflow.WorkflowStep{
				ID: "step_5_submit_payment", Name: "submit_payment", Type: workflow.StepElementInteraction,
				Description: "Submit bank transfer", RetryCount: 3, Timeout: time.Second,
			},
			failures: 5, errMsg: "flaky", engineMax: 3,
			wantSuccess: false, wantCalls: 1, wantRetries: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scriptedSteps{failures: tt.failures, errMsg: tt.errMsg}
			engine := decision.NewEngine(decision.WithMaxRetries(tt.engineMax))
			sleeps := &sleepRecorder{}
			r := New(inner, engine, WithSleep(sleeps.sleep))

			ctx := executor.WithPlanID(context.Background(), "plan-r")
			res := r.Execute(ctx, tt.step, workflow.EnvironmentSnapshot{})

			if res.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v (error %q)", res.Success, tt.wantSuccess, res.Error)
			}
			if inner.Calls() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", inner.Calls(), tt.wantCalls)
			}
			if res.RetryCount != tt.wantRetries {
				t.Errorf("RetryCount = %d, want %d", res.RetryCount, tt.wantRetries)
			}
			if len(sleeps.delays) != tt.wantCalls-1 {
				t.Errorf("slept %d times, want %d", len(sleeps.delays), tt.wantCalls-1)
			}
			for _, d := range sleeps.delays {
				if d != tt.step.RetryDelay {
					t.Errorf("slept %s, want %s", d, tt.step.RetryDelay)
				}
			}
			if res.StepID != tt.step.ID {
				t.Errorf("StepID = %q", res.StepID)
			}
			if got := len(engine.History()); got != tt.wantCalls {
				t.Errorf("engine recorded %d outcomes, want %d", got, tt.wantCalls)
			}

			state := r.Manager().GetState("plan-r", tt.step.ID)
			if state == nil {
				t.Fatal("no retry state recorded")
			}
			if state.Attempts() != tt.wantCalls || state.Succeeded != tt.wantSuccess {
				t.Errorf("state = %+v", state)
			}
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	inner := &scriptedSteps{block: true}
	step := clickStep(0)
	step.Timeout = 20 * time.Millisecond
	r := New(inner, decision.NewEngine())

	res := r.Execute(context.Background(), step, workflow.EnvironmentSnapshot{})
	if res.Success {
		t.Fatal("blocked step should fail")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("Error = %q, want timeout", res.Error)
	}
}

func TestExecute_TimeoutIsRetried(t *testing.T) {
	inner := &scriptedSteps{block: true}
	step := clickStep(1)
	step.Timeout = 10 * time.Millisecond
	r := New(inner, decision.NewEngine(), WithSleep(func(context.Context, time.Duration) error { return nil }))

	res := r.Execute(context.Background(), step, workflow.EnvironmentSnapshot{})
	if inner.Calls() != 2 || res.RetryCount != 1 {
		t.Errorf("calls = %d, RetryCount = %d; want 2 and 1", inner.Calls(), res.RetryCount)
	}
}

func TestExecute_ContextCanceledStopsRetrying(t *testing.T) {
	inner := &scriptedSteps{failures: 5, errMsg: "flaky"}
	ctx, cancel := context.WithCancel(context.Background())
	r := New(inner, decision.NewEngine(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	res := r.Execute(ctx, clickStep(3), workflow.EnvironmentSnapshot{})
	if res.Success || inner.Calls() != 1 {
		t.Errorf("Success = %v, calls = %d; want failure after 1 call", res.Success, inner.Calls())
	}
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	r := New(&scriptedSteps{panics: true}, decision.NewEngine())
	res := r.Execute(context.Background(), clickStep(0), workflow.EnvironmentSnapshot{})
	if res.Success || !strings.Contains(res.Error, "executor exploded") {
		t.Errorf("result = %+v", res)
	}
}

func TestCanExecute(t *testing.T) {
	r := New(&scriptedSteps{}, decision.NewEngine())
	if !r.CanExecute(clickStep(0)) {
		t.Error("click step should be supported")
	}
	if r.CanExecute(workflow.WorkflowStep{Type: workflow.StepDataExtraction}) {
		t.Error("CanExecute should delegate to the wrapped executor")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("zero sleep: %v", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("short sleep: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); err == nil {
		t.Error("sleep on canceled context should fail")
	}
}
