package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raedjah1/adtbot/internal/config"
	"github.com/raedjah1/adtbot/internal/decision"
	"github.com/raedjah1/adtbot/internal/errors"
	"github.com/raedjah1/adtbot/internal/executor"
	"github.com/raedjah1/adtbot/internal/workflow"
)

const waitTimeout = 5 * time.Second

// countingSteps succeeds every step except those scripted to fail their
// first N attempts.
type countingSteps struct {
	mu       sync.Mutex
	attempts map[string]int
	failFor  map[string]int
}

func newCountingSteps() *countingSteps {
	return &countingSteps{attempts: map[string]int{}, failFor: map[string]int{}}
}

func (s *countingSteps) Execute(_ context.Context, step workflow.WorkflowStep, _ workflow.EnvironmentSnapshot) workflow.ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[step.Name]++
	if s.attempts[step.Name] <= s.failFor[step.Name] {
		return workflow.ExecutionResult{StepID: step.ID, Error: "page still loading"}
	}
	return workflow.ExecutionResult{StepID: step.ID, Success: true}
}

func (s *countingSteps) CanExecute(workflow.WorkflowStep) bool { return true }

func (s *countingSteps) attemptsFor(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[name]
}

func noSleep(context.Context, time.Duration) error { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Executor.StepDelayMs = 0
	cfg.Decision.Jitter = false
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, steps executor.StepExecutor, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithRetrySleep(noSleep)}, opts...)
	o, err := New(cfg, steps, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return o
}

func postCommand() *workflow.ParsedCommand {
	return &workflow.ParsedCommand{
		Text:       "post hello to twitter",
		Intent:     "post_content",
		Platform:   "twitter",
		Complexity: workflow.ComplexityModerate,
		Confidence: 0.9,
		Parameters: map[string]any{"content": "hello"},
	}
}

func wait(t *testing.T, x *executor.Execution) executor.Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	sum, err := x.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return sum
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("nil step executor: err = %v, want ErrInvalidInput", err)
	}

	cfg := config.Default()
	cfg.Executor.MaxConcurrent = 0
	_, err := New(cfg, newCountingSteps())
	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 || verrs[0].Field != "executor.max_concurrent" {
		t.Errorf("invalid config: err = %v", err)
	}

	o, err := New(nil, newCountingSteps())
	if err != nil {
		t.Fatalf("New(nil cfg): %v", err)
	}
	if o.Config().Executor.MaxConcurrent != config.Default().Executor.MaxConcurrent {
		t.Error("nil config should fall back to defaults")
	}
}

func TestRun_CompletesPlan(t *testing.T) {
	steps := newCountingSteps()
	o := newTestOrchestrator(t, testConfig(), steps)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	x, plan, err := o.Run(context.Background(), postCommand(), workflow.EnvironmentSnapshot{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if plan.Fallback {
		t.Fatalf("unexpected fallback plan: %s", plan.PlanningError)
	}

	sum := wait(t, x)
	if sum.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s (%s), want COMPLETED", sum.Status, sum.Reason)
	}
	if sum.Completed != plan.StepCount() || sum.Failed != 0 {
		t.Errorf("completed/failed = %d/%d, want %d/0", sum.Completed, sum.Failed, plan.StepCount())
	}

	m, ok := o.Metrics(plan.ID)
	if !ok || m.SuccessRate != 1 {
		t.Errorf("Metrics = %+v, %v", m, ok)
	}
	if len(o.Engine().History()) != plan.StepCount() {
		t.Errorf("history = %d records, want one per step", len(o.Engine().History()))
	}
}

func TestRun_RetriesTransientFailure(t *testing.T) {
	steps := newCountingSteps()
	steps.failFor["navigate"] = 2
	o := newTestOrchestrator(t, testConfig(), steps)

	x, plan, err := o.Run(context.Background(), postCommand(), workflow.EnvironmentSnapshot{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sum := wait(t, x)
	if sum.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s (%s), want COMPLETED", sum.Status, sum.Reason)
	}
	if got := steps.attemptsFor("navigate"); got != 3 {
		t.Errorf("navigate attempts = %d, want 3", got)
	}

	navID := plan.Steps[0].ID
	state := o.RetryManager().GetState(plan.ID, navID)
	if state == nil || state.Failures != 2 || !state.Succeeded {
		t.Errorf("retry state = %+v", state)
	}
	for _, r := range sum.Results {
		if r.StepID == navID && r.RetryCount != 2 {
			t.Errorf("navigate RetryCount = %d, want 2", r.RetryCount)
		}
	}
}

func TestRun_ForgetsRetryStateWhenNotKeepingFinished(t *testing.T) {
	cfg := testConfig()
	cfg.Progress.KeepFinished = false
	steps := newCountingSteps()
	steps.failFor["navigate"] = 1
	o := newTestOrchestrator(t, cfg, steps)

	x, plan, err := o.Run(context.Background(), postCommand(), workflow.EnvironmentSnapshot{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, x)

	if o.RetryManager().GetState(plan.ID, plan.Steps[0].ID) != nil {
		t.Error("retry state should be dropped once the workflow finished")
	}
	if _, ok := o.Progress(plan.ID); ok {
		t.Error("progress should be dropped once the workflow finished")
	}
}

func TestPlan_Optimize(t *testing.T) {
	cmd := &workflow.ParsedCommand{
		Intent:     "purchase",
		Platform:   "shop",
		Complexity: workflow.ComplexityAdvanced,
		Confidence: 0.8,
	}

	for _, optimize := range []bool{true, false} {
		cfg := testConfig()
		cfg.Planner.Optimize = optimize
		o := newTestOrchestrator(t, cfg, newCountingSteps())

		plan := o.Plan(context.Background(), cmd, workflow.EnvironmentSnapshot{})
		if r := workflow.ValidatePlan(plan); !r.IsValid {
			t.Errorf("optimize=%v: invalid plan: %s", optimize, r.Errors())
		}
		last := plan.Steps[len(plan.Steps)-1]
		if last.Name != "final_validation" {
			t.Errorf("optimize=%v: last step = %s, want final_validation", optimize, last.Name)
		}
	}
}

func TestPlan_FallbackOnNilCommand(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), newCountingSteps())
	plan := o.Plan(context.Background(), nil, workflow.EnvironmentSnapshot{})
	if !plan.Fallback || plan.StepCount() != 1 {
		t.Errorf("expected single-step fallback plan, got %+v", plan)
	}
}

func TestStart_PersistsPatternsAcrossRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.PatternsDB = filepath.Join(t.TempDir(), "nested", "patterns.db")

	first, err := New(cfg, newCountingSteps(), WithRetrySleep(noSleep))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	x, _, err := first.Run(context.Background(), postCommand(), workflow.EnvironmentSnapshot{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, x)
	learned := len(first.Engine().Patterns())
	if learned == 0 {
		t.Fatal("expected patterns to be learned")
	}
	if err := first.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	second := newTestOrchestrator(t, cfg, newCountingSteps())
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(second.Engine().Patterns()); got != learned {
		t.Errorf("loaded %d patterns, want %d", got, learned)
	}
}

func TestStart_UsesSuppliedStore(t *testing.T) {
	store := decision.NewMemoryPatternStore()
	o := newTestOrchestrator(t, testConfig(), newCountingSteps(), WithPatternStore(store))
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	x, _, err := o.Run(context.Background(), postCommand(), workflow.EnvironmentSnapshot{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, x)
	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	saved, err := store.Load(context.Background())
	if err != nil || len(saved) == 0 {
		t.Errorf("store holds %d patterns (err %v), want patterns saved on shutdown", len(saved), err)
	}
}

func writeKnowledge(t *testing.T, path, url string) {
	t.Helper()
	content := []byte("platforms:\n  mastodon:\n    url: " + url + "\n    content_limit: 500\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write knowledge file: %v", err)
	}
}

func navigateURL(o *Orchestrator) any {
	cmd := &workflow.ParsedCommand{Intent: "navigate", Platform: "mastodon", Complexity: workflow.ComplexitySimple, Confidence: 1}
	plan := o.Plan(context.Background(), cmd, workflow.EnvironmentSnapshot{})
	return plan.Steps[0].Parameters["url"]
}

func TestStart_KnowledgeFileAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	writeKnowledge(t, path, "https://one.example")

	cfg := testConfig()
	cfg.Planner.KnowledgeFile = path
	o := newTestOrchestrator(t, cfg, newCountingSteps())
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := navigateURL(o); got != "https://one.example" {
		t.Fatalf("url = %v, want https://one.example", got)
	}

	writeKnowledge(t, path, "https://two.example")
	deadline := time.Now().Add(waitTimeout)
	for navigateURL(o) != "https://two.example" {
		if time.Now().After(deadline) {
			t.Fatalf("knowledge file was not reloaded, url = %v", navigateURL(o))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStart_MissingKnowledgeFile(t *testing.T) {
	cfg := testConfig()
	cfg.Planner.KnowledgeFile = filepath.Join(t.TempDir(), "absent.yaml")
	cfg.Planner.WatchKnowledge = false
	o := newTestOrchestrator(t, cfg, newCountingSteps())
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start with missing knowledge file: %v", err)
	}
}

func TestStart_MalformedKnowledgeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	if err := os.WriteFile(path, []byte("platforms: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Planner.KnowledgeFile = path
	o := newTestOrchestrator(t, cfg, newCountingSteps())
	if err := o.Start(context.Background()); err == nil {
		t.Error("Start should fail on a malformed knowledge file")
	}
}

func TestShutdown(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), newCountingSteps())
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Errorf("second Start: %v", err)
	}

	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := o.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}

	if _, _, err := o.Run(context.Background(), postCommand(), workflow.EnvironmentSnapshot{}); !errors.Is(err, ErrStopped) {
		t.Errorf("Run after Shutdown: err = %v, want ErrStopped", err)
	}
	if err := o.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Shutdown: err = %v, want ErrStopped", err)
	}
}

func TestShutdown_CancelsActiveWorkflows(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	started := make(chan struct{}, 1)
	steps := executor.StepFunc(func(ctx context.Context, step workflow.WorkflowStep, _ workflow.EnvironmentSnapshot) workflow.ExecutionResult {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-time.After(50 * time.Millisecond):
		}
		return workflow.ExecutionResult{StepID: step.ID, Success: true}
	})
	o := newTestOrchestrator(t, testConfig(), steps)

	x, plan, err := o.Run(context.Background(), postCommand(), workflow.EnvironmentSnapshot{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-started
	if active := o.Active(); len(active) != 1 || active[0] != plan.ID {
		t.Errorf("Active() = %v, want [%s]", active, plan.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if sum := wait(t, x); sum.Status != workflow.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", sum.Status)
	}
}

func TestControlDelegation(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), newCountingSteps())
	for name, ok := range map[string]bool{
		"Pause":  o.Pause("missing"),
		"Resume": o.Resume("missing"),
		"Cancel": o.Cancel("missing"),
	} {
		if ok {
			t.Errorf("%s(missing) = true, want false", name)
		}
	}
	if _, ok := o.Status("missing"); ok {
		t.Error("Status(missing) reported a workflow")
	}
}
