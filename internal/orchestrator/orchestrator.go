// Package orchestrator owns one instance of each workflow component and gives
// them a shared construct, start and shutdown lifecycle.
//
// An [Orchestrator] wires the decision engine, the planner with its platform
// knowledge base, the progress tracker, the retry boundary and the workflow
// executor to a single event bus and logger. Host applications (the CLI, or an
// embedding service) supply the configuration and a Step Executor:
//
//	orch, err := orchestrator.New(cfg, steps, orchestrator.WithLogger(logger))
//	if err != nil { ... }
//	if err := orch.Start(ctx); err != nil { ... }
//	defer orch.Shutdown(ctx)
//
//	exec, plan, err := orch.Run(ctx, cmd, env)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Start and Shutdown are idempotent.
package orchestrator

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/raedjah1/adtbot/internal/config"
	"github.com/raedjah1/adtbot/internal/decision"
	"github.com/raedjah1/adtbot/internal/errors"
	"github.com/raedjah1/adtbot/internal/event"
	"github.com/raedjah1/adtbot/internal/executor"
	"github.com/raedjah1/adtbot/internal/logging"
	"github.com/raedjah1/adtbot/internal/planner"
	"github.com/raedjah1/adtbot/internal/progress"
	"github.com/raedjah1/adtbot/internal/retry"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// ErrStopped is returned by operations attempted after Shutdown.
var ErrStopped = errors.New("orchestrator stopped")

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the root logger shared by every component.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBus sets the event bus. A new bus is created if unset.
func WithBus(b *event.Bus) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.bus = b
		}
	}
}

// WithPatternStore sets the store used to load and persist decision patterns.
// The orchestrator does not close a store supplied this way.
func WithPatternStore(s decision.PatternStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithClassifier replaces the decision engine's intent classifier.
func WithClassifier(c decision.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithRetrySleep replaces the sleep used between step retries.
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.retrySleep = sleep }
}

// Orchestrator is the composition root of the workflow engine.
type Orchestrator struct {
	cfg    *config.Config
	logger *logging.Logger
	bus    *event.Bus

	classifier decision.Classifier
	retrySleep func(ctx context.Context, d time.Duration) error

	engine   *decision.Engine
	planner  *planner.Planner
	tracker  *progress.Tracker
	retry    *retry.Executor
	executor *executor.Executor

	mu        sync.Mutex
	store     decision.PatternStore
	ownsStore bool
	watcher   *planner.KnowledgeWatcher
	finishSub string
	started   bool
	stopped   bool
}

// New builds every component from cfg around the given Step Executor.
// A nil cfg uses config.Default(). Nothing touches the filesystem until Start.
func New(cfg *config.Config, steps executor.StepExecutor, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	if steps == nil {
		return nil, errors.NewValidationError("step executor is required").WithField("steps")
	}

	o := &Orchestrator{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.bus == nil {
		o.bus = event.NewBus(o.logger)
	}

	engineOpts := []decision.Option{
		decision.WithLogger(o.logger),
		decision.WithMaxRetries(cfg.Decision.MaxRetries),
		decision.WithBaseDelay(cfg.Decision.BaseDelay()),
		decision.WithJitter(cfg.Decision.Jitter),
		decision.WithHistorySize(cfg.Decision.HistorySize),
	}
	if len(cfg.Decision.NonRetryableErrors) > 0 {
		engineOpts = append(engineOpts, decision.WithNonRetryableMessages(cfg.Decision.NonRetryableErrors))
	}
	if o.classifier != nil {
		engineOpts = append(engineOpts, decision.WithClassifier(o.classifier))
	}
	o.engine = decision.NewEngine(engineOpts...)

	o.planner = planner.New(
		planner.WithKnowledge(planner.NewKnowledgeBase(o.logger)),
		planner.WithRetries(cfg.Planner.DefaultRetries),
		planner.WithRetryDelay(cfg.Planner.RetryDelay()),
		planner.WithLogger(o.logger),
	)

	o.tracker = progress.NewTracker(
		progress.WithBus(o.bus),
		progress.WithLogger(o.logger),
		progress.WithThroughputTarget(cfg.Progress.ThroughputTarget),
		progress.WithKeepFinished(cfg.Progress.KeepFinished),
	)

	retryOpts := []retry.Option{retry.WithLogger(o.logger)}
	if o.retrySleep != nil {
		retryOpts = append(retryOpts, retry.WithSleep(o.retrySleep))
	}
	o.retry = retry.New(steps, o.engine, retryOpts...)

	o.executor = executor.New(o.retry,
		executor.WithMaxConcurrent(cfg.Executor.MaxConcurrent),
		executor.WithParallel(cfg.Executor.Parallel),
		executor.WithStepDelay(cfg.Executor.StepDelay()),
		executor.WithTracker(o.tracker),
		executor.WithBus(o.bus),
		executor.WithLogger(o.logger),
	)

	if !cfg.Progress.KeepFinished {
		o.finishSub = o.bus.Subscribe(event.TypeWorkflowFinished, o.forgetRetryState)
	}

	o.logger = o.logger.WithComponent("orchestrator")
	return o, nil
}

// forgetRetryState drops per-step retry state once a workflow is finished.
func (o *Orchestrator) forgetRetryState(e event.Event) {
	if finished, ok := e.(event.WorkflowFinishedEvent); ok {
		o.retry.Manager().ResetPlan(finished.PlanID)
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start loads persisted decision patterns and the platform knowledge file,
// and starts watching the knowledge file when configured to.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return ErrStopped
	}
	if o.started {
		return nil
	}

	if o.store == nil {
		store, err := o.openStore(ctx)
		if err != nil {
			return err
		}
		o.store = store
		o.ownsStore = true
	}

	if _, err := o.engine.LoadPatterns(ctx, o.store); err != nil {
		o.closeOwnedStore()
		return err
	}

	if path := o.cfg.Planner.KnowledgeFile; path != "" {
		path = config.ExpandPath(path)
		if err := o.planner.Knowledge().LoadFile(path); err != nil {
			// A missing file is picked up by the watcher once it is created
			if !errors.Is(err, fs.ErrNotExist) {
				o.closeOwnedStore()
				return errors.Wrap(err, "load platform knowledge")
			}
			o.logger.Warn("knowledge file not found, using built-in platforms", "path", path)
		}

		if o.cfg.Planner.WatchKnowledge {
			w, err := o.planner.Knowledge().WatchFile(path, func(err error) {
				if err == nil {
					o.logger.Info("platform knowledge reloaded", "path", path)
				}
			})
			if err != nil {
				o.logger.Warn("knowledge watcher not started", "path", path, "error", err.Error())
			} else {
				o.watcher = w
			}
		}
	}

	o.started = true
	o.logger.Info("orchestrator started",
		"max_concurrent", o.cfg.Executor.MaxConcurrent,
		"parallel", o.cfg.Executor.Parallel,
		"patterns_db", o.cfg.Storage.PatternsDB,
	)
	return nil
}

// openStore opens the SQLite pattern store named in the config, or an
// in-memory store when none is configured.
func (o *Orchestrator) openStore(ctx context.Context) (decision.PatternStore, error) {
	path := o.cfg.Storage.PatternsDB
	if path == "" {
		return decision.NewMemoryPatternStore(), nil
	}
	path = config.ExpandPath(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create pattern db directory %s", dir)
		}
	}
	store, err := decision.OpenSQLitePatternStore(ctx, path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (o *Orchestrator) closeOwnedStore() {
	if o.ownsStore && o.store != nil {
		if err := o.store.Close(); err != nil {
			o.logger.Warn("failed to close pattern store", "error", err.Error())
		}
		o.store = nil
		o.ownsStore = false
	}
}

// Shutdown cancels every active workflow, waits for the drivers to exit or
// ctx to expire, persists the learned patterns and releases resources.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	watcher := o.watcher
	o.watcher = nil
	o.mu.Unlock()

	var errs []error
	if err := o.executor.Shutdown(ctx); err != nil {
		o.logger.Warn("executor shutdown incomplete", "error", err.Error())
		errs = append(errs, err)
	}

	if watcher != nil {
		watcher.Stop()
	}
	if o.finishSub != "" {
		o.bus.Unsubscribe(o.finishSub)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.store != nil {
		// Patterns are saved even when ctx expired while waiting for drivers
		if err := o.engine.SavePatterns(context.WithoutCancel(ctx), o.store); err != nil {
			o.logger.Error("failed to persist patterns", "error", err.Error())
			errs = append(errs, err)
		}
		o.closeOwnedStore()
	}

	o.logger.Info("orchestrator stopped")
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Planning and execution
// -----------------------------------------------------------------------------

// Plan expands cmd into a workflow plan. Planning failures yield the
// single-step fallback plan. The plan is optimized when configured to.
func (o *Orchestrator) Plan(ctx context.Context, cmd *workflow.ParsedCommand, env workflow.EnvironmentSnapshot) *workflow.WorkflowPlan {
	plan := o.planner.CreatePlan(ctx, cmd, env)
	if o.cfg.Planner.Optimize {
		plan = planner.OptimizePlan(plan)
	}
	return plan
}

// Execute starts running plan in the background.
func (o *Orchestrator) Execute(ctx context.Context, plan *workflow.WorkflowPlan, env workflow.EnvironmentSnapshot) (*executor.Execution, error) {
	if o.isStopped() {
		return nil, ErrStopped
	}
	return o.submit(ctx, plan, env)
}

// submit hands plan to the executor. Shutdown may begin after the stopped
// check; the executor then refuses the plan.
func (o *Orchestrator) submit(ctx context.Context, plan *workflow.WorkflowPlan, env workflow.EnvironmentSnapshot) (*executor.Execution, error) {
	exec, err := o.executor.Execute(ctx, plan, env)
	if errors.Is(err, errors.ErrExecutorClosed) {
		return nil, ErrStopped
	}
	return exec, err
}

// Run plans cmd and starts executing the resulting plan.
func (o *Orchestrator) Run(ctx context.Context, cmd *workflow.ParsedCommand, env workflow.EnvironmentSnapshot) (*executor.Execution, *workflow.WorkflowPlan, error) {
	if o.isStopped() {
		return nil, nil, ErrStopped
	}
	plan := o.Plan(ctx, cmd, env)
	exec, err := o.submit(ctx, plan, env)
	if err != nil {
		return nil, plan, err
	}
	o.logger.WithPlan(plan.ID).Info("workflow submitted",
		"intent", plan.Command.Intent,
		"platform", plan.Command.Platform,
		"steps", plan.StepCount(),
		"fallback", plan.Fallback,
	)
	return exec, plan, nil
}

// Decide asks the decision engine for the next action toward intent.
func (o *Orchestrator) Decide(intent string, env workflow.EnvironmentSnapshot, elements []decision.CandidateElement) workflow.ActionDecision {
	return o.engine.DecideAction(intent, env, elements)
}

// Pause requests a pause of the workflow at its next loop boundary.
func (o *Orchestrator) Pause(planID string) bool { return o.executor.Pause(planID) }

// Resume continues a paused workflow.
func (o *Orchestrator) Resume(planID string) bool { return o.executor.Resume(planID) }

// Cancel stops a workflow at its next loop boundary.
func (o *Orchestrator) Cancel(planID string) bool { return o.executor.Cancel(planID) }

// Status returns the status of an active workflow.
func (o *Orchestrator) Status(planID string) (workflow.Status, bool) {
	return o.executor.Status(planID)
}

// Active returns the ids of all active workflows.
func (o *Orchestrator) Active() []string { return o.executor.Active() }

// Progress returns the tracked progress of a workflow.
func (o *Orchestrator) Progress(planID string) (progress.Progress, bool) {
	return o.tracker.Get(planID)
}

// Metrics returns the performance metrics of a workflow.
func (o *Orchestrator) Metrics(planID string) (progress.Metrics, bool) {
	return o.tracker.GetPerformanceMetrics(planID)
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// Bus returns the shared event bus.
func (o *Orchestrator) Bus() *event.Bus { return o.bus }

// Engine returns the decision engine.
func (o *Orchestrator) Engine() *decision.Engine { return o.engine }

// Planner returns the workflow planner.
func (o *Orchestrator) Planner() *planner.Planner { return o.planner }

// Tracker returns the progress tracker.
func (o *Orchestrator) Tracker() *progress.Tracker { return o.tracker }

// RetryManager returns the per-step retry state.
func (o *Orchestrator) RetryManager() *retry.Manager { return o.retry.Manager() }

// Config returns the configuration the orchestrator was built with.
func (o *Orchestrator) Config() *config.Config { return o.cfg }

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}
