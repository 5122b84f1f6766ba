// Package browserexec is a Step Executor that performs planned steps in a
// Chrome browser through the DevTools protocol.
//
// Each workflow gets its own tab, keyed by the plan id carried in the step
// context, so consecutive steps of one plan see the page left by the
// previous step. The browser is either launched locally or reached through
// an existing DevTools endpoint.
package browserexec

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/raedjah1/adtbot/internal/errors"
	"github.com/raedjah1/adtbot/internal/executor"
	"github.com/raedjah1/adtbot/internal/logging"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// defaultActionTimeout bounds a step that carries no timeout of its own.
const defaultActionTimeout = 60 * time.Second

// Option configures an Executor.
type Option func(*Executor)

// WithRemoteURL connects to a running browser instead of launching one,
// e.g. "ws://localhost:9222".
func WithRemoteURL(url string) Option {
	return func(e *Executor) { e.remoteURL = url }
}

// WithHeadless launches the local browser without a window.
func WithHeadless(headless bool) Option {
	return func(e *Executor) { e.headless = headless }
}

// WithUserAgent overrides the browser user agent.
func WithUserAgent(ua string) Option {
	return func(e *Executor) { e.userAgent = ua }
}

// WithCredentials sets the logins used by authentication steps.
func WithCredentials(src CredentialSource) Option {
	return func(e *Executor) { e.creds = src }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// tab is one browser tab and its cancel function.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Executor performs workflow steps in a browser.
type Executor struct {
	remoteURL string
	headless  bool
	userAgent string
	creds     CredentialSource
	logger    *logging.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabs          map[string]tab
}

// New creates an Executor. The browser starts lazily on the first step.
func New(opts ...Option) *Executor {
	e := &Executor{
		headless: true,
		tabs:     make(map[string]tab),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NopLogger()
	}
	e.logger = e.logger.WithComponent("browser")
	return e
}

var _ executor.StepExecutor = (*Executor)(nil)

// CanExecute reports whether the step's type maps onto browser operations.
func (e *Executor) CanExecute(step workflow.WorkflowStep) bool {
	return supported(step.Type)
}

// Execute runs step in the tab of its workflow.
func (e *Executor) Execute(ctx context.Context, step workflow.WorkflowStep, env workflow.EnvironmentSnapshot) workflow.ExecutionResult {
	start := time.Now()
	result := workflow.ExecutionResult{StepID: step.ID}
	log := e.logger.WithPlan(executor.PlanIDFromContext(ctx)).WithStep(step.ID)

	ops, err := compile(step, env, e.creds)
	if err != nil {
		result.Error = err.Error()
		result.ExecutionTime = time.Since(start)
		log.Warn("step cannot run in browser", "error", result.Error)
		return result
	}

	tabCtx, err := e.tab(executor.PlanIDFromContext(ctx))
	if err != nil {
		result.Error = err.Error()
		result.ExecutionTime = time.Since(start)
		return result
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	actionCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	// chromedp needs the tab context as parent; follow the caller's cancellation too
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	data := make(map[string]any)
	if err := chromedp.Run(actionCtx, actions(ops, data)...); err != nil {
		switch {
		case ctx.Err() != nil:
			err = errors.Wrap(errors.ErrCanceled, err.Error())
		case errors.Is(actionCtx.Err(), context.DeadlineExceeded):
			err = errors.NewTimeoutError(step.Name, timeout)
		}
		result.Error = err.Error()
		result.ExecutionTime = time.Since(start)
		log.Warn("browser step failed", "error", result.Error)
		return result
	}

	result.Success = true
	result.Data = data
	result.ExecutionTime = time.Since(start)
	log.Debug("browser step completed", "operations", len(ops), "duration", result.ExecutionTime)
	return result
}

// actions converts operations into chromedp actions. Text and location
// results are written to data under each op's Key.
func actions(ops []op, data map[string]any) []chromedp.Action {
	out := make([]chromedp.Action, 0, len(ops))
	for _, o := range ops {
		switch o.Kind {
		case opNavigate:
			out = append(out, chromedp.Navigate(o.URL))
		case opWaitReady:
			out = append(out, chromedp.WaitReady(o.Selector, chromedp.ByQuery))
		case opWaitShown:
			out = append(out, chromedp.WaitVisible(o.Selector, chromedp.ByQuery))
		case opClick:
			out = append(out, chromedp.Click(o.Selector, chromedp.ByQuery))
		case opType:
			out = append(out, chromedp.SendKeys(o.Selector, o.Text, chromedp.ByQuery))
		case opText:
			var text string
			out = append(out,
				chromedp.Text(o.Selector, &text, chromedp.ByQuery),
				store(data, o.Key, &text),
			)
		case opLocation:
			var loc string
			out = append(out,
				chromedp.Location(&loc),
				store(data, o.Key, &loc),
			)
		}
	}
	return out
}

// store copies *v into data once the preceding action has filled it.
func store(data map[string]any, key string, v *string) chromedp.Action {
	return chromedp.ActionFunc(func(context.Context) error {
		data[key] = *v
		return nil
	})
}

// tab returns the tab for planID, starting the browser and opening the tab
// on first use.
func (e *Executor) tab(planID string) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.tabs[planID]; ok && t.ctx.Err() == nil {
		return t.ctx, nil
	}
	if err := e.startLocked(); err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(e.browserCtx)
	// The first Run on a new context opens the tab
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, errors.Wrap(err, "open browser tab")
	}
	e.tabs[planID] = tab{ctx: ctx, cancel: cancel}
	e.logger.Debug("browser tab opened", "plan_id", planID)
	return ctx, nil
}

func (e *Executor) startLocked() error {
	if e.browserCtx != nil && e.browserCtx.Err() == nil {
		return nil
	}
	e.closeLocked()

	var allocCtx context.Context
	if e.remoteURL != "" {
		allocCtx, e.allocCancel = chromedp.NewRemoteAllocator(context.Background(), e.remoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", e.headless),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("no-default-browser-check", true),
		)
		if e.userAgent != "" {
			opts = append(opts, chromedp.UserAgent(e.userAgent))
		}
		allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	e.browserCtx, e.browserCancel = chromedp.NewContext(allocCtx)
	if err := chromedp.Run(e.browserCtx); err != nil {
		e.closeLocked()
		return errors.Wrap(err, "start browser")
	}
	e.logger.Info("browser started", "remote", e.remoteURL != "", "headless", e.headless)
	return nil
}

// Release closes the tab of a finished workflow.
func (e *Executor) Release(planID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tabs[planID]; ok {
		t.cancel()
		delete(e.tabs, planID)
	}
}

// Close closes every tab and the browser. A later step starts a new browser.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
	return nil
}

func (e *Executor) closeLocked() {
	for id, t := range e.tabs {
		t.cancel()
		delete(e.tabs, id)
	}
	if e.browserCancel != nil {
		e.browserCancel()
		e.browserCancel = nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
	}
	e.browserCtx = nil
}
