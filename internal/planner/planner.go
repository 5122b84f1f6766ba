// Package planner expands a parsed command into a workflow plan.
//
// Plans are built from step-name templates selected by intent and action.
// Each step gets a type, a timeout, a retry budget and platform parameters
// taken from a [KnowledgeBase]. Dependencies form a strict linear chain:
// every step depends on its predecessor, except authentication steps, which
// depend on the nearest preceding navigation step.
//
// [Planner.BuildPlan] reports failures as a [errors.PlanningError].
// [Planner.CreatePlan] never fails: it substitutes a single-step fallback
// plan instead.
package planner

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raedjah1/adtbot/internal/errors"
	"github.com/raedjah1/adtbot/internal/logging"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// Default planner values.
const (
	defaultRetries    = 3
	defaultRetryDelay = 2 * time.Second

	// retryOverhead is the per-retry allowance used in estimates.
	retryOverhead = 3 * time.Second

	fallbackStepName = "general_automation"
	fallbackTimeout  = 60 * time.Second
	fallbackRetries  = 1

	finalValidationName = "final_validation"
)

// Option configures a Planner.
type Option func(*Planner)

// WithKnowledge sets the platform knowledge base.
func WithKnowledge(kb *KnowledgeBase) Option {
	return func(p *Planner) {
		if kb != nil {
			p.knowledge = kb
		}
	}
}

// WithRetries sets the retry count given to every generated step.
func WithRetries(n int) Option {
	return func(p *Planner) {
		if n >= 0 {
			p.retries = n
		}
	}
}

// WithRetryDelay sets the delay between step retries.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Planner) {
		if d >= 0 {
			p.retryDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// WithIDGenerator overrides plan id generation, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(p *Planner) { p.newID = gen }
}

// Planner builds workflow plans. It holds no per-plan state and is safe
// for concurrent use.
type Planner struct {
	knowledge  *KnowledgeBase
	retries    int
	retryDelay time.Duration
	logger     *logging.Logger
	now        func() time.Time
	newID      func() string
}

// New creates a Planner with the given options.
func New(opts ...Option) *Planner {
	p := &Planner{
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		logger:     logging.NopLogger(),
		now:        time.Now,
		newID:      func() string { return "plan-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.knowledge == nil {
		p.knowledge = NewKnowledgeBase(p.logger)
	}
	p.logger = p.logger.WithComponent("planner")
	return p
}

// Knowledge returns the planner's knowledge base.
func (p *Planner) Knowledge() *KnowledgeBase {
	return p.knowledge
}

// CreatePlan builds a plan for cmd. When planning fails the returned plan
// is the single-step fallback with PlanningError set.
func (p *Planner) CreatePlan(ctx context.Context, cmd *workflow.ParsedCommand, env workflow.EnvironmentSnapshot) *workflow.WorkflowPlan {
	plan, err := p.BuildPlan(ctx, cmd, env)
	if err == nil {
		return plan
	}
	p.logger.Warn("planning failed, using fallback plan", "error", err.Error())
	return p.FallbackPlan(cmd, err)
}

// BuildPlan builds and validates a plan for cmd.
func (p *Planner) BuildPlan(ctx context.Context, cmd *workflow.ParsedCommand, env workflow.EnvironmentSnapshot) (*workflow.WorkflowPlan, error) {
	if cmd == nil {
		return nil, errors.NewPlanningError("cannot plan", errors.ErrNilCommand)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewPlanningError("planning canceled", err).WithIntent(cmd.Intent)
	}

	info, known := p.knowledge.Lookup(cmd.Platform)
	if err := checkContentLimit(cmd, info); err != nil {
		return nil, err
	}

	names, generic := selectTemplate(cmd.Intent, cmd.Action)
	if generic {
		p.logger.Debug("no template for intent, using generic steps", "intent", cmd.Intent, "action", cmd.Action)
	}
	if cmd.Complexity.NeedsFinalValidation() {
		names = append(slices.Clone(names), finalValidationName)
	}

	steps := make([]workflow.WorkflowStep, 0, len(names))
	lastNav := ""
	for i, name := range names {
		typ := stepTypeFor(name)
		step := workflow.WorkflowStep{
			ID:              fmt.Sprintf("step_%d_%s", i+1, name),
			Name:            name,
			Type:            typ,
			Description:     describe(name, cmd),
			Parameters:      stepParameters(name, typ, cmd, info, env),
			Dependencies:    []string{},
			Timeout:         timeoutFor(name, typ),
			RetryCount:      p.retries,
			RetryDelay:      p.retryDelay,
			FallbackActions: slices.Clone(fallbackActions[typ]),
			Critical:        typ.IsCritical(),
		}

		switch {
		case i == 0:
		case typ == workflow.StepAuthentication && lastNav != "":
			step.Dependencies = []string{lastNav}
		default:
			step.Dependencies = []string{steps[i-1].ID}
		}
		if typ == workflow.StepNavigation {
			lastNav = step.ID
		}
		steps = append(steps, step)
	}

	success, failures := criteriaFor(cmd.Intent)
	plan := &workflow.WorkflowPlan{
		ID:                p.newID(),
		Command:           cmd.Clone(),
		Steps:             steps,
		EstimatedDuration: EstimateDuration(steps),
		SuccessCriteria:   success,
		FailureConditions: failures,
		CreatedAt:         p.now(),
	}

	if result := workflow.ValidatePlan(plan); !result.IsValid {
		return nil, errors.NewPlanningError(result.Errors(), errors.ErrPlanInvalid).
			WithIntent(cmd.Intent).WithPlatform(cmd.Platform)
	}

	p.logger.Info("plan created",
		"plan_id", plan.ID,
		"intent", cmd.Intent,
		"platform", cmd.Platform,
		"known_platform", known,
		"steps", len(steps),
		"estimated_duration", plan.EstimatedDuration.String(),
	)
	return plan, nil
}

// FallbackPlan returns the single-step plan used when planning fails.
// cmd may be nil.
func (p *Planner) FallbackPlan(cmd *workflow.ParsedCommand, cause error) *workflow.WorkflowPlan {
	var command workflow.ParsedCommand
	if cmd != nil {
		command = cmd.Clone()
	}
	reason := "unknown planning error"
	if cause != nil {
		reason = cause.Error()
	}
	success, failures := criteriaFor("")

	return &workflow.WorkflowPlan{
		ID:      p.newID(),
		Command: command,
		Steps: []workflow.WorkflowStep{{
			ID:              "step_1_" + fallbackStepName,
			Name:            fallbackStepName,
			Type:            workflow.StepGeneral,
			Description:     describe(fallbackStepName, &command),
			Parameters:      map[string]any{"text": command.Text, "intent": command.Intent},
			Dependencies:    []string{},
			Timeout:         fallbackTimeout,
			RetryCount:      fallbackRetries,
			RetryDelay:      p.retryDelay,
			FallbackActions: slices.Clone(fallbackActions[workflow.StepGeneral]),
		}},
		EstimatedDuration: fallbackTimeout,
		SuccessCriteria:   success,
		FailureConditions: failures,
		CreatedAt:         p.now(),
		Fallback:          true,
		PlanningError:     reason,
	}
}

// EstimateDuration returns 1.2 × Σ(base time + timeout + retries × 3s).
func EstimateDuration(steps []workflow.WorkflowStep) time.Duration {
	var total time.Duration
	for _, s := range steps {
		base, ok := baseTimes[s.Type]
		if !ok {
			base = baseTimes[workflow.StepGeneral]
		}
		total += base + s.Timeout + time.Duration(s.RetryCount)*retryOverhead
	}
	return total + total/5
}

func describe(name string, cmd *workflow.ParsedCommand) string {
	words := strings.ReplaceAll(name, "_", " ")
	desc := strings.ToUpper(words[:1]) + words[1:]
	if cmd != nil && cmd.Platform != "" {
		desc += " on " + cmd.Platform
	}
	return desc
}

// stepParameters fills a step's parameters from the platform entry and
// the command.
func stepParameters(name string, typ workflow.StepType, cmd *workflow.ParsedCommand, info PlatformInfo, env workflow.EnvironmentSnapshot) map[string]any {
	params := map[string]any{}
	if cmd.Platform != "" {
		params["platform"] = strings.ToLower(cmd.Platform)
	}
	if sel, ok := info.Selectors[name]; ok {
		params["selector"] = sel
	}

	switch typ {
	case workflow.StepNavigation:
		url := info.URL
		if v, ok := cmd.Parameters["url"].(string); ok && v != "" {
			url = v
		}
		if url == "" {
			url = env.Location
		}
		if url != "" {
			params["url"] = url
		}
	case workflow.StepAuthentication:
		if info.LoginURL != "" {
			params["login_url"] = info.LoginURL
		}
		params["username_selector"] = info.AuthFields.Username
		params["password_selector"] = info.AuthFields.Password
		params["submit_selector"] = info.AuthFields.Submit
		if len(cmd.RequiredCredentials) > 0 {
			params["credential_types"] = slices.Clone(cmd.RequiredCredentials)
		}
	case workflow.StepContentCreation:
		if v, ok := cmd.Parameters["content"]; ok {
			params["content"] = v
		}
		if info.ContentLimit > 0 {
			params["content_limit"] = info.ContentLimit
		}
	case workflow.StepFormFilling:
		if v, ok := cmd.Parameters["fields"]; ok {
			params["fields"] = v
		}
	case workflow.StepElementInteraction:
		if v, ok := cmd.Parameters["query"]; ok && strings.Contains(name, "search") {
			params["query"] = v
		}
		if v, ok := cmd.Parameters["target"]; ok {
			params["target"] = v
		}
	case workflow.StepDataExtraction:
		if v, ok := cmd.Parameters["fields"]; ok {
			params["fields"] = v
		}
	}
	return params
}

// checkContentLimit rejects content longer than the platform allows.
func checkContentLimit(cmd *workflow.ParsedCommand, info PlatformInfo) error {
	content, ok := cmd.Parameters["content"].(string)
	if !ok || info.ContentLimit <= 0 {
		return nil
	}
	if n := len([]rune(content)); n > info.ContentLimit {
		return errors.NewPlanningError(
			fmt.Sprintf("content is %d characters, platform allows %d", n, info.ContentLimit),
			errors.ErrInvalidInput,
		).WithIntent(cmd.Intent).WithPlatform(cmd.Platform)
	}
	return nil
}
