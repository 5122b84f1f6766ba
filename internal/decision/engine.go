package decision

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raedjah1/adtbot/internal/errors"
	"github.com/raedjah1/adtbot/internal/logging"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// Default engine values.
const (
	defaultMaxRetries  = 3
	defaultBaseDelay   = time.Second
	defaultHistorySize = 1000

	maxFallbacks             = 3
	fallbackConfidenceFactor = 0.8
	genericWaitConfidence    = 0.5
	noCandidateConfidence    = 0.1
	minRetryConfidence       = 0.3

	// MinTiming is the smallest delay DecideTiming returns.
	MinTiming      = 100 * time.Millisecond
	jitterFraction = 0.2
)

// Heuristic candidate confidences.
const (
	formFillConfidence       = 0.6
	credentialFillConfidence = 0.7
	challengeWaitConfidence  = 0.6
	unknownClickConfidence   = 0.3
	typedStepConfidence      = 0.8
)

var timingMultipliers = map[workflow.ActionType]float64{
	workflow.ActionClick:    1.0,
	workflow.ActionFill:     1.5,
	workflow.ActionNavigate: 2.0,
	workflow.ActionSearch:   1.5,
	workflow.ActionSubmit:   2.0,
	workflow.ActionWait:     1.0,
}

// DefaultNonRetryableErrors are the sentinel errors that are never retried.
func DefaultNonRetryableErrors() []error {
	return []error{errors.ErrAuthenticationFailed, errors.ErrPermissionDenied, errors.ErrElementNotFound}
}

// errorMessages lowercases the messages of errs so failures reported as
// plain strings still match.
func errorMessages(errs []error) []string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = strings.ToLower(err.Error())
	}
	return msgs
}

// CandidateElement describes an interactable element the caller found in
// the current environment.
type CandidateElement struct {
	Selector string `json:"selector" yaml:"selector"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	Role     string `json:"role,omitempty" yaml:"role,omitempty"`
}

// ActionCandidate is one option considered by DecideAction.
type ActionCandidate struct {
	Action     workflow.ActionType
	Confidence float64
	Parameters map[string]any
	Reasoning  string
	Duration   time.Duration
}

// Record is one entry of the decision history.
type Record struct {
	Intent   string                  `json:"intent"`
	Context  ContextType             `json:"context"`
	Decision workflow.ActionDecision `json:"decision"`
	Success  bool                    `json:"success"`
	Error    string                  `json:"error,omitempty"`
	At       time.Time               `json:"at"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier replaces the default glob classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithMaxRetries sets the failure count at which ShouldRetry always refuses.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithBaseDelay sets the base inter-action delay used by DecideTiming.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Engine) { e.baseDelay = d }
}

// WithJitter enables or disables ±20% timing randomization.
func WithJitter(enabled bool) Option {
	return func(e *Engine) { e.jitter = enabled }
}

// WithRandom sets the source of uniform [0,1) values used for jitter.
func WithRandom(f func() float64) Option {
	return func(e *Engine) { e.random = f }
}

// WithNonRetryableMessages sets error message substrings that are never
// retried. Matching is case-insensitive.
func WithNonRetryableMessages(msgs []string) Option {
	return func(e *Engine) {
		e.nonRetryableMsgs = make([]string, 0, len(msgs))
		for _, m := range msgs {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				e.nonRetryableMsgs = append(e.nonRetryableMsgs, m)
			}
		}
	}
}

// WithNonRetryableErrors sets the sentinel errors that are never retried.
func WithNonRetryableErrors(errs ...error) Option {
	return func(e *Engine) { e.nonRetryableErrs = errs }
}

// WithHistorySize bounds the decision history.
func WithHistorySize(n int) Option {
	return func(e *Engine) { e.historySize = n }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// lastDecision is the decision RecordOutcome attributes outcomes to.
type lastDecision struct {
	intent   string
	context  ContextType
	decision workflow.ActionDecision
}

// Engine picks actions, times them and gates retries. It is safe for
// concurrent use.
type Engine struct {
	classifier       Classifier
	maxRetries       int
	baseDelay        time.Duration
	jitter           bool
	random           func() float64
	nonRetryableMsgs []string
	nonRetryableErrs []error
	historySize      int
	logger           *logging.Logger
	now              func() time.Time

	patterns *patternTable

	mu      sync.Mutex
	history []Record
	last    *lastDecision
}

// NewEngine creates an Engine with the given options.
// Unset options use defaults.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxRetries:       defaultMaxRetries,
		baseDelay:        defaultBaseDelay,
		random:           rand.Float64,
		nonRetryableErrs: DefaultNonRetryableErrors(),
		nonRetryableMsgs: errorMessages(DefaultNonRetryableErrors()),
		historySize:      defaultHistorySize,
		now:              time.Now,
		patterns:         newPatternTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		e.classifier = DefaultClassifier()
	}
	if e.logger == nil {
		e.logger = logging.NopLogger()
	}
	e.logger = e.logger.WithComponent("decision")
	return e
}

// MaxRetries returns the configured retry ceiling.
func (e *Engine) MaxRetries() int { return e.maxRetries }

// -----------------------------------------------------------------------------
// Action selection
// -----------------------------------------------------------------------------

// DecideAction chooses the next action for intent. It always returns a
// decision; with no viable candidate the result is WAIT with confidence 0.1
// and high risk.
func (e *Engine) DecideAction(intent string, env workflow.EnvironmentSnapshot, elements []CandidateElement) workflow.ActionDecision {
	ctxType := ClassifyContext(env)
	risk := AssessRisk(intent, env)
	key := normalizeIntent(intent)

	candidates := e.candidates(intent, env, elements)
	var decision workflow.ActionDecision
	if len(candidates) == 0 {
		decision = workflow.ActionDecision{
			Action:            workflow.ActionWait,
			Confidence:        noCandidateConfidence,
			Reasoning:         "no viable action candidates; waiting for the environment to change",
			EstimatedDuration: e.baseTiming(workflow.ActionWait, env),
			Risk:              workflow.RiskHigh,
		}
	} else {
		for i := range candidates {
			c := &candidates[i]
			c.Confidence = min(1.0, c.Confidence*
				contextMultiplier(ctxType, c.Action)*
				e.patterns.bias(PatternKey{Intent: key, Context: ctxType, Action: c.Action}))
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Confidence > candidates[j].Confidence
		})

		best := candidates[0]
		decision = workflow.ActionDecision{
			Action:            best.Action,
			Confidence:        best.Confidence,
			Parameters:        best.Parameters,
			Reasoning:         best.Reasoning,
			EstimatedDuration: best.Duration,
			Risk:              risk.Level,
		}
		decision.Fallbacks = e.fallbacks(best, candidates[1:], env, risk.Level)
	}

	e.mu.Lock()
	e.last = &lastDecision{intent: key, context: ctxType, decision: decision}
	e.mu.Unlock()

	e.logger.Debug("action decided",
		"intent", intent,
		"context", string(ctxType),
		"action", string(decision.Action),
		"confidence", decision.Confidence,
		"risk", string(decision.Risk),
		"risk_score", risk.Score,
		"fallbacks", len(decision.Fallbacks),
	)
	return decision
}

// candidates gathers the classified action plus context heuristics, one
// candidate per action type keeping the most confident.
func (e *Engine) candidates(intent string, env workflow.EnvironmentSnapshot, elements []CandidateElement) []ActionCandidate {
	var out []ActionCandidate
	add := func(c ActionCandidate) {
		c.Duration = e.baseTiming(c.Action, env)
		for i := range out {
			if out[i].Action == c.Action {
				if c.Confidence > out[i].Confidence {
					out[i] = c
				}
				return
			}
		}
		out = append(out, c)
	}

	cls := e.classifier.Classify(intent)
	if cls.Action != workflow.ActionUnknown && cls.Action != "" {
		add(ActionCandidate{
			Action:     cls.Action,
			Confidence: cls.Confidence,
			Parameters: elementParameters(cls.Action, intent, elements),
			Reasoning:  fmt.Sprintf("intent matches %s pattern", cls.Action),
		})
	}
	if env.HasForms() {
		add(ActionCandidate{
			Action:     workflow.ActionFill,
			Confidence: formFillConfidence,
			Parameters: elementParameters(workflow.ActionFill, intent, elements),
			Reasoning:  fmt.Sprintf("form context with %d form(s)", env.FormCount),
		})
	}
	if env.RequiresAuth {
		add(ActionCandidate{
			Action:     workflow.ActionFill,
			Confidence: credentialFillConfidence,
			Parameters: map[string]any{"target": "credentials"},
			Reasoning:  "authentication required; fill credentials",
		})
	}
	if env.ChallengePresent {
		add(ActionCandidate{
			Action:     workflow.ActionWait,
			Confidence: challengeWaitConfidence,
			Reasoning:  "challenge present; wait for it to resolve",
		})
	}
	if cls.Action == workflow.ActionUnknown && len(elements) > 0 {
		add(ActionCandidate{
			Action:     workflow.ActionClick,
			Confidence: unknownClickConfidence,
			Parameters: elementParameters(workflow.ActionClick, intent, elements),
			Reasoning:  "unrecognized intent; try the most relevant element",
		})
	}
	return out
}

func (e *Engine) fallbacks(best ActionCandidate, rest []ActionCandidate, env workflow.EnvironmentSnapshot, risk workflow.RiskLevel) []workflow.ActionDecision {
	var out []workflow.ActionDecision
	hasWait := false
	for _, c := range rest {
		if len(out) == maxFallbacks {
			return out
		}
		hasWait = hasWait || c.Action == workflow.ActionWait
		out = append(out, workflow.ActionDecision{
			Action:            c.Action,
			Confidence:        c.Confidence * fallbackConfidenceFactor,
			Parameters:        c.Parameters,
			Reasoning:         "Fallback: " + c.Reasoning,
			EstimatedDuration: c.Duration,
			Risk:              risk,
		})
	}
	if best.Action != workflow.ActionWait && !hasWait && len(out) < maxFallbacks {
		out = append(out, workflow.ActionDecision{
			Action:            workflow.ActionWait,
			Confidence:        genericWaitConfidence * fallbackConfidenceFactor,
			Reasoning:         "Fallback: wait for the page to settle and re-evaluate",
			EstimatedDuration: e.baseTiming(workflow.ActionWait, env),
			Risk:              risk,
		})
	}
	return out
}

func contextMultiplier(ctx ContextType, action workflow.ActionType) float64 {
	switch {
	case ctx == ContextLogin && action == workflow.ActionFill:
		return 1.2
	case ctx == ContextForm && action == workflow.ActionFill:
		return 1.1
	case ctx == ContextChallenge && action == workflow.ActionWait:
		return 1.3
	case ctx == ContextError && action == workflow.ActionNavigate:
		return 0.8
	default:
		return 1.0
	}
}

// elementParameters targets the element whose text appears in the intent,
// or the first element.
func elementParameters(action workflow.ActionType, intent string, elements []CandidateElement) map[string]any {
	if len(elements) == 0 {
		return nil
	}
	switch action {
	case workflow.ActionClick, workflow.ActionFill, workflow.ActionSubmit, workflow.ActionSearch:
	default:
		return nil
	}

	lower := strings.ToLower(intent)
	chosen := elements[0]
	for _, el := range elements {
		if t := strings.ToLower(strings.TrimSpace(el.Text)); t != "" && strings.Contains(lower, t) {
			chosen = el
			break
		}
	}
	params := map[string]any{"selector": chosen.Selector}
	if chosen.Text != "" {
		params["element_text"] = chosen.Text
	}
	return params
}

// DecideStep builds a decision for a planned step: the action follows the
// step type, the risk comes from the step's name and description.
func (e *Engine) DecideStep(step workflow.WorkflowStep, env workflow.EnvironmentSnapshot) workflow.ActionDecision {
	text := step.Name + " " + step.Description
	action, confidence := stepAction(step), typedStepConfidence
	if step.Type == workflow.StepGeneral || step.Type == "" {
		cls := e.classifier.Classify(text)
		action, confidence = cls.Action, cls.Confidence
		if action == workflow.ActionUnknown {
			action, confidence = workflow.ActionWait, typedStepConfidence
		}
	}
	return workflow.ActionDecision{
		Action:            action,
		Confidence:        confidence,
		Reasoning:         fmt.Sprintf("planned %s step", step.Type),
		EstimatedDuration: e.baseTiming(action, env),
		Risk:              AssessRisk(text, env).Level,
	}
}

func stepAction(step workflow.WorkflowStep) workflow.ActionType {
	switch step.Type {
	case workflow.StepNavigation:
		return workflow.ActionNavigate
	case workflow.StepAuthentication, workflow.StepFormFilling, workflow.StepContentCreation:
		return workflow.ActionFill
	case workflow.StepElementInteraction:
		if strings.Contains(step.Name, "submit") || strings.Contains(step.Name, "send") {
			return workflow.ActionSubmit
		}
		if strings.Contains(step.Name, "search") {
			return workflow.ActionSearch
		}
		return workflow.ActionClick
	default:
		return workflow.ActionWait
	}
}

// -----------------------------------------------------------------------------
// Timing
// -----------------------------------------------------------------------------

// DecideTiming returns how long to wait before performing action in env.
// The result is never below MinTiming.
func (e *Engine) DecideTiming(action workflow.ActionType, env workflow.EnvironmentSnapshot) time.Duration {
	d := float64(e.rawTiming(action, env))
	if e.jitter && e.random != nil {
		d *= 1 + (e.random()*2-1)*jitterFraction
	}
	return max(time.Duration(d), MinTiming)
}

// baseTiming is DecideTiming without jitter.
func (e *Engine) baseTiming(action workflow.ActionType, env workflow.EnvironmentSnapshot) time.Duration {
	return max(e.rawTiming(action, env), MinTiming)
}

func (e *Engine) rawTiming(action workflow.ActionType, env workflow.EnvironmentSnapshot) time.Duration {
	mult, ok := timingMultipliers[action]
	if !ok {
		mult = 1.0
	}
	if env.ChallengePresent {
		mult *= 2
	}
	if env.HasForms() {
		mult *= 0.8
	}
	if env.HasErrors() {
		mult *= 1.5
	}
	return time.Duration(float64(e.baseDelay) * mult)
}

// -----------------------------------------------------------------------------
// Retry policy
// -----------------------------------------------------------------------------

// ShouldRetry reports whether an action that has failed failureCount times
// with err may be attempted again.
func (e *Engine) ShouldRetry(decision workflow.ActionDecision, failureCount int, err error) bool {
	reason := ""
	switch {
	case failureCount >= e.maxRetries:
		reason = "max retries reached"
	case decision.Risk == workflow.RiskHigh && failureCount >= 1:
		reason = "high risk action already failed"
	case decision.Confidence < minRetryConfidence:
		reason = "confidence too low"
	case e.isNonRetryable(err):
		reason = "non-retryable error"
	}

	if reason != "" {
		e.logger.Debug("retry refused",
			"action", string(decision.Action),
			"failures", failureCount,
			"reason", reason,
		)
		return false
	}
	return true
}

func (e *Engine) isNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range e.nonRetryableErrs {
		if errors.Is(err, target) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range e.nonRetryableMsgs {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Learning
// -----------------------------------------------------------------------------

// RecordOutcome attributes an outcome to the most recent DecideAction call.
// It is a no-op when no decision has been made yet.
func (e *Engine) RecordOutcome(success bool, err error) {
	e.mu.Lock()
	last := e.last
	e.mu.Unlock()
	if last == nil {
		e.logger.Warn("outcome recorded without a prior decision")
		return
	}
	e.record(last.intent, last.context, last.decision, success, err)
}

// RecordOutcomeFor attributes an outcome to an explicit decision. Use it
// when several decisions are in flight at once.
func (e *Engine) RecordOutcomeFor(intent string, env workflow.EnvironmentSnapshot, decision workflow.ActionDecision, success bool, err error) {
	e.record(normalizeIntent(intent), ClassifyContext(env), decision, success, err)
}

func (e *Engine) record(intent string, ctxType ContextType, decision workflow.ActionDecision, success bool, err error) {
	now := e.now()
	rec := Record{Intent: intent, Context: ctxType, Decision: decision, Success: success, At: now}
	if err != nil {
		rec.Error = err.Error()
	}

	e.mu.Lock()
	e.history = append(e.history, rec)
	if over := len(e.history) - e.historySize; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	e.mu.Unlock()

	e.patterns.record(PatternKey{Intent: intent, Context: ctxType, Action: decision.Action}, success, now)
}

// History returns a copy of the decision history, oldest first.
func (e *Engine) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Record(nil), e.history...)
}

// Patterns returns the learned pattern table sorted by key.
func (e *Engine) Patterns() []Pattern {
	return e.patterns.snapshot()
}

// LoadPatterns merges the patterns held by store into the engine.
func (e *Engine) LoadPatterns(ctx context.Context, store PatternStore) (int, error) {
	patterns, err := store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load patterns: %w", err)
	}
	e.patterns.merge(patterns)
	e.logger.Info("patterns loaded", "count", len(patterns))
	return len(patterns), nil
}

// SavePatterns writes the engine's pattern table to store.
func (e *Engine) SavePatterns(ctx context.Context, store PatternStore) error {
	patterns := e.patterns.snapshot()
	if err := store.Save(ctx, patterns); err != nil {
		return fmt.Errorf("save patterns: %w", err)
	}
	e.logger.Info("patterns saved", "count", len(patterns))
	return nil
}
