// Package workflow defines the data model shared by the planner, the
// decision engine and the executor.
//
// A [ParsedCommand] is expanded by the planner into a [WorkflowPlan] made of
// [WorkflowStep]s linked by dependency ids. The executor dispatches steps to
// a Step Executor and collects one [ExecutionResult] per dispatched step.
// The decision engine reads an [EnvironmentSnapshot] and produces an
// [ActionDecision].
//
// Plans and steps are treated as immutable once built: components that need
// a variation (the optimizer, for instance) work on a [WorkflowPlan.Clone].
package workflow

import (
	"maps"
	"slices"
	"time"
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// Complexity is the coarse size of a command.
type Complexity string

const (
	ComplexitySimple   Complexity = "SIMPLE"
	ComplexityModerate Complexity = "MODERATE"
	ComplexityComplex  Complexity = "COMPLEX"
	ComplexityAdvanced Complexity = "ADVANCED"
)

// IsValid returns true if this is a recognized complexity value.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityAdvanced:
		return true
	default:
		return false
	}
}

// NeedsFinalValidation reports whether plans for this complexity end with
// a dedicated validation step.
func (c Complexity) NeedsFinalValidation() bool {
	return c == ComplexityComplex || c == ComplexityAdvanced
}

// ActionType is a primitive UI action chosen by the decision engine.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionNavigate ActionType = "navigate"
	ActionSearch   ActionType = "search"
	ActionSubmit   ActionType = "submit"
	ActionWait     ActionType = "wait"
	ActionUnknown  ActionType = "unknown"
)

// String returns the string representation of the action.
func (a ActionType) String() string { return string(a) }

// RiskLevel gates retry eligibility.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// IsValid returns true if this is a recognized risk level.
func (r RiskLevel) IsValid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// StepType tags a step with the kind of work it performs.
type StepType string

const (
	StepNavigation         StepType = "navigation"
	StepAuthentication     StepType = "authentication"
	StepElementInteraction StepType = "element_interaction"
	StepContentCreation    StepType = "content_creation"
	StepFormFilling        StepType = "form_filling"
	StepDataExtraction     StepType = "data_extraction"
	StepValidation         StepType = "validation"
	StepGeneral            StepType = "general"
)

// AllStepTypes lists every step type in a stable order.
func AllStepTypes() []StepType {
	return []StepType{
		StepNavigation, StepAuthentication, StepElementInteraction, StepContentCreation,
		StepFormFilling, StepDataExtraction, StepValidation, StepGeneral,
	}
}

// IsCritical reports whether a failure of this step type aborts the
// workflow instead of only blocking its dependents.
func (t StepType) IsCritical() bool {
	return t == StepAuthentication || t == StepNavigation
}

// -----------------------------------------------------------------------------
// Commands and environment
// -----------------------------------------------------------------------------

// ParsedCommand is the structured form of a user request. It is produced by
// an external command source and never mutated by the engine.
type ParsedCommand struct {
	Text                string         `json:"text" yaml:"text"`
	Intent              string         `json:"intent" yaml:"intent"`
	Platform            string         `json:"platform,omitempty" yaml:"platform,omitempty"`
	Action              string         `json:"action,omitempty" yaml:"action,omitempty"`
	Complexity          Complexity     `json:"complexity" yaml:"complexity"`
	RequiredCredentials []string       `json:"required_credentials,omitempty" yaml:"required_credentials,omitempty"`
	Confidence          float64        `json:"confidence" yaml:"confidence"`
	Parameters          map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Clone returns a deep copy of the command.
func (c ParsedCommand) Clone() ParsedCommand {
	c.RequiredCredentials = slices.Clone(c.RequiredCredentials)
	c.Parameters = maps.Clone(c.Parameters)
	return c
}

// EnvironmentSnapshot is a read-only view of the automation target at the
// moment a decision is made.
type EnvironmentSnapshot struct {
	Location         string   `json:"location,omitempty" yaml:"location,omitempty"`
	ElementCount     int      `json:"element_count" yaml:"element_count"`
	FormCount        int      `json:"form_count" yaml:"form_count"`
	RequiresAuth     bool     `json:"requires_auth" yaml:"requires_auth"`
	ChallengePresent bool     `json:"challenge_present" yaml:"challenge_present"`
	Errors           []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// HasErrors reports whether any error strings were detected.
func (e EnvironmentSnapshot) HasErrors() bool { return len(e.Errors) > 0 }

// HasForms reports whether the current location contains forms.
func (e EnvironmentSnapshot) HasForms() bool { return e.FormCount > 0 }

// -----------------------------------------------------------------------------
// Steps and plans
// -----------------------------------------------------------------------------

// WorkflowStep is one unit of work in a plan.
type WorkflowStep struct {
	// ID is unique within the plan, formatted step_<n>_<name>.
	ID string `json:"id" yaml:"id"`

	// Name is the template name the step was instantiated from.
	Name string `json:"name" yaml:"name"`

	Type        StepType       `json:"type" yaml:"type"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Dependencies lists step ids that must finish successfully first.
	Dependencies []string `json:"dependencies" yaml:"dependencies"`

	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	RetryCount int           `json:"retry_count" yaml:"retry_count"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// FallbackActions is the ordered list of recovery actions for the step
	// executor to try when the primary action fails.
	FallbackActions []string `json:"fallback_actions,omitempty" yaml:"fallback_actions,omitempty"`

	// Critical steps abort the workflow when they fail.
	Critical bool `json:"critical" yaml:"critical"`

	// ParallelEligible is set by the optimizer on steps that share a
	// dependency level with an independent sibling.
	ParallelEligible bool `json:"parallel_eligible" yaml:"parallel_eligible"`
}

// HasDependencies returns true if this step depends on other steps.
func (s *WorkflowStep) HasDependencies() bool {
	return len(s.Dependencies) > 0
}

// Clone returns a deep copy of the step.
func (s WorkflowStep) Clone() WorkflowStep {
	s.Parameters = maps.Clone(s.Parameters)
	s.Dependencies = slices.Clone(s.Dependencies)
	s.FallbackActions = slices.Clone(s.FallbackActions)
	return s
}

// WorkflowPlan is the planner's output: a fixed set of steps with
// dependencies and the criteria used to judge the run.
type WorkflowPlan struct {
	ID                string         `json:"id" yaml:"id"`
	Command           ParsedCommand  `json:"command" yaml:"command"`
	Steps             []WorkflowStep `json:"steps" yaml:"steps"`
	EstimatedDuration time.Duration  `json:"estimated_duration" yaml:"estimated_duration"`
	SuccessCriteria   map[string]any `json:"success_criteria" yaml:"success_criteria"`
	FailureConditions []string       `json:"failure_conditions" yaml:"failure_conditions"`
	CreatedAt         time.Time      `json:"created_at" yaml:"created_at"`

	// Fallback is true when planning failed and this is the single-step
	// substitute; PlanningError then carries the reason.
	Fallback      bool   `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	PlanningError string `json:"planning_error,omitempty" yaml:"planning_error,omitempty"`
}

// StepCount returns the number of steps in the plan.
func (p *WorkflowPlan) StepCount() int {
	return len(p.Steps)
}

// StepByID returns a pointer to the step with the given id, or nil.
func (p *WorkflowPlan) StepByID(id string) *WorkflowStep {
	if p == nil {
		return nil
	}
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// StepIDs returns the ids of all steps in plan order.
func (p *WorkflowPlan) StepIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// DependencyGraph maps each step id to its dependency ids.
func (p *WorkflowPlan) DependencyGraph() map[string][]string {
	graph := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		graph[s.ID] = slices.Clone(s.Dependencies)
	}
	return graph
}

// Clone returns a deep copy of the plan.
func (p *WorkflowPlan) Clone() *WorkflowPlan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Command = p.Command.Clone()
	cp.Steps = make([]WorkflowStep, len(p.Steps))
	for i, s := range p.Steps {
		cp.Steps[i] = s.Clone()
	}
	cp.SuccessCriteria = maps.Clone(p.SuccessCriteria)
	cp.FailureConditions = slices.Clone(p.FailureConditions)
	return &cp
}

// -----------------------------------------------------------------------------
// Decisions and results
// -----------------------------------------------------------------------------

// ActionDecision is the decision engine's choice for the next action.
type ActionDecision struct {
	Action            ActionType       `json:"action" yaml:"action"`
	Confidence        float64          `json:"confidence" yaml:"confidence"`
	Parameters        map[string]any   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Reasoning         string           `json:"reasoning" yaml:"reasoning"`
	Fallbacks         []ActionDecision `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	EstimatedDuration time.Duration    `json:"estimated_duration" yaml:"estimated_duration"`
	Risk              RiskLevel        `json:"risk" yaml:"risk"`
}

// ExecutionResult records the outcome of one dispatched step.
type ExecutionResult struct {
	StepID        string         `json:"step_id"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	RetryCount    int            `json:"retry_count"`
}

// Failed builds an unsuccessful result for stepID.
func Failed(stepID string, err error) ExecutionResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ExecutionResult{StepID: stepID, Success: false, Error: msg}
}
