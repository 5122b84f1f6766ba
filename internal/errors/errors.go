// Package errors provides the error types used across the workflow engine.
//
// # Error Types
//
// Domain errors describe the failure modes of the planning and execution core:
//   - PlanningError: a command could not be expanded into a plan
//   - ExecutionError: a step's executor reported failure or timed out
//   - BlockedWorkflowError: no ready steps remain while work is unresolved
//   - CapacityError: the concurrent workflow cap has been reached
//
// Semantic errors describe common conditions:
//   - NotFoundError: a plan or step is not known
//   - ValidationError: invalid input or configuration
//
// # Usage
//
//	err := errors.NewPlanningError("no template for intent", errors.ErrTemplateNotFound).
//	    WithIntent("post_content")
//
//	if errors.Is(err, errors.ErrTemplateNotFound) { ... }
//
//	var capErr *errors.CapacityError
//	if errors.As(err, &capErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are only useful while debugging.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that abort a workflow.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Planning sentinel errors
var (
	// ErrNilCommand indicates that planning was requested without a command.
	ErrNilCommand = New("command is nil")
	// ErrTemplateNotFound indicates that no step template matched the command.
	ErrTemplateNotFound = New("no step template for command")
	// ErrPlanInvalid indicates that a built plan failed validation.
	ErrPlanInvalid = New("plan is invalid")
	// ErrDependencyCycle indicates a circular dependency between steps.
	ErrDependencyCycle = New("dependency cycle detected")
)

// Execution sentinel errors
var (
	// ErrCapacityReached indicates the concurrent workflow cap was hit.
	ErrCapacityReached = New("workflow capacity reached")
	// ErrAlreadyRunning indicates a plan with the same id is already active.
	ErrAlreadyRunning = New("workflow already running")
	// ErrWorkflowBlocked indicates no step can make progress.
	ErrWorkflowBlocked = New("workflow blocked")
	// ErrStepFailed indicates a step's executor reported failure.
	ErrStepFailed = New("step failed")
	// ErrUnsupportedStep indicates no executor can run the step.
	ErrUnsupportedStep = New("step type not supported")
	// ErrExecutorClosed indicates Execute was called after Shutdown began.
	ErrExecutorClosed = New("executor is shut down")
)

// Non-retryable step failure kinds
var (
	// ErrAuthenticationFailed indicates rejected credentials.
	ErrAuthenticationFailed = New("authentication failed")
	// ErrPermissionDenied indicates the target refused the action.
	ErrPermissionDenied = New("permission denied")
	// ErrElementNotFound indicates a selector matched nothing.
	ErrElementNotFound = New("element not found")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrNotFound indicates that a plan or step could not be found.
	ErrNotFound = New("not found")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// EngineError is the interface implemented by every error in this package.
type EngineError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// PlanningError is returned when a command cannot be expanded into a plan.
// Planners recover from it by substituting a fallback plan.
type PlanningError struct {
	baseError
	Intent   string
	Platform string
}

// NewPlanningError creates a new PlanningError.
func NewPlanningError(message string, cause error) *PlanningError {
	return &PlanningError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithIntent adds the command intent to the error context.
func (e *PlanningError) WithIntent(intent string) *PlanningError {
	e.Intent = intent
	return e
}

// WithPlatform adds the target platform to the error context.
func (e *PlanningError) WithPlatform(platform string) *PlanningError {
	e.Platform = platform
	return e
}

// Error returns the formatted error message.
func (e *PlanningError) Error() string {
	var parts []string
	if e.Intent != "" {
		parts = append(parts, "intent="+e.Intent)
	}
	if e.Platform != "" {
		parts = append(parts, "platform="+e.Platform)
	}
	return e.format("planning error", parts)
}

// Is checks if this error matches the target.
func (e *PlanningError) Is(target error) bool {
	if _, ok := target.(*PlanningError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ExecutionError describes a failed step attempt.
type ExecutionError struct {
	baseError
	PlanID  string
	StepID  string
	Attempt int
}

// NewExecutionError creates a new ExecutionError. Step failures are
// retryable unless the cause says otherwise.
func NewExecutionError(message string, cause error) *ExecutionError {
	return &ExecutionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithPlanID adds the plan id to the error context.
func (e *ExecutionError) WithPlanID(id string) *ExecutionError {
	e.PlanID = id
	return e
}

// WithStepID adds the step id to the error context.
func (e *ExecutionError) WithStepID(id string) *ExecutionError {
	e.StepID = id
	return e
}

// WithAttempt records which attempt failed.
func (e *ExecutionError) WithAttempt(n int) *ExecutionError {
	e.Attempt = n
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ExecutionError) WithRetryable(r bool) *ExecutionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	var parts []string
	if e.PlanID != "" {
		parts = append(parts, "plan="+e.PlanID)
	}
	if e.StepID != "" {
		parts = append(parts, "step="+e.StepID)
	}
	if e.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}
	return e.format("execution error", parts)
}

// Is checks if this error matches the target.
func (e *ExecutionError) Is(target error) bool {
	if _, ok := target.(*ExecutionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BlockedWorkflowError is attached to a workflow that ended FAILED because
// no step could become ready.
type BlockedWorkflowError struct {
	baseError
	PlanID  string
	Pending []string
}

// NewBlockedWorkflowError creates a new BlockedWorkflowError.
func NewBlockedWorkflowError(planID, reason string, pending []string) *BlockedWorkflowError {
	return &BlockedWorkflowError{
		baseError: baseError{
			message:    reason,
			cause:      ErrWorkflowBlocked,
			severity:   SeverityCritical,
			userFacing: true,
		},
		PlanID:  planID,
		Pending: pending,
	}
}

// Error returns the formatted error message.
func (e *BlockedWorkflowError) Error() string {
	var parts []string
	if e.PlanID != "" {
		parts = append(parts, "plan="+e.PlanID)
	}
	if len(e.Pending) > 0 {
		parts = append(parts, fmt.Sprintf("pending=%d", len(e.Pending)))
	}
	return e.format("workflow blocked", parts)
}

// Is checks if this error matches the target.
func (e *BlockedWorkflowError) Is(target error) bool {
	if _, ok := target.(*BlockedWorkflowError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CapacityError is returned when a workflow is rejected because the
// concurrent workflow cap is reached. Rejected workflows are not queued.
type CapacityError struct {
	baseError
	Active int
	Limit  int
}

// NewCapacityError creates a new CapacityError.
func NewCapacityError(active, limit int) *CapacityError {
	return &CapacityError{
		baseError: baseError{
			message:    fmt.Sprintf("%d of %d workflow slots in use", active, limit),
			cause:      ErrCapacityReached,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Active: active,
		Limit:  limit,
	}
}

// Error returns the formatted error message.
func (e *CapacityError) Error() string {
	return e.format("capacity error", nil)
}

// Is checks if this error matches the target.
func (e *CapacityError) Is(target error) bool {
	if _, ok := target.(*CapacityError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates that a plan, step or platform is not known.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not found", resourceType),
			cause:      ErrNotFound,
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError indicates invalid input.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			cause:      ErrInvalidInput,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds the invalid field name.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [field=%s]: %s (got: %v)", e.Field, e.message, e.Value)
	}
	return "validation error: " + e.message
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError indicates that an operation exceeded its deadline.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, d time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    fmt.Sprintf("%s timed out after %s", operation, d),
			cause:      ErrTimeout,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  d,
	}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string { return e.message }

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether err is transient. Engine errors answer for
// themselves; otherwise timeouts are retryable and everything else is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrAuthenticationFailed) || Is(err, ErrPermissionDenied) {
		return false
	}
	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing reports whether err's message is safe to show to users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, SeverityError for foreign errors.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with a context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
