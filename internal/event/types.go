package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "workflow.started").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeWorkflowStarted  = "workflow.started"
	TypeStepCompleted    = "workflow.step_completed"
	TypeWorkflowPaused   = "workflow.paused"
	TypeWorkflowResumed  = "workflow.resumed"
	TypeWorkflowFinished = "workflow.finished"
	TypeProgressUpdated  = "progress.updated"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Workflow Lifecycle Events
// -----------------------------------------------------------------------------

// WorkflowStartedEvent is emitted when an execution begins running.
type WorkflowStartedEvent struct {
	baseEvent
	PlanID     string
	Intent     string
	TotalSteps int
}

// NewWorkflowStartedEvent creates a WorkflowStartedEvent.
func NewWorkflowStartedEvent(planID, intent string, totalSteps int) WorkflowStartedEvent {
	return WorkflowStartedEvent{
		baseEvent:  newBaseEvent(TypeWorkflowStarted),
		PlanID:     planID,
		Intent:     intent,
		TotalSteps: totalSteps,
	}
}

// StepCompletedEvent is emitted once per dispatched step.
type StepCompletedEvent struct {
	baseEvent
	PlanID   string
	StepID   string
	Success  bool
	Error    string
	Duration time.Duration
	Retries  int
}

// NewStepCompletedEvent creates a StepCompletedEvent.
func NewStepCompletedEvent(planID, stepID string, success bool, errMsg string, d time.Duration, retries int) StepCompletedEvent {
	return StepCompletedEvent{
		baseEvent: newBaseEvent(TypeStepCompleted),
		PlanID:    planID,
		StepID:    stepID,
		Success:   success,
		Error:     errMsg,
		Duration:  d,
		Retries:   retries,
	}
}

// WorkflowPausedEvent is emitted when a pause takes effect at the loop boundary.
type WorkflowPausedEvent struct {
	baseEvent
	PlanID string
}

// NewWorkflowPausedEvent creates a WorkflowPausedEvent.
func NewWorkflowPausedEvent(planID string) WorkflowPausedEvent {
	return WorkflowPausedEvent{baseEvent: newBaseEvent(TypeWorkflowPaused), PlanID: planID}
}

// WorkflowResumedEvent is emitted when a paused workflow continues.
type WorkflowResumedEvent struct {
	baseEvent
	PlanID string
}

// NewWorkflowResumedEvent creates a WorkflowResumedEvent.
func NewWorkflowResumedEvent(planID string) WorkflowResumedEvent {
	return WorkflowResumedEvent{baseEvent: newBaseEvent(TypeWorkflowResumed), PlanID: planID}
}

// WorkflowFinishedEvent is emitted when an execution reaches a terminal status.
type WorkflowFinishedEvent struct {
	baseEvent
	PlanID    string
	Status    string // COMPLETED, FAILED or CANCELLED
	Reason    string
	Completed int
	Failed    int
	Duration  time.Duration
}

// NewWorkflowFinishedEvent creates a WorkflowFinishedEvent.
func NewWorkflowFinishedEvent(planID, status, reason string, completed, failed int, d time.Duration) WorkflowFinishedEvent {
	return WorkflowFinishedEvent{
		baseEvent: newBaseEvent(TypeWorkflowFinished),
		PlanID:    planID,
		Status:    status,
		Reason:    reason,
		Completed: completed,
		Failed:    failed,
		Duration:  d,
	}
}

// -----------------------------------------------------------------------------
// Progress Events
// -----------------------------------------------------------------------------

// ProgressUpdatedEvent is emitted whenever a workflow's progress changes.
type ProgressUpdatedEvent struct {
	baseEvent
	PlanID     string
	Completed  int
	Failed     int
	Total      int
	Percentage float64
	ETA        time.Time // zero when no step has finished yet
}

// NewProgressUpdatedEvent creates a ProgressUpdatedEvent.
func NewProgressUpdatedEvent(planID string, completed, failed, total int, percentage float64, eta time.Time) ProgressUpdatedEvent {
	return ProgressUpdatedEvent{
		baseEvent:  newBaseEvent(TypeProgressUpdated),
		PlanID:     planID,
		Completed:  completed,
		Failed:     failed,
		Total:      total,
		Percentage: percentage,
		ETA:        eta,
	}
}
