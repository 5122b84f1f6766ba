// Package event provides a pub-sub event bus for decoupled communication
// between the workflow executor, the progress tracker and the CLI.
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Types
//
// Workflow lifecycle:
//   - [WorkflowStartedEvent]: an execution was registered and began running
//   - [StepCompletedEvent]: a dispatched step produced its result
//   - [WorkflowPausedEvent], [WorkflowResumedEvent]: pause control took effect
//   - [WorkflowFinishedEvent]: the execution reached a terminal status
//
// Progress:
//   - [ProgressUpdatedEvent]: the tracker recomputed a workflow's progress
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers run synchronously on
// the publisher's goroutine and are protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeStepCompleted, func(e event.Event) {
//	    done := e.(event.StepCompletedEvent)
//	    fmt.Println(done.StepID, done.Success)
//	})
//	bus.Publish(event.NewWorkflowStartedEvent("plan-1", "post_content", 6))
package event
