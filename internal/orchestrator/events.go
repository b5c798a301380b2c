package orchestrator

import "time"

// EventType represents the type of engine event.
type EventType string

const (
	// EventTaskQueued indicates a task was accepted onto the queue.
	EventTaskQueued EventType = "task_queued"
	// EventPlanning indicates a task passed admission and is being planned.
	EventPlanning EventType = "planning"
	// EventStepCompleted indicates one plan step finished.
	EventStepCompleted EventType = "step_completed"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventTaskEscalated indicates admission requires human approval.
	EventTaskEscalated EventType = "task_escalated"
)

// Event is emitted by the engine for host consumption.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task.
	TaskID string
	// StepID is the related plan step, for step events.
	StepID string
	// Message provides additional context.
	Message string
	// Err carries error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
