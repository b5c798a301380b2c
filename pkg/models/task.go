package models

import "time"

// TaskStatus represents the current state of a task in its lifecycle.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued and has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusPlanning indicates admission control and plan creation are in progress.
	TaskStatusPlanning TaskStatus = "planning"
	// TaskStatusExecuting indicates plan steps are being executed.
	TaskStatusExecuting TaskStatus = "executing"
	// TaskStatusReviewing indicates the verifier is checking the combined output.
	TaskStatusReviewing TaskStatus = "reviewing"
	// TaskStatusCompleted indicates the task finished and verification passed.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed at some stage.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled by the caller.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusPlanning, TaskStatusExecuting,
		TaskStatusReviewing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Priority indicates how urgently a task should be handled.
type Priority string

const (
	// PriorityLow is for background work with no deadline.
	PriorityLow Priority = "low"
	// PriorityNormal is the default priority.
	PriorityNormal Priority = "normal"
	// PriorityHigh is for time-sensitive work.
	PriorityHigh Priority = "high"
	// PriorityCritical is for work that must not be deferred.
	PriorityCritical Priority = "critical"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// TaskType identifies the decomposition strategy used for a task.
type TaskType string

const (
	// TaskTypeComponentAnalysis analyzes a component against its datasheet and context.
	TaskTypeComponentAnalysis TaskType = "component_analysis"
	// TaskTypeDesignValidation validates a design document against engineering rules.
	TaskTypeDesignValidation TaskType = "design_validation"
	// TaskTypeProjectOptimization searches for cost/performance improvements.
	TaskTypeProjectOptimization TaskType = "project_optimization"
	// TaskTypeProcurementAssist assists with supplier and sourcing decisions.
	TaskTypeProcurementAssist TaskType = "procurement_assist"
	// TaskTypeSimulation runs an energy/financial simulation pipeline.
	TaskTypeSimulation TaskType = "simulation"
)

// Task represents one unit of work owned by the orchestrator engine for its
// lifetime. The policy router references tasks for budget bookkeeping but
// never mutates them.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Type selects the planning strategy.
	Type TaskType `json:"type"`
	// Description is the free-form task description.
	Description string `json:"description"`
	// Context carries caller-provided inputs for planning and execution.
	Context map[string]any `json:"context,omitempty"`
	// Priority indicates scheduling urgency.
	Priority Priority `json:"priority"`
	// TenantID scopes the task for budget and rate accounting.
	TenantID string `json:"tenant_id"`
	// UserID is the submitting user.
	UserID string `json:"user_id"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when a worker picked the task up, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Plan is the execution blueprint produced during planning.
	Plan *Plan `json:"plan,omitempty"`
	// Results holds per-step execution results in step-declaration order.
	Results []StepResult `json:"results,omitempty"`
	// Errors accumulates failure messages across the lifecycle.
	Errors []string `json:"errors,omitempty"`
	// Patches holds document patch operations extracted from tool outputs.
	Patches []PatchOp `json:"patches,omitempty"`
}

// StepResult records the outcome of executing one plan step.
type StepResult struct {
	// StepID is the plan step this result belongs to.
	StepID string `json:"step_id"`
	// Success indicates whether the step completed without error.
	Success bool `json:"success"`
	// Outputs holds the tool outputs for this step.
	Outputs map[string]any `json:"outputs,omitempty"`
	// Error contains the failure message if the step failed.
	Error string `json:"error,omitempty"`
	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`
	// ActualCost is the PSU cost actually incurred by the step.
	ActualCost float64 `json:"actual_cost"`
}

// PatchOp is one proposed document change in op/path/value form. The
// document provider that applies patches is an external collaborator.
type PatchOp struct {
	// Op is the patch operation: add, replace, or remove.
	Op string `json:"op"`
	// Path addresses the document location being changed.
	Path string `json:"path"`
	// Value is the new value for add/replace operations.
	Value any `json:"value,omitempty"`
}
