package models

import "time"

// DecisionKind is the outcome of an admission-control check.
type DecisionKind string

const (
	// DecisionApprove admits the task as submitted.
	DecisionApprove DecisionKind = "approve"
	// DecisionDeny rejects the task outright.
	DecisionDeny DecisionKind = "deny"
	// DecisionModify admits the task with proposed parameter changes.
	DecisionModify DecisionKind = "modify"
	// DecisionEscalate requires human or external approval before admission.
	DecisionEscalate DecisionKind = "escalate"
)

// ViolationType categorizes an admission-control failure.
type ViolationType string

const (
	// ViolationBudget indicates insufficient PSU budget.
	ViolationBudget ViolationType = "budget"
	// ViolationPermission indicates missing permission scopes.
	ViolationPermission ViolationType = "permission"
	// ViolationRate indicates a rate limit was hit.
	ViolationRate ViolationType = "rate"
	// ViolationResource indicates a duration or concurrency cap was hit.
	ViolationResource ViolationType = "resource"
	// ViolationContent indicates banned terms or PII in the task context.
	ViolationContent ViolationType = "content"
)

// Severity ranks how serious a violation or verification issue is.
type Severity string

const (
	// SeverityInfo is advisory only.
	SeverityInfo Severity = "info"
	// SeverityWarning should be reviewed but does not block.
	SeverityWarning Severity = "warning"
	// SeverityError counts against validity thresholds.
	SeverityError Severity = "error"
	// SeverityHigh forces escalation to human approval.
	SeverityHigh Severity = "high"
	// SeverityCritical forces denial.
	SeverityCritical Severity = "critical"
)

// PolicyViolation is an immutable record of one admission-control failure.
// Violations form an append-only audit trail.
type PolicyViolation struct {
	// ID is the unique identifier for this violation.
	ID string `json:"id"`
	// Type categorizes the failure.
	Type ViolationType `json:"type"`
	// Severity ranks how serious the failure is.
	Severity Severity `json:"severity"`
	// Description is a free-text explanation.
	Description string `json:"description"`
	// TenantID is the tenant the violating task belonged to.
	TenantID string `json:"tenant_id"`
	// UserID is the submitting user.
	UserID string `json:"user_id,omitempty"`
	// TaskID is the task that triggered the violation.
	TaskID string `json:"task_id,omitempty"`
	// Metadata carries check-specific details.
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt is when the violation was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Decision is the result of a policy router check.
type Decision struct {
	// Kind is the admission outcome.
	Kind DecisionKind `json:"kind"`
	// Violations lists every failing check, regardless of outcome.
	Violations []PolicyViolation `json:"violations,omitempty"`
	// Changes proposes parameter adjustments for modify decisions,
	// e.g. a clamped PSU ceiling or shortened duration.
	Changes map[string]any `json:"changes,omitempty"`
	// Reason summarizes why the decision was reached.
	Reason string `json:"reason,omitempty"`
}

// Approved returns true if the task may proceed, with or without changes.
func (d Decision) Approved() bool {
	return d.Kind == DecisionApprove || d.Kind == DecisionModify
}
