package models

import "time"

// StepType tags what kind of work a plan step performs.
type StepType string

const (
	// StepTypeGrounding retrieves prior knowledge to inform later steps.
	StepTypeGrounding StepType = "grounding"
	// StepTypeToolExecution invokes a registered tool.
	StepTypeToolExecution StepType = "tool_execution"
	// StepTypeValidation checks intermediate outputs against rules.
	StepTypeValidation StepType = "validation"
	// StepTypeSynthesis combines step outputs into a final answer.
	StepTypeSynthesis StepType = "synthesis"
	// StepTypeHandover escalates to a human or external system.
	StepTypeHandover StepType = "handover"
)

// PlanStep is one node in a plan's step graph.
type PlanStep struct {
	// ID is stable within the owning plan.
	ID string `json:"id"`
	// Type tags the kind of work this step performs.
	Type StepType `json:"type"`
	// Tool names the registered tool to invoke, for tool_execution steps.
	Tool string `json:"tool,omitempty"`
	// Inputs are the arguments passed to the tool or stage.
	Inputs map[string]any `json:"inputs,omitempty"`
	// DependsOn lists step IDs that must complete before this step runs.
	// Every referenced ID must exist within the same plan.
	DependsOn []string `json:"depends_on,omitempty"`
	// ParallelGroup tags steps with no dependency relation that may run
	// concurrently. Empty means strictly sequential.
	ParallelGroup string `json:"parallel_group,omitempty"`
	// EstimatedDuration is the expected wall-clock time for this step.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// EstimatedCost is the expected PSU cost for this step.
	EstimatedCost float64 `json:"estimated_cost"`
	// Confidence is the planner's confidence in this step, in [0,1].
	Confidence float64 `json:"confidence"`
}

// Plan is an immutable execution blueprint for one task. Execution results
// are recorded on the task, never merged back into the plan.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// TaskType is the task type this plan was built for.
	TaskType TaskType `json:"task_type"`
	// Steps is the ordered step list. Result ordering follows this order.
	Steps []PlanStep `json:"steps"`
	// EstimatedDuration is the aggregate duration: sequential steps sum,
	// each parallel group contributes only its slowest member.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// EstimatedCost is the sum of step costs regardless of grouping.
	EstimatedCost float64 `json:"estimated_cost"`
	// Confidence is the cost-weighted average of step confidences.
	Confidence float64 `json:"confidence"`
	// GroundingRefs lists the knowledge item and pattern IDs that informed
	// this plan.
	GroundingRefs []string `json:"grounding_refs,omitempty"`
	// Model is the AI model selected for this plan's execution.
	Model string `json:"model,omitempty"`
	// Region is the deployment region selected for this plan's execution.
	Region string `json:"region,omitempty"`
	// Reasoning is a human-readable summary of how the plan was built.
	Reasoning string `json:"reasoning,omitempty"`
	// Fallback indicates the plan is a degraded one-step fallback produced
	// after a planning failure.
	Fallback bool `json:"fallback,omitempty"`
	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`
}

// StepByID returns the step with the given ID, or nil if not present.
func (p *Plan) StepByID(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// HasStep returns true if the plan contains a step with the given ID.
func (p *Plan) HasStep(id string) bool {
	return p.StepByID(id) != nil
}
