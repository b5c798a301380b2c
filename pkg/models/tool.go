package models

import "time"

// SideEffect classifies what a tool does beyond computing a result.
type SideEffect string

const (
	// SideEffectNone means the tool is a pure computation.
	SideEffectNone SideEffect = "none"
	// SideEffectRead means the tool reads external state.
	SideEffectRead SideEffect = "read"
	// SideEffectWrite means the tool proposes document changes.
	SideEffectWrite SideEffect = "write"
	// SideEffectExternal means the tool calls out to third-party systems.
	SideEffectExternal SideEffect = "external"
)

// FieldSpec describes one field of a tool's input or output schema.
type FieldSpec struct {
	// Name is the field name.
	Name string `json:"name"`
	// Type is the expected kind: string, number, bool, object, or array.
	Type string `json:"type"`
	// Required marks fields that must be present on invocation.
	Required bool `json:"required"`
	// Description documents the field for catalog listings.
	Description string `json:"description,omitempty"`
}

// ToolMetadata is the published contract of a registered tool.
type ToolMetadata struct {
	// Name is the unique tool name used for resolution.
	Name string `json:"name"`
	// Version is the tool's semantic version.
	Version string `json:"version"`
	// Category groups tools for catalog listings.
	Category string `json:"category"`
	// Description documents what the tool does.
	Description string `json:"description,omitempty"`
	// Inputs declares the input schema validated before execution.
	Inputs []FieldSpec `json:"inputs,omitempty"`
	// Outputs declares the shape of the tool's outputs.
	Outputs []FieldSpec `json:"outputs,omitempty"`
	// SideEffect classifies the tool's effect on external state.
	SideEffect SideEffect `json:"side_effect"`
	// RequiredScopes lists the permission scopes a caller must hold.
	RequiredScopes []string `json:"required_scopes,omitempty"`
	// EstimatedDuration is the expected execution time.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// EstimatedCost is the expected PSU cost per invocation.
	EstimatedCost float64 `json:"estimated_cost"`
}

// ToolResult is the outcome of a single tool invocation.
type ToolResult struct {
	// Success indicates whether the invocation succeeded.
	Success bool `json:"success"`
	// Outputs holds the produced values keyed by output field name.
	Outputs map[string]any `json:"outputs,omitempty"`
	// Errors lists failure messages when Success is false.
	Errors []string `json:"errors,omitempty"`
	// ExecutionTime is the wall-clock time the invocation took.
	ExecutionTime time.Duration `json:"execution_time"`
	// Evidence lists URIs backing the result (datasheets, standards, docs).
	Evidence []string `json:"evidence,omitempty"`
	// Intent is a short statement of what the tool attempted.
	Intent string `json:"intent,omitempty"`
}
