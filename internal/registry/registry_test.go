package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/originflow/conductor/pkg/models"
)

func echoTool() *FuncTool {
	return &FuncTool{
		Meta: models.ToolMetadata{
			Name:     "echo",
			Version:  "1.0.0",
			Category: "analysis",
			Inputs: []models.FieldSpec{
				{Name: "message", Type: "string", Required: true},
				{Name: "count", Type: "number", Required: false},
			},
			SideEffect:        models.SideEffectNone,
			EstimatedDuration: 50 * time.Millisecond,
			EstimatedCost:     1.0,
		},
		Fn: func(ctx context.Context, inputs map[string]any) (models.ToolResult, error) {
			return models.ToolResult{
				Success: true,
				Outputs: map[string]any{"message": inputs["message"]},
			}, nil
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tool, err := r.Get("echo")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tool.Metadata().Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", tool.Metadata().Version)
	}

	if !r.Has("echo") {
		t.Error("expected Has(echo) to be true")
	}
	if r.Has("missing") {
		t.Error("expected Has(missing) to be false")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}

func TestRegistry_RegisterEmptyName(t *testing.T) {
	r := New()
	err := r.Register(&FuncTool{Meta: models.ToolMetadata{}})
	if err == nil {
		t.Error("expected error registering tool with empty name")
	}
}

func TestRegistry_Execute(t *testing.T) {
	r := New()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := r.Execute(context.Background(), "echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if result.Outputs["message"] != "hello" {
		t.Errorf("expected echoed message, got %v", result.Outputs["message"])
	}
	if result.ExecutionTime <= 0 {
		t.Error("expected non-zero execution time")
	}
}

func TestRegistry_ExecuteSchemaViolations(t *testing.T) {
	r := New()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tests := []struct {
		name   string
		inputs map[string]any
	}{
		{"missing required field", map[string]any{}},
		{"wrong type for required field", map[string]any{"message": 42}},
		{"wrong type for optional field", map[string]any{"message": "hi", "count": "three"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Execute(context.Background(), "echo", tc.inputs)
			if !errors.Is(err, ErrSchemaViolation) {
				t.Errorf("expected ErrSchemaViolation, got %v", err)
			}
		})
	}
}

func TestRegistry_ExecuteOptionalFieldAccepted(t *testing.T) {
	r := New()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := r.Execute(context.Background(), "echo", map[string]any{
		"message": "hi",
		"count":   3,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
}

func TestRegistry_ListByCategory(t *testing.T) {
	r := New()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	other := echoTool()
	other.Meta.Name = "simulate"
	other.Meta.Category = "simulation"
	if err := r.Register(other); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	all := r.List()
	if len(all) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(all))
	}
	// List is sorted by name.
	if all[0].Name != "echo" || all[1].Name != "simulate" {
		t.Errorf("expected sorted order, got %s, %s", all[0].Name, all[1].Name)
	}

	analysis := r.ListByCategory("analysis")
	if len(analysis) != 1 || analysis[0].Name != "echo" {
		t.Errorf("expected only echo in analysis category, got %v", analysis)
	}
}

func TestRegistry_Stats(t *testing.T) {
	r := New()
	failing := echoTool()
	failing.Meta.Name = "flaky"
	calls := 0
	failing.Fn = func(ctx context.Context, inputs map[string]any) (models.ToolResult, error) {
		calls++
		if calls%2 == 0 {
			return models.ToolResult{Success: false, Errors: []string{"boom"}}, nil
		}
		return models.ToolResult{Success: true}, nil
	}
	if err := r.Register(failing); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		_, _ = r.Execute(context.Background(), "flaky", map[string]any{"message": "x"})
	}

	stats, ok := r.Stats("flaky")
	if !ok {
		t.Fatal("expected stats for flaky")
	}
	if stats.Calls != 4 {
		t.Errorf("expected 4 calls, got %d", stats.Calls)
	}
	if stats.Failures != 2 {
		t.Errorf("expected 2 failures, got %d", stats.Failures)
	}
}

func TestRegistry_Estimate(t *testing.T) {
	r := New()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	d, c := r.Estimate("echo")
	if d != 50*time.Millisecond {
		t.Errorf("expected 50ms estimate, got %v", d)
	}
	if c != 1.0 {
		t.Errorf("expected cost 1.0, got %v", c)
	}

	d, c = r.Estimate("missing")
	if d != 0 || c != 0 {
		t.Errorf("expected zero estimates for unknown tool, got %v, %v", d, c)
	}
}

func TestValidateInputs_NilValueAccepted(t *testing.T) {
	schema := []models.FieldSpec{{Name: "opt", Type: "string"}}
	if err := ValidateInputs(schema, map[string]any{"opt": nil}); err != nil {
		t.Errorf("nil value should pass, got %v", err)
	}
}
