package planner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/originflow/conductor/internal/registry"
	"github.com/originflow/conductor/pkg/models"
)

func stubTool(name string, duration time.Duration, cost float64) registry.Tool {
	return &registry.FuncTool{
		Meta: models.ToolMetadata{
			Name:              name,
			Version:           "1.0.0",
			Category:          "test",
			EstimatedDuration: duration,
			EstimatedCost:     cost,
		},
		Fn: func(ctx context.Context, inputs map[string]any) (models.ToolResult, error) {
			return models.ToolResult{Success: true}, nil
		},
	}
}

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	reg := registry.New()
	tools := []struct {
		name     string
		duration time.Duration
		cost     float64
	}{
		{"datasheet_lookup", 2 * time.Second, 3},
		{"spec_compare", 3 * time.Second, 5},
		{"rule_check", 2 * time.Second, 4},
		{"geometry_check", 4 * time.Second, 6},
	}
	for _, tool := range tools {
		if err := reg.Register(stubTool(tool.name, tool.duration, tool.cost)); err != nil {
			t.Fatalf("register %s: %v", tool.name, err)
		}
	}
	return New(reg, nil, nil, Options{})
}

func TestCreatePlan_ComponentAnalysis(t *testing.T) {
	p := testPlanner(t)

	plan := p.CreatePlan(context.Background(), models.TaskTypeComponentAnalysis,
		"analyze voltage regulator against datasheet", map[string]any{"part": "LM317"}, "us-east-1")

	if plan.Fallback {
		t.Fatalf("unexpected fallback plan: %s", plan.Reasoning)
	}
	if len(plan.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(plan.Steps))
	}
	// Grounding + lookup + compare + synthesis: 1 + 3 + 5 + 2 PSU.
	if plan.EstimatedCost != 11 {
		t.Errorf("expected estimated cost 11, got %.2f", plan.EstimatedCost)
	}
	if !strings.Contains(plan.Reasoning, "datasheet_lookup") {
		t.Errorf("reasoning should name tools used, got %q", plan.Reasoning)
	}
	if plan.Region != "us-east-1" {
		t.Errorf("expected region carried onto plan, got %q", plan.Region)
	}
}

func TestCreatePlan_DependencyClosure(t *testing.T) {
	p := testPlanner(t)

	types := []models.TaskType{
		models.TaskTypeComponentAnalysis,
		models.TaskTypeDesignValidation,
		models.TaskTypeProjectOptimization,
		models.TaskTypeProcurementAssist,
		models.TaskTypeSimulation,
		models.TaskType("unknown_type"),
	}
	for _, taskType := range types {
		t.Run(string(taskType), func(t *testing.T) {
			plan := p.CreatePlan(context.Background(), taskType, "test task", nil, "us-east-1")
			for _, step := range plan.Steps {
				for _, dep := range step.DependsOn {
					if !plan.HasStep(dep) {
						t.Errorf("step %s depends on missing step %s", step.ID, dep)
					}
				}
			}
		})
	}
}

func TestAggregate_ParallelGroupDuration(t *testing.T) {
	steps := []models.PlanStep{
		{ID: "a", EstimatedDuration: 500 * time.Millisecond, EstimatedCost: 1, Confidence: 1},
		{ID: "b", EstimatedDuration: 300 * time.Millisecond, EstimatedCost: 1, Confidence: 1, ParallelGroup: "g"},
		{ID: "c", EstimatedDuration: 700 * time.Millisecond, EstimatedCost: 1, Confidence: 1, ParallelGroup: "g"},
	}

	duration, cost, _ := Aggregate(steps)
	if duration != 1200*time.Millisecond {
		t.Errorf("expected 1200ms (500 + max(300, 700)), got %v", duration)
	}
	if cost != 3 {
		t.Errorf("cost must sum regardless of grouping, expected 3, got %.2f", cost)
	}
}

func TestAggregate_CostWeightedConfidence(t *testing.T) {
	steps := []models.PlanStep{
		{ID: "cheap", EstimatedCost: 1, Confidence: 0.5},
		{ID: "expensive", EstimatedCost: 9, Confidence: 1.0},
	}
	_, _, confidence := Aggregate(steps)
	if confidence != 0.95 {
		t.Errorf("expected cost-weighted confidence 0.95, got %.3f", confidence)
	}
}

func TestPruneDanglingDeps(t *testing.T) {
	steps := []models.PlanStep{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a", "ghost"}},
	}
	cleaned, pruned := pruneDanglingDeps(steps)
	if pruned != 1 {
		t.Errorf("expected 1 pruned edge, got %d", pruned)
	}
	if len(cleaned[1].DependsOn) != 1 || cleaned[1].DependsOn[0] != "a" {
		t.Errorf("expected only resolvable dep kept, got %v", cleaned[1].DependsOn)
	}
}

func TestCreatePlan_FallbackOnPanic(t *testing.T) {
	// A nil registry makes estimate dereference safe, so force a panic
	// through an advisor that misbehaves during reasoning.
	p := testPlanner(t)
	p.SetAdvisor(panickingAdvisor{})

	plan := p.CreatePlan(context.Background(), models.TaskTypeComponentAnalysis, "task", nil, "us-east-1")
	if !plan.Fallback {
		t.Fatal("expected fallback plan after panic")
	}
	if len(plan.Steps) != 1 {
		t.Errorf("fallback must be a single step, got %d", len(plan.Steps))
	}
	if plan.Confidence != 0.3 {
		t.Errorf("expected fallback confidence 0.3, got %.2f", plan.Confidence)
	}
	if plan.Reasoning == "" {
		t.Error("fallback plan must carry an explanatory reasoning string")
	}
}

type panickingAdvisor struct{}

func (panickingAdvisor) Advise(ctx context.Context, taskType models.TaskType, description string,
	steps []models.PlanStep) (string, error) {
	panic("advisor exploded")
}

type staticAdvisor struct{ note string }

func (a staticAdvisor) Advise(ctx context.Context, taskType models.TaskType, description string,
	steps []models.PlanStep) (string, error) {
	return a.note, nil
}

func TestCreatePlan_AdvisorNote(t *testing.T) {
	p := testPlanner(t)
	p.SetAdvisor(staticAdvisor{note: "prefer the cheaper comparison path"})

	plan := p.CreatePlan(context.Background(), models.TaskTypeComponentAnalysis, "task", nil, "us-east-1")
	if !strings.Contains(plan.Reasoning, "prefer the cheaper comparison path") {
		t.Errorf("expected advisor note in reasoning, got %q", plan.Reasoning)
	}
}
