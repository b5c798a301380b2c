// Package planner turns a task into an executable plan: it grounds the
// task in prior knowledge, dispatches to a task-type strategy, prunes
// invalid dependencies, and aggregates cost/duration/confidence.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/originflow/conductor/internal/memory"
	"github.com/originflow/conductor/internal/registry"
	"github.com/originflow/conductor/internal/selector"
	"github.com/originflow/conductor/pkg/models"
)

// Advisor contributes model-generated reasoning to a plan. Optional;
// advisor failures never affect the plan itself.
type Advisor interface {
	Advise(ctx context.Context, taskType models.TaskType, description string, steps []models.PlanStep) (string, error)
}

// Options tune grounding retrieval.
type Options struct {
	// GroundingTopK is how many knowledge items inform a plan.
	GroundingTopK int
	// PatternMinSuccessRate filters learned patterns used for grounding.
	PatternMinSuccessRate float64
}

// Planner creates plans. The semantic store, selector, and advisor are
// optional; a nil collaborator degrades the plan rather than failing it.
type Planner struct {
	registry *registry.Registry
	semantic *memory.SemanticStore
	selector *selector.Selector
	advisor  Advisor
	opts     Options
}

// New creates a planner over the given collaborators.
func New(reg *registry.Registry, semantic *memory.SemanticStore, sel *selector.Selector, opts Options) *Planner {
	if opts.GroundingTopK <= 0 {
		opts.GroundingTopK = 5
	}
	if opts.PatternMinSuccessRate <= 0 {
		opts.PatternMinSuccessRate = 0.7
	}
	return &Planner{registry: reg, semantic: semantic, selector: sel, opts: opts}
}

// SetAdvisor attaches an optional reasoning advisor.
func (p *Planner) SetAdvisor(a Advisor) { p.advisor = a }

// CreatePlan builds a plan for the task. It never fails: any internal
// panic degrades to a one-step fallback plan with low confidence so
// downstream stages always receive a well-formed plan.
func (p *Planner) CreatePlan(ctx context.Context, taskType models.TaskType, description string,
	taskCtx map[string]any, region string) (plan *models.Plan) {
	defer func() {
		if r := recover(); r != nil {
			plan = p.fallbackPlan(taskType, description, fmt.Sprintf("planning failed: %v", r))
		}
	}()

	refs, groundingNote := p.gatherGrounding(description)

	steps := p.strategySteps(taskType, description, taskCtx)
	steps, pruned := pruneDanglingDeps(steps)

	duration, cost, confidence := Aggregate(steps)

	model, modelNote := p.selectModel(taskType, region)

	plan = &models.Plan{
		ID:                uuid.New().String(),
		TaskType:          taskType,
		Steps:             steps,
		EstimatedDuration: duration,
		EstimatedCost:     cost,
		Confidence:        confidence,
		GroundingRefs:     refs,
		Model:             model,
		Region:            region,
		Reasoning:         p.buildReasoning(ctx, taskType, description, steps, groundingNote, modelNote, pruned),
		CreatedAt:         time.Now(),
	}
	return plan
}

// gatherGrounding retrieves relevant knowledge items and applicable
// learned patterns. Retrieval failures degrade to an ungrounded plan.
func (p *Planner) gatherGrounding(description string) ([]string, string) {
	if p.semantic == nil {
		return nil, "no knowledge store attached"
	}

	var refs []string
	items, err := p.semantic.Retrieve(description, p.opts.GroundingTopK)
	if err != nil {
		return nil, fmt.Sprintf("grounding unavailable: %v", err)
	}
	for _, si := range items {
		refs = append(refs, si.Item.ID)
	}

	patterns, err := p.semantic.Patterns(p.opts.PatternMinSuccessRate, "")
	if err == nil {
		for _, pat := range patterns {
			refs = append(refs, pat.ID)
		}
	}

	return refs, fmt.Sprintf("%d knowledge items, %d patterns", len(items), len(refs)-len(items))
}

// selectModel picks a model for the task type's primary capability.
// Selection failure leaves the model unset; execution proceeds anyway.
func (p *Planner) selectModel(taskType models.TaskType, region string) (string, string) {
	if p.selector == nil {
		return "", "no model catalog attached"
	}
	sel, err := p.selector.SelectModel(capabilityFor(taskType), region, selector.Requirements{})
	if err != nil {
		return "", fmt.Sprintf("no model candidate: %v", err)
	}
	return sel.Primary.ID, fmt.Sprintf("model %s (%d fallbacks)", sel.Primary.ID, len(sel.Fallbacks))
}

// capabilityFor maps a task type to the model capability it exercises.
func capabilityFor(taskType models.TaskType) string {
	switch taskType {
	case models.TaskTypeProjectOptimization:
		return "planning"
	case models.TaskTypeSimulation:
		return "synthesis"
	default:
		return "analysis"
	}
}

// estimate resolves a step's duration and cost from registry metadata,
// falling back to the given defaults for unregistered tools.
func (p *Planner) estimate(tool string, defDuration time.Duration, defCost float64) (time.Duration, float64) {
	if p.registry != nil {
		if d, c := p.registry.Estimate(tool); d > 0 || c > 0 {
			return d, c
		}
	}
	return defDuration, defCost
}

// pruneDanglingDeps drops dependency references that do not resolve to a
// step within the plan. Returns the cleaned steps and how many edges were
// dropped.
func pruneDanglingDeps(steps []models.PlanStep) ([]models.PlanStep, int) {
	ids := make(map[string]bool, len(steps))
	for _, s := range steps {
		ids[s.ID] = true
	}

	pruned := 0
	for i := range steps {
		var kept []string
		for _, dep := range steps[i].DependsOn {
			if ids[dep] {
				kept = append(kept, dep)
			} else {
				pruned++
			}
		}
		steps[i].DependsOn = kept
	}
	return steps, pruned
}

// Preview returns the steps the task type's strategy would emit, without
// grounding, model selection, or advisor input. Admission control uses it
// to estimate cost and collect required scopes before any plan exists.
func (p *Planner) Preview(taskType models.TaskType, description string, taskCtx map[string]any) []models.PlanStep {
	steps := p.strategySteps(taskType, description, taskCtx)
	steps, _ = pruneDanglingDeps(steps)
	return steps
}

// Aggregate computes plan-level metrics: sequential steps sum duration
// while each parallel group contributes only its slowest member; cost
// sums across all steps; confidence is the cost-weighted average.
func Aggregate(steps []models.PlanStep) (time.Duration, float64, float64) {
	var (
		duration time.Duration
		groupMax = make(map[string]time.Duration)
		cost     float64
		weighted float64
		rawConf  float64
	)
	for _, s := range steps {
		if s.ParallelGroup == "" {
			duration += s.EstimatedDuration
		} else if s.EstimatedDuration > groupMax[s.ParallelGroup] {
			groupMax[s.ParallelGroup] = s.EstimatedDuration
		}
		cost += s.EstimatedCost
		weighted += s.Confidence * s.EstimatedCost
		rawConf += s.Confidence
	}
	for _, max := range groupMax {
		duration += max
	}

	confidence := 0.0
	if cost > 0 {
		confidence = weighted / cost
	} else if len(steps) > 0 {
		confidence = rawConf / float64(len(steps))
	}
	return duration, cost, confidence
}

// buildReasoning summarizes how the plan was built, including the
// advisor's note when one is attached.
func (p *Planner) buildReasoning(ctx context.Context, taskType models.TaskType, description string,
	steps []models.PlanStep, groundingNote, modelNote string, pruned int) string {
	tools := make(map[string]bool)
	for _, s := range steps {
		if s.Tool != "" {
			tools[s.Tool] = true
		}
	}
	toolNames := make([]string, 0, len(tools))
	for name := range tools {
		toolNames = append(toolNames, name)
	}
	sort.Strings(toolNames)

	var b strings.Builder
	fmt.Fprintf(&b, "%s plan with %d steps", taskType, len(steps))
	if len(toolNames) > 0 {
		fmt.Fprintf(&b, " using tools: %s", strings.Join(toolNames, ", "))
	}
	fmt.Fprintf(&b, ". Grounding: %s. Model: %s.", groundingNote, modelNote)
	if pruned > 0 {
		fmt.Fprintf(&b, " Dropped %d unresolvable dependency references.", pruned)
	}

	if p.advisor != nil {
		if note, err := p.advisor.Advise(ctx, taskType, description, steps); err == nil && note != "" {
			fmt.Fprintf(&b, " Advisor: %s", note)
		}
	}
	return b.String()
}

// fallbackPlan is the degraded plan returned when planning fails: one
// synthesis step at low confidence, flagged for downstream callers.
func (p *Planner) fallbackPlan(taskType models.TaskType, description, reason string) *models.Plan {
	step := models.PlanStep{
		ID:                "fallback-1",
		Type:              models.StepTypeSynthesis,
		Inputs:            map[string]any{"description": description},
		EstimatedDuration: time.Second,
		EstimatedCost:     1,
		Confidence:        0.3,
	}
	return &models.Plan{
		ID:                uuid.New().String(),
		TaskType:          taskType,
		Steps:             []models.PlanStep{step},
		EstimatedDuration: step.EstimatedDuration,
		EstimatedCost:     step.EstimatedCost,
		Confidence:        0.3,
		Reasoning:         reason,
		Fallback:          true,
		CreatedAt:         time.Now(),
	}
}
