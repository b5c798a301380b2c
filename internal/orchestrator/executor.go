package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/originflow/conductor/internal/memory"
	"github.com/originflow/conductor/pkg/models"
)

// executeSteps runs a plan's steps in dependency order. Steps sharing a
// non-empty parallel group run concurrently once ready; everything else
// runs one at a time in declaration order. The first failed step aborts
// the task, and results are returned in step-declaration order.
func (e *Engine) executeSteps(task *models.Task, plan *models.Plan) ([]models.StepResult, error) {
	byID := make(map[string]models.StepResult, len(plan.Steps))
	done := make(map[string]bool, len(plan.Steps))

	assemble := func() []models.StepResult {
		results := make([]models.StepResult, 0, len(byID))
		for _, s := range plan.Steps {
			if r, ok := byID[s.ID]; ok {
				results = append(results, r)
			}
		}
		return results
	}

	for len(done) < len(plan.Steps) {
		batch := e.nextBatch(plan.Steps, done)
		if len(batch) == 0 {
			return assemble(), fmt.Errorf("plan %s has unsatisfiable dependencies among remaining steps", plan.ID)
		}

		if len(batch) == 1 {
			step := batch[0]
			result := e.executeStep(task, step, byID)
			byID[step.ID] = result
			done[step.ID] = true
			e.emit(Event{Type: EventStepCompleted, TaskID: task.ID, StepID: step.ID})
			if !result.Success {
				return assemble(), fmt.Errorf("step %s failed: %s", step.ID, result.Error)
			}
			continue
		}

		// Parallel group: every ready member runs on its own goroutine.
		// Members read a snapshot of prior results so concurrent writes
		// to the live map never race with their reads.
		prior := make(map[string]models.StepResult, len(byID))
		for id, r := range byID {
			prior[id] = r
		}
		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for _, step := range batch {
			wg.Add(1)
			go func(step models.PlanStep) {
				defer wg.Done()
				result := e.executeStep(task, step, prior)
				mu.Lock()
				byID[step.ID] = result
				mu.Unlock()
			}(step)
		}
		wg.Wait()

		var failed *models.StepResult
		for _, step := range batch {
			done[step.ID] = true
			e.emit(Event{Type: EventStepCompleted, TaskID: task.ID, StepID: step.ID})
			if r := byID[step.ID]; !r.Success && failed == nil {
				failed = &r
			}
		}
		if failed != nil {
			return assemble(), fmt.Errorf("step %s failed: %s", failed.StepID, failed.Error)
		}
	}

	return assemble(), nil
}

// nextBatch picks the steps to run next. The first ready step in
// declaration order sets the batch: if it belongs to a parallel group,
// all ready members of that group join it, otherwise it runs alone.
func (e *Engine) nextBatch(steps []models.PlanStep, done map[string]bool) []models.PlanStep {
	ready := func(s models.PlanStep) bool {
		if done[s.ID] {
			return false
		}
		for _, dep := range s.DependsOn {
			if !done[dep] {
				return false
			}
		}
		return true
	}

	for _, s := range steps {
		if !ready(s) {
			continue
		}
		if s.ParallelGroup == "" {
			return []models.PlanStep{s}
		}
		var batch []models.PlanStep
		for _, other := range steps {
			if other.ParallelGroup == s.ParallelGroup && ready(other) {
				batch = append(batch, other)
			}
		}
		return batch
	}
	return nil
}

// executeStep dispatches a single step by type. Non-tool steps never
// fail the task unless their inputs are structurally broken; tool steps
// surface tool errors verbatim.
func (e *Engine) executeStep(task *models.Task, step models.PlanStep,
	prior map[string]models.StepResult) models.StepResult {
	start := time.Now()
	result := models.StepResult{StepID: step.ID, ActualCost: step.EstimatedCost}

	switch step.Type {
	case models.StepTypeToolExecution:
		result = e.executeToolStep(task, step)
	case models.StepTypeGrounding:
		result.Success = true
		result.Outputs = e.groundingOutputs(task)
	case models.StepTypeValidation:
		checked := 0
		for _, dep := range step.DependsOn {
			if prior[dep].Success {
				checked++
			}
		}
		result.Success = true
		result.Outputs = map[string]any{"validated": true, "checked_steps": checked}
	case models.StepTypeSynthesis:
		result.Success = true
		result.Outputs = map[string]any{"summary": synthesize(task, step, prior)}
	case models.StepTypeHandover:
		e.recordInteraction(task, memory.InteractionHandover,
			fmt.Sprintf("step %s requested handover", step.ID), step.Inputs)
		result.Success = true
		result.Outputs = map[string]any{"handover": true}
	default:
		result.Success = false
		result.Error = fmt.Sprintf("unknown step type %q", step.Type)
	}

	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	return result
}

// executeToolStep invokes a registered tool, consulting the cache first
// for side-effect-free tools. A cache hit costs nothing.
func (e *Engine) executeToolStep(task *models.Task, step models.PlanStep) models.StepResult {
	result := models.StepResult{StepID: step.ID}

	cacheable := false
	cacheKey := ""
	if e.cache != nil && e.registry.Has(step.Tool) {
		if tool, err := e.registry.Get(step.Tool); err == nil {
			effect := tool.Metadata().SideEffect
			cacheable = effect == models.SideEffectNone || effect == models.SideEffectRead
		}
	}
	if cacheable {
		cacheKey = memory.Fingerprint(memory.CacheToolOutput,
			map[string]any{"tool": step.Tool, "inputs": step.Inputs})
		if raw, ok := e.cache.Get(cacheKey); ok {
			var outputs map[string]any
			if err := json.Unmarshal(raw, &outputs); err == nil {
				result.Success = true
				result.Outputs = outputs
				return result
			}
			debugLog("discarding undecodable cache entry for tool %s", step.Tool)
		}
	}

	start := time.Now()
	toolResult, err := e.registry.Execute(context.Background(), step.Tool, step.Inputs)
	result.Duration = time.Since(start)
	result.ActualCost = step.EstimatedCost

	e.recordInteraction(task, memory.InteractionToolCall,
		fmt.Sprintf("tool %s for step %s", step.Tool, step.ID),
		map[string]any{"success": err == nil && toolResult.Success})

	if err != nil {
		result.Error = err.Error()
		return result
	}
	if !toolResult.Success {
		result.Error = strings.Join(toolResult.Errors, "; ")
		if result.Error == "" {
			result.Error = fmt.Sprintf("tool %s reported failure", step.Tool)
		}
		return result
	}

	result.Success = true
	result.Outputs = toolResult.Outputs

	if cacheable && cacheKey != "" {
		if raw, err := json.Marshal(toolResult.Outputs); err == nil {
			if err := e.cache.Set(cacheKey, memory.CacheToolOutput, raw, 0,
				[]string{step.Tool}, task.TenantID, task.UserID); err != nil {
				debugLog("cache store failed for tool %s: %v", step.Tool, err)
			}
		}
	}
	return result
}

// groundingOutputs retrieves prior knowledge relevant to the task. A
// missing or failing knowledge store grounds the step in nothing.
func (e *Engine) groundingOutputs(task *models.Task) map[string]any {
	outputs := map[string]any{"grounding_items": 0}
	if e.semantic == nil {
		return outputs
	}
	items, err := e.semantic.Retrieve(task.Description, 5)
	if err != nil {
		debugLog("grounding retrieval failed for task %s: %v", task.ID, err)
		return outputs
	}
	refs := make([]string, 0, len(items))
	for _, si := range items {
		refs = append(refs, si.Item.ID)
	}
	outputs["grounding_items"] = len(items)
	if len(refs) > 0 {
		outputs["grounding_refs"] = refs
	}
	return outputs
}

// synthesize combines the outputs of a step's dependencies into a
// summary string anchored on the task description.
func synthesize(task *models.Task, step models.PlanStep, prior map[string]models.StepResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Results for %s task: %s.", task.Type, task.Description)

	deps := append([]string(nil), step.DependsOn...)
	sort.Strings(deps)
	for _, dep := range deps {
		r, ok := prior[dep]
		if !ok || len(r.Outputs) == 0 {
			continue
		}
		keys := make([]string, 0, len(r.Outputs))
		for k := range r.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, " From %s:", dep)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v;", k, r.Outputs[k])
		}
	}
	b.WriteString(" Findings are preliminary; verify against source documents before acting.")
	return b.String()
}
