package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/originflow/conductor/internal/memory"
	"github.com/originflow/conductor/internal/planner"
	"github.com/originflow/conductor/internal/policy"
	"github.com/originflow/conductor/pkg/models"
)

// runTask drives one task through planning, execution, and review. It is
// called inside the worker's recover boundary: a panic anywhere in the
// pipeline fails the task, never the worker.
func (e *Engine) runTask(workerID int, taskID string) {
	e.mu.RLock()
	task := e.tasks[taskID]
	e.mu.RUnlock()
	if task == nil {
		debugLog("worker %d: dequeued unknown task %s", workerID, taskID)
		return
	}

	// reserved and admitted track budget state across the pipeline so the
	// panic recovery below settles the reservation on any abrupt exit.
	var (
		reserved float64
		admitted bool
	)
	defer func() {
		if r := recover(); r != nil {
			debugLog("worker %d: panic in task %s: %v", workerID, taskID, r)
			e.addError(task, fmt.Sprintf("internal error: %v", r))
			e.failTask(task, reserved, admitted)
		}
	}()

	// Cancellation check at dequeue: a cancelled task is skipped entirely.
	if e.isCancelled(taskID) {
		e.setStatus(task, models.TaskStatusCancelled)
		e.emit(Event{Type: EventTaskCancelled, TaskID: taskID})
		return
	}

	debugLog("worker %d: task %s (%s) dequeued", workerID, taskID, task.Type)
	e.setStatus(task, models.TaskStatusPlanning)

	// Admission control runs against a strategy preview so denial never
	// invokes planning proper or any tool.
	preview := e.planner.Preview(task.Type, task.Description, task.Context)
	estDuration, estCost, _ := planner.Aggregate(preview)

	decision, err := e.policy.Check(policy.CheckRequest{
		Task:              task,
		EstimatedCost:     estCost,
		EstimatedDuration: estDuration,
		RequiredScopes:    e.collectScopes(preview),
	})
	if err != nil {
		e.addError(task, fmt.Sprintf("policy check: %v", err))
		e.failTask(task, 0, false)
		return
	}
	if !decision.Approved() {
		e.addError(task, decision.Reason)
		if decision.Kind == models.DecisionEscalate {
			e.recordInteraction(task, memory.InteractionHandover, decision.Reason, nil)
			e.emit(Event{Type: EventTaskEscalated, TaskID: taskID, Message: decision.Reason})
		}
		e.failTask(task, 0, false)
		return
	}
	// Budget is reserved from here on; every exit path must settle it.
	reserved = estCost
	admitted = true

	e.emit(Event{Type: EventPlanning, TaskID: taskID})

	region := e.resolveRegion(task)
	plan := e.planner.CreatePlan(context.Background(), task.Type, task.Description, task.Context, region)
	e.mu.Lock()
	task.Plan = plan
	e.mu.Unlock()
	e.recordInteraction(task, memory.InteractionPlanCreated, plan.Reasoning,
		map[string]any{"plan_id": plan.ID, "steps": len(plan.Steps), "estimated_cost": plan.EstimatedCost})

	if e.isCancelled(taskID) {
		e.cancelTask(task, reserved)
		return
	}

	// Execution. A tool failure aborts the task immediately; partial
	// results up to the failure are kept for diagnosis.
	e.setStatus(task, models.TaskStatusExecuting)
	if e.selector != nil && plan.Model != "" {
		e.selector.Acquire(plan.Model)
		defer e.selector.Release(plan.Model)
	}

	results, execErr := e.executeSteps(task, plan)
	e.mu.Lock()
	task.Results = results
	e.mu.Unlock()

	if execErr != nil {
		e.addError(task, execErr.Error())
		e.failTask(task, reserved, true)
		return
	}

	if e.isCancelled(taskID) {
		e.cancelTask(task, reserved)
		return
	}

	// Review.
	e.setStatus(task, models.TaskStatusReviewing)
	verification := e.verifier.Verify(plan, results, task.Context)
	if !verification.IsValid {
		for _, issue := range verification.Issues {
			e.addError(task, fmt.Sprintf("%s/%s: %s", issue.Dimension, issue.Severity, issue.Description))
		}
		if len(verification.Issues) == 0 {
			e.addError(task, fmt.Sprintf("verification score %.2f below threshold", verification.OverallScore))
		}
		e.failTask(task, reserved, true)
		return
	}

	// Completion: convert the reservation to actual consumption, extract
	// patches, record the episode.
	actual := actualCost(results)
	settled := reserved
	if err := e.policy.Complete(task.TenantID, task.UserID, reserved, actual); err != nil {
		debugLog("budget finalize failed for task %s: %v", taskID, err)
	}
	reserved, admitted = 0, false

	e.mu.Lock()
	task.Patches = extractPatches(results)
	e.mu.Unlock()

	e.setStatus(task, models.TaskStatusCompleted)
	e.recordEpisode(task, true)
	e.reinforceOutcome(task, true)
	e.emit(Event{Type: EventTaskCompleted, TaskID: taskID,
		Message: fmt.Sprintf("%d steps, %.2f PSU", len(results), actual)})
	debugLog("worker %d: task %s completed (%.2f PSU actual of %.2f reserved)", workerID, taskID, actual, settled)
}

// failTask moves a task to failed, releasing any budget reservation.
// The episode is recorded only once the task was admitted.
func (e *Engine) failTask(task *models.Task, reserved float64, admitted bool) {
	if reserved > 0 || admitted {
		if err := e.policy.Release(task.TenantID, task.UserID, reserved); err != nil {
			debugLog("budget release failed for task %s: %v", task.ID, err)
		}
	}
	e.setStatus(task, models.TaskStatusFailed)
	if admitted {
		e.recordEpisode(task, false)
		e.reinforceOutcome(task, false)
	}
	e.mu.RLock()
	msg := strings.Join(task.Errors, "; ")
	e.mu.RUnlock()
	e.emit(Event{Type: EventTaskFailed, TaskID: task.ID, Message: msg})
}

// cancelTask moves a task to cancelled, releasing its reservation.
func (e *Engine) cancelTask(task *models.Task, reserved float64) {
	if err := e.policy.Release(task.TenantID, task.UserID, reserved); err != nil {
		debugLog("budget release failed for task %s: %v", task.ID, err)
	}
	e.setStatus(task, models.TaskStatusCancelled)
	e.recordEpisode(task, false)
	e.emit(Event{Type: EventTaskCancelled, TaskID: task.ID})
}

// recordEpisode writes the closing episodic record for a task and
// finalizes its session summary.
func (e *Engine) recordEpisode(task *models.Task, success bool) {
	if e.episodic == nil {
		return
	}
	snap := func() (int, int, int) {
		e.mu.RLock()
		defer e.mu.RUnlock()
		steps := 0
		if task.Plan != nil {
			steps = len(task.Plan.Steps)
		}
		return steps, len(task.Results), len(task.Patches)
	}
	steps, results, patches := snap()

	e.recordInteraction(task, memory.InteractionEpisode,
		fmt.Sprintf("task %s finished: %s", task.Type, task.Status),
		map[string]any{
			"success": success,
			"steps":   steps,
			"results": results,
			"patches": patches,
		})
	if _, err := e.episodic.CloseSession(task.ID); err != nil {
		debugLog("close session failed for task %s: %v", task.ID, err)
	}
}

// reinforceOutcome feeds the task outcome back into the pattern store so
// repeated situations converge on what worked.
func (e *Engine) reinforceOutcome(task *models.Task, success bool) {
	if e.semantic == nil {
		return
	}
	e.mu.RLock()
	fallback := task.Plan != nil && task.Plan.Fallback
	e.mu.RUnlock()

	condition := fmt.Sprintf("task type %s", task.Type)
	action := "standard decomposition strategy"
	if fallback {
		action = "fallback single-step plan"
	}
	if err := e.semantic.Reinforce(condition, action, string(task.Type), success); err != nil {
		debugLog("pattern reinforcement failed for task %s: %v", task.ID, err)
	}
}
