package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/originflow/conductor/internal/critic"
	"github.com/originflow/conductor/internal/memory"
	"github.com/originflow/conductor/internal/policy"
	"github.com/originflow/conductor/internal/registry"
	"github.com/originflow/conductor/internal/store"
	"github.com/originflow/conductor/pkg/models"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// countingTool records invocations so tests can assert whether policy
// denial or caching kept a tool from running.
type countingTool struct {
	meta    models.ToolMetadata
	calls   *atomic.Int32
	outputs map[string]any
	panics  bool
}

func (c *countingTool) Metadata() models.ToolMetadata { return c.meta }

func (c *countingTool) Execute(ctx context.Context, inputs map[string]any) (models.ToolResult, error) {
	c.calls.Add(1)
	if c.panics {
		panic("tool blew up")
	}
	return models.ToolResult{Success: true, Outputs: c.outputs}, nil
}

func analysisTool(name string, cost float64, outputs map[string]any, calls *atomic.Int32) *countingTool {
	return &countingTool{
		meta: models.ToolMetadata{
			Name:              name,
			Version:           "1.0.0",
			Category:          "analysis",
			SideEffect:        models.SideEffectNone,
			EstimatedDuration: 10 * time.Millisecond,
			EstimatedCost:     cost,
		},
		calls:   calls,
		outputs: outputs,
	}
}

// componentRegistry registers the two tools the component_analysis
// strategy names. Plan cost: 1 grounding + 3 lookup + 5 compare + 2
// synthesis = 11 PSU.
func componentRegistry(t *testing.T, lookupCalls, compareCalls *atomic.Int32) *registry.Registry {
	t.Helper()
	reg := registry.New()
	tools := []registry.Tool{
		analysisTool("datasheet_lookup", 3,
			map[string]any{"datasheet": "voltage regulator rated 1.5A, dropout 2V"}, lookupCalls),
		analysisTool("spec_compare", 5,
			map[string]any{"comparison": "regulator parameters within datasheet limits"}, compareCalls),
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return reg
}

func newTestEngine(t *testing.T, reg *registry.Registry, budget policy.BudgetDefaults, opts ...Option) (*Engine, *policy.Router) {
	t.Helper()
	db := testDB(t)
	router := policy.NewRouter(db, budget,
		policy.RateLimits{UserLimit: 100, TenantLimit: 100, GlobalLimit: 1000, Window: time.Minute},
		policy.ResourceLimits{})
	opts = append([]Option{WithWorkers(1), WithDequeueTimeout(10 * time.Millisecond)}, opts...)
	eng := New(RequiredConfig{Registry: reg, Policy: router}, opts...)
	t.Cleanup(eng.Shutdown)
	return eng, router
}

func waitTerminal(t *testing.T, eng *Engine, taskID string) *models.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := eng.Status(taskID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state")
	return nil
}

func TestEngine_EndToEnd_Completed(t *testing.T) {
	var lookupCalls, compareCalls atomic.Int32
	reg := componentRegistry(t, &lookupCalls, &compareCalls)

	db := testDB(t)
	episodic := memory.NewEpisodicStore(db)
	eng, router := newTestEngine(t, reg,
		policy.BudgetDefaults{Total: 50},
		WithEpisodicStore(episodic))
	eng.Start()

	taskID, err := eng.Submit(models.TaskTypeComponentAnalysis,
		"analyze voltage regulator against datasheet limits",
		map[string]any{"part": "LM317"}, models.PriorityNormal, "tenant-a", "user-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	task := waitTerminal(t, eng, taskID)
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", task.Status, task.Errors)
	}
	if lookupCalls.Load() != 1 || compareCalls.Load() != 1 {
		t.Errorf("expected each tool called once, got lookup=%d compare=%d",
			lookupCalls.Load(), compareCalls.Load())
	}

	if task.Plan == nil || len(task.Plan.Steps) != 4 {
		t.Fatalf("expected 4-step plan, got %+v", task.Plan)
	}
	if len(task.Results) != len(task.Plan.Steps) {
		t.Fatalf("expected %d results, got %d", len(task.Plan.Steps), len(task.Results))
	}
	for i, r := range task.Results {
		if r.StepID != task.Plan.Steps[i].ID {
			t.Errorf("result %d out of declaration order: %s vs %s", i, r.StepID, task.Plan.Steps[i].ID)
		}
		if !r.Success {
			t.Errorf("step %s failed: %s", r.StepID, r.Error)
		}
	}
	if task.StartedAt == nil || task.CompletedAt == nil {
		t.Error("expected start and completion timestamps")
	}

	// The 11 PSU reservation must have converted into 11 PSU used.
	alloc, err := router.Ledger().Allocation("tenant-a")
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if alloc.Used != 11 {
		t.Errorf("expected 11 PSU used, got %.2f", alloc.Used)
	}
	if alloc.Reserved != 0 {
		t.Errorf("expected no outstanding reservation, got %.2f", alloc.Reserved)
	}

	// Closing episode record is written on completion.
	history, err := episodic.History(taskID, memory.HistoryFilter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	found := false
	for _, rec := range history {
		if rec.Type == memory.InteractionEpisode {
			found = true
		}
	}
	if !found {
		t.Error("expected an episode record for the completed task")
	}

	eng.Shutdown()
	seen := make(map[EventType]int)
	for ev := range eng.Events() {
		seen[ev.Type]++
	}
	if seen[EventTaskQueued] != 1 || seen[EventPlanning] != 1 || seen[EventTaskCompleted] != 1 {
		t.Errorf("unexpected lifecycle events: %v", seen)
	}
	if seen[EventStepCompleted] != 4 {
		t.Errorf("expected 4 step events, got %d", seen[EventStepCompleted])
	}
}

func TestEngine_DeniedOverBudget(t *testing.T) {
	var lookupCalls, compareCalls atomic.Int32
	reg := componentRegistry(t, &lookupCalls, &compareCalls)

	// 5 PSU against an 11 PSU estimate: denied before any tool runs.
	eng, router := newTestEngine(t, reg, policy.BudgetDefaults{Total: 5})
	eng.Start()

	taskID, err := eng.Submit(models.TaskTypeComponentAnalysis,
		"analyze voltage regulator against datasheet limits",
		nil, models.PriorityNormal, "tenant-b", "user-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	task := waitTerminal(t, eng, taskID)
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if !strings.Contains(strings.Join(task.Errors, " "), "BUDGET_EXCEEDED") {
		t.Errorf("expected BUDGET_EXCEEDED in errors, got %v", task.Errors)
	}
	if lookupCalls.Load() != 0 || compareCalls.Load() != 0 {
		t.Error("denied task must not execute any tool")
	}

	alloc, err := router.Ledger().Allocation("tenant-b")
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if alloc.Used != 0 || alloc.Reserved != 0 {
		t.Errorf("denied task must not touch the budget, got used=%.2f reserved=%.2f",
			alloc.Used, alloc.Reserved)
	}
}

func TestEngine_CancelBeforeDequeue(t *testing.T) {
	var lookupCalls, compareCalls atomic.Int32
	reg := componentRegistry(t, &lookupCalls, &compareCalls)

	eng, _ := newTestEngine(t, reg, policy.BudgetDefaults{Total: 50})

	taskID, err := eng.Submit(models.TaskTypeComponentAnalysis,
		"analyze voltage regulator", nil, models.PriorityNormal, "tenant-c", "user-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !eng.Cancel(taskID) {
		t.Fatal("cancel of a pending task must succeed")
	}
	eng.Start()

	task := waitTerminal(t, eng, taskID)
	if task.Status != models.TaskStatusCancelled {
		t.Fatalf("expected cancelled, got %s", task.Status)
	}
	if lookupCalls.Load() != 0 {
		t.Error("cancelled task must not execute any tool")
	}
	if eng.Cancel(taskID) {
		t.Error("cancel of a terminal task must report false")
	}
}

func TestEngine_QueueFull(t *testing.T) {
	var lookupCalls, compareCalls atomic.Int32
	reg := componentRegistry(t, &lookupCalls, &compareCalls)

	eng, _ := newTestEngine(t, reg, policy.BudgetDefaults{Total: 50}, WithQueueSize(1))

	if _, err := eng.Submit(models.TaskTypeComponentAnalysis, "first", nil,
		models.PriorityNormal, "tenant-d", "user-1"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := eng.Submit(models.TaskTypeComponentAnalysis, "second", nil,
		models.PriorityNormal, "tenant-d", "user-1")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestEngine_SubmitAfterShutdown(t *testing.T) {
	var lookupCalls, compareCalls atomic.Int32
	reg := componentRegistry(t, &lookupCalls, &compareCalls)

	eng, _ := newTestEngine(t, reg, policy.BudgetDefaults{Total: 50})
	eng.Start()
	eng.Shutdown()

	if _, err := eng.Submit(models.TaskTypeComponentAnalysis, "late", nil,
		models.PriorityNormal, "tenant-e", "user-1"); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}

func TestEngine_StatusUnknownTask(t *testing.T) {
	var lookupCalls, compareCalls atomic.Int32
	reg := componentRegistry(t, &lookupCalls, &compareCalls)

	eng, _ := newTestEngine(t, reg, policy.BudgetDefaults{Total: 50})
	if _, err := eng.Status("no-such-task"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestEngine_WorkerSurvivesToolPanic(t *testing.T) {
	var lookupCalls, compareCalls atomic.Int32
	reg := componentRegistry(t, &lookupCalls, &compareCalls)

	var panicCalls atomic.Int32
	bad := analysisTool("datasheet_lookup", 3, nil, &panicCalls)
	bad.panics = true
	if err := reg.Register(bad); err != nil {
		t.Fatalf("register: %v", err)
	}

	eng, router := newTestEngine(t, reg, policy.BudgetDefaults{Total: 50})
	eng.Start()

	firstID, err := eng.Submit(models.TaskTypeComponentAnalysis,
		"analyze voltage regulator against datasheet limits",
		nil, models.PriorityNormal, "tenant-f", "user-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	first := waitTerminal(t, eng, firstID)
	if first.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed after tool panic, got %s", first.Status)
	}
	if !strings.Contains(strings.Join(first.Errors, " "), "internal error") {
		t.Errorf("expected internal error recorded, got %v", first.Errors)
	}

	// The reservation taken at admission must be released on the panic path.
	alloc, err := router.Ledger().Allocation("tenant-f")
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if alloc.Used != 0 || alloc.Reserved != 0 {
		t.Errorf("panic path leaked budget: used=%.2f reserved=%.2f", alloc.Used, alloc.Reserved)
	}

	// Restore a working tool: the same worker must still process tasks.
	if err := reg.Register(analysisTool("datasheet_lookup", 3,
		map[string]any{"datasheet": "voltage regulator rated 1.5A"}, &lookupCalls)); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	secondID, err := eng.Submit(models.TaskTypeComponentAnalysis,
		"analyze voltage regulator against datasheet limits",
		nil, models.PriorityNormal, "tenant-f", "user-1")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	second := waitTerminal(t, eng, secondID)
	if second.Status != models.TaskStatusCompleted {
		t.Fatalf("worker did not survive the panic: %s (errors: %v)", second.Status, second.Errors)
	}
}

func TestEngine_CacheSkipsRepeatedToolCalls(t *testing.T) {
	var lookupCalls, compareCalls atomic.Int32
	reg := componentRegistry(t, &lookupCalls, &compareCalls)

	db := testDB(t)
	cache := memory.NewCache(db, memory.CacheOptions{})
	eng, _ := newTestEngine(t, reg, policy.BudgetDefaults{Total: 100}, WithCache(cache))
	eng.Start()

	submit := func() *models.Task {
		id, err := eng.Submit(models.TaskTypeComponentAnalysis,
			"analyze voltage regulator against datasheet limits",
			map[string]any{"part": "LM317"}, models.PriorityNormal, "tenant-g", "user-1")
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		return waitTerminal(t, eng, id)
	}

	if task := submit(); task.Status != models.TaskStatusCompleted {
		t.Fatalf("first run: %s (errors: %v)", task.Status, task.Errors)
	}
	if task := submit(); task.Status != models.TaskStatusCompleted {
		t.Fatalf("second run: %s (errors: %v)", task.Status, task.Errors)
	}

	// Identical inputs on side-effect-free tools hit the cache the
	// second time around.
	if lookupCalls.Load() != 1 || compareCalls.Load() != 1 {
		t.Errorf("expected cached second run, got lookup=%d compare=%d",
			lookupCalls.Load(), compareCalls.Load())
	}
}

func TestEngine_VerifierRejectionReleasesBudget(t *testing.T) {
	var lookupCalls, compareCalls atomic.Int32
	reg := registry.New()
	tools := []registry.Tool{
		analysisTool("datasheet_lookup", 3,
			map[string]any{"datasheet": "lorem ipsum placeholder content"}, &lookupCalls),
		analysisTool("spec_compare", 5,
			map[string]any{"comparison": "regulator parameters within datasheet limits"}, &compareCalls),
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	eng, router := newTestEngine(t, reg, policy.BudgetDefaults{Total: 50},
		WithVerifier(critic.New(critic.Thresholds{MinScore: 0.99})))
	eng.Start()

	taskID, err := eng.Submit(models.TaskTypeComponentAnalysis,
		"analyze voltage regulator against datasheet limits",
		nil, models.PriorityNormal, "tenant-h", "user-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	task := waitTerminal(t, eng, taskID)
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("expected verification failure, got %s", task.Status)
	}
	if len(task.Errors) == 0 {
		t.Error("expected verification issues recorded as task errors")
	}

	alloc, err := router.Ledger().Allocation("tenant-h")
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if alloc.Used != 0 || alloc.Reserved != 0 {
		t.Errorf("rejected task must release its reservation, got used=%.2f reserved=%.2f",
			alloc.Used, alloc.Reserved)
	}
}

func TestEngine_CompletionLogReportsReservation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "engine.log")
	logger, err := NewDebugLogger(logPath)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	var lookupCalls, compareCalls atomic.Int32
	reg := componentRegistry(t, &lookupCalls, &compareCalls)
	eng, _ := newTestEngine(t, reg, policy.BudgetDefaults{Total: 50}, WithLogger(logger))
	eng.Start()

	taskID, err := eng.Submit(models.TaskTypeComponentAnalysis,
		"analyze voltage regulator against datasheet limits",
		nil, models.PriorityNormal, "tenant-l", "user-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task := waitTerminal(t, eng, taskID)
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", task.Status, task.Errors)
	}

	// Shutdown joins the worker so the completion line is flushed.
	eng.Shutdown()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "of 11.00 reserved") {
		t.Errorf("completion log should report the settled reservation, got:\n%s", data)
	}
}
