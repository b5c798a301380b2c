package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/originflow/conductor/internal/critic"
	"github.com/originflow/conductor/internal/memory"
	"github.com/originflow/conductor/internal/planner"
	"github.com/originflow/conductor/internal/policy"
	"github.com/originflow/conductor/internal/registry"
	"github.com/originflow/conductor/internal/selector"
	"github.com/originflow/conductor/pkg/models"
)

// ErrTaskNotFound indicates an unknown task ID.
var ErrTaskNotFound = errors.New("task not found")

// ErrQueueFull indicates the submission queue is at capacity.
var ErrQueueFull = errors.New("task queue full")

// ErrShutdown indicates the engine is no longer accepting tasks.
var ErrShutdown = errors.New("engine shut down")

// Engine drives tasks through pending -> planning -> executing ->
// reviewing on a fixed worker pool. Tasks are owned by their worker for
// the duration of the pipeline; Status returns snapshots.
type Engine struct {
	registry *registry.Registry
	policy   *policy.Router
	planner  *planner.Planner
	verifier *critic.Verifier
	selector *selector.Selector
	episodic *memory.EpisodicStore
	semantic *memory.SemanticStore
	cache    *memory.Cache
	logger   *DebugLogger

	workers        int
	dequeueTimeout time.Duration

	mu        sync.RWMutex
	tasks     map[string]*models.Task
	cancelled map[string]bool

	queue  chan string
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	started       atomic.Bool
	stopped       atomic.Bool
	droppedEvents atomic.Uint64
}

// New creates an Engine from required configuration and options.
func New(req RequiredConfig, opts ...Option) *Engine {
	o := &engineOptions{
		workers:        3,
		queueSize:      256,
		dequeueTimeout: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.planner == nil {
		o.planner = planner.New(req.Registry, nil, nil, planner.Options{})
	}
	if o.verifier == nil {
		o.verifier = critic.New(critic.Thresholds{})
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	setPackageLogger(o.logger)
	memory.SetLogger(o.logger)

	return &Engine{
		registry:       req.Registry,
		policy:         req.Policy,
		planner:        o.planner,
		verifier:       o.verifier,
		selector:       o.selector,
		episodic:       o.episodic,
		semantic:       o.semantic,
		cache:          o.cache,
		logger:         o.logger,
		workers:        o.workers,
		dequeueTimeout: o.dequeueTimeout,
		tasks:          make(map[string]*models.Task),
		cancelled:      make(map[string]bool),
		queue:          make(chan string, o.queueSize),
		events:         make(chan Event, 128),
		done:           make(chan struct{}),
	}
}

// Start launches the worker pool. Safe to call once.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(i)
	}
	debugLog("engine started with %d workers", e.workers)
}

// Shutdown stops accepting tasks, cancels idle workers, and waits for
// in-flight tasks to finish.
func (e *Engine) Shutdown() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	close(e.done)
	e.wg.Wait()
	close(e.events)
	debugLog("engine shut down, %d events dropped", e.droppedEvents.Load())
}

// Submit queues a task and returns its ID. The queue is bounded; a full
// queue rejects the submission rather than blocking the caller.
func (e *Engine) Submit(taskType models.TaskType, description string, taskCtx map[string]any,
	priority models.Priority, tenantID, userID string) (string, error) {
	if e.stopped.Load() {
		return "", ErrShutdown
	}
	if priority == "" {
		priority = models.PriorityNormal
	}

	task := &models.Task{
		ID:          uuid.New().String(),
		Type:        taskType,
		Description: description,
		Context:     taskCtx,
		Priority:    priority,
		TenantID:    tenantID,
		UserID:      userID,
		Status:      models.TaskStatusPending,
		CreatedAt:   time.Now(),
	}

	e.mu.Lock()
	e.tasks[task.ID] = task
	e.mu.Unlock()

	select {
	case e.queue <- task.ID:
	default:
		e.mu.Lock()
		delete(e.tasks, task.ID)
		e.mu.Unlock()
		return "", ErrQueueFull
	}

	e.emit(Event{Type: EventTaskQueued, TaskID: task.ID, Message: string(taskType)})
	e.recordInteraction(task, memory.InteractionUserMessage, description, nil)
	return task.ID, nil
}

// Status returns a snapshot of a task. The snapshot is safe to retain;
// it never aliases engine-owned mutable state.
func (e *Engine) Status(taskID string) (*models.Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	task, ok := e.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return snapshotTask(task), nil
}

// Cancel requests cooperative cancellation. A pending task is skipped at
// dequeue; an in-flight task stops at the next phase boundary, letting
// the current step finish. Returns false for unknown or terminal tasks.
func (e *Engine) Cancel(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, ok := e.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return false
	}
	e.cancelled[taskID] = true
	return true
}

// Events returns the channel of engine events. The channel is closed by
// Shutdown; slow consumers drop events rather than stalling workers.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// DroppedEventCount returns how many events were dropped on a full
// events channel.
func (e *Engine) DroppedEventCount() uint64 {
	return e.droppedEvents.Load()
}

// workerLoop pulls tasks from the shared queue until shutdown. Each
// dequeue is bounded so the loop observes shutdown promptly, and the
// loop is the outermost failure boundary: no per-task error or panic may
// terminate a worker.
func (e *Engine) workerLoop(id int) {
	defer e.wg.Done()

	timer := time.NewTimer(e.dequeueTimeout)
	defer timer.Stop()

	for {
		timer.Reset(e.dequeueTimeout)
		select {
		case <-e.done:
			return
		case taskID := <-e.queue:
			e.runTask(id, taskID)
		case <-timer.C:
		}
	}
}

// emit sends an event without blocking the worker. A full channel drops
// the event and counts it.
func (e *Engine) emit(ev Event) {
	if e.stopped.Load() {
		return
	}
	ev.Timestamp = time.Now()
	select {
	case e.events <- ev:
	default:
		e.droppedEvents.Add(1)
	}
}

// recordInteraction appends an episodic record for a task's session.
// Recording failures are logged, never fatal.
func (e *Engine) recordInteraction(task *models.Task, typ memory.InteractionType, content string, metadata map[string]any) {
	if e.episodic == nil {
		return
	}
	err := e.episodic.Append(memory.Record{
		SessionID: task.ID,
		UserID:    task.UserID,
		TenantID:  task.TenantID,
		Type:      typ,
		Content:   content,
		Metadata:  metadata,
	})
	if err != nil {
		debugLog("episodic append failed for task %s: %v", task.ID, err)
	}
}

// isCancelled reports whether cancellation was requested for a task.
func (e *Engine) isCancelled(taskID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cancelled[taskID]
}

// setStatus transitions a task's lifecycle state.
func (e *Engine) setStatus(task *models.Task, status models.TaskStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task.Status = status
	switch status {
	case models.TaskStatusPlanning:
		now := time.Now()
		task.StartedAt = &now
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		now := time.Now()
		task.CompletedAt = &now
	}
}

// addError appends an error message to a task.
func (e *Engine) addError(task *models.Task, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task.Errors = append(task.Errors, msg)
}

// snapshotTask deep-copies the mutable parts of a task.
func snapshotTask(task *models.Task) *models.Task {
	snap := *task
	snap.Results = append([]models.StepResult(nil), task.Results...)
	snap.Errors = append([]string(nil), task.Errors...)
	snap.Patches = append([]models.PatchOp(nil), task.Patches...)
	if task.Plan != nil {
		plan := *task.Plan
		plan.Steps = append([]models.PlanStep(nil), task.Plan.Steps...)
		snap.Plan = &plan
	}
	return &snap
}

// collectScopes gathers the permission scopes required by the tools a
// step preview names.
func (e *Engine) collectScopes(steps []models.PlanStep) []string {
	seen := make(map[string]bool)
	var scopes []string
	for _, step := range steps {
		if step.Tool == "" || !e.registry.Has(step.Tool) {
			continue
		}
		tool, err := e.registry.Get(step.Tool)
		if err != nil {
			continue
		}
		for _, s := range tool.Metadata().RequiredScopes {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	return scopes
}

// resolveRegion derives the execution region from caller preference and
// tenant defaults.
func (e *Engine) resolveRegion(task *models.Task) string {
	preferred, _ := task.Context["region"].(string)
	location, _ := task.Context["user_location"].(string)
	if e.selector == nil {
		return preferred
	}
	return e.selector.ResolveRegion(preferred, location, task.TenantID)
}

// actualCost sums the PSUs the executed steps actually consumed.
func actualCost(results []models.StepResult) float64 {
	total := 0.0
	for _, r := range results {
		total += r.ActualCost
	}
	return total
}

// extractPatches pulls patch operations out of tool outputs. Tools
// propose document changes under a "patches" output key.
func extractPatches(results []models.StepResult) []models.PatchOp {
	var patches []models.PatchOp
	for _, r := range results {
		raw, ok := r.Outputs["patches"]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case []models.PatchOp:
			patches = append(patches, v...)
		case []any:
			for _, item := range v {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				op, _ := m["op"].(string)
				path, _ := m["path"].(string)
				if op == "" || path == "" {
					continue
				}
				patches = append(patches, models.PatchOp{Op: op, Path: path, Value: m["value"]})
			}
		}
	}
	return patches
}
