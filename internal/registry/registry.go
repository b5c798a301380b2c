// Package registry provides the catalog of typed, versioned tools the
// orchestrator can execute. The registry is constructed explicitly and
// injected into the engine; there is no ambient global catalog.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/originflow/conductor/pkg/models"
)

// ErrToolNotFound indicates no tool is registered under the requested name.
var ErrToolNotFound = errors.New("tool not found")

// ErrSchemaViolation indicates the inputs failed the tool's declared schema.
var ErrSchemaViolation = errors.New("input schema violation")

// Tool is a callable capability. Implementations live outside the
// orchestrator core; the registry only holds their metadata and dispatch.
type Tool interface {
	// Metadata returns the tool's published contract.
	Metadata() models.ToolMetadata
	// Execute runs the tool with the given inputs.
	Execute(ctx context.Context, inputs map[string]any) (models.ToolResult, error)
}

// CallStats tracks per-tool invocation statistics. All mutation goes
// through recordCall so concurrent workers never lose updates.
type CallStats struct {
	// Calls is the total number of invocations.
	Calls int64
	// Failures is the number of invocations that failed.
	Failures int64
	// AvgDuration is the running average execution time.
	AvgDuration time.Duration
}

// Registry is the catalog of registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	stats map[string]*CallStats
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		stats: make(map[string]*CallStats),
	}
}

// Register adds a tool to the catalog. Registering a name twice replaces
// the earlier entry.
func (r *Registry) Register(t Tool) error {
	meta := t.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("tool has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[meta.Name] = t
	if _, ok := r.stats[meta.Name]; !ok {
		r.stats[meta.Name] = &CallStats{}
	}
	return nil
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns the metadata of all registered tools, sorted by name.
func (r *Registry) List() []models.ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]models.ToolMetadata, 0, len(r.tools))
	for _, t := range r.tools {
		metas = append(metas, t.Metadata())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas
}

// ListByCategory returns the metadata of tools in the given category,
// sorted by name.
func (r *Registry) ListByCategory(category string) []models.ToolMetadata {
	var metas []models.ToolMetadata
	for _, m := range r.List() {
		if m.Category == category {
			metas = append(metas, m)
		}
	}
	return metas
}

// Execute resolves the named tool, validates inputs against its declared
// schema, and invokes it. Schema violations reject the call before the
// tool runs.
func (r *Registry) Execute(ctx context.Context, name string, inputs map[string]any) (models.ToolResult, error) {
	t, err := r.Get(name)
	if err != nil {
		return models.ToolResult{}, err
	}

	meta := t.Metadata()
	if err := ValidateInputs(meta.Inputs, inputs); err != nil {
		return models.ToolResult{}, err
	}

	start := time.Now()
	result, err := t.Execute(ctx, inputs)
	elapsed := time.Since(start)
	if result.ExecutionTime == 0 {
		result.ExecutionTime = elapsed
	}

	r.recordCall(name, elapsed, err != nil || !result.Success)

	if err != nil {
		return result, fmt.Errorf("execute tool %s: %w", name, err)
	}
	return result, nil
}

// recordCall updates the tool's call statistics atomically.
func (r *Registry) recordCall(name string, d time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stats[name]
	if !ok {
		s = &CallStats{}
		r.stats[name] = s
	}

	// Running average: avg' = avg + (d - avg)/n
	s.Calls++
	s.AvgDuration += (d - s.AvgDuration) / time.Duration(s.Calls)
	if failed {
		s.Failures++
	}
}

// Stats returns a copy of the call statistics for a tool.
func (r *Registry) Stats(name string) (CallStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stats[name]
	if !ok {
		return CallStats{}, false
	}
	return *s, true
}

// Estimate returns the declared duration and cost estimates for a tool.
// Unknown tools estimate to zero.
func (r *Registry) Estimate(name string) (time.Duration, float64) {
	t, err := r.Get(name)
	if err != nil {
		return 0, 0
	}
	meta := t.Metadata()
	return meta.EstimatedDuration, meta.EstimatedCost
}
