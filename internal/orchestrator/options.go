package orchestrator

import (
	"time"

	"github.com/originflow/conductor/internal/critic"
	"github.com/originflow/conductor/internal/memory"
	"github.com/originflow/conductor/internal/planner"
	"github.com/originflow/conductor/internal/policy"
	"github.com/originflow/conductor/internal/registry"
	"github.com/originflow/conductor/internal/selector"
)

// RequiredConfig contains the minimal required configuration for an Engine.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Registry resolves and executes plan tools.
	Registry *registry.Registry
	// Policy is the admission-control gate.
	Policy *policy.Router
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

// engineOptions holds all optional configuration.
type engineOptions struct {
	workers        int
	queueSize      int
	dequeueTimeout time.Duration
	planner        *planner.Planner
	verifier       *critic.Verifier
	selector       *selector.Selector
	episodic       *memory.EpisodicStore
	semantic       *memory.SemanticStore
	cache          *memory.Cache
	logger         *DebugLogger
}

// WithWorkers sets the number of concurrent worker loops.
func WithWorkers(n int) Option {
	return func(o *engineOptions) { o.workers = n }
}

// WithQueueSize sets the capacity of the shared task queue.
func WithQueueSize(n int) Option {
	return func(o *engineOptions) { o.queueSize = n }
}

// WithDequeueTimeout bounds each blocking dequeue so workers observe
// shutdown promptly.
func WithDequeueTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.dequeueTimeout = d }
}

// WithPlanner sets the task planner.
func WithPlanner(p *planner.Planner) Option {
	return func(o *engineOptions) { o.planner = p }
}

// WithVerifier sets the output verifier.
func WithVerifier(v *critic.Verifier) Option {
	return func(o *engineOptions) { o.verifier = v }
}

// WithSelector sets the model/region selector.
func WithSelector(s *selector.Selector) Option {
	return func(o *engineOptions) { o.selector = s }
}

// WithEpisodicStore sets the episodic memory store for episode recording.
func WithEpisodicStore(s *memory.EpisodicStore) Option {
	return func(o *engineOptions) { o.episodic = s }
}

// WithSemanticStore sets the semantic store used for outcome reinforcement.
func WithSemanticStore(s *memory.SemanticStore) Option {
	return func(o *engineOptions) { o.semantic = s }
}

// WithCache sets the cache consulted before side-effect-free tool calls.
func WithCache(c *memory.Cache) Option {
	return func(o *engineOptions) { o.cache = c }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *engineOptions) { o.logger = l }
}
