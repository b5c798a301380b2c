package main

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/originflow/conductor/internal/config"
	"github.com/originflow/conductor/internal/critic"
	"github.com/originflow/conductor/internal/llm"
	"github.com/originflow/conductor/internal/memory"
	"github.com/originflow/conductor/internal/orchestrator"
	"github.com/originflow/conductor/internal/planner"
	"github.com/originflow/conductor/internal/policy"
	"github.com/originflow/conductor/internal/registry"
	"github.com/originflow/conductor/internal/selector"
	"github.com/originflow/conductor/internal/store"
)

// app wires the full orchestrator stack for one CLI session.
type app struct {
	cfg      *config.Config
	db       *store.DB
	engine   *orchestrator.Engine
	episodic *memory.EpisodicStore
	logger   *orchestrator.DebugLogger

	watchCancel context.CancelFunc
	background  chan struct{}
}

// newApp builds the engine and its collaborators from configuration.
func newApp(cfg *config.Config) (*app, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger := orchestrator.NopLogger()
	if cfg.Engine.LogPath != "" {
		logger, err = orchestrator.NewDebugLogger(cfg.Engine.LogPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open debug log: %w", err)
		}
	}

	episodic := memory.NewEpisodicStore(db)
	semantic := memory.NewSemanticStore(db, nil, cfg.Memory.PatternMinReinforcement)
	cache := memory.NewCache(db, memory.CacheOptions{
		MaxBytes:     cfg.Cache.MaxBytes,
		MaxItemBytes: cfg.Cache.MaxItemBytes,
		HotCapacity:  cfg.Cache.HotCapacity,
	})

	sel, watchCancel, err := buildSelector(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := registry.New()
	for _, tool := range builtinTools() {
		if err := reg.Register(tool); err != nil {
			db.Close()
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	router := policy.NewRouter(db,
		policy.BudgetDefaults{
			Total:        cfg.Budget.DefaultTotal,
			PeriodDays:   cfg.Budget.PeriodDays,
			OverageLimit: cfg.Budget.OverageLimit,
			Rollover:     cfg.Budget.Rollover,
		},
		policy.RateLimits{
			UserLimit:   cfg.RateLimit.UserLimit,
			TenantLimit: cfg.RateLimit.TenantLimit,
			GlobalLimit: cfg.RateLimit.GlobalLimit,
			Window:      cfg.RateLimit.Window,
		},
		policy.ResourceLimits{
			MaxTaskDuration:        cfg.Resource.MaxTaskDuration,
			MaxConcurrentPerUser:   cfg.Resource.MaxConcurrentPerUser,
			MaxConcurrentPerTenant: cfg.Resource.MaxConcurrentPerTenant,
		})

	pln := planner.New(reg, semantic, sel, planner.Options{
		GroundingTopK:         cfg.Memory.GroundingTopK,
		PatternMinSuccessRate: cfg.Memory.PatternMinSuccessRate,
	})
	if cfg.Anthropic.Enabled {
		client, err := llm.NewClient(llm.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        cfg.Anthropic.APIKey,
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:     cfg.Selector.DefaultRegion,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("anthropic client: %w", err)
		}
		pln.SetAdvisor(llm.NewPlanAdvisor(client, 0))
	}

	engine := orchestrator.New(
		orchestrator.RequiredConfig{Registry: reg, Policy: router},
		orchestrator.WithWorkers(cfg.Engine.Workers),
		orchestrator.WithQueueSize(cfg.Engine.QueueSize),
		orchestrator.WithDequeueTimeout(cfg.Engine.DequeueTimeout),
		orchestrator.WithPlanner(pln),
		orchestrator.WithVerifier(critic.New(critic.Thresholds{
			MinScore:       cfg.Verifier.MinScore,
			MaxErrorIssues: cfg.Verifier.MaxErrorIssues,
		})),
		orchestrator.WithSelector(sel),
		orchestrator.WithEpisodicStore(episodic),
		orchestrator.WithSemanticStore(semantic),
		orchestrator.WithCache(cache),
		orchestrator.WithLogger(logger),
	)

	background := make(chan struct{})
	go cache.RunSweeper(background, cfg.Cache.SweepInterval)
	go episodic.RunRetention(background, cfg.Memory.PurgeInterval,
		time.Duration(cfg.Memory.RetentionDays)*24*time.Hour)

	return &app{
		cfg:         cfg,
		db:          db,
		engine:      engine,
		episodic:    episodic,
		logger:      logger,
		watchCancel: watchCancel,
		background:  background,
	}, nil
}

// Close shuts the engine down and releases every resource.
func (a *app) Close() {
	a.engine.Shutdown()
	close(a.background)
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.logger.Close()
	a.db.Close()
}

func openDatabase(cfg *config.Config) (*store.DB, error) {
	if cfg.Store.InMemory {
		return store.OpenMemory()
	}
	path := cfg.Store.Path
	if path == "" {
		path = store.DefaultDBPath()
	}
	return store.Open(path)
}

// buildSelector loads the model catalog when one is configured. No
// catalog means no model selection; the engine runs without it.
func buildSelector(cfg *config.Config) (*selector.Selector, context.CancelFunc, error) {
	if cfg.Selector.CatalogPath == "" {
		return nil, nil, nil
	}
	cat, err := selector.LoadCatalog(cfg.Selector.CatalogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load model catalog: %w", err)
	}
	sel := selector.New(cat)

	var cancel context.CancelFunc
	if cfg.Selector.WatchCatalog {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		if err := sel.Watch(ctx, cfg.Selector.CatalogPath); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("watch model catalog: %w", err)
		}
	}
	return sel, cancel, nil
}
