package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/originflow/conductor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show effective configuration",
	Long: `Display the effective Conductor configuration after merging defaults,
the user config, the project config, and environment variables.

Without arguments, displays all values. With a key argument, displays
only that value.

Configuration is read from ~/.config/conductor/config.yaml; project
overrides go in .conductor.yaml.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		values := configValues(cfg)
		if len(args) == 1 {
			for _, kv := range values {
				if kv.key == args[0] {
					fmt.Println(kv.value)
					return
				}
			}
			fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", args[0])
			os.Exit(1)
		}
		for _, kv := range values {
			fmt.Printf("%s: %s\n", kv.key, kv.value)
		}
	},
}

type configKV struct {
	key   string
	value string
}

// configValues flattens the config for display, masking the API key.
func configValues(cfg *config.Config) []configKV {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}
	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = "(default)"
	}

	return []configKV{
		{"engine.workers", fmt.Sprint(cfg.Engine.Workers)},
		{"engine.queue_size", fmt.Sprint(cfg.Engine.QueueSize)},
		{"engine.dequeue_timeout", cfg.Engine.DequeueTimeout.String()},
		{"engine.log_path", cfg.Engine.LogPath},
		{"store.path", storePath},
		{"store.in_memory", fmt.Sprint(cfg.Store.InMemory)},
		{"budget.default_total", fmt.Sprintf("%.1f", cfg.Budget.DefaultTotal)},
		{"budget.period_days", fmt.Sprint(cfg.Budget.PeriodDays)},
		{"budget.overage_limit", fmt.Sprintf("%.1f", cfg.Budget.OverageLimit)},
		{"budget.rollover", fmt.Sprint(cfg.Budget.Rollover)},
		{"rate_limit.user_limit", fmt.Sprint(cfg.RateLimit.UserLimit)},
		{"rate_limit.tenant_limit", fmt.Sprint(cfg.RateLimit.TenantLimit)},
		{"rate_limit.global_limit", fmt.Sprint(cfg.RateLimit.GlobalLimit)},
		{"rate_limit.window", cfg.RateLimit.Window.String()},
		{"resource.max_task_duration", cfg.Resource.MaxTaskDuration.String()},
		{"resource.max_concurrent_per_user", fmt.Sprint(cfg.Resource.MaxConcurrentPerUser)},
		{"resource.max_concurrent_per_tenant", fmt.Sprint(cfg.Resource.MaxConcurrentPerTenant)},
		{"cache.max_bytes", fmt.Sprint(cfg.Cache.MaxBytes)},
		{"cache.max_item_bytes", fmt.Sprint(cfg.Cache.MaxItemBytes)},
		{"cache.sweep_interval", cfg.Cache.SweepInterval.String()},
		{"cache.hot_capacity", fmt.Sprint(cfg.Cache.HotCapacity)},
		{"memory.retention_days", fmt.Sprint(cfg.Memory.RetentionDays)},
		{"memory.purge_interval", cfg.Memory.PurgeInterval.String()},
		{"memory.grounding_top_k", fmt.Sprint(cfg.Memory.GroundingTopK)},
		{"memory.pattern_min_success_rate", fmt.Sprintf("%.2f", cfg.Memory.PatternMinSuccessRate)},
		{"memory.pattern_min_reinforcement", fmt.Sprint(cfg.Memory.PatternMinReinforcement)},
		{"selector.catalog_path", cfg.Selector.CatalogPath},
		{"selector.default_region", cfg.Selector.DefaultRegion},
		{"selector.watch_catalog", fmt.Sprint(cfg.Selector.WatchCatalog)},
		{"verifier.min_score", fmt.Sprintf("%.2f", cfg.Verifier.MinScore)},
		{"verifier.max_error_issues", fmt.Sprint(cfg.Verifier.MaxErrorIssues)},
		{"anthropic.enabled", fmt.Sprint(cfg.Anthropic.Enabled)},
		{"anthropic.api_key", apiKeyDisplay},
		{"anthropic.use_bedrock", fmt.Sprint(cfg.Anthropic.UseBedrock)},
		{"anthropic.model", cfg.Anthropic.Model},
	}
}
