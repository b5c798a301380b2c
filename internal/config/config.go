// Package config handles configuration loading and management for Conductor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Conductor.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Store     StoreConfig     `mapstructure:"store"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Resource  ResourceConfig  `mapstructure:"resource"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Selector  SelectorConfig  `mapstructure:"selector"`
	Verifier  VerifierConfig  `mapstructure:"verifier"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// EngineConfig controls the worker pool and queue.
type EngineConfig struct {
	// Workers is the number of concurrent worker loops.
	Workers int `mapstructure:"workers"`
	// QueueSize is the capacity of the shared task queue.
	QueueSize int `mapstructure:"queue_size"`
	// DequeueTimeout bounds each blocking dequeue so workers can observe
	// shutdown.
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout"`
	// LogPath is the debug log file. Empty disables file logging.
	LogPath string `mapstructure:"log_path"`
}

// StoreConfig controls the SQLite database.
type StoreConfig struct {
	// Path is the database file location. Empty uses the XDG default.
	Path string `mapstructure:"path"`
	// InMemory uses a non-durable in-memory database.
	InMemory bool `mapstructure:"in_memory"`
}

// BudgetConfig holds default PSU budget settings for new tenants.
type BudgetConfig struct {
	// DefaultTotal is the PSU quota granted to a tenant per period.
	DefaultTotal float64 `mapstructure:"default_total"`
	// PeriodDays is the budget period length in days.
	PeriodDays int `mapstructure:"period_days"`
	// OverageLimit is the PSU allowance beyond the quota.
	OverageLimit float64 `mapstructure:"overage_limit"`
	// Rollover carries unused quota into the next period.
	Rollover bool `mapstructure:"rollover"`
}

// RateLimitConfig holds request rate windows.
type RateLimitConfig struct {
	// UserLimit is the max tasks per user per window.
	UserLimit int `mapstructure:"user_limit"`
	// TenantLimit is the max tasks per tenant per window.
	TenantLimit int `mapstructure:"tenant_limit"`
	// GlobalLimit is the max tasks across all tenants per window.
	GlobalLimit int `mapstructure:"global_limit"`
	// Window is the rate-limit window length.
	Window time.Duration `mapstructure:"window"`
}

// ResourceConfig holds resource and concurrency caps.
type ResourceConfig struct {
	// MaxTaskDuration caps a plan's estimated duration at admission time.
	MaxTaskDuration time.Duration `mapstructure:"max_task_duration"`
	// MaxConcurrentPerUser caps in-flight tasks per user.
	MaxConcurrentPerUser int `mapstructure:"max_concurrent_per_user"`
	// MaxConcurrentPerTenant caps in-flight tasks per tenant.
	MaxConcurrentPerTenant int `mapstructure:"max_concurrent_per_tenant"`
}

// CacheConfig controls the cache-augmented store.
type CacheConfig struct {
	// MaxBytes is the aggregate size ceiling across both tiers.
	MaxBytes int64 `mapstructure:"max_bytes"`
	// MaxItemBytes rejects individual payloads larger than this.
	MaxItemBytes int64 `mapstructure:"max_item_bytes"`
	// SweepInterval is how often expired entries are removed.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// HotCapacity is the max number of entries kept in the hot tier.
	HotCapacity int `mapstructure:"hot_capacity"`
}

// MemoryConfig controls episodic and semantic memory.
type MemoryConfig struct {
	// RetentionDays is how long episodic records are kept.
	RetentionDays int `mapstructure:"retention_days"`
	// PurgeInterval is how often the retention purge runs.
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
	// GroundingTopK is how many knowledge items ground a plan.
	GroundingTopK int `mapstructure:"grounding_top_k"`
	// PatternMinSuccessRate filters patterns used for grounding.
	PatternMinSuccessRate float64 `mapstructure:"pattern_min_success_rate"`
	// PatternMinReinforcement is the executions needed before a pattern
	// is created.
	PatternMinReinforcement int `mapstructure:"pattern_min_reinforcement"`
}

// SelectorConfig controls model and region selection.
type SelectorConfig struct {
	// CatalogPath is the YAML model/region catalog file.
	CatalogPath string `mapstructure:"catalog_path"`
	// DefaultRegion is used when no preference or mapping applies.
	DefaultRegion string `mapstructure:"default_region"`
	// WatchCatalog reloads the catalog when the file changes.
	WatchCatalog bool `mapstructure:"watch_catalog"`
}

// VerifierConfig controls critic validity thresholds.
type VerifierConfig struct {
	// MinScore is the overall score required for validity.
	MinScore float64 `mapstructure:"min_score"`
	// MaxErrorIssues is the number of error-severity issues tolerated.
	MaxErrorIssues int `mapstructure:"max_error_issues"`
}

// AnthropicConfig holds optional LLM plan-assist settings.
type AnthropicConfig struct {
	// Enabled turns on LLM-assisted plan reasoning.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the Anthropic API key.
	APIKey string `mapstructure:"api_key"`
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// Model is the model identifier used for plan reasoning.
	Model string `mapstructure:"model"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CONDUCTOR_*, ANTHROPIC_API_KEY)
// 2. Project config (.conductor.yaml in current directory or parent)
// 3. User config (~/.config/conductor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CONDUCTOR")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Default returns the built-in default configuration without reading files.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// setDefaults registers built-in defaults on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.workers", 3)
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.dequeue_timeout", 500*time.Millisecond)
	v.SetDefault("engine.log_path", "")

	v.SetDefault("store.path", "")
	v.SetDefault("store.in_memory", false)

	v.SetDefault("budget.default_total", 1000.0)
	v.SetDefault("budget.period_days", 30)
	v.SetDefault("budget.overage_limit", 0.0)
	v.SetDefault("budget.rollover", false)

	v.SetDefault("rate_limit.user_limit", 30)
	v.SetDefault("rate_limit.tenant_limit", 120)
	v.SetDefault("rate_limit.global_limit", 600)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("resource.max_task_duration", 10*time.Minute)
	v.SetDefault("resource.max_concurrent_per_user", 4)
	v.SetDefault("resource.max_concurrent_per_tenant", 16)

	v.SetDefault("cache.max_bytes", int64(256<<20))
	v.SetDefault("cache.max_item_bytes", int64(4<<20))
	v.SetDefault("cache.sweep_interval", time.Minute)
	v.SetDefault("cache.hot_capacity", 1024)

	v.SetDefault("memory.retention_days", 30)
	v.SetDefault("memory.purge_interval", time.Hour)
	v.SetDefault("memory.grounding_top_k", 5)
	v.SetDefault("memory.pattern_min_success_rate", 0.7)
	v.SetDefault("memory.pattern_min_reinforcement", 3)

	v.SetDefault("selector.catalog_path", "")
	v.SetDefault("selector.default_region", "us-east-1")
	v.SetDefault("selector.watch_catalog", false)

	v.SetDefault("verifier.min_score", 0.7)
	v.SetDefault("verifier.max_error_issues", 2)

	v.SetDefault("anthropic.enabled", false)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
}

// getUserConfigDir returns the XDG config directory for Conductor.
func getUserConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "conductor")
}

// findProjectConfig walks up from the current directory looking for
// .conductor.yaml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".conductor.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

var envRefPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnv expands ${VAR} references in a config value.
func expandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envRefPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
