// Package config holds all orchestra configuration. Configuration is an
// explicitly-passed value threaded through the assembler, never ambient
// process state, so builds are reproducible and testable in isolation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all orchestra configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Deployment environment: development, staging, production.
	Environment string `yaml:"environment"`

	// MultiTenant requires a non-empty tenant identifier on every request.
	MultiTenant bool `yaml:"multi_tenant"`

	Budget     BudgetConfig            `yaml:"budget"`
	Sources    map[string]SourceConfig `yaml:"sources"`
	Cache      CacheConfig             `yaml:"cache"`
	Routing    RoutingConfig           `yaml:"routing"`
	Exposition ExpositionConfig        `yaml:"exposition"`
	Store      StoreConfig             `yaml:"store"`
	Logging    LoggingConfig           `yaml:"logging"`
}

// BudgetConfig configures the token budgeter.
type BudgetConfig struct {
	// MaxTotalTokens is the global ceiling for a built envelope.
	MaxTotalTokens int `yaml:"max_total_tokens"`

	// SafetyMargin shrinks the effective ceiling: effective = max * (1 - margin).
	SafetyMargin float64 `yaml:"safety_margin"`

	// PerLayer maps layer name to its token ceiling.
	PerLayer map[string]int `yaml:"per_layer"`
}

// EffectiveCeiling returns the global ceiling after the safety margin.
func (b BudgetConfig) EffectiveCeiling() int {
	if b.SafetyMargin <= 0 || b.SafetyMargin >= 1 {
		return b.MaxTotalTokens
	}
	return int(float64(b.MaxTotalTokens) * (1 - b.SafetyMargin))
}

// SourceConfig configures one context source (a layer builder's external
// input).
type SourceConfig struct {
	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`
	// TimeoutMS bounds the builder that consumes this source.
	TimeoutMS int `yaml:"timeout_ms"`
}

// Timeout returns the source timeout as a duration.
func (s SourceConfig) Timeout() time.Duration {
	if s.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// CacheConfig configures the envelope cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// StableTTLSeconds applies to envelopes built mostly from stable
	// user/domain data; VolatileTTLSeconds to ones carrying live
	// environment/load data.
	StableTTLSeconds   int `yaml:"stable_ttl_seconds"`
	VolatileTTLSeconds int `yaml:"volatile_ttl_seconds"`

	MaxEntries int `yaml:"max_entries"`
}

// StableTTL returns the stable-content TTL.
func (c CacheConfig) StableTTL() time.Duration {
	return time.Duration(c.StableTTLSeconds) * time.Second
}

// VolatileTTL returns the volatile-content TTL.
func (c CacheConfig) VolatileTTL() time.Duration {
	return time.Duration(c.VolatileTTLSeconds) * time.Second
}

// RoutingConfig configures the context-aware router.
type RoutingConfig struct {
	// Mode: local-preferred, cloud-preferred, cost-optimized.
	Mode   string `yaml:"mode"`
	DryRun bool   `yaml:"dry_run"`
}

// ExpositionConfig configures narrative fusion.
type ExpositionConfig struct {
	// Order lists layers in narrative priority order. Defaults to
	// rules, intent, user, domain, environment.
	Order []string `yaml:"order"`
}

// StoreConfig configures the SQLite audit/persistence store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Source names.
const (
	SourceAuthClaims     = "auth_claims"
	SourceHistory        = "history"
	SourceIntent         = "intent"
	SourceRepoAnalyzer   = "repo_analyzer"
	SourceTenantPolicies = "tenant_policies"
	SourceEnv            = "env"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:        "orchestra",
		Version:     "1.2.0",
		Environment: "development",
		MultiTenant: false,

		Budget: BudgetConfig{
			MaxTotalTokens: 8000,
			SafetyMargin:   0.1,
			PerLayer: map[string]int{
				"user":        2000,
				"intent":      1000,
				"domain":      2000,
				"rules":       1500,
				"environment": 1000,
				"exposition":  500,
			},
		},

		Sources: map[string]SourceConfig{
			SourceAuthClaims:     {Enabled: true, Priority: 100, TimeoutMS: 100},
			SourceHistory:        {Enabled: true, Priority: 90, TimeoutMS: 2000},
			SourceIntent:         {Enabled: true, Priority: 95, TimeoutMS: 250},
			SourceRepoAnalyzer:   {Enabled: true, Priority: 80, TimeoutMS: 10000},
			SourceTenantPolicies: {Enabled: true, Priority: 85, TimeoutMS: 1000},
			SourceEnv:            {Enabled: true, Priority: 60, TimeoutMS: 100},
		},

		Cache: CacheConfig{
			Enabled:            true,
			StableTTLSeconds:   300,
			VolatileTTLSeconds: 60,
			MaxEntries:         1000,
		},

		Routing: RoutingConfig{
			Mode: "local-preferred",
		},

		Exposition: ExpositionConfig{
			Order: []string{"rules", "intent", "user", "domain", "environment"},
		},

		Store: StoreConfig{
			DatabasePath: "data/orchestra.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ProductionConfig returns the production preset: tighter timeouts, longer
// cache TTLs, smaller budget.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Budget.MaxTotalTokens = 6000
	cfg.Cache.StableTTLSeconds = 600
	cfg.Cache.VolatileTTLSeconds = 120

	history := cfg.Sources[SourceHistory]
	history.TimeoutMS = 1500
	cfg.Sources[SourceHistory] = history

	analyzer := cfg.Sources[SourceRepoAnalyzer]
	analyzer.TimeoutMS = 8000
	cfg.Sources[SourceRepoAnalyzer] = analyzer

	cfg.Logging.Level = "warn"
	return cfg
}

// DevelopmentConfig returns the development preset: lenient timeouts, short
// cache TTLs, debug logging.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "development"
	cfg.Cache.StableTTLSeconds = 60
	cfg.Cache.VolatileTTLSeconds = 15

	analyzer := cfg.Sources[SourceRepoAnalyzer]
	analyzer.TimeoutMS = 20000
	cfg.Sources[SourceRepoAnalyzer] = analyzer

	cfg.Logging.DebugMode = true
	cfg.Logging.Level = "debug"
	return cfg
}

// Load reads configuration from a YAML file, applies environment overrides,
// and validates. A missing file yields the environment-appropriate preset.
func Load(path string) (*Config, error) {
	cfg := presetForEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func presetForEnv() *Config {
	switch os.Getenv("ORCHESTRA_ENV") {
	case "production":
		return ProductionConfig()
	case "development":
		return DevelopmentConfig()
	default:
		return DefaultConfig()
	}
}

// applyEnvOverrides applies environment variable overrides on top of file
// config. Env vars win over file values.
func (c *Config) applyEnvOverrides() {
	if env := os.Getenv("ORCHESTRA_ENV"); env != "" {
		c.Environment = env
	}
	if mode := os.Getenv("MODEL_ROUTING_MODE"); mode != "" {
		c.Routing.Mode = mode
	}
	if v := os.Getenv("MAX_CONTEXT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Budget.MaxTotalTokens = n
		}
	}
	if v := os.Getenv("CONTEXT_CACHE_ENABLED"); v != "" {
		c.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("CONTEXT_CACHE_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.StableTTLSeconds = n
		}
	}
	if v := os.Getenv("FEATURE_MULTI_TENANCY"); v != "" {
		c.MultiTenant = parseBool(v)
	}
	if path := os.Getenv("ORCHESTRA_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

func parseBool(v string) bool {
	switch v {
	case "true", "1", "yes", "on", "enabled":
		return true
	}
	return false
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Budget.MaxTotalTokens <= 0 {
		return fmt.Errorf("budget.max_total_tokens must be positive, got %d", c.Budget.MaxTotalTokens)
	}
	if c.Budget.SafetyMargin < 0 || c.Budget.SafetyMargin >= 1 {
		return fmt.Errorf("budget.safety_margin must be in [0,1), got %.2f", c.Budget.SafetyMargin)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be non-negative, got %d", c.Cache.MaxEntries)
	}
	for name, src := range c.Sources {
		if src.TimeoutMS < 0 {
			return fmt.Errorf("sources.%s.timeout_ms must be non-negative, got %d", name, src.TimeoutMS)
		}
	}
	for _, layer := range c.Exposition.Order {
		switch layer {
		case "rules", "intent", "user", "domain", "environment":
		default:
			return fmt.Errorf("exposition.order contains unknown layer %q", layer)
		}
	}
	return nil
}

// Source returns the configuration for a named source, falling back to a
// permissive default when unconfigured.
func (c *Config) Source(name string) SourceConfig {
	if src, ok := c.Sources[name]; ok {
		return src
	}
	return SourceConfig{Enabled: true, Priority: 50, TimeoutMS: 5000}
}
