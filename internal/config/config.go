package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/choices-civics/repsync/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig     `yaml:"store" mapstructure:"store"`
	Congress   ProviderConfig  `yaml:"congress" mapstructure:"congress"`
	OpenStates ProviderConfig  `yaml:"openstates" mapstructure:"openstates"`
	FEC        ProviderConfig  `yaml:"fec" mapstructure:"fec"`
	CivicInfo  ProviderConfig  `yaml:"civicinfo" mapstructure:"civicinfo"`
	Ingest     IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Resolver   ResolverConfig  `yaml:"resolver" mapstructure:"resolver"`
	Lifecycle  LifecycleConfig `yaml:"lifecycle" mapstructure:"lifecycle"`
	Log        LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the canonical store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProviderConfig holds one provider's API credentials and quota policy.
// Keys and throttle parameters come from environment or config file, never
// hardcoded.
type ProviderConfig struct {
	Enabled         bool    `yaml:"enabled" mapstructure:"enabled"`
	Key             string  `yaml:"key" mapstructure:"key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	DailyBudget     int     `yaml:"daily_budget" mapstructure:"daily_budget"`
	RequestsPerSec  float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Burst           int     `yaml:"burst" mapstructure:"burst"`
	MinDelayMS      int     `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	WaitTimeoutSecs int     `yaml:"wait_timeout_secs" mapstructure:"wait_timeout_secs"`
	PageSize        int     `yaml:"page_size" mapstructure:"page_size"`
}

// MinDelay returns the inter-request delay floor.
func (p ProviderConfig) MinDelay() time.Duration {
	return time.Duration(p.MinDelayMS) * time.Millisecond
}

// WaitTimeout returns how long Acquire may block before reporting Throttled.
func (p ProviderConfig) WaitTimeout() time.Duration {
	return time.Duration(p.WaitTimeoutSecs) * time.Second
}

// IngestConfig configures orchestrator behavior.
type IngestConfig struct {
	ChunkSize       int `yaml:"chunk_size" mapstructure:"chunk_size"`
	DeadlineMinutes int `yaml:"deadline_minutes" mapstructure:"deadline_minutes"`
}

// Deadline returns the run-level deadline, zero meaning none.
func (c IngestConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineMinutes) * time.Minute
}

// ResolverConfig configures fuzzy matching.
type ResolverConfig struct {
	// FuzzyThreshold is the minimum normalized similarity for a fuzzy match
	// to be accepted. Accepted matches are still audit-logged.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	MaxCandidates  int     `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// LifecycleConfig configures status transitions.
type LifecycleConfig struct {
	// RetentionDays is how long an entity stays inactive before it is
	// promoted to historical.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
}

// Retention returns the inactive retention threshold.
func (c LifecycleConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Provider returns the config block for the given provider.
func (c *Config) Provider(p model.Provider) ProviderConfig {
	switch p {
	case model.ProviderCongress:
		return c.Congress
	case model.ProviderOpenStates:
		return c.OpenStates
	case model.ProviderFEC:
		return c.FEC
	case model.ProviderCivicInfo:
		return c.CivicInfo
	}
	return ProviderConfig{}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "repsync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("congress.enabled", true)
	v.SetDefault("congress.base_url", "https://api.congress.gov/v3")
	v.SetDefault("congress.daily_budget", 5000)
	v.SetDefault("congress.requests_per_sec", 1)
	v.SetDefault("congress.burst", 2)
	v.SetDefault("congress.min_delay_ms", 0)
	v.SetDefault("congress.wait_timeout_secs", 60)
	v.SetDefault("congress.page_size", 250)

	v.SetDefault("openstates.enabled", true)
	v.SetDefault("openstates.base_url", "https://v3.openstates.org")
	v.SetDefault("openstates.daily_budget", 500)
	v.SetDefault("openstates.requests_per_sec", 0.1)
	v.SetDefault("openstates.burst", 1)
	// OpenStates enforces the strictest throttle of the four providers.
	v.SetDefault("openstates.min_delay_ms", 6000)
	v.SetDefault("openstates.wait_timeout_secs", 120)
	v.SetDefault("openstates.page_size", 50)

	v.SetDefault("fec.enabled", true)
	v.SetDefault("fec.base_url", "https://api.open.fec.gov/v1")
	v.SetDefault("fec.daily_budget", 1000)
	v.SetDefault("fec.requests_per_sec", 0.5)
	v.SetDefault("fec.burst", 1)
	v.SetDefault("fec.min_delay_ms", 500)
	v.SetDefault("fec.wait_timeout_secs", 60)
	v.SetDefault("fec.page_size", 100)

	v.SetDefault("civicinfo.enabled", true)
	v.SetDefault("civicinfo.base_url", "https://www.googleapis.com/civicinfo/v2")
	v.SetDefault("civicinfo.daily_budget", 2500)
	v.SetDefault("civicinfo.requests_per_sec", 1)
	v.SetDefault("civicinfo.burst", 2)
	v.SetDefault("civicinfo.min_delay_ms", 0)
	v.SetDefault("civicinfo.wait_timeout_secs", 60)
	v.SetDefault("civicinfo.page_size", 100)

	v.SetDefault("ingest.chunk_size", 25)
	v.SetDefault("ingest.deadline_minutes", 0)
	v.SetDefault("resolver.fuzzy_threshold", 0.90)
	v.SetDefault("resolver.max_candidates", 10)
	v.SetDefault("lifecycle.retention_days", 90)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks that every enabled provider has an API key. A missing key
// is run-fatal; everything else degrades gracefully.
func (c *Config) Validate(providers []model.Provider) error {
	for _, p := range providers {
		pc := c.Provider(p)
		if !pc.Enabled {
			continue
		}
		if pc.Key == "" {
			return eris.Errorf("config: missing API key for provider %s", p)
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
