// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted in the storage, store, and publisher sections.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"

	StoreNoop     = "noop"
	StorePostgres = "postgres"

	PublisherNoop   = "noop"
	PublisherPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Limiter   LimiterConfig   `mapstructure:"limiter"`
	Harvest   HarvestConfig   `mapstructure:"harvest"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Store     StoreConfig     `mapstructure:"store"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig governs the records-API client.
type APIConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Dataset           string  `mapstructure:"dataset"`
	PageSize          int     `mapstructure:"page_size"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	UserAgent         string  `mapstructure:"user_agent"`
}

// Timeout returns the per-request timeout as a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FetcherConfig configures the browser-backed page fetcher.
type FetcherConfig struct {
	Headless          bool   `mapstructure:"headless"`
	UserAgent         string `mapstructure:"user_agent"`
	NoSandbox         bool   `mapstructure:"no_sandbox"`
	WindowWidth       int    `mapstructure:"window_width"`
	WindowHeight      int    `mapstructure:"window_height"`
	WaitSelector      string `mapstructure:"wait_selector"`
	WaitTimeoutSec    int    `mapstructure:"wait_timeout_seconds"`
	SettleDelaySec    int    `mapstructure:"settle_delay_seconds"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
}

// PoolConfig sizes the enrichment worker pool.
type PoolConfig struct {
	Workers int `mapstructure:"workers"`
	// Strategy is "static" (contiguous chunks) or "queue" (shared feed);
	// "dynamic" is accepted as an alias for "queue".
	Strategy string `mapstructure:"strategy"`
}

// LimiterConfig bounds the randomized courtesy delay between detail-page
// fetches within one worker.
type LimiterConfig struct {
	MinDelayMs int `mapstructure:"min_delay_ms"`
	MaxDelayMs int `mapstructure:"max_delay_ms"`
}

// MinDelay returns the lower delay bound.
func (c LimiterConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMs) * time.Millisecond
}

// MaxDelay returns the upper delay bound.
func (c LimiterConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// HarvestConfig drives the checkpointed harvest loop.
type HarvestConfig struct {
	Query             string `mapstructure:"query"`
	BatchSize         int    `mapstructure:"batch_size"`
	BatchPauseSeconds int    `mapstructure:"batch_pause_seconds"`
	CheckpointPath    string `mapstructure:"checkpoint_path"`
	OutputPath        string `mapstructure:"output_path"`
}

// BatchPause returns the pause between harvest batches.
func (c HarvestConfig) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseSeconds) * time.Second
}

// ArchiveConfig controls the protocol-PDF download stage.
type ArchiveConfig struct {
	Prefix         string `mapstructure:"prefix"`
	DelayMs        int    `mapstructure:"delay_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// Delay returns the politeness pause between downloads.
func (c ArchiveConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// Timeout returns the per-download timeout.
func (c ArchiveConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig selects and parameterises the blob store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// StoreConfig selects the run-history repository.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// PublisherConfig selects the protocol-found publisher.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// OpsConfig controls the ops HTTP server.
type OpsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Port           int    `mapstructure:"port"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-request timeout for ops handlers.
func (c OpsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. An empty path skips the
// file and uses defaults plus AWARDHARVEST_* environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AWARDHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://nihr.opendatasoft.com/api/records/1.0/search/")
	v.SetDefault("api.dataset", "infonihr-open-dataset")
	v.SetDefault("api.page_size", 100)
	v.SetDefault("api.requests_per_second", 5.0)
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.user_agent", "award-harvest/1.0")
	v.SetDefault("fetcher.headless", true)
	v.SetDefault("fetcher.user_agent", "award-harvest/1.0")
	v.SetDefault("fetcher.window_width", 1365)
	v.SetDefault("fetcher.window_height", 1024)
	v.SetDefault("fetcher.wait_selector", ".thread-row")
	v.SetDefault("fetcher.wait_timeout_seconds", 6)
	v.SetDefault("fetcher.settle_delay_seconds", 2)
	v.SetDefault("fetcher.nav_timeout_seconds", 45)
	v.SetDefault("pool.workers", 4)
	v.SetDefault("pool.strategy", "static")
	v.SetDefault("limiter.min_delay_ms", 500)
	v.SetDefault("limiter.max_delay_ms", 1500)
	v.SetDefault("harvest.query", "*")
	v.SetDefault("harvest.batch_size", 10)
	v.SetDefault("harvest.batch_pause_seconds", 2)
	v.SetDefault("harvest.checkpoint_path", "harvest.checkpoint")
	v.SetDefault("harvest.output_path", "harvest.jsonl")
	v.SetDefault("archive.prefix", "protocols")
	v.SetDefault("archive.delay_ms", 500)
	v.SetDefault("archive.timeout_seconds", 60)
	v.SetDefault("storage.provider", StorageLocal)
	v.SetDefault("storage.local_dir", "archive")
	v.SetDefault("store.provider", StoreNoop)
	v.SetDefault("publisher.provider", PublisherNoop)
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.port", 8080)
	v.SetDefault("ops.timeout_seconds", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must be set")
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be > 0")
	}
	if c.API.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.requests_per_second must be > 0")
	}
	if c.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be > 0")
	}
	switch c.Pool.Strategy {
	case "static", "queue", "dynamic":
	default:
		return fmt.Errorf("pool.strategy must be static, queue, or dynamic, got %q", c.Pool.Strategy)
	}
	if c.Limiter.MinDelayMs < 0 || c.Limiter.MaxDelayMs < 0 {
		return fmt.Errorf("limiter delays must be >= 0")
	}
	if c.Limiter.MinDelayMs > c.Limiter.MaxDelayMs {
		return fmt.Errorf("limiter.min_delay_ms must be <= limiter.max_delay_ms")
	}
	if c.Harvest.BatchSize <= 0 {
		return fmt.Errorf("harvest.batch_size must be > 0")
	}
	switch c.Storage.Provider {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local provider")
		}
	case StorageMemory:
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Store.Provider {
	case StoreNoop:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	switch c.Publisher.Provider {
	case PublisherNoop:
	case PublisherPubSub:
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher.provider %q", c.Publisher.Provider)
	}
	if c.Ops.Enabled && c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0 when ops is enabled")
	}
	return nil
}
