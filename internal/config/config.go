// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/scrapeworks/sift/internal/scrape"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig          `mapstructure:"server"`
	Engine     EngineConfig          `mapstructure:"engine"`
	HTTP       HTTPConfig            `mapstructure:"http"`
	Headless   HeadlessConfig        `mapstructure:"headless"`
	RateLimit  RateLimitConfig       `mapstructure:"rate_limit"`
	Robots     RobotsConfig          `mapstructure:"robots"`
	Checkpoint CheckpointConfig      `mapstructure:"checkpoint"`
	Dedup      DedupConfig           `mapstructure:"dedup"`
	Output     OutputConfig          `mapstructure:"output"`
	RawStore   RawStoreConfig        `mapstructure:"raw_store"`
	PubSub     PubSubConfig          `mapstructure:"pubsub"`
	Logging    LoggingConfig         `mapstructure:"logging"`
	Jobs       map[string]scrape.Job `mapstructure:"jobs"`
}

// ServerConfig controls the observability HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// EngineConfig governs the worker pool and frontier.
type EngineConfig struct {
	Concurrency      int `mapstructure:"concurrency"`
	FrontierCapacity int `mapstructure:"frontier_capacity"`
	MaxAttempts      int `mapstructure:"max_attempts"`
}

// HTTPConfig configures the plain HTTP fetch path.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the browser fetch path used by jobs that
// request it.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// RateLimitConfig sets the shared token bucket all workers draw from.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RobotsConfig toggles robots.txt enforcement.
type RobotsConfig struct {
	Respect bool `mapstructure:"respect"`
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
}

// DedupConfig sizes the bloom filter and its recency cache.
type DedupConfig struct {
	Capacity  int     `mapstructure:"capacity"`
	FPRate    float64 `mapstructure:"fp_rate"`
	CacheSize int     `mapstructure:"cache_size"`
}

// OutputConfig controls the JSONL record stream.
type OutputConfig struct {
	Path      string `mapstructure:"path"`
	BatchSize int    `mapstructure:"batch_size"`
}

// RawStoreConfig controls where failed-extraction snapshots go: a GCS
// bucket when Bucket is set, a local directory when Dir is set. Leaving
// both empty disables snapshots.
type RawStoreConfig struct {
	Bucket string `mapstructure:"bucket"`
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	RunTopic  string `mapstructure:"run_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIFT")
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

	expandJobEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// expandJobEnv substitutes ${VAR} references in job values that commonly
// carry secrets: proxy URLs, header values, and auth form fields.
func expandJobEnv(cfg *Config) {
	for name, job := range cfg.Jobs {
		job.Proxy = os.ExpandEnv(job.Proxy)
		for k, v := range job.Headers {
			job.Headers[k] = os.ExpandEnv(v)
		}
		if job.Auth != nil {
			job.Auth.TokenURL = os.ExpandEnv(job.Auth.TokenURL)
			for k, v := range job.Auth.Form {
				job.Auth.Form[k] = os.ExpandEnv(v)
			}
		}
		cfg.Jobs[name] = job
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.frontier_capacity", 1024)
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "sift-bot/0.1")
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("rate_limit.rps", 2.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("robots.respect", true)
	v.SetDefault("checkpoint.backend", "sqlite")
	v.SetDefault("checkpoint.path", "data/checkpoints.db")
	v.SetDefault("dedup.capacity", 100000)
	v.SetDefault("dedup.fp_rate", 0.01)
	v.SetDefault("dedup.cache_size", 1024)
	v.SetDefault("output.path", "data/records.jsonl")
	v.SetDefault("output.batch_size", 10)
	v.SetDefault("raw_store.prefix", "raw")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	switch c.Checkpoint.Backend {
	case "sqlite":
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path must be set for the sqlite backend")
		}
	case "postgres":
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be sqlite or postgres, got %q", c.Checkpoint.Backend)
	}
	if c.Dedup.FPRate < 0 || c.Dedup.FPRate >= 1 {
		return fmt.Errorf("dedup.fp_rate must be in [0, 1)")
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path must be set")
	}
	if c.PubSub.RunTopic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.run_topic is set")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout knob into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation knob into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
