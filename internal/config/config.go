package config

import (
	"time"

	"github.com/wudi/cachelayer/internal/cache"
	"github.com/wudi/cachelayer/internal/logging"
	"github.com/wudi/cachelayer/internal/ratelimit"
	"github.com/wudi/cachelayer/internal/tracing"
)

// Config represents the complete cachelayer configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Admin     AdminConfig     `yaml:"admin"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json or console
	Output     string `yaml:"output"` // stdout, stderr, or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// CacheConfig defines the in-memory store and its optional durable mirror.
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	MaxSize         int           `yaml:"max_size"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	DedupeLoads     bool          `yaml:"dedupe_loads"`
	Durable         DurableConfig `yaml:"durable"`
}

// Durable backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// DurableConfig selects and configures the durable medium.
type DurableConfig struct {
	Backend string              `yaml:"backend"` // none, memory, redis, sqlite
	Prefix  string              `yaml:"prefix"`
	TTL     time.Duration       `yaml:"ttl"`
	Timeout time.Duration       `yaml:"timeout"`
	Memory  MemoryBackendConfig `yaml:"memory"`
	Redis   RedisConfig         `yaml:"redis"`
	SQLite  SQLiteConfig        `yaml:"sqlite"`
}

// MemoryBackendConfig bounds the in-process durable medium.
type MemoryBackendConfig struct {
	MaxEntries   int `yaml:"max_entries"`
	MaxItemBytes int `yaml:"max_item_bytes"` // 0 disables the per-record quota
}

// RedisConfig defines a Redis connection
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password" redact:"true"`
	DB          int           `yaml:"db"`
	KeyTTL      time.Duration `yaml:"key_ttl"`      // server-side expiry for durable records
	DialTimeout time.Duration `yaml:"dial_timeout"` // total time spent retrying the first connection
}

// SQLiteConfig defines the SQLite database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Rate limit modes.
const (
	ModeLocal       = "local"
	ModeDistributed = "distributed"
)

// RateLimitConfig defines fixed-window rate limiting
type RateLimitConfig struct {
	MaxRequests     int           `yaml:"max_requests"`
	Window          time.Duration `yaml:"window"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Mode            string        `yaml:"mode"` // local or distributed
	Key             string        `yaml:"key"`  // "ip" or "header:<name>"
	Prefix          string        `yaml:"prefix"`
	Redis           RedisConfig   `yaml:"redis"`
}

// AdminConfig defines the admin API settings
type AdminConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	RateLimit bool   `yaml:"rate_limit"` // apply the limiter to admin requests
}

// TracingConfig defines OpenTelemetry span export
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC collector, host:port
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Cache: CacheConfig{
			TTL:             cache.DefaultTTL,
			MaxSize:         cache.DefaultMaxSize,
			CleanupInterval: cache.DefaultCleanupInterval,
			Durable: DurableConfig{
				Backend: BackendNone,
				Prefix:  "cache:",
				TTL:     cache.DefaultTTL,
				Timeout: 100 * time.Millisecond,
				Memory: MemoryBackendConfig{
					MaxEntries:   10000,
					MaxItemBytes: 5 << 20,
				},
				Redis: RedisConfig{
					Address:     "localhost:6379",
					DialTimeout: 10 * time.Second,
				},
				SQLite: SQLiteConfig{
					Path: "cachelayer.db",
				},
			},
		},
		RateLimit: RateLimitConfig{
			MaxRequests:     100,
			Window:          time.Minute,
			CleanupInterval: 5 * time.Minute,
			Mode:            ModeLocal,
			Key:             "ip",
			Prefix:          "cachelayer:rl:",
			Redis: RedisConfig{
				Address:     "localhost:6379",
				DialTimeout: 10 * time.Second,
			},
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":8081",
		},
		Tracing: TracingConfig{
			ServiceName: "cachelayer",
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
		},
	}
}

// LoggerOptions converts the logging section for logging.NewWithOptions.
func (c LoggingConfig) LoggerOptions() logging.Options {
	return logging.Options{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// StoreConfig converts the cache section for cache.New.
func (c CacheConfig) StoreConfig() cache.Config {
	return cache.Config{
		TTL:             c.TTL,
		MaxSize:         c.MaxSize,
		CleanupInterval: c.CleanupInterval,
		DedupeLoads:     c.DedupeLoads,
	}
}

// LimiterConfig converts the rate_limit section for ratelimit.NewFixedWindow.
func (c RateLimitConfig) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxRequests:     c.MaxRequests,
		Window:          c.Window,
		CleanupInterval: c.CleanupInterval,
	}
}

// TracerOptions converts the tracing section for tracing.New.
func (c TracingConfig) TracerOptions() tracing.Options {
	return tracing.Options{
		Enabled:     c.Enabled,
		ServiceName: c.ServiceName,
		Endpoint:    c.Endpoint,
		Insecure:    c.Insecure,
		SampleRate:  c.SampleRate,
	}
}
