package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/wudi/cachelayer/internal/errors"
)

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
	secrets    *SecretRegistry
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		secrets:    NewSecretRegistry(),
	}
}

// Secrets returns the registry used to resolve ${scheme:ref} values.
func (l *Loader) Secrets() *SecretRegistry {
	return l.secrets
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := resolveSecretRefs(context.Background(), cfg, l.secrets); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// Validate checks cfg and returns the first problem as an *errors.ConfigError.
func Validate(cfg *Config) error {
	if !validLevels[cfg.Logging.Level] {
		return errors.InvalidConfig("logging.level", "must be one of debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return errors.InvalidConfig("logging.format", "must be json or console, got %q", cfg.Logging.Format)
	}

	if err := validateCache(cfg.Cache); err != nil {
		return err
	}
	if err := validateRateLimit(cfg.RateLimit); err != nil {
		return err
	}

	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return errors.InvalidConfig("admin.address", "is required when the admin API is enabled")
	}

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return errors.InvalidConfig("tracing.sample_rate", "must be between 0 and 1, got %g", cfg.Tracing.SampleRate)
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return errors.InvalidConfig("tracing.endpoint", "is required when tracing is enabled")
	}
	return nil
}

func validateCache(c CacheConfig) error {
	if c.TTL <= 0 {
		return errors.InvalidConfig("cache.ttl", "must be positive, got %s", c.TTL)
	}
	if c.MaxSize <= 0 {
		return errors.InvalidConfig("cache.max_size", "must be positive, got %d", c.MaxSize)
	}
	if c.CleanupInterval <= 0 {
		return errors.InvalidConfig("cache.cleanup_interval", "must be positive, got %s", c.CleanupInterval)
	}

	d := c.Durable
	switch d.Backend {
	case "", BackendNone:
		return nil
	case BackendMemory:
		if d.Memory.MaxEntries <= 0 {
			return errors.InvalidConfig("cache.durable.memory.max_entries", "must be positive, got %d", d.Memory.MaxEntries)
		}
		if d.Memory.MaxItemBytes < 0 {
			return errors.InvalidConfig("cache.durable.memory.max_item_bytes", "must not be negative")
		}
	case BackendRedis:
		if err := validateRedis("cache.durable.redis", d.Redis); err != nil {
			return err
		}
	case BackendSQLite:
		if d.SQLite.Path == "" {
			return errors.InvalidConfig("cache.durable.sqlite.path", "is required for the sqlite backend")
		}
	default:
		return errors.InvalidConfig("cache.durable.backend", "unknown backend %q", d.Backend)
	}

	if d.TTL < 0 {
		return errors.InvalidConfig("cache.durable.ttl", "must not be negative")
	}
	if d.Timeout < 0 {
		return errors.InvalidConfig("cache.durable.timeout", "must not be negative")
	}
	return nil
}

func validateRateLimit(c RateLimitConfig) error {
	if c.MaxRequests <= 0 {
		return errors.InvalidConfig("rate_limit.max_requests", "must be positive, got %d", c.MaxRequests)
	}
	if c.Window < time.Millisecond {
		return errors.InvalidConfig("rate_limit.window", "must be at least 1ms, got %s", c.Window)
	}
	if c.Window%time.Millisecond != 0 {
		return errors.InvalidConfig("rate_limit.window", "must be a whole number of milliseconds, got %s", c.Window)
	}
	if c.CleanupInterval < 0 {
		return errors.InvalidConfig("rate_limit.cleanup_interval", "must not be negative")
	}
	if c.Key != "ip" && !(strings.HasPrefix(c.Key, "header:") && len(c.Key) > len("header:")) {
		return errors.InvalidConfig("rate_limit.key", `must be "ip" or "header:<name>", got %q`, c.Key)
	}

	switch c.Mode {
	case ModeLocal:
	case ModeDistributed:
		return validateRedis("rate_limit.redis", c.Redis)
	default:
		return errors.InvalidConfig("rate_limit.mode", "must be local or distributed, got %q", c.Mode)
	}
	return nil
}

func validateRedis(field string, r RedisConfig) error {
	if r.Address == "" {
		return errors.InvalidConfig(field+".address", "is required")
	}
	if r.DB < 0 {
		return errors.InvalidConfig(field+".db", "must not be negative")
	}
	if r.KeyTTL < 0 {
		return errors.InvalidConfig(field+".key_ttl", "must not be negative")
	}
	return nil
}
