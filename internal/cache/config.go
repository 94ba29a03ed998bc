package cache

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wudi/cachelayer/internal/errors"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultTTL             = 5 * time.Minute
	DefaultMaxSize         = 1000
	DefaultCleanupInterval = time.Minute
)

// Config holds store settings. Zero values select the defaults; negative values
// are rejected by New.
type Config struct {
	TTL             time.Duration
	MaxSize         int
	CleanupInterval time.Duration
	DisableSweep    bool
	DedupeLoads     bool // share one factory call between concurrent GetOrSet misses
}

func (c Config) withDefaults() (Config, error) {
	if c.TTL < 0 {
		return c, errors.InvalidConfig("ttl", "must be positive, got %s", c.TTL)
	}
	if c.MaxSize < 0 {
		return c, errors.InvalidConfig("max_size", "must be positive, got %d", c.MaxSize)
	}
	if c.CleanupInterval < 0 {
		return c, errors.InvalidConfig("cleanup_interval", "must be positive, got %s", c.CleanupInterval)
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c, nil
}

// Mirror receives best-effort copies of store writes. durable.Adapter
// implements it.
type Mirror interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Option customizes a Store.
type Option[V any] func(*Store[V])

// WithClock replaces the wall clock, mainly for tests.
func WithClock[V any](clock clockwork.Clock) Option[V] {
	return func(s *Store[V]) {
		s.clock = clock
	}
}

// WithOnExpire registers a callback invoked by the sweep for each expired entry.
func WithOnExpire[V any](fn func(key string, value V)) Option[V] {
	return func(s *Store[V]) {
		if fn != nil {
			s.onExpire = fn
		}
	}
}

// WithMirror attaches a write-through durable mirror.
func WithMirror[V any](m Mirror) Option[V] {
	return func(s *Store[V]) {
		s.mirror = m
	}
}

// WithName labels the store in logs and metrics.
func WithName[V any](name string) Option[V] {
	return func(s *Store[V]) {
		s.name = name
	}
}
