package durable

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wudi/cachelayer/internal/errors"
	"github.com/wudi/cachelayer/internal/logging"
)

// DefaultPrefix namespaces durable keys away from anything else in the medium.
const DefaultPrefix = "cache:"

// ErrQuotaExceeded is returned by a KV whose storage quota cannot hold a value.
var ErrQuotaExceeded = stderrors.New("durable: storage quota exceeded")

// KV is the external durable medium. Any store with read-your-writes semantics
// for a single process works.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// envelope is the record written to the medium.
type envelope struct {
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"` // unix ms
	TTL       int64           `json:"ttl"`       // ms
	Key       string          `json:"key"`
}

// Config holds adapter settings.
type Config struct {
	Prefix  string
	TTL     time.Duration // default when Set is given a non-positive ttl
	Timeout time.Duration // per-operation deadline on the medium
}

// Adapter mirrors values into a KV on a best-effort basis. Failures are logged
// and reported as misses; they never reach the caller.
type Adapter struct {
	kv      KV
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	clock   clockwork.Clock
	tracer  trace.Tracer
}

// New creates an adapter over kv.
func New(kv KV, cfg Config) (*Adapter, error) {
	if kv == nil {
		return nil, errors.InvalidConfig("durable.backend", "a KV medium is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.InvalidConfig("durable.ttl", "must be positive, got %s", cfg.TTL)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	return &Adapter{
		kv:      kv,
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		clock:   clockwork.NewRealClock(),
		tracer:  otel.Tracer("github.com/wudi/cachelayer/internal/durable"),
	}, nil
}

// SetClock replaces the wall clock, mainly for tests.
func (a *Adapter) SetClock(c clockwork.Clock) {
	a.clock = c
}

func (a *Adapter) span(ctx context.Context, op, key string) (context.Context, trace.Span, context.CancelFunc) {
	ctx, span := a.tracer.Start(ctx, "durable."+op, trace.WithAttributes(attribute.String("cache.key", key)))
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	return ctx, span, cancel
}

// Set writes value under key with ttl. A non-positive ttl selects the default.
func (a *Adapter) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	ctx, span, cancel := a.span(ctx, "set", key)
	defer span.End()
	defer cancel()

	if ttl <= 0 {
		ttl = a.ttl
	}
	raw, err := json.Marshal(value)
	if err != nil {
		logging.Warn("Durable cache encode failed", zap.String("key", key), zap.Error(err))
		span.SetStatus(codes.Error, "encode")
		return
	}
	data, err := json.Marshal(envelope{
		Value:     raw,
		Timestamp: a.clock.Now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
		Key:       key,
	})
	if err != nil {
		logging.Warn("Durable cache encode failed", zap.String("key", key), zap.Error(err))
		span.SetStatus(codes.Error, "encode")
		return
	}

	if err := a.kv.Set(ctx, a.prefix+key, data); err != nil {
		logging.Warn("Durable cache set failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "set")
	}
}

// Get decodes the value stored under key into dst. Expired records are deleted.
// Missing, expired, undecodable and unreadable records all report false.
func (a *Adapter) Get(ctx context.Context, key string, dst any) bool {
	_, ok := a.GetWithExpiry(ctx, key, dst)
	return ok
}

// GetWithExpiry is Get that also returns when the record expires, so a
// caller copying the value elsewhere can keep its original lifetime.
func (a *Adapter) GetWithExpiry(ctx context.Context, key string, dst any) (time.Time, bool) {
	ctx, span, cancel := a.span(ctx, "get", key)
	defer span.End()
	defer cancel()

	data, ok, err := a.kv.Get(ctx, a.prefix+key)
	if err != nil {
		logging.Warn("Durable cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}

	expiresAt, ok := expiry(data)
	if !ok {
		logging.Warn("Durable cache decode failed, treating as miss",
			zap.String("key", key), zap.String("reason", "missing timestamp or ttl"))
		return time.Time{}, false
	}
	if !a.clock.Now().Before(expiresAt) {
		span.SetAttributes(attribute.Bool("cache.expired", true))
		if err := a.kv.Delete(ctx, a.prefix+key); err != nil {
			logging.Warn("Durable cache delete of expired record failed", zap.String("key", key), zap.Error(err))
		}
		return time.Time{}, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logging.Warn("Durable cache decode failed, treating as miss", zap.String("key", key), zap.Error(err))
		return time.Time{}, false
	}
	if err := json.Unmarshal(env.Value, dst); err != nil {
		logging.Warn("Durable cache decode failed, treating as miss", zap.String("key", key), zap.Error(err))
		return time.Time{}, false
	}
	return expiresAt, true
}

// expiry peeks at the envelope timestamps without decoding the value.
func expiry(data []byte) (time.Time, bool) {
	res := gjson.GetManyBytes(data, "timestamp", "ttl")
	if res[0].Type != gjson.Number || res[1].Type != gjson.Number {
		return time.Time{}, false
	}
	return time.UnixMilli(res[0].Int() + res[1].Int()), true
}

// Delete removes key from the medium.
func (a *Adapter) Delete(ctx context.Context, key string) {
	ctx, span, cancel := a.span(ctx, "delete", key)
	defer span.End()
	defer cancel()

	if err := a.kv.Delete(ctx, a.prefix+key); err != nil {
		logging.Warn("Durable cache delete failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
	}
}
