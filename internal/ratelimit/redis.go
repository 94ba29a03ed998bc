package ratelimit

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/cachelayer/internal/logging"
)

// fixedWindowScript increments the counter for one window key and sets its
// expiry on first use. Returns the post-increment count.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisFixedWindow applies the fixed-window contract across processes that
// share a Redis server.
type RedisFixedWindow struct {
	client  *redis.Client
	prefix  string
	max     int
	window  time.Duration
	timeout time.Duration
	clock   clockwork.Clock

	allowed atomic.Int64
	blocked atomic.Int64
}

// RedisConfig holds config for creating a RedisFixedWindow.
type RedisConfig struct {
	Client      *redis.Client
	Prefix      string
	MaxRequests int
	Window      time.Duration
	Timeout     time.Duration
	Clock       clockwork.Clock
}

// NewRedisFixedWindow creates a Redis-backed fixed-window limiter.
func NewRedisFixedWindow(cfg RedisConfig) (*RedisFixedWindow, error) {
	if err := (Config{MaxRequests: cfg.MaxRequests, Window: cfg.Window}).validate(); err != nil {
		return nil, err
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "cachelayer:rl:"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &RedisFixedWindow{
		client:  cfg.Client,
		prefix:  cfg.Prefix,
		max:     cfg.MaxRequests,
		window:  cfg.Window,
		timeout: cfg.Timeout,
		clock:   cfg.Clock,
	}, nil
}

func (rl *RedisFixedWindow) key(identifier string, start time.Time) string {
	return rl.prefix + identifier + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// Check records a request for identifier. When Redis is unreachable the
// request is allowed and a warning is logged.
func (rl *RedisFixedWindow) Check(ctx context.Context, identifier string) Result {
	now := rl.clock.Now()
	start := windowStart(now, rl.window)
	reset := start.Add(rl.window)

	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	count, err := fixedWindowScript.Run(ctx, rl.client,
		[]string{rl.key(identifier, start)},
		rl.window.Milliseconds(),
	).Int()
	if err != nil {
		// Fail open: if Redis is unreachable, allow the request
		logging.Warn("Redis rate limit unavailable, failing open",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		return Result{Allowed: true, Limit: rl.max, Remaining: rl.max, ResetTime: reset}
	}

	if count > rl.max {
		rl.blocked.Add(1)
		return Result{
			Allowed:    false,
			Limit:      rl.max,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: retryAfter(reset.Sub(now)),
		}
	}
	rl.allowed.Add(1)
	return Result{
		Allowed:   true,
		Limit:     rl.max,
		Remaining: rl.max - count,
		ResetTime: reset,
	}
}

// Reset clears the identifier's current window. It reports whether one existed.
func (rl *RedisFixedWindow) Reset(ctx context.Context, identifier string) (bool, error) {
	start := windowStart(rl.clock.Now(), rl.window)
	n, err := rl.client.Del(ctx, rl.key(identifier, start)).Result()
	return n > 0, err
}

// Stats returns counters observed by this process.
func (rl *RedisFixedWindow) Stats() Stats {
	return Stats{
		Allowed:     rl.allowed.Load(),
		Blocked:     rl.blocked.Load(),
		MaxRequests: rl.max,
		Window:      rl.window,
	}
}
