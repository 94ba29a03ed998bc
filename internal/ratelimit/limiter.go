package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wudi/cachelayer/internal/errors"
	"github.com/wudi/cachelayer/internal/logging"
)

// Result is the outcome of a single rate-limit check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after"` // whole seconds; 0 when allowed
}

// Checker is implemented by every limiter the middleware can front.
type Checker interface {
	Check(ctx context.Context, identifier string) Result
}

// Config holds rate limiter configuration
type Config struct {
	MaxRequests     int           // requests allowed per window
	Window          time.Duration // window length, whole milliseconds, at least 1ms
	CleanupInterval time.Duration // how often stale windows are dropped (default 5m)
	DisableSweep    bool
}

func (c Config) validate() error {
	if c.MaxRequests <= 0 {
		return errors.InvalidConfig("rate_limit.max_requests", "must be positive, got %d", c.MaxRequests)
	}
	if c.Window < time.Millisecond {
		return errors.InvalidConfig("rate_limit.window", "must be at least 1ms, got %s", c.Window)
	}
	// Windows are aligned on whole milliseconds since the epoch.
	if c.Window%time.Millisecond != 0 {
		return errors.InvalidConfig("rate_limit.window", "must be a whole number of milliseconds, got %s", c.Window)
	}
	if c.CleanupInterval < 0 {
		return errors.InvalidConfig("rate_limit.cleanup_interval", "must be positive, got %s", c.CleanupInterval)
	}
	return nil
}

// window is the per-identifier counter for one fixed window.
type window struct {
	start   time.Time
	count   int
	blocked bool
}

type limits struct {
	max    int
	window time.Duration
}

// Stats contains limiter statistics.
type Stats struct {
	Identifiers int           `json:"identifiers"`
	Allowed     int64         `json:"allowed"`
	Blocked     int64         `json:"blocked"`
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
}

// FixedWindow counts requests per identifier in windows aligned to multiples
// of the window length since the Unix epoch. The counter resets when a new
// window starts, so a burst straddling a boundary can see up to twice the
// limit.
type FixedWindow struct {
	limits  atomic.Pointer[limits]
	windows *shardedMap[*window]
	clock   clockwork.Clock

	allowed atomic.Int64
	blocked atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option customizes a FixedWindow.
type Option func(*FixedWindow)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(fw *FixedWindow) {
		fw.clock = c
	}
}

// NewFixedWindow creates a limiter and starts its cleanup goroutine. Call
// Close to stop it.
func NewFixedWindow(cfg Config, opts ...Option) (*FixedWindow, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	fw := &FixedWindow{
		windows: newShardedMap[*window](),
		clock:   clockwork.NewRealClock(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	fw.limits.Store(&limits{max: cfg.MaxRequests, window: cfg.Window})
	for _, opt := range opts {
		opt(fw)
	}

	if cfg.DisableSweep {
		close(fw.done)
	} else {
		go fw.cleanup(cfg.CleanupInterval)
	}
	return fw, nil
}

// windowStart returns floor(now/window)*window in Unix milliseconds.
func windowStart(now time.Time, w time.Duration) time.Time {
	ms := w.Milliseconds()
	return time.UnixMilli(now.UnixMilli() / ms * ms)
}

// retryAfter rounds d up to whole seconds.
func retryAfter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1) / time.Second * time.Second
}

// CheckLimit records a request for identifier and reports whether it is allowed.
func (fw *FixedWindow) CheckLimit(identifier string) Result {
	now := fw.clock.Now()
	lim := fw.limits.Load()
	start := windowStart(now, lim.window)
	reset := start.Add(lim.window)

	s := fw.windows.getShard(identifier)
	s.mu.Lock()

	w, exists := s.items[identifier]
	if !exists || !w.start.Equal(start) {
		w = &window{start: start}
		s.items[identifier] = w
	}

	if w.count >= lim.max {
		w.blocked = true
		s.mu.Unlock()
		fw.blocked.Add(1)
		return Result{
			Allowed:    false,
			Limit:      lim.max,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: retryAfter(reset.Sub(now)),
		}
	}

	w.count++
	remaining := lim.max - w.count
	s.mu.Unlock()

	fw.allowed.Add(1)
	return Result{
		Allowed:   true,
		Limit:     lim.max,
		Remaining: remaining,
		ResetTime: reset,
	}
}

// Check implements Checker.
func (fw *FixedWindow) Check(_ context.Context, identifier string) Result {
	return fw.CheckLimit(identifier)
}

// WindowState is a read-only view of an identifier's current window.
type WindowState struct {
	Start   time.Time `json:"start"`
	Count   int       `json:"count"`
	Blocked bool      `json:"blocked"`
}

// State returns the identifier's window if it belongs to the current period.
func (fw *FixedWindow) State(identifier string) (WindowState, bool) {
	start := windowStart(fw.clock.Now(), fw.limits.Load().window)

	s := fw.windows.getShard(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.items[identifier]
	if !ok || !w.start.Equal(start) {
		return WindowState{}, false
	}
	return WindowState{Start: w.start, Count: w.count, Blocked: w.blocked}, true
}

// Reset clears the window for identifier. It reports whether one existed.
func (fw *FixedWindow) Reset(identifier string) bool {
	return fw.windows.delete(identifier)
}

// Reconfigure applies new limits. All current windows are dropped.
func (fw *FixedWindow) Reconfigure(maxRequests int, window time.Duration) error {
	cfg := Config{MaxRequests: maxRequests, Window: window}
	if err := cfg.validate(); err != nil {
		return err
	}
	fw.limits.Store(&limits{max: maxRequests, window: window})
	fw.windows.clear()
	logging.Info("rate limits reconfigured",
		zap.Int("max_requests", maxRequests),
		zap.Duration("window", window),
	)
	return nil
}

// Stats returns a point-in-time view of the limiter counters.
func (fw *FixedWindow) Stats() Stats {
	lim := fw.limits.Load()
	return Stats{
		Identifiers: fw.windows.len(),
		Allowed:     fw.allowed.Load(),
		Blocked:     fw.blocked.Load(),
		MaxRequests: lim.max,
		Window:      lim.window,
	}
}

// Sweep drops windows that have ended and returns how many were removed.
func (fw *FixedWindow) Sweep() int {
	now := fw.clock.Now()
	win := fw.limits.Load().window
	return fw.windows.deleteFunc(func(_ string, w *window) bool {
		return !now.Before(w.start.Add(win))
	})
}

// cleanup removes stale windows periodically
func (fw *FixedWindow) cleanup(interval time.Duration) {
	defer close(fw.done)

	ticker := fw.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-fw.stop:
			return
		case <-ticker.Chan():
			if n := fw.Sweep(); n > 0 {
				logging.Debug("rate limit windows swept", zap.Int("removed", n))
			}
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (fw *FixedWindow) Close() error {
	fw.closeOnce.Do(func() {
		close(fw.stop)
		<-fw.done
	})
	return nil
}
