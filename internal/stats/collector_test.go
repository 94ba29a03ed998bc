package stats

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wudi/cachelayer/internal/cache"
	"github.com/wudi/cachelayer/internal/ratelimit"
)

func TestHitRatePercent(t *testing.T) {
	tests := []struct {
		hits, misses int64
		want         int
	}{
		{0, 0, 0},
		{1, 0, 100},
		{0, 1, 0},
		{1, 1, 50},
		{2, 1, 67},
		{1, 2, 33},
		{1, 7, 13},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.hits, tt.misses), func(t *testing.T) {
			if got := HitRatePercent(tt.hits, tt.misses); got != tt.want {
				t.Errorf("HitRatePercent(%d, %d) = %d, want %d", tt.hits, tt.misses, got, tt.want)
			}
		})
	}
}

func newStore(t *testing.T) *cache.Store[string] {
	t.Helper()
	s, err := cache.New[string](cache.Config{MaxSize: 2, DisableSweep: true})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newLimiter(t *testing.T) *ratelimit.FixedWindow {
	t.Helper()
	fw, err := ratelimit.NewFixedWindow(ratelimit.Config{MaxRequests: 1, Window: time.Hour, DisableSweep: true})
	if err != nil {
		t.Fatalf("ratelimit.NewFixedWindow: %v", err)
	}
	t.Cleanup(func() { fw.Close() })
	return fw
}

func TestCollector_Snapshot(t *testing.T) {
	store := newStore(t)
	limiter := newLimiter(t)
	c := New([]CacheSource{store}, []LimiterSource{limiter})

	store.Set("a", "1")
	store.Set("b", "2")
	store.Set("c", "3") // evicts a
	store.Get("b")
	store.Get("c")
	store.Get("a")

	limiter.CheckLimit("x")
	limiter.CheckLimit("x")
	limiter.CheckLimit("x")

	want := Snapshot{
		Hits:           2,
		Misses:         1,
		HitRatePercent: 67,
		EntryCount:     2,
		Evictions:      1,
		Bytes:          int64(len(`"2"`) + len(`"3"`)),
		AllowedCount:   1,
		BlockedCount:   2,
	}
	if diff := cmp.Diff(want, c.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCollector_SnapshotIsLive(t *testing.T) {
	store := newStore(t)
	c := New([]CacheSource{store}, nil)

	store.Set("a", "1")
	store.Get("a")
	if c.Snapshot().Hits != 1 {
		t.Fatal("expected one hit")
	}

	store.Clear()
	if s := c.Snapshot(); s.Hits != 0 || s.EntryCount != 0 {
		t.Errorf("snapshot should follow the store after Clear, got %+v", s)
	}
}

func TestCollector_Prometheus(t *testing.T) {
	store := newStore(t)
	limiter := newLimiter(t)
	c := New([]CacheSource{store}, []LimiterSource{limiter})

	store.Set("a", "1")
	store.Get("a")
	store.Get("missing")
	limiter.CheckLimit("x")
	limiter.CheckLimit("x")

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}

	expected := `
# HELP cachelayer_cache_hits_total Cache lookups that returned a value.
# TYPE cachelayer_cache_hits_total counter
cachelayer_cache_hits_total 1
# HELP cachelayer_cache_hit_rate_percent Hits as a rounded percentage of lookups.
# TYPE cachelayer_cache_hit_rate_percent gauge
cachelayer_cache_hit_rate_percent 50
# HELP cachelayer_ratelimit_blocked_total Requests rejected by rate limiters.
# TYPE cachelayer_ratelimit_blocked_total counter
cachelayer_ratelimit_blocked_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"cachelayer_cache_hits_total",
		"cachelayer_cache_hit_rate_percent",
		"cachelayer_ratelimit_blocked_total",
	)
	if err != nil {
		t.Error(err)
	}
}
