package stats

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wudi/cachelayer/internal/cache"
	"github.com/wudi/cachelayer/internal/ratelimit"
)

// CacheSource is implemented by cache.Store.
type CacheSource interface {
	Stats() cache.Stats
}

// LimiterSource is implemented by ratelimit.FixedWindow and ratelimit.RedisFixedWindow.
type LimiterSource interface {
	Stats() ratelimit.Stats
}

// Snapshot is a read-only aggregate of cache and limiter counters.
type Snapshot struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	HitRatePercent int   `json:"hit_rate_percent"`
	EntryCount     int   `json:"entry_count"`
	Evictions      int64 `json:"evictions"`
	Expirations    int64 `json:"expirations"`
	Bytes          int64 `json:"bytes"`
	AllowedCount   int64 `json:"allowed_count"`
	BlockedCount   int64 `json:"blocked_count"`
}

// Collector computes snapshots on demand from live stores and limiters. It
// holds no counters of its own.
type Collector struct {
	caches   []CacheSource
	limiters []LimiterSource

	hits        *prometheus.Desc
	misses      *prometheus.Desc
	hitRate     *prometheus.Desc
	entries     *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
	bytes       *prometheus.Desc
	allowed     *prometheus.Desc
	blocked     *prometheus.Desc
}

// New creates a collector. Either list may be empty.
func New(caches []CacheSource, limiters []LimiterSource) *Collector {
	return &Collector{
		caches:   caches,
		limiters: limiters,

		hits:        prometheus.NewDesc("cachelayer_cache_hits_total", "Cache lookups that returned a value.", nil, nil),
		misses:      prometheus.NewDesc("cachelayer_cache_misses_total", "Cache lookups that found nothing or an expired entry.", nil, nil),
		hitRate:     prometheus.NewDesc("cachelayer_cache_hit_rate_percent", "Hits as a rounded percentage of lookups.", nil, nil),
		entries:     prometheus.NewDesc("cachelayer_cache_entries", "Entries currently stored.", nil, nil),
		evictions:   prometheus.NewDesc("cachelayer_cache_evictions_total", "Entries evicted for capacity.", nil, nil),
		expirations: prometheus.NewDesc("cachelayer_cache_expirations_total", "Entries removed after expiry.", nil, nil),
		bytes:       prometheus.NewDesc("cachelayer_cache_bytes", "Estimated size of stored values.", nil, nil),
		allowed:     prometheus.NewDesc("cachelayer_ratelimit_allowed_total", "Requests allowed by rate limiters.", nil, nil),
		blocked:     prometheus.NewDesc("cachelayer_ratelimit_blocked_total", "Requests rejected by rate limiters.", nil, nil),
	}
}

// HitRatePercent returns round(100*hits/(hits+misses)), or 0 with no lookups.
func HitRatePercent(hits, misses int64) int {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(hits) / float64(total)))
}

// Snapshot aggregates the current state of every source.
func (c *Collector) Snapshot() Snapshot {
	var s Snapshot
	for _, src := range c.caches {
		st := src.Stats()
		s.Hits += st.Hits
		s.Misses += st.Misses
		s.EntryCount += st.Entries
		s.Evictions += st.Evictions
		s.Expirations += st.Expirations
		s.Bytes += st.Bytes
	}
	for _, src := range c.limiters {
		st := src.Stats()
		s.AllowedCount += st.Allowed
		s.BlockedCount += st.Blocked
	}
	s.HitRatePercent = HitRatePercent(s.Hits, s.Misses)
	return s
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.hits, c.misses, c.hitRate, c.entries, c.evictions,
		c.expirations, c.bytes, c.allowed, c.blocked,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, float64(s.HitRatePercent))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.EntryCount))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.expirations, prometheus.CounterValue, float64(s.Expirations))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.Bytes))
	ch <- prometheus.MustNewConstMetric(c.allowed, prometheus.CounterValue, float64(s.AllowedCount))
	ch <- prometheus.MustNewConstMetric(c.blocked, prometheus.CounterValue, float64(s.BlockedCount))
}

var _ prometheus.Collector = (*Collector)(nil)
