package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/cachelayer/internal/logging"
)

// Stats contains store-level statistics.
type Stats struct {
	Name        string `json:"name,omitempty"`
	Entries     int    `json:"entries"`
	MaxSize     int    `json:"max_size"`
	Tags        int    `json:"tags"`
	Bytes       int64  `json:"bytes"`
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Evictions   int64  `json:"evictions"`
	Expirations int64  `json:"expirations"`
}

// Store is a thread-safe expiring key/value cache with a capacity bound.
//
// When full, the entry created earliest is evicted. Reads never change the
// eviction order, so this is insertion-ordered, not LRU. Expired entries are
// removed on access and by a periodic sweep.
type Store[V any] struct {
	mu    sync.Mutex // guards order, tags and the entries they hold
	order *simplelru.LRU[string, *Entry[V]]
	tags  *tagIndex

	cfg      Config
	name     string
	clock    clockwork.Clock
	onExpire func(key string, value V)
	mirror   Mirror
	loads    singleflight.Group

	mirrorSeq   uint64            // guarded by mu
	pending     map[string]uint64 // key -> seq of its outstanding mirror write, guarded by mu
	mirrorLocks [mirrorStripes]sync.Mutex

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a store and starts its sweep goroutine. Call Close to stop it.
func New[V any](cfg Config, opts ...Option[V]) (*Store[V], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	// The list is only ever read through Peek, so its recency order is the
	// creation order. Eviction is done by hand before Add so the list never
	// evicts on its own.
	order, err := simplelru.NewLRU[string, *Entry[V]](cfg.MaxSize+1, nil)
	if err != nil {
		return nil, err
	}

	s := &Store[V]{
		order:    order,
		tags:     newTagIndex(),
		pending:  make(map[string]uint64),
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		onExpire: func(string, V) {},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.DisableSweep {
		close(s.done)
	} else {
		go s.sweepLoop(cfg.CleanupInterval)
	}
	return s, nil
}

// Set stores value under key with the default TTL.
func (s *Store[V]) Set(key string, value V) {
	s.set(key, value, 0, nil)
}

// SetWithTTL stores value under key. A non-positive ttl selects the default.
func (s *Store[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	s.set(key, value, ttl, nil)
}

// SetWithTags stores value and registers key under each tag, replacing any
// tags from a previous Set.
func (s *Store[V]) SetWithTags(key string, value V, ttl time.Duration, tags ...string) {
	s.set(key, value, ttl, tags)
}

func (s *Store[V]) set(key string, value V, ttl time.Duration, tags []string) {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	now := s.clock.Now()
	entry := &Entry[V]{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		SizeBytes: estimateSize(value),
	}

	s.mu.Lock()
	s.insertLocked(entry, tags)
	seq := s.queueMirrorLocked(key)
	s.mu.Unlock()

	s.applyMirror(key, seq, func(ctx context.Context, m Mirror) {
		m.Set(ctx, key, value, ttl)
	})
}

// insertLocked adds or replaces entry, evicting the oldest entry when a new
// key would exceed MaxSize. Must be called with mu held.
func (s *Store[V]) insertLocked(entry *Entry[V], tags []string) {
	key := entry.Key
	if !s.order.Contains(key) && s.order.Len() >= s.cfg.MaxSize {
		s.evictOldestLocked()
	}
	s.tags.remove(key)
	s.order.Add(key, entry)
	s.tags.add(key, tags)
}

// evictOldestLocked removes the entry created earliest. Must be called with mu held.
func (s *Store[V]) evictOldestLocked() {
	key, _, ok := s.order.RemoveOldest()
	if !ok {
		return
	}
	s.tags.remove(key)
	s.evictions.Add(1)
}

// removeLocked removes key and its tag registrations. Must be called with mu held.
func (s *Store[V]) removeLocked(key string) bool {
	s.tags.remove(key)
	return s.order.Remove(key)
}

// Get returns the value for key, counting a hit or a miss. Expired entries are
// deleted and reported as misses.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.order.Peek(key)
	if !ok {
		s.misses.Add(1)
		return zero, false
	}
	if entry.expired(now) {
		s.removeLocked(key)
		s.expirations.Add(1)
		s.misses.Add(1)
		return zero, false
	}
	entry.Hits++
	s.hits.Add(1)
	return entry.Value, true
}

// Has reports whether key holds a live entry without affecting hit/miss counters.
func (s *Store[V]) Has(key string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.order.Peek(key)
	if !ok {
		return false
	}
	if entry.expired(now) {
		s.removeLocked(key)
		s.expirations.Add(1)
		return false
	}
	return true
}

// Peek returns a copy of the live entry for key without counting a hit or miss.
func (s *Store[V]) Peek(key string) (Entry[V], bool) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.order.Peek(key)
	if !ok || entry.expired(now) {
		return Entry[V]{}, false
	}
	return *entry, true
}

// Delete removes key. It returns false when there was nothing to remove.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	removed := s.removeLocked(key)
	seq := s.queueMirrorLocked(key)
	s.mu.Unlock()

	s.applyMirror(key, seq, func(ctx context.Context, m Mirror) {
		m.Delete(ctx, key)
	})
	return removed
}

// Clear removes every entry and tag and resets the hit and miss counters.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.order.Purge()
	s.tags.reset()
	s.hits.Store(0)
	s.misses.Store(0)
	s.mu.Unlock()
}

// Touch extends the expiry of a live entry to now+ttl without changing its
// value. It returns false when the key is absent or already expired.
func (s *Store[V]) Touch(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	now := s.clock.Now()

	s.mu.Lock()
	entry, ok := s.order.Peek(key)
	if !ok {
		s.mu.Unlock()
		return false
	}
	if entry.expired(now) {
		s.removeLocked(key)
		s.expirations.Add(1)
		s.mu.Unlock()
		return false
	}
	entry.ExpiresAt = now.Add(ttl)
	value := entry.Value
	seq := s.queueMirrorLocked(key)
	s.mu.Unlock()

	s.applyMirror(key, seq, func(ctx context.Context, m Mirror) {
		m.Set(ctx, key, value, ttl)
	})
	return true
}

// GetOrSet returns the cached value for key, or calls factory, caches its
// result and returns it. The store lock is not held while factory runs, and
// factory errors are returned without caching anything.
//
// Unless DedupeLoads is set, concurrent misses for the same key each call
// factory once. With DedupeLoads, concurrent misses share one call made with
// the first caller's context; the others stop waiting when their own context
// is done.
func (s *Store[V]) GetOrSet(ctx context.Context, key string, factory func(context.Context) (V, error), ttl time.Duration) (V, error) {
	return s.GetOrSetWithTags(ctx, key, factory, ttl)
}

// GetOrSetWithTags is GetOrSet that registers tags for a freshly loaded value.
func (s *Store[V]) GetOrSetWithTags(ctx context.Context, key string, factory func(context.Context) (V, error), ttl time.Duration, tags ...string) (V, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	if !s.cfg.DedupeLoads {
		return s.load(ctx, key, factory, ttl, tags)
	}

	var zero V
	ch := s.loads.DoChan(key, func() (any, error) {
		return s.load(ctx, key, factory, ttl, tags)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Store[V]) load(ctx context.Context, key string, factory func(context.Context) (V, error), ttl time.Duration, tags []string) (V, error) {
	v, err := factory(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	s.set(key, v, ttl, tags)
	return v, nil
}

// InvalidateByTag deletes every entry registered under tag, then drops the
// tag. Keys that are already gone are skipped. Returns the number of entries
// removed.
func (s *Store[V]) InvalidateByTag(tag string) int {
	return s.InvalidateByTags(tag)
}

// InvalidateByTags deletes every entry registered under any of tags. Each key
// is counted once.
func (s *Store[V]) InvalidateByTags(tags ...string) int {
	s.mu.Lock()
	seen := make(map[string]struct{})
	var removed []string
	var seqs []uint64
	for _, tag := range tags {
		for _, key := range s.tags.keys(tag) {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if s.removeLocked(key) {
				removed = append(removed, key)
				seqs = append(seqs, s.queueMirrorLocked(key))
			}
		}
		delete(s.tags.byTag, tag)
	}
	s.mu.Unlock()

	for i, key := range removed {
		s.applyMirror(key, seqs[i], func(ctx context.Context, m Mirror) {
			m.Delete(ctx, key)
		})
	}
	if len(removed) > 0 {
		logging.Debug("cache tags invalidated",
			zap.String("store", s.name),
			zap.Strings("tags", tags),
			zap.Int("removed", len(removed)),
		)
	}
	return len(removed)
}

// TagsFor returns the tags key is registered under.
func (s *Store[V]) TagsFor(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags.tagsFor(key)
}

// Tags returns the registered tag names in sorted order.
func (s *Store[V]) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags.names()
}

// Keys returns live keys, oldest first.
func (s *Store[V]) Keys() []string {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.order.Keys()
	out := keys[:0]
	for _, k := range keys {
		if e, ok := s.order.Peek(k); ok && !e.expired(now) {
			out = append(out, k)
		}
	}
	return out
}

// Len returns the number of stored entries, including expired entries not yet
// removed. It never exceeds MaxSize.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Stats returns a point-in-time view of the store counters.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	var bytes int64
	for _, e := range s.order.Values() {
		bytes += int64(e.SizeBytes)
	}
	st := Stats{
		Name:    s.name,
		Entries: s.order.Len(),
		MaxSize: s.cfg.MaxSize,
		Tags:    len(s.tags.byTag),
		Bytes:   bytes,
	}
	s.mu.Unlock()

	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	st.Evictions = s.evictions.Load()
	st.Expirations = s.expirations.Load()
	return st
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (s *Store[V]) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		logging.Debug("cache store closed", zap.String("store", s.name))
	})
	return nil
}
