package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/wudi/cachelayer/internal/logging"
)

// sweepLoop removes expired entries every interval until Close.
func (s *Store[V]) sweepLoop(interval time.Duration) {
	defer close(s.done)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}

// Sweep removes every expired entry and calls the OnExpire callback for each
// one after the store lock is released. It returns the number removed.
func (s *Store[V]) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	var expired []*Entry[V]
	for _, key := range s.order.Keys() {
		entry, ok := s.order.Peek(key)
		if !ok || !entry.expired(now) {
			continue
		}
		s.removeLocked(key)
		expired = append(expired, entry)
	}
	s.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	s.expirations.Add(int64(len(expired)))
	for _, e := range expired {
		s.onExpire(e.Key, e.Value)
	}
	logging.Debug("cache sweep removed expired entries",
		zap.String("store", s.name),
		zap.Int("expired", len(expired)),
	)
	return len(expired)
}
