package cache

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
)

const mirrorStripes = 64

// queueMirrorLocked records that the latest store write to key has a mirror
// write outstanding and returns its sequence number. Must be called with mu held.
func (s *Store[V]) queueMirrorLocked(key string) uint64 {
	if s.mirror == nil {
		return 0
	}
	s.mirrorSeq++
	s.pending[key] = s.mirrorSeq
	return s.mirrorSeq
}

// applyMirror runs write unless a later store write to key was queued after
// seq. Mirror writes to one key are serialized, so the medium always ends up
// with the outcome of the last store write to that key.
func (s *Store[V]) applyMirror(key string, seq uint64, write func(ctx context.Context, m Mirror)) {
	if s.mirror == nil {
		return
	}
	lock := &s.mirrorLocks[xxhash.Sum64String(key)%mirrorStripes]
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	current := s.pending[key] == seq
	s.mu.Unlock()
	if !current {
		return
	}

	write(context.Background(), s.mirror)

	s.mu.Lock()
	if s.pending[key] == seq {
		delete(s.pending, key)
	}
	s.mu.Unlock()
}

// Warm inserts a value read back from the durable medium. The entry keeps the
// expiry recorded there and nothing is written back to the mirror. Warm does
// nothing and returns false when expiresAt has passed or a write to key is
// still on its way to the mirror.
func (s *Store[V]) Warm(key string, value V, expiresAt time.Time, tags ...string) bool {
	now := s.clock.Now()
	if !expiresAt.After(now) {
		return false
	}
	entry := &Entry[V]{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		SizeBytes: estimateSize(value),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.pending[key]; busy {
		return false
	}
	s.insertLocked(entry, tags)
	return true
}
