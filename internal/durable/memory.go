package durable

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryKV is an in-process medium with a bounded number of records and an
// optional per-record quota, standing in for browser-style local storage.
// The least recently used record is dropped when the medium is full.
type MemoryKV struct {
	items        *lru.Cache[string, []byte]
	maxItemBytes int
}

// NewMemoryKV creates a medium holding at most maxEntries records. A positive
// maxItemBytes rejects larger records with ErrQuotaExceeded.
func NewMemoryKV(maxEntries, maxItemBytes int) (*MemoryKV, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	items, err := lru.New[string, []byte](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemoryKV{items: items, maxItemBytes: maxItemBytes}, nil
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.items.Get(key)
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	if m.maxItemBytes > 0 && len(value) > m.maxItemBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrQuotaExceeded, len(value), m.maxItemBytes)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	m.items.Add(key, buf)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.items.Remove(key)
	return nil
}

// Len returns the number of stored records.
func (m *MemoryKV) Len() int {
	return m.items.Len()
}
