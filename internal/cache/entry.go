package cache

import (
	"time"

	"github.com/goccy/go-json"
)

// Entry is a cached value together with its bookkeeping.
type Entry[V any] struct {
	Key       string    `json:"key"`
	Value     V         `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Hits      int64     `json:"hits"`
	SizeBytes int       `json:"size_bytes"` // estimated JSON size, reporting only
}

func (e *Entry[V]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// estimateSize returns the JSON-encoded size of v, or 0 when v cannot be encoded.
func estimateSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
