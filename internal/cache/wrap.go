package cache

import (
	"context"
	"time"
)

// Wrap returns a function that serves fn's results from store. keyFn derives
// the cache key from the argument; results are stored with ttl and tags.
// Errors from fn are returned and never cached.
func Wrap[A any, V any](store *Store[V], keyFn func(A) string, fn func(context.Context, A) (V, error), ttl time.Duration, tags ...string) func(context.Context, A) (V, error) {
	return func(ctx context.Context, arg A) (V, error) {
		return store.GetOrSetWithTags(ctx, keyFn(arg), func(ctx context.Context) (V, error) {
			return fn(ctx, arg)
		}, ttl, tags...)
	}
}
