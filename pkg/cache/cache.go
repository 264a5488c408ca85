// Package cache holds short-lived decision caches keyed by string.
//
// Values are opaque bytes so the same callers work against the in-process
// MemoryCache and the shared RedisCache.
package cache

import "context"

// Cache stores values for a fixed TTL chosen at construction.
type Cache interface {
	// Get returns the value and true on a hit. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}
