// Package cache provides the in-memory L1 cache used for venue symbol
// metadata (tick sizes, step sizes, client-order-id caps). The hot path never
// hits a venue API for metadata; it is warmed at startup and refreshed on
// precision updates.
package cache

import "time"

// Cache is a small get/set interface so tests can swap implementations.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration) bool
	Delete(key string)
	Close()
}
