package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoCache is the production Cache backed by ristretto.
type RistrettoCache struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// RistrettoConfig holds cache sizing. Costs are item counts, not bytes.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Logger      *zap.Logger
}

// NewRistrettoCache creates a ristretto-backed cache.
func NewRistrettoCache(cfg *RistrettoConfig) (Cache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	return &RistrettoCache{cache: cache, logger: cfg.Logger}, nil
}

// Get retrieves a value from the cache.
func (r *RistrettoCache) Get(key string) (any, bool) {
	value, found := r.cache.Get(key)
	if found {
		CacheHitsTotal.Inc()
	} else {
		CacheMissesTotal.Inc()
	}
	return value, found
}

// Set stores a value with a TTL. A zero TTL stores without expiry.
func (r *RistrettoCache) Set(key string, value any, ttl time.Duration) bool {
	var ok bool
	if ttl > 0 {
		ok = r.cache.SetWithTTL(key, value, 1, ttl)
	} else {
		ok = r.cache.Set(key, value, 1)
	}
	if ok {
		CacheSetsTotal.Inc()
	} else {
		r.logger.Debug("cache-set-rejected", zap.String("key", key))
	}
	return ok
}

// Delete removes a key.
func (r *RistrettoCache) Delete(key string) {
	r.cache.Del(key)
}

// Close releases cache resources.
func (r *RistrettoCache) Close() {
	r.cache.Close()
}
