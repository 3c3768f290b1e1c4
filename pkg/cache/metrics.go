package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHitsTotal counts cache hits.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_cache_hits_total",
		Help: "Total symbol-metadata cache hits",
	})

	// CacheMissesTotal counts cache misses.
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_cache_misses_total",
		Help: "Total symbol-metadata cache misses",
	})

	// CacheSetsTotal counts successful cache writes.
	CacheSetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_cache_sets_total",
		Help: "Total symbol-metadata cache writes",
	})
)
