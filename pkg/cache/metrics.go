package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"}, // "memory", "bigcache"
	)

	// CacheMisses tracks cache misses (absent or expired) by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	// CacheKeys tracks the number of stored keys by backend
	CacheKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_cache_keys",
			Help: "Current number of keys in the cache",
		},
		[]string{"backend"},
	)

	// CacheEvictions tracks removed entries by backend and reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_evictions_total",
			Help: "Total number of cache entries removed",
		},
		[]string{"backend", "reason"}, // "expired", "flush"
	)
)
