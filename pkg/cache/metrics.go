package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis, postgres)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_cache_hits_total",
			Help: "Total number of market data cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses, expired entries included
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_cache_misses_total",
			Help: "Total number of market data cache misses",
		},
		[]string{"layer"},
	)

	// CacheWrites tracks successful cache writes
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_cache_writes_total",
			Help: "Total number of market data cache writes",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks backend errors that were downgraded to misses or dropped writes
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"layer", "operation"}, // "get", "set", "delete", "marshal"
	)
)
