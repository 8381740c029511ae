package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier (fast, durable).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_cache_hits_total",
			Help: "Total number of sticker cache hits",
		},
		[]string{"tier"},
	)

	// CacheMisses tracks lookups that missed both tiers.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sticker_cache_misses_total",
			Help: "Total number of sticker cache misses",
		},
	)

	// CacheStoredBytes tracks bytes written to a tier.
	CacheStoredBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_cache_stored_bytes_total",
			Help: "Total bytes written to the sticker cache",
		},
		[]string{"tier"},
	)

	// CacheErrors tracks cache operation errors by tier and operation.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"tier", "operation"},
	)

	// CachePromotions tracks durable-tier hits copied into the fast tier.
	CachePromotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sticker_cache_promotions_total",
			Help: "Total number of durable-tier records promoted to the fast tier",
		},
	)

	// CacheEvictions tracks durable-tier evictions by reason (expired, capacity).
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_cache_evictions_total",
			Help: "Total number of durable-tier evictions",
		},
		[]string{"reason"},
	)
)
