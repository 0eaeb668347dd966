package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts responses served from Redis
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	// CacheMisses counts lookups that found nothing
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheStoredBytes counts bytes written to the cache
	CacheStoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_cache_stored_bytes_total",
			Help: "Total bytes of response bodies written to the cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "scan"
	)
)
