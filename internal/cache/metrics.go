package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	evictReasonCapacity = "capacity"
	evictReasonIdle     = "idle"
	evictReasonDelete   = "delete"
	evictReasonPurge    = "purge"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_cache_hits_total",
		Help: "Bounded cache lookups served from memory",
	}, []string{"cache"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_cache_misses_total",
		Help: "Bounded cache lookups that found no entry",
	}, []string{"cache"})

	cacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_cache_evictions_total",
		Help: "Bounded cache entries removed, by reason",
	}, []string{"cache", "reason"})

	cacheFetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_cache_fetch_errors_total",
		Help: "GetOrFetch fetcher failures",
	}, []string{"cache"})

	cacheSharedFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_cache_shared_fetches_total",
		Help: "GetOrFetch callers that joined an in-flight fetch",
	}, []string{"cache"})

	cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedsync_cache_entries",
		Help: "Current number of bounded cache entries",
	}, []string{"cache"})
)
