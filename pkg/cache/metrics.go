package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks orchestrator hits by layer (local, remote)
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cda_cache_hits_total",
			Help: "Total number of cache hits by layer",
		},
		[]string{"layer"},
	)

	// cacheMisses tracks misses across both layers
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_cache_misses_total",
			Help: "Total number of cache misses requiring an upstream fetch",
		},
	)

	// staleServed counts stale values returned while a refresh runs
	staleServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_cache_stale_served_total",
			Help: "Total number of stale values served while refreshing in the background",
		},
	)

	// backgroundRefreshes counts fire-and-forget refreshes started
	backgroundRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_cache_refreshes_total",
			Help: "Total number of background refreshes started",
		},
	)

	// fetchFailures counts upstream fetch failures
	fetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_cache_fetch_failures_total",
			Help: "Total number of upstream fetch failures",
		},
	)

	// lastResortServed counts hard-expired values served after fetch failure
	lastResortServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_cache_last_resort_total",
			Help: "Total number of hard-expired values served as a last resort",
		},
	)
)
