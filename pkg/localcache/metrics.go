package localcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// localHits tracks in-process cache hits by freshness.
	localHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cda_local_cache_hits_total",
			Help: "Total number of local cache hits",
		},
		[]string{"freshness"}, // "fresh", "stale"
	)

	// localMisses tracks in-process cache misses (absent or expired).
	localMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_local_cache_misses_total",
			Help: "Total number of local cache misses",
		},
	)

	// localEvictions tracks capacity evictions.
	localEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_local_cache_evictions_total",
			Help: "Total number of local cache capacity evictions",
		},
	)

	// localEntries tracks the current number of retained entries.
	localEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cda_local_cache_entries",
			Help: "Current number of entries retained in the local cache",
		},
	)
)
