package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeErrors tracks backend failures by operation.
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cda_store_errors_total",
			Help: "Total number of shared store operation failures",
		},
		[]string{"operation"},
	)

	// storeAvailable reports whether the shared store is currently usable
	// (1) or gated/disabled (0).
	storeAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cda_store_available",
			Help: "Whether the shared store is currently available",
		},
	)

	// storeRecoveries counts transitions from gated back to available.
	storeRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_store_recoveries_total",
			Help: "Total number of shared store recoveries after failure",
		},
	)
)
