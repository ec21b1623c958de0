package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// checksTotal tracks decisions by surfaced tier and outcome
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cda_ratelimit_checks_total",
			Help: "Total number of rate limit checks by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	// degradedChecks counts decisions made by the local fallback
	degradedChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_ratelimit_degraded_total",
			Help: "Total number of rate limit checks served by the local fallback",
		},
	)
)
