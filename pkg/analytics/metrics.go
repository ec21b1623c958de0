package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts events handed to Track
	eventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_analytics_events_total",
			Help: "Total number of usage events tracked",
		},
	)

	// droppedEvents counts events that could not be recorded
	droppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cda_analytics_dropped_total",
			Help: "Total number of usage events dropped due to store failures",
		},
	)
)
