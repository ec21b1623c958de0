// Package metrics provides the centralized Prometheus metrics registry for
// the aggregator core. All metrics are defined in their respective packages
// (localcache, store, cache, ratelimit, analytics) to maintain modularity
// and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the aggregator.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Local Cache Metrics (pkg/localcache):
//   - cda_local_cache_hits_total{freshness} (Counter): Local hits by freshness (fresh, stale)
//   - cda_local_cache_misses_total (Counter): Local misses
//   - cda_local_cache_evictions_total (Counter): Capacity evictions
//   - cda_local_cache_entries (Gauge): Retained entries
//
// Shared Store Metrics (pkg/store):
//   - cda_store_errors_total{operation} (Counter): Backend failures by operation
//   - cda_store_available (Gauge): Whether the shared store is currently usable
//   - cda_store_recoveries_total (Counter): Transitions from gated back to available
//
// Orchestrator Metrics (pkg/cache):
//   - cda_cache_hits_total{layer} (Counter): Hits by layer (local, remote)
//   - cda_cache_misses_total (Counter): Misses requiring an upstream fetch
//   - cda_cache_stale_served_total (Counter): Stale values served while refreshing
//   - cda_cache_refreshes_total (Counter): Background refreshes started
//   - cda_cache_fetch_failures_total (Counter): Upstream fetch failures
//   - cda_cache_last_resort_total (Counter): Hard-expired values served after fetch failure
//
// Rate Limit Metrics (pkg/ratelimit):
//   - cda_ratelimit_checks_total{tier, outcome} (Counter): Decisions by tier and outcome
//   - cda_ratelimit_degraded_total (Counter): Decisions served by the local fallback
//
// Analytics Metrics (pkg/analytics):
//   - cda_analytics_events_total (Counter): Usage events tracked
//   - cda_analytics_dropped_total (Counter): Events dropped due to store failures
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(cda_cache_hits_total[5m])) /
//   (sum(rate(cda_cache_hits_total[5m])) + sum(rate(cda_cache_misses_total[5m])))
//
//   # Stale Serve Ratio
//   rate(cda_cache_stale_served_total[5m]) / rate(cda_cache_hits_total{layer="local"}[5m])
//
//   # Store Outage
//   cda_store_available == 0
//
//   # Rate Limit Denial Rate
//   sum(rate(cda_ratelimit_checks_total{outcome="denied"}[5m]))
//
//   # Analytics Drop Rate
//   rate(cda_analytics_dropped_total[5m]) / rate(cda_analytics_events_total[5m])
