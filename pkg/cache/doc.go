// Package cache provides the read-through cache orchestrator that shields
// slow, rate-limited upstreams.
//
// The orchestrator layers a per-process local cache over an optional shared
// remote store:
//
//   - Fresh local hit: returned immediately, no network call.
//   - Stale local hit: returned immediately while a background refresh
//     repopulates both layers.
//   - Local miss, remote hit: the local cache is repopulated from the
//     shared value.
//   - Miss everywhere: the caller-supplied fetch function runs once per key
//     per process (concurrent callers share one in-flight fetch) and the
//     result is written through both layers.
//   - Fetch failure: a value still inside its retention window (twice the
//     TTL) is served as a last resort before the failure surfaces.
//
// # Basic Usage
//
//	local := localcache.New(1000)
//	remote, _ := store.New(store.Config{RedisURL: "redis://localhost:6379"}, logger)
//	manager := cache.NewManager(local, remote, logger)
//
//	value, err := manager.WithCache(ctx, "btc-price", 30*time.Second, func(ctx context.Context) ([]byte, error) {
//		return fetchFromUpstream(ctx)
//	})
//
// TTLs are chosen by the caller per data-volatility class (live prices
// seconds, aggregates minutes, reference data hours); the orchestrator
// itself is TTL-agnostic.
//
// # Metrics
//
// The orchestrator exports Prometheus metrics:
//
//   - cda_cache_hits_total{layer} - hits by layer (local, remote)
//   - cda_cache_misses_total - misses across both layers
//   - cda_cache_stale_served_total - stale values returned while refreshing
//   - cda_cache_refreshes_total - background refreshes started
//   - cda_cache_fetch_failures_total - upstream fetch failures
//   - cda_cache_last_resort_total - hard-expired values served after fetch failure
package cache
