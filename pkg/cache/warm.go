package cache

import (
	"context"
	"sync"
	"time"
)

// WarmSpec names one key to pre-populate.
type WarmSpec struct {
	Key   string
	TTL   time.Duration
	Fetch FetchFunc
}

// WarmResult reports the outcome of warming one key.
type WarmResult struct {
	Key string
	Err error
}

// Warm pre-populates the cache for the given specs using a bounded worker
// pool, so a cold process can front-load its hot keys without stampeding
// the upstream. Keys already fresh are skipped. Failures are collected per
// key rather than aborting the batch.
func (m *Manager) Warm(ctx context.Context, specs []WarmSpec, concurrency int) []WarmResult {
	if concurrency <= 0 {
		concurrency = 4
	}
	if concurrency > len(specs) {
		concurrency = len(specs)
	}

	start := time.Now()
	queue := make(chan WarmSpec, len(specs))
	results := make(chan WarmResult, len(specs))

	for _, spec := range specs {
		queue <- spec
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for spec := range queue {
				if ctx.Err() != nil {
					results <- WarmResult{Key: spec.Key, Err: ctx.Err()}
					continue
				}
				results <- WarmResult{Key: spec.Key, Err: m.warmOne(ctx, spec)}
			}
		}()
	}
	wg.Wait()
	close(results)

	out := make([]WarmResult, 0, len(specs))
	failures := 0
	for r := range results {
		if r.Err != nil {
			failures++
		}
		out = append(out, r)
	}

	m.logger.Info().
		Int("keys", len(specs)).
		Int("failures", failures).
		Dur("duration", time.Since(start)).
		Msg("Cache warm-up complete")
	return out
}

func (m *Manager) warmOne(ctx context.Context, spec WarmSpec) error {
	if _, stale, ok := m.local.Get(spec.Key); ok && !stale {
		return nil
	}
	_, err := m.WithCache(ctx, spec.Key, spec.TTL, spec.Fetch)
	return err
}
