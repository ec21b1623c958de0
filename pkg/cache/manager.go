package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/localcache"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/store"
)

// DefaultFetchTimeout bounds every upstream fetch, foreground or background.
const DefaultFetchTimeout = 10 * time.Second

// remotePrefix namespaces orchestrator keys in the shared store.
const remotePrefix = "cda:cache:"

// FetchFunc loads a value from the upstream. The orchestrator never
// interprets the returned bytes.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Manager is the read-through cache orchestrator. It layers a per-process
// local cache over an optional shared store and de-duplicates concurrent
// fetches for the same key.
type Manager struct {
	local  *localcache.Cache
	remote *store.Store
	logger zerolog.Logger

	group     singleflight.Group
	refreshWG sync.WaitGroup

	fetchTimeout time.Duration
	now          func() time.Time
}

// NewManager creates an orchestrator over the given layers. remote may be a
// disabled store, in which case the orchestrator runs local-only.
func NewManager(local *localcache.Cache, remote *store.Store, logger zerolog.Logger) *Manager {
	if local == nil {
		panic("local cache cannot be nil")
	}
	return &Manager{
		local:        local,
		remote:       remote,
		logger:       logger,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
}

func remoteKey(key string) string {
	return remotePrefix + key
}

// WithCache returns the value for key, fetching it through fetch when no
// cached value can serve. A stale local value is returned immediately while
// a background refresh repopulates both layers. When the fetch fails, a
// value still inside its retention window is served as a last resort;
// otherwise an *UpstreamError wrapping the fetch failure is returned.
func (m *Manager) WithCache(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	if value, stale, ok := m.local.Get(key); ok {
		cacheHits.WithLabelValues("local").Inc()
		if stale {
			staleServed.Inc()
			m.refreshAsync(key, ttl, fetch)
		}
		return value, nil
	}

	// The remote value doubles as the last-resort fallback when it has
	// logically expired but is still inside its retention window.
	var fallback []byte
	if entry, err := m.remoteGet(ctx, key); err == nil {
		now := m.now()
		if entry.Fresh(now) {
			cacheHits.WithLabelValues("remote").Inc()
			m.local.Set(key, entry.Value, entry.Remaining(now))
			return entry.Value, nil
		}
		if entry.Usable(now) {
			fallback = entry.Value
		}
	}

	cacheMisses.Inc()

	value, err := m.fetchShared(key, ttl, fetch)
	if err == nil {
		return value, nil
	}

	if stale, ok := m.local.GetLastResort(key); ok {
		lastResortServed.Inc()
		m.logger.Warn().Err(err).Str("key", key).Msg("Upstream fetch failed - serving expired local value")
		return stale, nil
	}
	if fallback != nil {
		lastResortServed.Inc()
		m.logger.Warn().Err(err).Str("key", key).Msg("Upstream fetch failed - serving expired shared value")
		return fallback, nil
	}
	return nil, &UpstreamError{Key: key, Err: err}
}

// fetchShared runs fetch once per key per process; concurrent callers wait
// on the same flight. The flight context is detached from any single
// caller, so one caller's cancellation cannot fail everyone waiting.
func (m *Manager) fetchShared(key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	value, err, _ := m.group.Do(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), m.fetchTimeout)
		defer cancel()

		data, err := fetch(ctx)
		if err != nil {
			fetchFailures.Inc()
			return nil, err
		}
		m.storeBoth(ctx, key, data, ttl)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// refreshAsync starts a fire-and-forget refresh. Errors are swallowed: the
// stale value already served remains in place and the next stale hit tries
// again.
func (m *Manager) refreshAsync(key string, ttl time.Duration, fetch FetchFunc) {
	backgroundRefreshes.Inc()
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		if _, err := m.fetchShared(key, ttl, fetch); err != nil {
			m.logger.Debug().Err(err).Str("key", key).Msg("Background refresh failed - stale value remains")
		}
	}()
}

// storeBoth writes the value through both layers. A shared-store failure is
// logged and absorbed: the local write already succeeded and the caller has
// a valid value.
func (m *Manager) storeBoth(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.local.Set(key, value, ttl)
	if !m.remote.Enabled() {
		return
	}

	entry := newEntry(value, m.now(), ttl)
	data, err := json.Marshal(entry)
	if err != nil {
		m.logger.Error().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return
	}
	// Physical TTL is twice the logical TTL so the value survives long
	// enough for last-resort reads.
	if err := m.remote.SetWithTTL(ctx, remoteKey(key), string(data), retentionFactor*ttl); err != nil {
		m.logger.Debug().Err(err).Str("key", key).Msg("Shared store write skipped")
	}
}

func (m *Manager) remoteGet(ctx context.Context, key string) (*Entry, error) {
	if !m.remote.Enabled() {
		return nil, store.ErrUnavailable
	}
	raw, err := m.remote.Get(ctx, remoteKey(key))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrUnavailable) {
			m.logger.Debug().Err(err).Str("key", key).Msg("Shared store read failed")
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Invalidate removes key from both layers.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	m.local.Delete(key)
	if !m.remote.Enabled() {
		return nil
	}
	return m.remote.Del(ctx, remoteKey(key))
}

// Wait blocks until all background refreshes have finished. Intended for
// graceful shutdown and tests.
func (m *Manager) Wait() {
	m.refreshWG.Wait()
}

// Stats is the introspection snapshot exposed by operational dashboards.
type Stats struct {
	Local           localcache.Stats `json:"local"`
	LocalKeys       []string         `json:"localKeys"`
	RemoteBackend   string           `json:"remoteBackend"`
	RemoteAvailable bool             `json:"remoteAvailable"`
	RemoteKeys      int64            `json:"remoteKeys"`
}

// Stats reports local cache counters plus shared-store connectivity and
// approximate key count when a backend is reachable.
func (m *Manager) Stats(ctx context.Context) Stats {
	s := Stats{
		Local:           m.local.Stats(),
		LocalKeys:       m.local.Keys(),
		RemoteBackend:   m.remote.Name(),
		RemoteAvailable: m.remote.Available(),
	}
	if s.RemoteAvailable {
		if n, err := m.remote.DBSize(ctx); err == nil {
			s.RemoteKeys = n
		}
	}
	return s
}
