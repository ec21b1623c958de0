// Package analytics provides fire-and-forget usage counters over the shared
// store. Tracking runs strictly after the request it describes and its
// failures are swallowed: the request path is never affected.
//
// Each event updates a global total, per-day, per-hour, per-endpoint-day,
// and per-status-day counters plus a latency sum/count, batched into one
// pipelined round trip. Unique clients are counted with the store's
// constant-memory approximate-set structure. Dated keys carry a fixed
// 30-day retention TTL set at first write, so history self-expires without
// a cleanup job.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/store"
)

const (
	// keyPrefix namespaces analytics keys in the shared store.
	keyPrefix = "cda:stats:"

	// retention is how long dated keys live. Set once at first write.
	retention = 30 * 24 * time.Hour

	// recordTimeout bounds one tracking round trip.
	recordTimeout = 5 * time.Second
)

// Event describes one completed request.
type Event struct {
	Endpoint string
	Status   int
	APIKey   string
	ClientIP string
	Latency  time.Duration

	// At is when the request completed. Zero means now.
	At time.Time
}

// Summary is the per-day rollup served to dashboards.
type Summary struct {
	Date          string  `json:"date"`
	TotalRequests int64   `json:"totalRequests"`
	DayRequests   int64   `json:"dayRequests"`
	UniqueAPIKeys int64   `json:"uniqueApiKeys"`
	UniqueIPs     int64   `json:"uniqueIps"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
}

// Tracker records usage events in the shared store.
type Tracker struct {
	store  *store.Store
	logger zerolog.Logger

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a tracker. st may be a disabled store, in which case events
// are counted as dropped and discarded.
func New(st *store.Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// DateKey formats t as the dateKey used by Summarize.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Track records the event asynchronously. It returns immediately; failures
// are logged and counted, never surfaced.
func (t *Tracker) Track(event Event) {
	eventsTotal.Inc()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := t.record(ctx, event); err != nil {
			droppedEvents.Inc()
			t.logger.Debug().Err(err).Str("endpoint", event.Endpoint).Msg("Usage event dropped")
		}
	}()
}

// record issues every counter update for one event in a single round trip.
func (t *Tracker) record(ctx context.Context, e Event) error {
	at := e.At
	if at.IsZero() {
		at = t.now()
	}
	date := DateKey(at)
	hour := at.UTC().Format("2006-01-02T15")

	pipe := t.store.Pipeline()
	pipe.Incr(keyPrefix + "total")

	dated := []string{
		keyPrefix + "day:" + date,
		keyPrefix + "hour:" + hour,
		keyPrefix + "endpoint:" + date + ":" + e.Endpoint,
		keyPrefix + "status:" + date + ":" + strconv.Itoa(e.Status),
	}
	for _, key := range dated {
		pipe.Incr(key)
		pipe.ExpireNX(key, retention)
	}

	latencySum := keyPrefix + "latency:sum:" + date
	latencyCount := keyPrefix + "latency:count:" + date
	pipe.IncrBy(latencySum, e.Latency.Milliseconds())
	pipe.ExpireNX(latencySum, retention)
	pipe.Incr(latencyCount)
	pipe.ExpireNX(latencyCount, retention)

	if e.APIKey != "" {
		key := keyPrefix + "keys:" + date
		pipe.PFAdd(key, e.APIKey)
		pipe.ExpireNX(key, retention)
	}
	if e.ClientIP != "" {
		key := keyPrefix + "ips:" + date
		pipe.PFAdd(key, e.ClientIP)
		pipe.ExpireNX(key, retention)
	}

	return pipe.Exec(ctx)
}

// Summarize reads the rollup for dateKey (format 2006-01-02) in one round
// trip.
func (t *Tracker) Summarize(ctx context.Context, dateKey string) (*Summary, error) {
	pipe := t.store.Pipeline()
	total := pipe.Get(keyPrefix + "total")
	day := pipe.Get(keyPrefix + "day:" + dateKey)
	keys := pipe.PFCount(keyPrefix + "keys:" + dateKey)
	ips := pipe.PFCount(keyPrefix + "ips:" + dateKey)
	latencySum := pipe.Get(keyPrefix + "latency:sum:" + dateKey)
	latencyCount := pipe.Get(keyPrefix + "latency:count:" + dateKey)

	if err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("summarize %s: %w", dateKey, err)
	}

	s := &Summary{
		Date:          dateKey,
		TotalRequests: counterValue(total),
		DayRequests:   counterValue(day),
		UniqueAPIKeys: keys.Val(),
		UniqueIPs:     ips.Val(),
	}
	if count := counterValue(latencyCount); count > 0 {
		s.AvgLatencyMs = float64(counterValue(latencySum)) / float64(count)
	}
	return s, nil
}

// Wait blocks until all in-flight events have been recorded. Intended for
// graceful shutdown and tests.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// counterValue parses a counter read as an integer; absent keys read 0.
func counterValue(res *store.StringResult) int64 {
	raw, ok := res.Val()
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
