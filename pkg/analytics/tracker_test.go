package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/store"
)

var testAt = time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC)

func newTestTracker() (*Tracker, *store.MemoryBackend) {
	backend := store.NewMemoryBackend()
	st := store.NewWithBackend(backend, 0, zerolog.Nop())
	return New(st, zerolog.Nop()), backend
}

func trackAndWait(t *testing.T, tr *Tracker, events ...Event) {
	t.Helper()
	for _, e := range events {
		tr.Track(e)
	}
	tr.Wait()
}

func TestTracker_RecordsAllCounters(t *testing.T) {
	tr, backend := newTestTracker()
	ctx := context.Background()

	trackAndWait(t, tr, Event{
		Endpoint: "/api/prices",
		Status:   200,
		APIKey:   "key-1",
		ClientIP: "203.0.113.7",
		Latency:  120 * time.Millisecond,
		At:       testAt,
	})

	wantCounters := map[string]string{
		"cda:stats:total":                         "1",
		"cda:stats:day:2026-01-15":                "1",
		"cda:stats:hour:2026-01-15T14":            "1",
		"cda:stats:endpoint:2026-01-15:/api/prices": "1",
		"cda:stats:status:2026-01-15:200":         "1",
		"cda:stats:latency:sum:2026-01-15":        "120",
		"cda:stats:latency:count:2026-01-15":      "1",
	}
	for key, want := range wantCounters {
		got, err := backend.Get(ctx, key)
		if err != nil || got != want {
			t.Errorf("%s = (%q, %v), want %q", key, got, err, want)
		}
	}

	keys, err := backend.PFCount(ctx, "cda:stats:keys:2026-01-15")
	if err != nil || keys != 1 {
		t.Errorf("unique keys = (%d, %v), want 1", keys, err)
	}
	ips, err := backend.PFCount(ctx, "cda:stats:ips:2026-01-15")
	if err != nil || ips != 1 {
		t.Errorf("unique ips = (%d, %v), want 1", ips, err)
	}
}

func TestTracker_DatedKeysCarryRetention(t *testing.T) {
	tr, backend := newTestTracker()

	trackAndWait(t, tr, Event{Endpoint: "/api/prices", Status: 200, At: testAt})

	for _, key := range []string{
		"cda:stats:day:2026-01-15",
		"cda:stats:hour:2026-01-15T14",
		"cda:stats:endpoint:2026-01-15:/api/prices",
		"cda:stats:status:2026-01-15:200",
		"cda:stats:latency:sum:2026-01-15",
		"cda:stats:latency:count:2026-01-15",
	} {
		ttl, ok := backend.TTL(key)
		if !ok {
			t.Errorf("%s has no TTL, want 30d retention", key)
			continue
		}
		if ttl <= 29*24*time.Hour || ttl > 30*24*time.Hour {
			t.Errorf("%s TTL = %v, want close to 30d", key, ttl)
		}
	}

	// The global total never expires.
	if _, ok := backend.TTL("cda:stats:total"); ok {
		t.Error("global total should carry no TTL")
	}
}

func TestTracker_RetentionAnchoredToFirstWrite(t *testing.T) {
	tr, backend := newTestTracker()
	now := testAt
	backend.Now = func() time.Time { return now }

	trackAndWait(t, tr, Event{Endpoint: "/a", Status: 200, At: testAt})
	first, _ := backend.TTL("cda:stats:day:2026-01-15")

	// A later event on the same day must not push the expiry out.
	now = now.Add(time.Hour)
	trackAndWait(t, tr, Event{Endpoint: "/a", Status: 200, At: testAt.Add(time.Hour)})
	second, _ := backend.TTL("cda:stats:day:2026-01-15")

	if second > first-time.Hour+time.Minute {
		t.Errorf("retention moved from %v to %v, want anchored to first write", first, second)
	}
}

func TestTracker_Summarize(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	trackAndWait(t, tr,
		Event{Endpoint: "/api/prices", Status: 200, APIKey: "key-1", ClientIP: "203.0.113.7", Latency: 100 * time.Millisecond, At: testAt},
		Event{Endpoint: "/api/prices", Status: 200, APIKey: "key-2", ClientIP: "203.0.113.8", Latency: 300 * time.Millisecond, At: testAt},
		Event{Endpoint: "/api/news", Status: 404, APIKey: "key-1", ClientIP: "203.0.113.7", Latency: 50 * time.Millisecond, At: testAt},
	)

	s, err := tr.Summarize(ctx, "2026-01-15")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if s.TotalRequests != 3 || s.DayRequests != 3 {
		t.Errorf("totals = (%d, %d), want (3, 3)", s.TotalRequests, s.DayRequests)
	}
	if s.UniqueAPIKeys != 2 {
		t.Errorf("UniqueAPIKeys = %d, want 2", s.UniqueAPIKeys)
	}
	if s.UniqueIPs != 2 {
		t.Errorf("UniqueIPs = %d, want 2", s.UniqueIPs)
	}
	if s.AvgLatencyMs != 150 {
		t.Errorf("AvgLatencyMs = %f, want 150", s.AvgLatencyMs)
	}
}

func TestTracker_SummarizeEmptyDay(t *testing.T) {
	tr, _ := newTestTracker()

	s, err := tr.Summarize(context.Background(), "2026-01-01")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.DayRequests != 0 || s.UniqueAPIKeys != 0 || s.AvgLatencyMs != 0 {
		t.Errorf("empty day summary = %+v, want zeros", s)
	}
}

func TestTracker_StoreFailureNeverSurfaces(t *testing.T) {
	tr, backend := newTestTracker()
	backend.SetErr(errors.New("connection refused"))

	// Must not panic or block; the event is dropped.
	trackAndWait(t, tr, Event{Endpoint: "/api/prices", Status: 200, At: testAt})

	if _, err := tr.Summarize(context.Background(), "2026-01-15"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Summarize during outage = %v, want ErrUnavailable", err)
	}
}

func TestTracker_DisabledStoreDropsEvents(t *testing.T) {
	st := store.NewWithBackend(nil, 0, zerolog.Nop())
	tr := New(st, zerolog.Nop())

	trackAndWait(t, tr, Event{Endpoint: "/api/prices", Status: 200})

	if _, err := tr.Summarize(context.Background(), DateKey(time.Now())); err == nil {
		t.Error("Summarize on a disabled store should fail")
	}
}

func TestTracker_AnonymousEventSkipsUniqueSets(t *testing.T) {
	tr, backend := newTestTracker()
	ctx := context.Background()

	trackAndWait(t, tr, Event{Endpoint: "/api/prices", Status: 200, At: testAt})

	keys, _ := backend.PFCount(ctx, "cda:stats:keys:2026-01-15")
	if keys != 0 {
		t.Errorf("unique keys = %d, want 0 for anonymous event", keys)
	}
}
