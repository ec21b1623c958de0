package cache

import (
	"encoding/json"
	"time"
)

// retentionFactor is how long past its logical TTL a shared-store value
// remains usable as a last resort, as a multiple of the TTL. It matches the
// local cache's retention window.
const retentionFactor = 2

// Entry is the envelope written to the shared store. The physical key TTL
// is retentionFactor times the logical TTL, so freshness is judged from the
// embedded timestamp rather than from key existence.
type Entry struct {
	// Value is the cached payload, opaque to the orchestrator.
	Value json.RawMessage `json:"value"`

	// StoredAt is when the value was written.
	StoredAt time.Time `json:"storedAt"`

	// TTLSeconds is the logical freshness window.
	TTLSeconds int64 `json:"ttlSeconds"`
}

func newEntry(value []byte, now time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Value:      value,
		StoredAt:   now,
		TTLSeconds: int64(ttl.Seconds()),
	}
}

// TTL returns the logical freshness window.
func (e *Entry) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Fresh reports whether the entry is inside its logical TTL.
func (e *Entry) Fresh(now time.Time) bool {
	return e.Age(now) < e.TTL()
}

// Usable reports whether the entry is inside its retention window and may
// still be served as a last resort.
func (e *Entry) Usable(now time.Time) bool {
	return e.Age(now) < retentionFactor*e.TTL()
}

// Remaining returns the unexpired part of the logical TTL, so a local cache
// repopulated from this entry expires at the same moment everywhere.
// Returns 0 when the entry is no longer fresh.
func (e *Entry) Remaining(now time.Time) time.Duration {
	remaining := e.TTL() - e.Age(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
