// Package localcache provides a bounded, TTL-aware in-process key/value
// store. It is the per-worker layer of the cache hierarchy: fast, never
// authoritative across processes, and capped in size.
//
// Entries become stale at 80% of their TTL so callers can trigger a
// background refresh, hard-expire at the full TTL, and are retained
// (invisible to Get) until twice the TTL so the orchestrator can serve a
// last-resort value when every fetch path fails.
package localcache

import (
	"sync"
	"time"
)

// staleFraction is the fraction of an entry's TTL after which Get reports
// the value as stale.
const staleFraction = 0.8

// retentionFactor controls how long a hard-expired entry is retained for
// last-resort reads, as a multiple of its TTL.
const retentionFactor = 2

// DefaultSweepInterval is how often the background sweep purges entries
// past their retention window. Correctness does not depend on the sweep:
// Get performs the authoritative expiry check inline.
const DefaultSweepInterval = 60 * time.Second

// DefaultCapacity is the default maximum number of entries.
const DefaultCapacity = 1000

type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

// Cache is a bounded in-process cache. All methods are safe for concurrent
// use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	now  func() time.Time
	done chan struct{}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// New creates a cache holding at most capacity entries and starts the
// background expiry sweep. Call Close to stop the sweep.
func New(capacity int) *Cache {
	return NewWithSweep(capacity, DefaultSweepInterval)
}

// NewWithSweep creates a cache with a custom sweep interval. A zero or
// negative interval disables the sweep entirely.
func NewWithSweep(capacity int, sweepInterval time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		entries:  make(map[string]*entry),
		capacity: capacity,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

// Get returns the value for key. ok is false when the key is absent or the
// entry's age has reached its TTL. stale is true while the age is within
// [staleFraction*ttl, ttl), signalling that the caller should refresh.
func (c *Cache) Get(key string) (value []byte, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		c.misses++
		localMisses.Inc()
		return nil, false, false
	}

	age := c.now().Sub(e.storedAt)
	if age >= e.ttl {
		// Hard-expired. Retain the entry for last-resort reads until the
		// retention window closes, then purge lazily.
		if age >= time.Duration(retentionFactor)*e.ttl {
			delete(c.entries, key)
			c.expired++
			localEntries.Set(float64(len(c.entries)))
		}
		c.misses++
		localMisses.Inc()
		return nil, false, false
	}

	c.hits++
	stale = age >= time.Duration(staleFraction*float64(e.ttl))
	if stale {
		localHits.WithLabelValues("stale").Inc()
	} else {
		localHits.WithLabelValues("fresh").Inc()
	}
	return e.value, stale, true
}

// GetLastResort returns a hard-expired value that is still within its
// retention window (age < 2*ttl). Used only when every fetch path has
// failed.
func (c *Cache) GetLastResort(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= time.Duration(retentionFactor)*e.ttl {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL, replacing any existing
// entry wholesale. When the cache is at capacity and key is new, exactly
// one entry is evicted first: the oldest by storedAt.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[key] = &entry{
		value:    value,
		storedAt: c.now(),
		ttl:      ttl,
	}
	localEntries.Set(float64(len(c.entries)))
}

// evictOldestLocked removes the entry with the oldest storedAt. Caller must
// hold c.mu.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
		localEvictions.Inc()
	}
}

// Delete removes key from the cache. Deleting an absent key is not an
// error.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	localEntries.Set(float64(len(c.entries)))
}

// Has reports whether key holds a non-expired entry.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		return false
	}
	return c.now().Sub(e.storedAt) < e.ttl
}

// Len returns the number of retained entries, including hard-expired ones
// still inside their retention window.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the keys of all retained entries, for introspection.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

// Close stops the background sweep.
func (c *Cache) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep purges entries whose retention window has closed.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= time.Duration(retentionFactor)*e.ttl {
			delete(c.entries, k)
			c.expired++
		}
	}
	localEntries.Set(float64(len(c.entries)))
}
