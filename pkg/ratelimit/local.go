package ratelimit

import (
	"sync"
	"time"
)

// purgeThreshold is the map size past which expired windows are purged on
// insert, bounding memory for high-cardinality identifiers.
const purgeThreshold = 10000

// fixedWindow is one identifier's counter in the fallback: coarser than the
// sliding window but preserves basic abuse protection per process.
type fixedWindow struct {
	count   int64
	resetAt time.Time
}

// localLimiter is the per-process fallback used while the shared store is
// unreachable.
type localLimiter struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	now     func() time.Time
}

func newLocalLimiter(now func() time.Time) *localLimiter {
	return &localLimiter{
		windows: make(map[string]*fixedWindow),
		now:     now,
	}
}

func (l *localLimiter) check(identifier string, tier Tier) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := tier.Name + ":" + identifier

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if len(l.windows) >= purgeThreshold {
			l.purgeLocked(now)
		}
		w = &fixedWindow{resetAt: now.Add(tier.Window)}
		l.windows[key] = w
	}

	allowed := w.count < tier.Limit
	w.count++ // denied attempts consume here too

	remaining := tier.Limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	resetIn := w.resetAt.Sub(now)

	r := Result{
		Allowed:   allowed,
		Limit:     tier.Limit,
		Remaining: remaining,
		ResetIn:   resetIn,
		Tier:      tier.Name,
		Degraded:  true,
	}
	if !allowed {
		r.RetryAfter = resetIn
	}
	return r
}

// purgeLocked drops expired windows. Caller must hold l.mu.
func (l *localLimiter) purgeLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
