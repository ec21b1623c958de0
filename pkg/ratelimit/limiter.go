package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/store"
)

// keyPrefix namespaces limiter keys in the shared store.
const keyPrefix = "cda:rl:"

// Tier is one named limit applied to an identifier.
type Tier struct {
	// Name distinguishes the tier's window in the store and in results.
	Name string

	// Limit is the maximum number of attempts per Window.
	Limit int64

	// Window is the sliding window length.
	Window time.Duration
}

// Result is a rate-limit decision. It carries everything needed to build
// standard throttling response metadata.
type Result struct {
	// Allowed is the logical AND across all tiers.
	Allowed bool

	// Limit, Remaining, and ResetIn describe the surfaced tier: the most
	// restrictive denying tier when denied, otherwise the tier with the
	// fewest remaining attempts.
	Limit     int64
	Remaining int64
	ResetIn   time.Duration

	// RetryAfter is how long a denied client should wait. Zero when allowed.
	RetryAfter time.Duration

	// Tier names the surfaced tier.
	Tier string

	// Degraded reports that the shared store was unreachable and the
	// decision came from the per-process fallback.
	Degraded bool
}

// Limiter enforces sliding-window limits against the shared store.
type Limiter struct {
	store    *store.Store
	fallback *localLimiter
	logger   zerolog.Logger

	now       func() time.Time
	newMember func() string
}

// New creates a limiter. st may be a disabled store, in which case every
// decision comes from the per-process fallback.
func New(st *store.Store, logger zerolog.Logger) *Limiter {
	l := &Limiter{
		store:  st,
		logger: logger,
		now:    time.Now,
		newMember: func() string {
			return uuid.NewString()
		},
	}
	l.fallback = newLocalLimiter(func() time.Time { return l.now() })
	return l
}

// tierKey builds the store key for one tier of one identifier.
func tierKey(tier Tier, identifier string) string {
	return keyPrefix + tier.Name + ":" + identifier
}

// Check decides whether identifier may proceed under all tiers. The attempt
// is recorded even when denied. Check never returns an error: a store
// failure degrades to the local fallback.
func (l *Limiter) Check(ctx context.Context, identifier string, tiers ...Tier) Result {
	if len(tiers) == 0 {
		return Result{Allowed: true}
	}

	results, err := l.checkRemote(ctx, identifier, tiers)
	if err != nil {
		degradedChecks.Inc()
		l.logger.Debug().Err(err).Str("identifier", identifier).Msg("Shared store unavailable - local rate limit fallback")
		results = make([]Result, len(tiers))
		for i, tier := range tiers {
			results[i] = l.fallback.check(identifier, tier)
		}
	}

	final := combine(results)
	outcome := "allowed"
	if !final.Allowed {
		outcome = "denied"
	}
	checksTotal.WithLabelValues(final.Tier, outcome).Inc()
	return final
}

// checkRemote runs the sliding-window sequence for every tier in one
// pipelined round trip: prune, count, record the attempt, refresh the key
// TTL, and read the oldest member for the reset computation.
func (l *Limiter) checkRemote(ctx context.Context, identifier string, tiers []Tier) ([]Result, error) {
	if !l.store.Enabled() {
		return nil, store.ErrUnavailable
	}

	now := l.now()
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, l.newMember())

	type tierHandles struct {
		count  *store.IntResult
		oldest *store.FloatResult
	}

	pipe := l.store.Pipeline()
	handles := make([]tierHandles, len(tiers))
	for i, tier := range tiers {
		key := tierKey(tier, identifier)
		windowStart := nowMs - tier.Window.Milliseconds()

		pipe.ZRemRangeByScore(key, 0, float64(windowStart))
		handles[i].count = pipe.ZCard(key)
		pipe.ZAdd(key, float64(nowMs), member)
		pipe.Expire(key, tier.Window)
		handles[i].oldest = pipe.ZMinScore(key)
	}
	if err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	results := make([]Result, len(tiers))
	for i, tier := range tiers {
		count := handles[i].count.Val()
		allowed := count < tier.Limit

		remaining := tier.Limit - count
		if allowed {
			remaining--
		}
		if remaining < 0 {
			remaining = 0
		}

		// The window frees up when its oldest attempt slides out.
		resetIn := tier.Window
		if oldestMs, ok := handles[i].oldest.Val(); ok {
			resetIn = time.Duration(int64(oldestMs)-nowMs)*time.Millisecond + tier.Window
			if resetIn < 0 {
				resetIn = 0
			}
			if resetIn > tier.Window {
				resetIn = tier.Window
			}
		}

		results[i] = Result{
			Allowed:   allowed,
			Limit:     tier.Limit,
			Remaining: remaining,
			ResetIn:   resetIn,
			Tier:      tier.Name,
		}
		if !allowed {
			results[i].RetryAfter = resetIn
		}
	}
	return results, nil
}

// combine folds per-tier results into the final decision: AND of all tiers,
// surfacing the most restrictive denying tier (largest ResetIn) when
// denied, otherwise the tier with the fewest remaining attempts.
func combine(results []Result) Result {
	final := results[0]
	for _, r := range results[1:] {
		switch {
		case !r.Allowed && final.Allowed:
			final = r
		case !r.Allowed && !final.Allowed:
			if r.ResetIn > final.ResetIn {
				final = r
			}
		case r.Allowed && final.Allowed:
			if r.Remaining < final.Remaining {
				final = r
			}
		}
	}
	allowed := true
	degraded := false
	for _, r := range results {
		allowed = allowed && r.Allowed
		degraded = degraded || r.Degraded
	}
	final.Allowed = allowed
	final.Degraded = degraded
	return final
}
