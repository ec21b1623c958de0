// Package store provides a uniform adapter over a shared key/value store.
//
// Two backend shapes are supported: a persistent-connection Redis backend
// and a stateless request/response REST backend. Both expose identical
// semantics. The Store wrapper isolates callers from every backend failure:
// an error is logged, counted, and converted into ErrUnavailable for that
// call, never propagated as a hard error to the higher layers.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("store: key not found")

	// ErrUnavailable indicates the shared backend is unreachable or erroring
	// for this call. Callers fall back to local state.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Backend is the uniform operation set both backend shapes implement.
// Implementations return raw backend errors; failure isolation happens in
// the Store wrapper.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// ExpireNX sets a TTL only when the key has none, so retention windows
	// are anchored to the first write.
	ExpireNX(ctx context.Context, key string, ttl time.Duration) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	// ZMinScore returns the smallest score in the sorted set; ok is false
	// when the set is empty.
	ZMinScore(ctx context.Context, key string) (score float64, ok bool, err error)

	PFAdd(ctx context.Context, key string, members ...string) error
	PFCount(ctx context.Context, keys ...string) (int64, error)

	// Pipeline returns a command batch executed in a single round trip.
	Pipeline() Pipeline

	Ping(ctx context.Context) error
	DBSize(ctx context.Context) (int64, error)

	// Stateful reports whether the backend holds a persistent connection.
	// Stateful backends are gated by the Store's availability flag after a
	// failure; stateless backends are simply retried per call.
	Stateful() bool
	Name() string
	Close() error
}

// Pipeline queues independent operations and executes them in one round
// trip. Queued reads return result handles that are filled by Exec.
type Pipeline interface {
	Get(key string) *StringResult
	SetWithTTL(key, value string, ttl time.Duration)
	Del(key string)
	Incr(key string) *IntResult
	IncrBy(key string, n int64) *IntResult
	Expire(key string, ttl time.Duration)
	ExpireNX(key string, ttl time.Duration)
	ZAdd(key string, score float64, member string)
	ZCard(key string) *IntResult
	ZRemRangeByScore(key string, min, max float64)
	ZMinScore(key string) *FloatResult
	PFAdd(key string, members ...string)
	PFCount(key string) *IntResult

	Exec(ctx context.Context) error
}

// IntResult holds an integer read queued on a Pipeline.
type IntResult struct {
	val int64
}

// Val returns the value filled by Exec; zero before Exec or on failure.
func (r *IntResult) Val() int64 {
	if r == nil {
		return 0
	}
	return r.val
}

func (r *IntResult) set(v int64) { r.val = v }

// FloatResult holds a float read queued on a Pipeline. ok reports whether
// the backend produced a value.
type FloatResult struct {
	val float64
	ok  bool
}

// Val returns the value filled by Exec and whether one was produced.
func (r *FloatResult) Val() (float64, bool) {
	if r == nil {
		return 0, false
	}
	return r.val, r.ok
}

func (r *FloatResult) set(v float64) {
	r.val = v
	r.ok = true
}

// StringResult holds a string read queued on a Pipeline. ok is false when
// the key was absent.
type StringResult struct {
	val string
	ok  bool
}

// Val returns the value filled by Exec and whether the key existed.
func (r *StringResult) Val() (string, bool) {
	if r == nil {
		return "", false
	}
	return r.val, r.ok
}

func (r *StringResult) set(v string) {
	r.val = v
	r.ok = true
}
