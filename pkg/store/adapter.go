package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultOpTimeout bounds every store operation.
	DefaultOpTimeout = 2 * time.Second

	// initialCooldown and maxCooldown bound the gate applied to a stateful
	// backend after a failure: the first failure blocks operations for
	// initialCooldown, doubling per consecutive failure up to maxCooldown.
	initialCooldown = 1 * time.Second
	maxCooldown     = 30 * time.Second
)

// Config selects and configures the backend. RedisURL wins when both
// shapes are configured; with neither, the store is disabled and callers
// run on local state only.
type Config struct {
	// RedisURL is a redis:// URL or host:port address for the
	// persistent-connection backend.
	RedisURL string

	// RESTURL and RESTToken configure the stateless request/response
	// backend.
	RESTURL   string
	RESTToken string

	// OpTimeout bounds each operation (default DefaultOpTimeout).
	OpTimeout time.Duration
}

// Store wraps a Backend with failure isolation. Every backend error is
// logged and converted to ErrUnavailable; for stateful backends a failed
// operation additionally closes an availability gate with bounded
// exponential backoff, so a down store is not hammered on every request.
type Store struct {
	backend Backend
	logger  zerolog.Logger
	timeout time.Duration

	mu       sync.Mutex
	retryAt  time.Time
	cooldown time.Duration
	gated    bool

	now func() time.Time
}

// New builds a Store from config. A missing configuration is not an error:
// the returned store is disabled and every operation reports
// ErrUnavailable, dropping the system into local-only mode.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	var backend Backend
	switch {
	case cfg.RedisURL != "":
		b, err := newRedisBackend(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		backend = b
		logger.Info().Str("backend", b.Name()).Msg("Shared store configured")
	case cfg.RESTURL != "" && cfg.RESTToken != "":
		backend = newRESTBackend(cfg.RESTURL, cfg.RESTToken)
		logger.Info().Str("backend", backend.Name()).Msg("Shared store configured")
	default:
		logger.Info().Msg("No shared store configured - running in local-only mode")
	}
	return NewWithBackend(backend, cfg.OpTimeout, logger), nil
}

// NewWithBackend wraps an existing backend. backend may be nil for a
// disabled store.
func NewWithBackend(backend Backend, opTimeout time.Duration, logger zerolog.Logger) *Store {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	s := &Store{
		backend:  backend,
		logger:   logger,
		timeout:  opTimeout,
		cooldown: initialCooldown,
		now:      time.Now,
	}
	if backend != nil {
		storeAvailable.Set(1)
	} else {
		storeAvailable.Set(0)
	}
	return s
}

// Enabled reports whether a backend is configured at all.
func (s *Store) Enabled() bool {
	return s != nil && s.backend != nil
}

// Available reports whether operations are currently being attempted:
// a backend is configured and the failure gate is open.
func (s *Store) Available() bool {
	if !s.Enabled() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.gated || !s.now().Before(s.retryAt)
}

// Name identifies the configured backend for logs and introspection.
func (s *Store) Name() string {
	if !s.Enabled() {
		return "disabled"
	}
	return s.backend.Name()
}

// gateOpen reports whether an operation should be attempted now.
func (s *Store) gateOpen() bool {
	if !s.Enabled() {
		return false
	}
	if !s.backend.Stateful() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.gated || !s.now().Before(s.retryAt)
}

// markFailure records a backend error, closes the gate for a stateful
// backend, and returns the caller-facing ErrUnavailable.
func (s *Store) markFailure(op string, err error) error {
	storeErrors.WithLabelValues(op).Inc()
	s.logger.Warn().
		Err(err).
		Str("operation", op).
		Str("backend", s.backend.Name()).
		Msg("Store operation failed - unavailable for this call")

	if s.backend.Stateful() {
		s.mu.Lock()
		s.gated = true
		s.retryAt = s.now().Add(s.cooldown)
		s.cooldown *= 2
		if s.cooldown > maxCooldown {
			s.cooldown = maxCooldown
		}
		s.mu.Unlock()
		storeAvailable.Set(0)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// markSuccess reopens the gate and resets the backoff.
func (s *Store) markSuccess() {
	s.mu.Lock()
	recovered := s.gated
	s.gated = false
	s.retryAt = time.Time{}
	s.cooldown = initialCooldown
	s.mu.Unlock()

	storeAvailable.Set(1)
	if recovered {
		storeRecoveries.Inc()
		s.logger.Info().Str("backend", s.backend.Name()).Msg("Store backend recovered")
	}
}

// call runs one backend operation with gating, a bounded timeout, and
// failure conversion.
func call[T any](s *Store, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !s.gateOpen() {
		return zero, ErrUnavailable
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := fn(opCtx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.markSuccess()
			return zero, ErrNotFound
		}
		return zero, s.markFailure(op, err)
	}
	s.markSuccess()
	return val, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return call(s, ctx, "get", func(ctx context.Context) (string, error) {
		return s.backend.Get(ctx, key)
	})
}

func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := call(s, ctx, "set", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.SetWithTTL(ctx, key, value, ttl)
	})
	return err
}

func (s *Store) Del(ctx context.Context, key string) error {
	_, err := call(s, ctx, "del", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Del(ctx, key)
	})
	return err
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return call(s, ctx, "incr", func(ctx context.Context) (int64, error) {
		return s.backend.Incr(ctx, key)
	})
}

func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return call(s, ctx, "incrby", func(ctx context.Context) (int64, error) {
		return s.backend.IncrBy(ctx, key, n)
	})
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := call(s, ctx, "expire", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Expire(ctx, key, ttl)
	})
	return err
}

func (s *Store) ExpireNX(ctx context.Context, key string, ttl time.Duration) error {
	_, err := call(s, ctx, "expirenx", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.ExpireNX(ctx, key, ttl)
	})
	return err
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := call(s, ctx, "zadd", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.ZAdd(ctx, key, score, member)
	})
	return err
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	return call(s, ctx, "zcard", func(ctx context.Context) (int64, error) {
		return s.backend.ZCard(ctx, key)
	})
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	_, err := call(s, ctx, "zremrangebyscore", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.ZRemRangeByScore(ctx, key, min, max)
	})
	return err
}

func (s *Store) ZMinScore(ctx context.Context, key string) (float64, bool, error) {
	type minScore struct {
		score float64
		ok    bool
	}
	res, err := call(s, ctx, "zminscore", func(ctx context.Context) (minScore, error) {
		score, ok, err := s.backend.ZMinScore(ctx, key)
		return minScore{score, ok}, err
	})
	return res.score, res.ok, err
}

func (s *Store) PFAdd(ctx context.Context, key string, members ...string) error {
	_, err := call(s, ctx, "pfadd", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.PFAdd(ctx, key, members...)
	})
	return err
}

func (s *Store) PFCount(ctx context.Context, keys ...string) (int64, error) {
	return call(s, ctx, "pfcount", func(ctx context.Context) (int64, error) {
		return s.backend.PFCount(ctx, keys...)
	})
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := call(s, ctx, "ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Ping(ctx)
	})
	return err
}

// DBSize returns the approximate number of keys in the shared store, for
// introspection dashboards.
func (s *Store) DBSize(ctx context.Context) (int64, error) {
	return call(s, ctx, "dbsize", func(ctx context.Context) (int64, error) {
		return s.backend.DBSize(ctx)
	})
}

// Pipeline starts a command batch. Queued operations are sent in a single
// round trip on Exec, which applies the same gating and failure conversion
// as single operations.
func (s *Store) Pipeline() *Pipe {
	p := &Pipe{store: s}
	if s.Enabled() {
		p.inner = s.backend.Pipeline()
	}
	return p
}

// Close releases backend resources.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.backend.Close()
}

// Pipe is a Pipeline bound to a Store's failure isolation.
type Pipe struct {
	store *Store
	inner Pipeline
}

func (p *Pipe) Get(key string) *StringResult {
	if p.inner == nil {
		return &StringResult{}
	}
	return p.inner.Get(key)
}

func (p *Pipe) SetWithTTL(key, value string, ttl time.Duration) {
	if p.inner != nil {
		p.inner.SetWithTTL(key, value, ttl)
	}
}

func (p *Pipe) Del(key string) {
	if p.inner != nil {
		p.inner.Del(key)
	}
}

func (p *Pipe) Incr(key string) *IntResult {
	if p.inner == nil {
		return &IntResult{}
	}
	return p.inner.Incr(key)
}

func (p *Pipe) IncrBy(key string, n int64) *IntResult {
	if p.inner == nil {
		return &IntResult{}
	}
	return p.inner.IncrBy(key, n)
}

func (p *Pipe) Expire(key string, ttl time.Duration) {
	if p.inner != nil {
		p.inner.Expire(key, ttl)
	}
}

func (p *Pipe) ExpireNX(key string, ttl time.Duration) {
	if p.inner != nil {
		p.inner.ExpireNX(key, ttl)
	}
}

func (p *Pipe) ZAdd(key string, score float64, member string) {
	if p.inner != nil {
		p.inner.ZAdd(key, score, member)
	}
}

func (p *Pipe) ZCard(key string) *IntResult {
	if p.inner == nil {
		return &IntResult{}
	}
	return p.inner.ZCard(key)
}

func (p *Pipe) ZRemRangeByScore(key string, min, max float64) {
	if p.inner != nil {
		p.inner.ZRemRangeByScore(key, min, max)
	}
}

func (p *Pipe) ZMinScore(key string) *FloatResult {
	if p.inner == nil {
		return &FloatResult{}
	}
	return p.inner.ZMinScore(key)
}

func (p *Pipe) PFAdd(key string, members ...string) {
	if p.inner != nil {
		p.inner.PFAdd(key, members...)
	}
}

func (p *Pipe) PFCount(key string) *IntResult {
	if p.inner == nil {
		return &IntResult{}
	}
	return p.inner.PFCount(key)
}

// Exec sends the batch in one round trip.
func (p *Pipe) Exec(ctx context.Context) error {
	if p.inner == nil {
		return ErrUnavailable
	}
	_, err := call(p.store, ctx, "pipeline", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.inner.Exec(ctx)
	})
	return err
}
