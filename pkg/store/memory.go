package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend: plain values with TTL, counters,
// sorted sets, and exact membership sets standing in for the approximate-set
// structure. It is useful as a fast, dependency-free stand-in in unit tests
// and single-instance deployments; being process-local it enforces nothing
// across workers.
//
// Failures are injected with SetErr; PipelineExecs counts round trips so
// tests can assert batching behavior.
type MemoryBackend struct {
	mu      sync.Mutex
	values  map[string]string
	zsets   map[string]map[string]float64
	sets    map[string]map[string]struct{}
	expires map[string]time.Time

	err           error
	pipelineExecs int

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values:  make(map[string]string),
		zsets:   make(map[string]map[string]float64),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
		Now:     time.Now,
	}
}

// SetErr makes every subsequent operation fail with err. Pass nil to
// restore normal operation.
func (m *MemoryBackend) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// PipelineExecs returns how many pipeline round trips have been executed.
func (m *MemoryBackend) PipelineExecs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipelineExecs
}

// TTL returns the remaining TTL recorded for key, and whether one is set.
func (m *MemoryBackend) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.expires[key]
	if !ok {
		return 0, false
	}
	return at.Sub(m.Now()), true
}

func (m *MemoryBackend) expiredLocked(key string) bool {
	at, ok := m.expires[key]
	if !ok || m.Now().Before(at) {
		return false
	}
	delete(m.values, key)
	delete(m.zsets, key)
	delete(m.sets, key)
	delete(m.expires, key)
	return true
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.expiredLocked(key) {
		return "", ErrNotFound
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.setLocked(key, value, ttl)
	return nil
}

func (m *MemoryBackend) setLocked(key, value string, ttl time.Duration) {
	m.values[key] = value
	if ttl > 0 {
		m.expires[key] = m.Now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
}

func (m *MemoryBackend) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.delLocked(key)
	return nil
}

func (m *MemoryBackend) delLocked(key string) {
	delete(m.values, key)
	delete(m.zsets, key)
	delete(m.sets, key)
	delete(m.expires, key)
}

func (m *MemoryBackend) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrBy(ctx, key, 1)
}

func (m *MemoryBackend) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.incrLocked(key, n), nil
}

func (m *MemoryBackend) incrLocked(key string, n int64) int64 {
	m.expiredLocked(key)
	current, _ := strconv.ParseInt(m.values[key], 10, 64)
	current += n
	m.values[key] = strconv.FormatInt(current, 10)
	return current
}

func (m *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.expires[key] = m.Now().Add(ttl)
	return nil
}

func (m *MemoryBackend) ExpireNX(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.expireNXLocked(key, ttl)
	return nil
}

func (m *MemoryBackend) expireNXLocked(key string, ttl time.Duration) {
	if _, ok := m.expires[key]; !ok {
		m.expires[key] = m.Now().Add(ttl)
	}
}

func (m *MemoryBackend) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.zaddLocked(key, score, member)
	return nil
}

func (m *MemoryBackend) zaddLocked(key string, score float64, member string) {
	m.expiredLocked(key)
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	set[member] = score
}

func (m *MemoryBackend) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.expiredLocked(key)
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryBackend) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.zremRangeLocked(key, min, max)
	return nil
}

func (m *MemoryBackend) zremRangeLocked(key string, min, max float64) {
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			delete(m.zsets[key], member)
		}
	}
}

func (m *MemoryBackend) ZMinScore(_ context.Context, key string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, false, m.err
	}
	score, ok := m.zminLocked(key)
	return score, ok, nil
}

func (m *MemoryBackend) zminLocked(key string) (float64, bool) {
	set := m.zsets[key]
	if len(set) == 0 {
		return 0, false
	}
	scores := make([]float64, 0, len(set))
	for _, score := range set {
		scores = append(scores, score)
	}
	sort.Float64s(scores)
	return scores[0], true
}

func (m *MemoryBackend) PFAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.pfaddLocked(key, members...)
	return nil
}

func (m *MemoryBackend) pfaddLocked(key string, members ...string) {
	m.expiredLocked(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
}

func (m *MemoryBackend) PFCount(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	union := make(map[string]struct{})
	for _, key := range keys {
		m.expiredLocked(key)
		for member := range m.sets[key] {
			union[member] = struct{}{}
		}
	}
	return int64(len(union)), nil
}

func (m *MemoryBackend) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MemoryBackend) DBSize(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	keys := make(map[string]struct{})
	for k := range m.values {
		keys[k] = struct{}{}
	}
	for k := range m.zsets {
		keys[k] = struct{}{}
	}
	for k := range m.sets {
		keys[k] = struct{}{}
	}
	return int64(len(keys)), nil
}

func (m *MemoryBackend) Stateful() bool { return true }
func (m *MemoryBackend) Name() string   { return "memory" }
func (m *MemoryBackend) Close() error   { return nil }

// memoryPipeline queues closures and runs them under one lock acquisition
// on Exec, approximating a single round trip.
type memoryPipeline struct {
	backend *MemoryBackend
	ops     []func()
}

func (m *MemoryBackend) Pipeline() Pipeline {
	return &memoryPipeline{backend: m}
}

func (p *memoryPipeline) Get(key string) *StringResult {
	res := &StringResult{}
	p.ops = append(p.ops, func() {
		if p.backend.expiredLocked(key) {
			return
		}
		if v, ok := p.backend.values[key]; ok {
			res.set(v)
		}
	})
	return res
}

func (p *memoryPipeline) SetWithTTL(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, func() { p.backend.setLocked(key, value, ttl) })
}

func (p *memoryPipeline) Del(key string) {
	p.ops = append(p.ops, func() { p.backend.delLocked(key) })
}

func (p *memoryPipeline) Incr(key string) *IntResult {
	res := &IntResult{}
	p.ops = append(p.ops, func() { res.set(p.backend.incrLocked(key, 1)) })
	return res
}

func (p *memoryPipeline) IncrBy(key string, n int64) *IntResult {
	res := &IntResult{}
	p.ops = append(p.ops, func() { res.set(p.backend.incrLocked(key, n)) })
	return res
}

func (p *memoryPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func() { p.backend.expires[key] = p.backend.Now().Add(ttl) })
}

func (p *memoryPipeline) ExpireNX(key string, ttl time.Duration) {
	p.ops = append(p.ops, func() { p.backend.expireNXLocked(key, ttl) })
}

func (p *memoryPipeline) ZAdd(key string, score float64, member string) {
	p.ops = append(p.ops, func() { p.backend.zaddLocked(key, score, member) })
}

func (p *memoryPipeline) ZCard(key string) *IntResult {
	res := &IntResult{}
	p.ops = append(p.ops, func() {
		p.backend.expiredLocked(key)
		res.set(int64(len(p.backend.zsets[key])))
	})
	return res
}

func (p *memoryPipeline) ZRemRangeByScore(key string, min, max float64) {
	p.ops = append(p.ops, func() { p.backend.zremRangeLocked(key, min, max) })
}

func (p *memoryPipeline) ZMinScore(key string) *FloatResult {
	res := &FloatResult{}
	p.ops = append(p.ops, func() {
		if score, ok := p.backend.zminLocked(key); ok {
			res.set(score)
		}
	})
	return res
}

func (p *memoryPipeline) PFAdd(key string, members ...string) {
	p.ops = append(p.ops, func() { p.backend.pfaddLocked(key, members...) })
}

func (p *memoryPipeline) PFCount(key string) *IntResult {
	res := &IntResult{}
	p.ops = append(p.ops, func() {
		p.backend.expiredLocked(key)
		res.set(int64(len(p.backend.sets[key])))
	})
	return res
}

func (p *memoryPipeline) Exec(_ context.Context) error {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()
	if p.backend.err != nil {
		return p.backend.err
	}
	p.backend.pipelineExecs++
	for _, op := range p.ops {
		op()
	}
	return nil
}
