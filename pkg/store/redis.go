package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend is the persistent-connection backend shape, built on
// go-redis. The client reconnects on its own; availability gating lives in
// the Store wrapper.
type redisBackend struct {
	client *redis.Client
}

// newRedisBackend creates a backend from a connection URL. Both full
// redis:// URLs and bare host:port addresses are accepted.
func newRedisBackend(rawURL string) (*redisBackend, error) {
	var opts *redis.Options
	if strings.Contains(rawURL, "://") {
		parsed, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: rawURL}
	}
	return &redisBackend{client: redis.NewClient(opts)}, nil
}

// NewRedisBackend wraps an existing go-redis client. Used by integration
// tests and callers that manage the client lifecycle themselves.
func NewRedisBackend(client *redis.Client) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

func (b *redisBackend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *redisBackend) Del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *redisBackend) Incr(ctx context.Context, key string) (int64, error) {
	return b.client.Incr(ctx, key).Result()
}

func (b *redisBackend) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return b.client.IncrBy(ctx, key, n).Result()
}

func (b *redisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

func (b *redisBackend) ExpireNX(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.ExpireNX(ctx, key, ttl).Err()
}

func (b *redisBackend) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return b.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (b *redisBackend) ZCard(ctx context.Context, key string) (int64, error) {
	return b.client.ZCard(ctx, key).Result()
}

func (b *redisBackend) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return b.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err()
}

func (b *redisBackend) ZMinScore(ctx context.Context, key string) (float64, bool, error) {
	members, err := b.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, false, err
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	return members[0].Score, true, nil
}

func (b *redisBackend) PFAdd(ctx context.Context, key string, members ...string) error {
	return b.client.PFAdd(ctx, key, toAnySlice(members)...).Err()
}

func (b *redisBackend) PFCount(ctx context.Context, keys ...string) (int64, error) {
	return b.client.PFCount(ctx, keys...).Result()
}

func (b *redisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *redisBackend) DBSize(ctx context.Context) (int64, error) {
	return b.client.DBSize(ctx).Result()
}

func (b *redisBackend) Stateful() bool { return true }
func (b *redisBackend) Name() string   { return "redis" }

func (b *redisBackend) Close() error {
	return b.client.Close()
}

// redisPipeline queues commands on a go-redis pipeliner and resolves the
// result handles after Exec.
type redisPipeline struct {
	pipe redis.Pipeliner
	fill []func()
}

func (b *redisBackend) Pipeline() Pipeline {
	return &redisPipeline{pipe: b.client.Pipeline()}
}

// Queued commands record their arguments only; the context passed here is
// not used for I/O, Exec's context is.
var queueCtx = context.Background()

func (p *redisPipeline) Get(key string) *StringResult {
	res := &StringResult{}
	cmd := p.pipe.Get(queueCtx, key)
	p.fill = append(p.fill, func() {
		if cmd.Err() == nil {
			res.set(cmd.Val())
		}
	})
	return res
}

func (p *redisPipeline) SetWithTTL(key, value string, ttl time.Duration) {
	p.pipe.Set(queueCtx, key, value, ttl)
}

func (p *redisPipeline) Del(key string) {
	p.pipe.Del(queueCtx, key)
}

func (p *redisPipeline) Incr(key string) *IntResult {
	res := &IntResult{}
	cmd := p.pipe.Incr(queueCtx, key)
	p.fill = append(p.fill, func() {
		if cmd.Err() == nil {
			res.set(cmd.Val())
		}
	})
	return res
}

func (p *redisPipeline) IncrBy(key string, n int64) *IntResult {
	res := &IntResult{}
	cmd := p.pipe.IncrBy(queueCtx, key, n)
	p.fill = append(p.fill, func() {
		if cmd.Err() == nil {
			res.set(cmd.Val())
		}
	})
	return res
}

func (p *redisPipeline) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(queueCtx, key, ttl)
}

func (p *redisPipeline) ExpireNX(key string, ttl time.Duration) {
	p.pipe.ExpireNX(queueCtx, key, ttl)
}

func (p *redisPipeline) ZAdd(key string, score float64, member string) {
	p.pipe.ZAdd(queueCtx, key, redis.Z{Score: score, Member: member})
}

func (p *redisPipeline) ZCard(key string) *IntResult {
	res := &IntResult{}
	cmd := p.pipe.ZCard(queueCtx, key)
	p.fill = append(p.fill, func() {
		if cmd.Err() == nil {
			res.set(cmd.Val())
		}
	})
	return res
}

func (p *redisPipeline) ZRemRangeByScore(key string, min, max float64) {
	p.pipe.ZRemRangeByScore(queueCtx, key, formatScore(min), formatScore(max))
}

func (p *redisPipeline) ZMinScore(key string) *FloatResult {
	res := &FloatResult{}
	cmd := p.pipe.ZRangeWithScores(queueCtx, key, 0, 0)
	p.fill = append(p.fill, func() {
		if members := cmd.Val(); cmd.Err() == nil && len(members) > 0 {
			res.set(members[0].Score)
		}
	})
	return res
}

func (p *redisPipeline) PFAdd(key string, members ...string) {
	p.pipe.PFAdd(queueCtx, key, toAnySlice(members)...)
}

func (p *redisPipeline) PFCount(key string) *IntResult {
	res := &IntResult{}
	cmd := p.pipe.PFCount(queueCtx, key)
	p.fill = append(p.fill, func() {
		if cmd.Err() == nil {
			res.set(cmd.Val())
		}
	})
	return res
}

func (p *redisPipeline) Exec(ctx context.Context) error {
	_, err := p.pipe.Exec(ctx)
	// Missing keys inside a batch are not a batch failure.
	if err != nil && err != redis.Nil {
		return err
	}
	for _, fn := range p.fill {
		fn()
	}
	return nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func toAnySlice(members []string) []interface{} {
	out := make([]interface{}, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}
