package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// restBackend is the stateless request/response backend shape: every call
// is a self-contained HTTP request authenticated with a bearer token, using
// the REST command protocol of serverless Redis offerings (single command
// POSTed to the base URL, batches POSTed to /pipeline).
//
// There is no persistent connection to track, so "availability" is simply
// per-call success; a circuit breaker keeps a dead endpoint from being
// hammered.
type restBackend struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newRESTBackend(baseURL, token string) *restBackend {
	return &restBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "kv-rest",
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 5 {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= 0.6
			},
		}),
	}
}

type restResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// post sends a JSON body through the circuit breaker and decodes the reply
// into out.
func (b *restBackend) post(ctx context.Context, path string, body, out interface{}) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal command: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+b.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("kv rest status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return nil, json.Unmarshal(data, out)
	})
	return err
}

// command executes a single command and returns its raw result.
func (b *restBackend) command(ctx context.Context, args ...interface{}) (json.RawMessage, error) {
	var resp restResponse
	if err := b.post(ctx, "", args, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("kv rest: %s", resp.Error)
	}
	return resp.Result, nil
}

func (b *restBackend) Get(ctx context.Context, key string) (string, error) {
	result, err := b.command(ctx, "GET", key)
	if err != nil {
		return "", err
	}
	val, ok, err := restString(result)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (b *restBackend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := b.command(ctx, "SET", key, value, "PX", ttl.Milliseconds())
	return err
}

func (b *restBackend) Del(ctx context.Context, key string) error {
	_, err := b.command(ctx, "DEL", key)
	return err
}

func (b *restBackend) Incr(ctx context.Context, key string) (int64, error) {
	result, err := b.command(ctx, "INCR", key)
	if err != nil {
		return 0, err
	}
	return restInt(result)
}

func (b *restBackend) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	result, err := b.command(ctx, "INCRBY", key, n)
	if err != nil {
		return 0, err
	}
	return restInt(result)
}

func (b *restBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := b.command(ctx, "EXPIRE", key, int64(ttl.Seconds()))
	return err
}

func (b *restBackend) ExpireNX(ctx context.Context, key string, ttl time.Duration) error {
	_, err := b.command(ctx, "EXPIRE", key, int64(ttl.Seconds()), "NX")
	return err
}

func (b *restBackend) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := b.command(ctx, "ZADD", key, score, member)
	return err
}

func (b *restBackend) ZCard(ctx context.Context, key string) (int64, error) {
	result, err := b.command(ctx, "ZCARD", key)
	if err != nil {
		return 0, err
	}
	return restInt(result)
}

func (b *restBackend) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	_, err := b.command(ctx, "ZREMRANGEBYSCORE", key, formatScore(min), formatScore(max))
	return err
}

func (b *restBackend) ZMinScore(ctx context.Context, key string) (float64, bool, error) {
	result, err := b.command(ctx, "ZRANGE", key, 0, 0, "WITHSCORES")
	if err != nil {
		return 0, false, err
	}
	return restMinScore(result)
}

func (b *restBackend) PFAdd(ctx context.Context, key string, members ...string) error {
	args := []interface{}{"PFADD", key}
	for _, m := range members {
		args = append(args, m)
	}
	_, err := b.command(ctx, args...)
	return err
}

func (b *restBackend) PFCount(ctx context.Context, keys ...string) (int64, error) {
	args := []interface{}{"PFCOUNT"}
	for _, k := range keys {
		args = append(args, k)
	}
	result, err := b.command(ctx, args...)
	if err != nil {
		return 0, err
	}
	return restInt(result)
}

func (b *restBackend) Ping(ctx context.Context) error {
	_, err := b.command(ctx, "PING")
	return err
}

func (b *restBackend) DBSize(ctx context.Context) (int64, error) {
	result, err := b.command(ctx, "DBSIZE")
	if err != nil {
		return 0, err
	}
	return restInt(result)
}

func (b *restBackend) Stateful() bool { return false }
func (b *restBackend) Name() string   { return "kv-rest" }
func (b *restBackend) Close() error   { return nil }

// restPipeline batches commands into one POST /pipeline round trip.
type restPipeline struct {
	backend *restBackend
	cmds    [][]interface{}
	fill    []func(json.RawMessage)
}

func (b *restBackend) Pipeline() Pipeline {
	return &restPipeline{backend: b}
}

func (p *restPipeline) queue(fill func(json.RawMessage), args ...interface{}) {
	p.cmds = append(p.cmds, args)
	p.fill = append(p.fill, fill)
}

func (p *restPipeline) Get(key string) *StringResult {
	res := &StringResult{}
	p.queue(func(raw json.RawMessage) {
		if val, ok, err := restString(raw); err == nil && ok {
			res.set(val)
		}
	}, "GET", key)
	return res
}

func (p *restPipeline) SetWithTTL(key, value string, ttl time.Duration) {
	p.queue(nil, "SET", key, value, "PX", ttl.Milliseconds())
}

func (p *restPipeline) Del(key string) {
	p.queue(nil, "DEL", key)
}

func (p *restPipeline) Incr(key string) *IntResult {
	res := &IntResult{}
	p.queue(func(raw json.RawMessage) {
		if n, err := restInt(raw); err == nil {
			res.set(n)
		}
	}, "INCR", key)
	return res
}

func (p *restPipeline) IncrBy(key string, n int64) *IntResult {
	res := &IntResult{}
	p.queue(func(raw json.RawMessage) {
		if v, err := restInt(raw); err == nil {
			res.set(v)
		}
	}, "INCRBY", key, n)
	return res
}

func (p *restPipeline) Expire(key string, ttl time.Duration) {
	p.queue(nil, "EXPIRE", key, int64(ttl.Seconds()))
}

func (p *restPipeline) ExpireNX(key string, ttl time.Duration) {
	p.queue(nil, "EXPIRE", key, int64(ttl.Seconds()), "NX")
}

func (p *restPipeline) ZAdd(key string, score float64, member string) {
	p.queue(nil, "ZADD", key, score, member)
}

func (p *restPipeline) ZCard(key string) *IntResult {
	res := &IntResult{}
	p.queue(func(raw json.RawMessage) {
		if n, err := restInt(raw); err == nil {
			res.set(n)
		}
	}, "ZCARD", key)
	return res
}

func (p *restPipeline) ZRemRangeByScore(key string, min, max float64) {
	p.queue(nil, "ZREMRANGEBYSCORE", key, formatScore(min), formatScore(max))
}

func (p *restPipeline) ZMinScore(key string) *FloatResult {
	res := &FloatResult{}
	p.queue(func(raw json.RawMessage) {
		if score, ok, err := restMinScore(raw); err == nil && ok {
			res.set(score)
		}
	}, "ZRANGE", key, 0, 0, "WITHSCORES")
	return res
}

func (p *restPipeline) PFAdd(key string, members ...string) {
	args := []interface{}{"PFADD", key}
	for _, m := range members {
		args = append(args, m)
	}
	p.queue(nil, args...)
}

func (p *restPipeline) PFCount(key string) *IntResult {
	res := &IntResult{}
	p.queue(func(raw json.RawMessage) {
		if n, err := restInt(raw); err == nil {
			res.set(n)
		}
	}, "PFCOUNT", key)
	return res
}

func (p *restPipeline) Exec(ctx context.Context) error {
	if len(p.cmds) == 0 {
		return nil
	}

	var responses []restResponse
	if err := p.backend.post(ctx, "/pipeline", p.cmds, &responses); err != nil {
		return err
	}
	if len(responses) != len(p.cmds) {
		return fmt.Errorf("kv rest pipeline: %d responses for %d commands", len(responses), len(p.cmds))
	}

	for i, resp := range responses {
		if resp.Error != "" || p.fill[i] == nil {
			continue
		}
		p.fill[i](resp.Result)
	}
	return nil
}

// restString decodes a command result that is either a string or null.
func restString(raw json.RawMessage) (string, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, fmt.Errorf("kv rest: unexpected result %s", raw)
	}
	return s, true, nil
}

// restInt decodes a command result that is either a JSON number or a
// numeric string.
func restInt(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, fmt.Errorf("kv rest: unexpected integer result %s", raw)
}

// restMinScore decodes a ZRANGE ... WITHSCORES reply of the form
// ["member", "score", ...].
func restMinScore(raw json.RawMessage) (float64, bool, error) {
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0, false, fmt.Errorf("kv rest: unexpected zrange result %s", raw)
	}
	if len(items) < 2 {
		return 0, false, nil
	}
	score, err := strconv.ParseFloat(items[1], 64)
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}
