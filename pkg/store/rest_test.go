package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeKV implements just enough of the REST command protocol for the
// backend under test: single commands POSTed to /, batches to /pipeline.
type fakeKV struct {
	values map[string]string
	zsets  map[string]map[string]float64
	calls  int
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		values: make(map[string]string),
		zsets:  make(map[string]map[string]float64),
	}
}

func (f *fakeKV) handler(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}

		if strings.HasSuffix(r.URL.Path, "/pipeline") {
			var cmds [][]json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&cmds); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			results := make([]map[string]interface{}, len(cmds))
			for i, cmd := range cmds {
				results[i] = f.eval(cmd)
			}
			_ = json.NewEncoder(w).Encode(results)
			return
		}

		var cmd []json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(f.eval(cmd))
	}
}

func (f *fakeKV) eval(cmd []json.RawMessage) map[string]interface{} {
	var name string
	_ = json.Unmarshal(cmd[0], &name)
	arg := func(i int) string {
		var s string
		if json.Unmarshal(cmd[i], &s) != nil {
			var n json.Number
			_ = json.Unmarshal(cmd[i], &n)
			s = n.String()
		}
		return s
	}

	switch strings.ToUpper(name) {
	case "GET":
		v, ok := f.values[arg(1)]
		if !ok {
			return map[string]interface{}{"result": nil}
		}
		return map[string]interface{}{"result": v}
	case "SET":
		f.values[arg(1)] = arg(2)
		return map[string]interface{}{"result": "OK"}
	case "DEL":
		delete(f.values, arg(1))
		return map[string]interface{}{"result": 1}
	case "INCR":
		return f.incr(arg(1), 1)
	case "INCRBY":
		var n int64
		_ = json.Unmarshal(cmd[2], &n)
		return f.incr(arg(1), n)
	case "ZADD":
		var score float64
		_ = json.Unmarshal(cmd[2], &score)
		key := arg(1)
		if f.zsets[key] == nil {
			f.zsets[key] = make(map[string]float64)
		}
		f.zsets[key][arg(3)] = score
		return map[string]interface{}{"result": 1}
	case "ZCARD":
		return map[string]interface{}{"result": len(f.zsets[arg(1)])}
	case "ZRANGE":
		var min string
		var minScore float64
		first := true
		for member, score := range f.zsets[arg(1)] {
			if first || score < minScore {
				min, minScore, first = member, score, false
			}
		}
		if first {
			return map[string]interface{}{"result": []string{}}
		}
		return map[string]interface{}{"result": []string{min, fmt.Sprintf("%g", minScore)}}
	case "EXPIRE", "ZREMRANGEBYSCORE", "PFADD", "PING":
		return map[string]interface{}{"result": 1}
	case "PFCOUNT", "DBSIZE":
		return map[string]interface{}{"result": len(f.values)}
	}
	return map[string]interface{}{"error": "unknown command " + name}
}

func (f *fakeKV) incr(key string, n int64) map[string]interface{} {
	var current int64
	fmt.Sscanf(f.values[key], "%d", &current)
	current += n
	f.values[key] = fmt.Sprintf("%d", current)
	return map[string]interface{}{"result": current}
}

func TestRESTBackend_Commands(t *testing.T) {
	kv := newFakeKV()
	srv := httptest.NewServer(kv.handler("secret"))
	defer srv.Close()

	backend := newRESTBackend(srv.URL, "secret")
	ctx := context.Background()

	if _, err := backend.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := backend.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	val, err := backend.Get(ctx, "k")
	if err != nil || val != "v" {
		t.Errorf("Get(k) = (%q, %v), want (v, nil)", val, err)
	}

	n, err := backend.IncrBy(ctx, "counter", 5)
	if err != nil || n != 5 {
		t.Errorf("IncrBy = (%d, %v), want (5, nil)", n, err)
	}

	if err := backend.ZAdd(ctx, "window", 1000, "m1"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	if err := backend.ZAdd(ctx, "window", 999, "m0"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	score, ok, err := backend.ZMinScore(ctx, "window")
	if err != nil || !ok || score != 999 {
		t.Errorf("ZMinScore = (%f, %v, %v), want (999, true, nil)", score, ok, err)
	}

	if err := backend.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestRESTBackend_Pipeline(t *testing.T) {
	kv := newFakeKV()
	srv := httptest.NewServer(kv.handler("secret"))
	defer srv.Close()

	backend := newRESTBackend(srv.URL, "secret")

	pipe := backend.Pipeline()
	count := pipe.Incr("total")
	pipe.ZAdd("window", 1000, "m1")
	card := pipe.ZCard("window")
	pipe.Expire("window", time.Minute)

	before := kv.calls
	if err := pipe.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if kv.calls != before+1 {
		t.Errorf("pipeline made %d HTTP calls, want 1", kv.calls-before)
	}

	if count.Val() != 1 {
		t.Errorf("Incr result = %d, want 1", count.Val())
	}
	if card.Val() != 1 {
		t.Errorf("ZCard result = %d, want 1", card.Val())
	}
}

func TestRESTBackend_BadToken(t *testing.T) {
	kv := newFakeKV()
	srv := httptest.NewServer(kv.handler("secret"))
	defer srv.Close()

	backend := newRESTBackend(srv.URL, "wrong")
	if _, err := backend.Get(context.Background(), "k"); err == nil {
		t.Error("Get with bad token should fail")
	}
}

func TestRESTBackend_Stateless(t *testing.T) {
	backend := newRESTBackend("https://kv.example.com", "t")
	if backend.Stateful() {
		t.Error("REST backend must report itself stateless")
	}
}

func TestRestResultDecoding(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
		ok   bool
	}{
		{"number", "42", 42, true},
		{"numeric string", `"42"`, 42, true},
		{"garbage", `{"x":1}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := restInt(json.RawMessage(tt.raw))
			if tt.ok && (err != nil || n != tt.want) {
				t.Errorf("restInt(%s) = (%d, %v), want (%d, nil)", tt.raw, n, err, tt.want)
			}
			if !tt.ok && err == nil {
				t.Errorf("restInt(%s) should fail", tt.raw)
			}
		})
	}

	if _, ok, err := restString(json.RawMessage("null")); ok || err != nil {
		t.Errorf("restString(null) = (_, %v, %v), want absent", ok, err)
	}
	score, ok, err := restMinScore(json.RawMessage(`["m1","1000.5"]`))
	if err != nil || !ok || score != 1000.5 {
		t.Errorf("restMinScore = (%f, %v, %v), want (1000.5, true, nil)", score, ok, err)
	}
	if _, ok, _ := restMinScore(json.RawMessage(`[]`)); ok {
		t.Error("restMinScore on empty set should report absent")
	}
}
