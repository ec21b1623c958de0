package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/victormendozamx/crypto-data-aggregator-sub000/internal/testutil"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/analytics"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/cache"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/localcache"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/ratelimit"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/store"
)

func newTestServer(t *testing.T, upstream string) *server {
	t.Helper()
	st := store.NewWithBackend(store.NewMemoryBackend(), 0, zerolog.Nop())
	local := localcache.NewWithSweep(100, 0)
	t.Cleanup(local.Close)

	return &server{
		manager:  cache.NewManager(local, st, zerolog.Nop()),
		limiter:  ratelimit.New(st, zerolog.Nop()),
		tracker:  analytics.New(st, zerolog.Nop()),
		store:    st,
		upstream: strings.TrimRight(upstream, "/"),
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   zerolog.Nop(),
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, "http://upstream.invalid")

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["store"] != "memory" {
		t.Errorf("store field = %v, want memory", body["store"])
	}
}

func TestProxyHandler_CachesUpstream(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse("/api/prices/btc", testutil.NewHealthyResponse(`{"price":67000}`))

	srv := newTestServer(t, upstream.URL())
	handler := srv.routes()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/prices/btc", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		resp := w.Result()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, resp.StatusCode)
		}
		if string(body) != `{"price":67000}` {
			t.Errorf("request %d: body = %s", i+1, body)
		}
		if resp.Header.Get("X-RateLimit-Limit") == "" {
			t.Errorf("request %d: missing X-RateLimit-Limit header", i+1)
		}
	}

	// Repeated fresh hits never touch the upstream again.
	if got := upstream.GetRequestCount(); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}

func TestProxyHandler_RateLimitDenial(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse("/api/prices/btc", testutil.NewHealthyResponse(`{}`))

	srv := newTestServer(t, upstream.URL())
	handler := srv.routes()

	var last *http.Response
	for i := 0; i < 61; i++ {
		req := httptest.NewRequest("GET", "/api/prices/btc", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		last = w.Result()
	}

	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("61st request status = %d, want 429", last.StatusCode)
	}
	if last.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", last.Header.Get("X-RateLimit-Remaining"))
	}
	if last.Header.Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestProxyHandler_KeyedClientsHaveOwnQuota(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse("/api/prices/btc", testutil.NewHealthyResponse(`{}`))

	srv := newTestServer(t, upstream.URL())
	handler := srv.routes()

	// Exhaust the anonymous burst window.
	for i := 0; i < 61; i++ {
		req := httptest.NewRequest("GET", "/api/prices/btc", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	// A keyed client from the same address has its own identifier.
	req := httptest.NewRequest("GET", "/api/prices/btc", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	req.Header.Set("X-API-Key", "key-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("keyed request status = %d, want 200", w.Result().StatusCode)
	}
}

func TestProxyHandler_UpstreamFailure(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse("/api/news", testutil.NewServerErrorResponse())

	srv := newTestServer(t, upstream.URL())

	req := httptest.NewRequest("GET", "/api/news", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 with no cached value", w.Result().StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse("/api/prices/btc", testutil.NewHealthyResponse(`{}`))

	srv := newTestServer(t, upstream.URL())
	handler := srv.routes()

	req := httptest.NewRequest("GET", "/api/prices/btc", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	srv.tracker.Wait()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/stats", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var summary analytics.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalRequests != 1 || summary.UniqueIPs != 1 {
		t.Errorf("summary = %+v, want 1 request from 1 IP", summary)
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	upstream := testutil.NewMockUpstream()
	defer upstream.Close()
	upstream.SetResponse("/api/prices/btc", testutil.NewHealthyResponse(`{}`))

	srv := newTestServer(t, upstream.URL())
	handler := srv.routes()

	req := httptest.NewRequest("GET", "/api/prices/btc", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/internal/cache", nil))

	var stats cache.Stats
	if err := json.NewDecoder(w.Result().Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Local.Size != 1 {
		t.Errorf("local size = %d, want 1", stats.Local.Size)
	}
	if stats.RemoteBackend != "memory" {
		t.Errorf("remote backend = %q, want memory", stats.RemoteBackend)
	}
}

func TestTTLForPath(t *testing.T) {
	tests := []struct {
		path string
		want time.Duration
	}{
		{"/api/prices/btc", ttlPrices},
		{"/api/ticker/eth", ttlPrices},
		{"/api/news", ttlAggregate},
		{"/api/trending", ttlAggregate},
		{"/api/coins", ttlReference},
	}
	for _, tt := range tests {
		if got := ttlForPath(tt.path); got != tt.want {
			t.Errorf("ttlForPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"direct", "203.0.113.7:1234", "", "203.0.113.7"},
		{"forwarded", "10.0.0.1:1234", "203.0.113.9", "203.0.113.9"},
		{"forwarded chain", "10.0.0.1:1234", "203.0.113.9, 10.0.0.2", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/x", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
