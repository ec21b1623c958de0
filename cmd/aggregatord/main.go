// Command aggregatord serves cached upstream data behind rate limiting and
// usage analytics. It is the operational surface of the aggregator core:
// a read-through proxy with volatility-class TTLs, sliding-window limits,
// and introspection endpoints.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/analytics"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/cache"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/localcache"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/logging"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/ratelimit"
	"github.com/victormendozamx/crypto-data-aggregator-sub000/pkg/store"
)

// TTL classes by data volatility.
const (
	ttlPrices    = 30 * time.Second
	ttlAggregate = 5 * time.Minute
	ttlReference = time.Hour
)

// Free-tier and keyed-tier limits, matching the upstream service's quotas.
var (
	burstTier     = ratelimit.Tier{Name: "burst", Limit: 60, Window: time.Minute}
	anonDailyTier = ratelimit.Tier{Name: "daily", Limit: 100, Window: 24 * time.Hour}
	keyDailyTier  = ratelimit.Tier{Name: "daily-key", Limit: 10000, Window: 24 * time.Hour}
)

type server struct {
	manager  *cache.Manager
	limiter  *ratelimit.Limiter
	tracker  *analytics.Tracker
	store    *store.Store
	upstream string
	client   *http.Client
	logger   zerolog.Logger
}

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
	})

	port := getEnv("PORT", "8080")
	upstream := getEnv("UPSTREAM_BASE_URL", "")
	if upstream == "" {
		logger.Fatal().Msg("UPSTREAM_BASE_URL is required")
	}

	st, err := store.New(store.Config{
		RedisURL:  getEnv("REDIS_URL", ""),
		RESTURL:   getEnv("KV_REST_API_URL", ""),
		RESTToken: getEnv("KV_REST_API_TOKEN", ""),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure shared store")
	}
	defer st.Close()

	local := localcache.New(localcache.DefaultCapacity)
	defer local.Close()

	srv := &server{
		manager:  cache.NewManager(local, st, logger),
		limiter:  ratelimit.New(st, logger),
		tracker:  analytics.New(st, logger),
		store:    st,
		upstream: strings.TrimRight(upstream, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: srv.routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Str("upstream", srv.upstream).Msg("Starting aggregator server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
	srv.manager.Wait()
	srv.tracker.Wait()
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/stats", s.statsHandler)
	mux.HandleFunc("/internal/cache", s.cacheStatsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/", s.proxyHandler)
	return mux
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"store":          s.store.Name(),
		"storeAvailable": s.store.Available(),
	})
}

func (s *server) statsHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.tracker.Summarize(r.Context(), analytics.DateKey(time.Now()))
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "stats unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Stats(r.Context()))
}

// proxyHandler is the read-through surface: rate limit, serve from cache,
// track usage.
func (s *server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	apiKey := r.Header.Get("X-API-Key")
	identifier, tiers := clientTiers(apiKey, r)

	decision := s.limiter.Check(r.Context(), identifier, tiers...)
	setRateLimitHeaders(w, decision)
	if !decision.Allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
		s.track(r, apiKey, http.StatusTooManyRequests, start)
		return
	}

	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}

	value, err := s.manager.WithCache(r.Context(), key, ttlForPath(r.URL.Path), s.fetchUpstream(key))
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Request failed with no usable cached value")
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "upstream temporarily unavailable",
		})
		s.track(r, apiKey, http.StatusBadGateway, start)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(value); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
	s.track(r, apiKey, http.StatusOK, start)
}

// fetchUpstream builds the FetchFunc for one cache key.
func (s *server) fetchUpstream(key string) cache.FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.upstream+key, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}

func (s *server) track(r *http.Request, apiKey string, status int, start time.Time) {
	s.tracker.Track(analytics.Event{
		Endpoint: r.URL.Path,
		Status:   status,
		APIKey:   apiKey,
		ClientIP: clientIP(r),
		Latency:  time.Since(start),
	})
}

// clientTiers picks the identifier and quota tiers: API-key clients get the
// keyed daily quota, anonymous clients the free tier.
func clientTiers(apiKey string, r *http.Request) (string, []ratelimit.Tier) {
	if apiKey != "" {
		return "key:" + apiKey, []ratelimit.Tier{burstTier, keyDailyTier}
	}
	return "ip:" + clientIP(r), []ratelimit.Tier{burstTier, anonDailyTier}
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(int64(d.ResetIn.Seconds()), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(d.RetryAfter.Seconds()+0.999), 10))
	}
}

// ttlForPath maps an endpoint to its volatility class.
func ttlForPath(path string) time.Duration {
	switch {
	case strings.Contains(path, "/prices") || strings.Contains(path, "/ticker"):
		return ttlPrices
	case strings.Contains(path, "/news") || strings.Contains(path, "/trending") || strings.Contains(path, "/aggregate"):
		return ttlAggregate
	default:
		return ttlReference
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
