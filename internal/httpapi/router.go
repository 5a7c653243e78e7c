// Package httpapi is the HTTP boundary: it validates inputs, calls the
// historical service / collector / store, and formats responses. It
// never contains core algorithm logic; that lives in historical,
// aggregator and store.
package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"candlecache/internal/collector"
	"candlecache/internal/config"
	"candlecache/internal/historical"
	"candlecache/internal/model"
	"candlecache/internal/store"
)

// TaskStatuses reports the supervisor's per-task state for the health
// endpoint.
type TaskStatuses interface {
	Statuses() map[string]string
}

// RequestMetrics is the slice of the metrics registry the request
// middleware reports to. A nil RequestMetrics disables reporting.
type RequestMetrics interface {
	RecordRequest(route, statusClass string, duration time.Duration)
}

// Server wires the HTTP boundary to the core components.
type Server struct {
	store      *store.Store
	historical *historical.Service
	collector  *collector.Collector
	ticker     *Ticker
	tasks      TaskStatuses
	metrics    RequestMetrics
	logger     *zap.Logger
	limiter    *limiterGroup
	startedAt  time.Time
}

func NewServer(st *store.Store, hist *historical.Service, coll *collector.Collector, ticker *Ticker, tasks TaskStatuses, m RequestMetrics, secCfg config.SecurityConfig, logger *zap.Logger) *Server {
	return &Server{
		store:      st,
		historical: hist,
		collector:  coll,
		ticker:     ticker,
		tasks:      tasks,
		metrics:    m,
		logger:     logger,
		limiter:    newLimiterGroup(secCfg.RateLimiting),
		startedAt:  time.Now(),
	}
}

// Router builds the mux.Router for the full HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.limiter.middleware)
	r.Use(s.metricsMiddleware)

	r.HandleFunc("/candlestick/historical", s.handleCandlestickHistorical).Methods(http.MethodGet)
	r.HandleFunc("/data/candles", s.handleDataCandles).Methods(http.MethodGet)
	r.HandleFunc("/data/stats", s.handleDataStats).Methods(http.MethodGet)
	r.HandleFunc("/data/watch-pairs", s.handleListWatchPairs).Methods(http.MethodGet)
	r.HandleFunc("/data/watch-pairs", s.handleAddWatchPair).Methods(http.MethodPost)
	r.HandleFunc("/data/watch-pairs", s.handleRemoveWatchPair).Methods(http.MethodDelete)
	r.HandleFunc("/data/watch-pairs/toggle", s.handleToggleWatchPair).Methods(http.MethodPut)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws/ticker", s.ticker.HandleWS)

	return r
}

// limiterGroup is a per-client token bucket rate limiter, built on
// golang.org/x/time/rate, applied to inbound requests.
type limiterGroup struct {
	cfg      config.RateLimitConfig
	mu       sync.Mutex
	byClient map[string]*rate.Limiter
}

func newLimiterGroup(cfg config.RateLimitConfig) *limiterGroup {
	return &limiterGroup{cfg: cfg, byClient: make(map[string]*rate.Limiter)}
}

func (g *limiterGroup) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		lim := g.forClient(r.RemoteAddr)
		if !lim.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *limiterGroup) forClient(client string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.byClient[client]
	if !ok {
		rps := g.cfg.RequestsPerSecond
		if rps <= 0 {
			rps = 10
		}
		burst := g.cfg.Burst
		if burst <= 0 {
			burst = rps
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
		g.byClient[client] = lim
	}
	return lim
}

// metricsMiddleware records route, status class and latency for every
// request when a metrics registry is wired.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RecordRequest(route, statusClass(rec.status), time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the WebSocket upgrade on /ws/ticker working through the
// middleware wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "degraded"
	}

	body := map[string]any{
		"status":             status,
		"uptime_s":           int64(time.Since(s.startedAt).Seconds()),
		"watching":           len(s.collector.Watching()),
		"ticker_subscribers": s.ticker.Subscribers(),
	}
	if s.tasks != nil {
		body["tasks"] = s.tasks.Statuses()
	}
	writeJSON(w, http.StatusOK, body)
}

func validateInterval(interval string) (string, *apiError) {
	if interval == "" {
		return "", badRequest("interval is required")
	}
	if !model.SupportedIntervals[model.Interval(interval)] {
		return "", badRequest("unsupported interval: " + interval)
	}
	return interval, nil
}

func validateLimit(raw string, def int) (int, *apiError) {
	if raw == "" {
		return def, nil
	}
	n, err := parseInt(raw)
	if err != nil || n < 1 || n > 1000 {
		return 0, badRequest("limit must be an integer in [1, 1000]")
	}
	return n, nil
}
