// Package metrics exposes the service's Prometheus gauges/counters,
// adapted from the pack's metrics server pattern to the candle-caching
// domain: requests served, backfill chunk outcomes, store operations
// and the streaming connection's health.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics handles all Prometheus metrics for the candle cache.
type PrometheusMetrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestLatency    *prometheus.HistogramVec
	BackfillChunks    *prometheus.CounterVec
	BarsIngested      *prometheus.CounterVec
	StreamConnected   *prometheus.GaugeVec
	StreamReconnects  *prometheus.CounterVec
	WatchedPairsGauge prometheus.Gauge

	server *http.Server
}

func NewPrometheusMetrics() *PrometheusMetrics {
	metrics := &PrometheusMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_requests_total",
				Help: "Total number of HTTP requests handled, by route and status class",
			},
			[]string{"route", "status_class"},
		),

		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candlecache_request_latency_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"route"},
		),

		BackfillChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_backfill_chunks_total",
				Help: "Total number of backfill chunks attempted, by outcome",
			},
			[]string{"pair", "outcome"},
		),

		BarsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_bars_ingested_total",
				Help: "Total number of bars upserted, by source",
			},
			[]string{"pair", "source"},
		),

		StreamConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "candlecache_stream_connected",
				Help: "Streaming subscription connection status (1=connected, 0=disconnected)",
			},
			[]string{"exchange"},
		),

		StreamReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candlecache_stream_reconnects_total",
				Help: "Total number of streaming subscription reconnects",
			},
			[]string{"exchange"},
		),

		WatchedPairsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candlecache_watched_pairs",
			Help: "Number of pairs currently watched by the stream collector",
		}),
	}

	prometheus.MustRegister(
		metrics.RequestsTotal,
		metrics.RequestLatency,
		metrics.BackfillChunks,
		metrics.BarsIngested,
		metrics.StreamConnected,
		metrics.StreamReconnects,
		metrics.WatchedPairsGauge,
	)

	return metrics
}

// Start starts the Prometheus metrics HTTP server.
func (m *PrometheusMetrics) Start(port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	m.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	log.Printf("starting prometheus metrics server on port %s", port)

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("prometheus server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the Prometheus metrics server.
func (m *PrometheusMetrics) Stop() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}

func (m *PrometheusMetrics) RecordRequest(route, statusClass string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, statusClass).Inc()
	m.RequestLatency.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBackfillChunk(pair, outcome string) {
	m.BackfillChunks.WithLabelValues(pair, outcome).Inc()
}

func (m *PrometheusMetrics) RecordBarsIngested(pair, source string, count int) {
	m.BarsIngested.WithLabelValues(pair, source).Add(float64(count))
}

func (m *PrometheusMetrics) SetStreamConnected(exchange string, connected bool) {
	status := 0.0
	if connected {
		status = 1.0
	}
	m.StreamConnected.WithLabelValues(exchange).Set(status)
}

func (m *PrometheusMetrics) RecordStreamReconnect(exchange string) {
	m.StreamReconnects.WithLabelValues(exchange).Inc()
}

func (m *PrometheusMetrics) SetWatchedPairs(count int) {
	m.WatchedPairsGauge.Set(float64(count))
}
