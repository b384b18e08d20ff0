// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsMatched counts bids processed by the matchers, partitioned by
	// side and terminal status.
	BidsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fishmarket_bids_matched_total",
		Help: "Total bids processed by the matchers",
	}, []string{"side", "status"})

	// MatchLatency tracks the duration of one matching pass.
	MatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fishmarket_match_latency_seconds",
		Help:    "Matching pass duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// SettlementsTotal counts settled (team, day) records.
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fishmarket_settlements_total",
		Help: "Total settlement records written",
	})

	// SettlementLatency tracks the duration of one full-day settlement pass.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fishmarket_settlement_latency_seconds",
		Help:    "Settlement pass duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CreditLimitRejections counts passes aborted by the credit ceiling.
	CreditLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fishmarket_credit_limit_rejections_total",
		Help: "Matching/settlement passes aborted by the credit ceiling",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fishmarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fishmarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fishmarket_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
