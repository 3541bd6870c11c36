// Package metrics provides Prometheus instrumentation for the backtest
// engine.
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
	// RowsProcessed counts candle rows consumed by runs.
	RowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_rows_processed_total",
		Help: "Total candle rows processed across runs",
	})

	// TradesExecuted counts filled trades, partitioned by side.
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_trades_executed_total",
		Help: "Total trades executed",
	}, []string{"side"})

	// TradesFailed counts rejected trades by failure reason.
	TradesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_trades_failed_total",
		Help: "Total trades that could not be executed",
	}, []string{"reason"})

	// Decisions counts manager verdicts by action.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_decisions_total",
		Help: "Total manager decisions",
	}, []string{"action"})

	// RunDuration tracks wall time per completed run.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtest_run_duration_seconds",
		Help:    "Backtest run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	// RowsPerSecond reports the throughput of the last completed run.
	RowsPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_rows_per_second",
		Help: "Throughput of the most recent run",
	})

	// WebSocketClients tracks connected trade-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtest_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
