// Package metrics provides Prometheus instrumentation for the wager engine.
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
	// WagersCreated counts wagers created.
	WagersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipredict_wagers_created_total",
		Help: "Total number of wagers created",
	})

	// DepositsTotal counts collateral deposits, partitioned by flow.
	DepositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipredict_deposits_total",
		Help: "Total number of deposit-and-mint operations",
	}, []string{"flow"}) // "deposit" or "quick_buy"

	// OrdersPlaced counts limit orders placed, by side and token type.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipredict_orders_placed_total",
		Help: "Total limit orders placed",
	}, []string{"side", "token_type"})

	// OrdersCancelled counts orders cancelled.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipredict_orders_cancelled_total",
		Help: "Total orders cancelled",
	})

	// FillsTotal counts fills executed, by token type.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipredict_fills_total",
		Help: "Total fills executed",
	}, []string{"token_type"})

	// VolumeLamports accumulates traded value per wager.
	VolumeLamports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipredict_volume_lamports_total",
		Help: "Cumulative traded value in lamports",
	}, []string{"wager_id"})

	// FeesLamports accumulates skimmed fees per wager.
	FeesLamports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipredict_fees_lamports_total",
		Help: "Cumulative fees skimmed in lamports",
	}, []string{"wager_id"})

	// CrankLatency is the matching crank execution latency.
	CrankLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ipredict_crank_latency_seconds",
		Help:    "Matching crank latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ClaimsPaid counts winnings claims paid out.
	ClaimsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipredict_claims_paid_total",
		Help: "Total winnings claims paid",
	})

	// RiskRejections counts orders rejected by the exposure limiter.
	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipredict_risk_rejections_total",
		Help: "Orders rejected by the exposure limiter",
	})

	// ActiveWagers tracks wagers currently accepting trades.
	ActiveWagers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ipredict_active_wagers",
		Help: "Number of currently active wagers",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ipredict_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipredict_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ipredict_http_request_duration_seconds",
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
