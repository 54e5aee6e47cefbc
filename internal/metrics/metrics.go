// Package metrics provides Prometheus instrumentation for the exchange.
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
	// OrdersPlacedTotal counts orders accepted by the engine, by side and type.
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_orders_placed_total",
		Help: "Total number of orders accepted",
	}, []string{"side", "type"})

	// OrdersRejectedTotal counts orders rejected before matching, by reason.
	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_orders_rejected_total",
		Help: "Total number of orders rejected",
	}, []string{"reason"})

	// TradesTotal counts trades executed, partitioned by taker side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// MatchLatency is the time spent placing and matching one order.
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pmx_match_latency_seconds",
		Help:    "Order placement and matching latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// OpenMarkets tracks the number of markets currently open for trading.
	OpenMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmx_open_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// RequotesTotal counts market maker requote cycles per market.
	RequotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_requotes_total",
		Help: "Market maker requote cycles",
	}, []string{"market_id"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// MarketVolume tracks cumulative trade volume (shares) per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmx_market_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"market_id"})
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
