// Package metrics provides Prometheus instrumentation for the wager engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	// StakesTotal counts accepted stakes, partitioned by side.
	StakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_stakes_total",
		Help: "Total number of stakes accepted",
	}, []string{"side"})

	// StakeVolume tracks cumulative staked amount by side.
	StakeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_stake_volume_total",
		Help: "Cumulative staked amount in currency units",
	}, []string{"side"})

	// StakeRejections counts stakes refused by the ledger, by reason.
	StakeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_stake_rejections_total",
		Help: "Stakes rejected by the ledger",
	}, []string{"reason"})

	// ResolutionsTotal counts resolved propositions by outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_resolutions_total",
		Help: "Total number of propositions resolved",
	}, []string{"outcome"})

	// SettlementsTotal counts recorded settlements.
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_settlements_total",
		Help: "Total number of payouts settled",
	})

	// PayoutVolume tracks the cumulative amount handed to custody.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_payout_volume_total",
		Help: "Cumulative disbursed amount in currency units",
	})

	// OpenPropositions tracks the number of propositions accepting stakes.
	OpenPropositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_open_propositions",
		Help: "Number of currently open propositions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Float converts an amount for counters. Precision loss above 2^53 only
// affects the metric, never the ledger.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

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
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
