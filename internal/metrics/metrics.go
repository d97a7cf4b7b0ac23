// Package metrics provides Prometheus instrumentation for the carbon engine.
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
)

var (
	// TradesTotal counts ledger trades by side and final status.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_trades_total",
		Help: "Total number of trades attempted, by side and status",
	}, []string{"side", "status"})

	// TradeVolume tracks cumulative executed tonnes per asset.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_trade_volume_tonnes_total",
		Help: "Cumulative executed trade volume in tonnes CO2e",
	}, []string{"asset_id", "side"})

	// CashMovements counts deposits and withdrawals by status.
	CashMovements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_cash_movements_total",
		Help: "Deposits and withdrawals, by type and status",
	}, []string{"type", "status"})

	// OrdersTotal counts order lifecycle events by kind.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_orders_total",
		Help: "Order lifecycle events (placed, triggered, cancelled), by kind",
	}, []string{"event", "kind"})

	// ActiveOrders tracks the size of the active-order set.
	ActiveOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carbon_active_orders",
		Help: "Number of currently active conditional orders",
	})

	// AlertsFired counts price alerts that fired.
	AlertsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carbon_alerts_fired_total",
		Help: "Price alerts fired",
	})

	// CertificatesTotal counts certificate events (issued, retired).
	CertificatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_certificates_total",
		Help: "Certificates issued and retired",
	}, []string{"event"})

	// Balance is the current cash balance.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carbon_account_balance",
		Help: "Current cash balance",
	})

	// TickLatency measures ProcessTick wall time.
	TickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "carbon_tick_processing_seconds",
		Help:    "Time to evaluate orders and alerts for one tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	// TicksTotal counts processed ticks by outcome.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_ticks_total",
		Help: "Price ticks processed, by result",
	}, []string{"result"})

	// PersistErrors counts failed store writes.
	PersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carbon_persist_errors_total",
		Help: "Store writes that failed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carbon_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carbon_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi pattern (e.g. /api/v1/orders/{orderID})
// so ids do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
