package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	movements       *prometheus.CounterVec
	movedQuantity   *prometheus.CounterVec
	alertsRaised    prometheus.Counter
	alertsResolved  prometheus.Counter
	syncFailures    *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_inventory_movements_total",
		Help: "Ledger movements posted by direction.",
	}, []string{"direction"})
	moved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_inventory_moved_quantity_total",
		Help: "Quantity moved through the ledger by direction.",
	}, []string{"direction"})
	raised := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_low_stock_alerts_raised_total",
		Help: "Low-stock alerts raised.",
	})
	resolved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_low_stock_alerts_resolved_total",
		Help: "Low-stock alerts resolved.",
	})
	syncFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_grn_inventory_sync_failures_total",
		Help: "Goods receipt lines whose ledger update failed, by whether a retry was queued.",
	}, []string{"queued"})
	registry.MustRegister(requests, duration, movements, moved, raised, resolved, syncFailures)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		movements:       movements,
		movedQuantity:   moved,
		alertsRaised:    raised,
		alertsResolved:  resolved,
		syncFailures:    syncFailures,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// MovementPosted counts a committed ledger movement.
func (m *Metrics) MovementPosted(direction string, qty float64) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(direction).Inc()
	m.movedQuantity.WithLabelValues(direction).Add(qty)
}

// AlertRaised counts a newly raised low-stock alert.
func (m *Metrics) AlertRaised() {
	if m == nil {
		return
	}
	m.alertsRaised.Inc()
}

// AlertsResolved counts resolved low-stock alerts.
func (m *Metrics) AlertsResolved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.alertsResolved.Add(float64(n))
}

// InventorySyncFailed counts a receipt line that did not reach the ledger.
func (m *Metrics) InventorySyncFailed(queued bool) {
	if m == nil {
		return
	}
	m.syncFailures.WithLabelValues(strconv.FormatBool(queued)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
