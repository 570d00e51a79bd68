package observability

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the gateway. All metric names are
// prefixed with the service name and registered on a private registry so
// tests can construct instances without colliding with the default one.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inFlight         *prometheus.GaugeVec
	rateLimitedTotal prometheus.Counter
	storageOpsTotal  *prometheus.CounterVec
	storageDuration  *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance with all collectors registered.
func NewMetrics(serviceName string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_http_requests_total", serviceName),
			Help: "Total HTTP requests by route, method and status code.",
		},
		[]string{"route", "method", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_http_request_duration_seconds", serviceName),
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.inFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_http_in_flight", serviceName),
			Help: "HTTP requests currently being served.",
		},
		[]string{"route"},
	)

	m.rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_rate_limited_total", serviceName),
			Help: "Requests rejected by the rate limiter.",
		},
	)

	m.storageOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_storage_operations_total", serviceName),
			Help: "Storage gateway operations by type and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	m.storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_storage_operation_duration_seconds", serviceName),
			Help:    "Storage gateway operation duration.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.inFlight,
		m.rateLimitedTotal,
		m.storageOpsTotal,
		m.storageDuration,
	)

	return m
}

// Handler exposes the registry for scraping on GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestStarted increments the in-flight gauge for a route.
// Pair with RequestCompleted, typically via the observer chain.
func (m *Metrics) RequestStarted(route string) {
	m.inFlight.WithLabelValues(route).Inc()
}

// RequestCompleted records a finished request. Implements Observer.
func (m *Metrics) RequestCompleted(event CompletionEvent) {
	m.inFlight.WithLabelValues(event.Route).Dec()
	m.requestsTotal.WithLabelValues(event.Route, event.Method, strconv.Itoa(event.Status)).Inc()
	m.requestDuration.WithLabelValues(event.Route).Observe(event.Duration.Seconds())
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited() {
	m.rateLimitedTotal.Inc()
}

// RecordStorageOperation records one gateway call.
func (m *Metrics) RecordStorageOperation(operation, outcome string, seconds float64) {
	m.storageOpsTotal.WithLabelValues(operation, outcome).Inc()
	m.storageDuration.WithLabelValues(operation).Observe(seconds)
}
