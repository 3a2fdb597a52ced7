package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every recording method is safe on a
// nil receiver so components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Delivery metrics
	DeliveriesTotal        *prometheus.CounterVec
	DeliveryDuration       *prometheus.HistogramVec
	DeliveryErrorsTotal    *prometheus.CounterVec
	EndpointsDisabledTotal prometheus.Counter
	NotificationsTotal     *prometheus.CounterVec
	QueueDepth             prometheus.Gauge
	PendingRetries         prometheus.Gauge

	// Registry metrics
	EndpointsTotal  prometheus.Gauge
	EndpointsActive prometheus.Gauge

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts by outcome",
			},
			[]string{"event", "outcome"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_webhook_delivery_duration_seconds",
				Help:    "Webhook delivery round trip in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"event"},
		),
		DeliveryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_webhook_delivery_errors_total",
				Help: "Total number of failed delivery attempts by error kind",
			},
			[]string{"kind"},
		),
		EndpointsDisabledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "herald_webhook_endpoints_disabled_total",
				Help: "Total number of endpoints disabled by the failure threshold",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_webhook_notifications_total",
				Help: "Total number of delivery attempts enqueued by event",
			},
			[]string{"event"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_webhook_queue_depth",
				Help: "Number of delivery attempts waiting in the queue",
			},
		),
		PendingRetries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_webhook_pending_retries",
				Help: "Number of retries waiting for their backoff to elapse",
			},
		),

		EndpointsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_webhook_endpoints",
				Help: "Number of registered endpoints",
			},
		),
		EndpointsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_webhook_endpoints_active",
				Help: "Number of active endpoints",
			},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "backend"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.DeliveryErrorsTotal,
		m.EndpointsDisabledTotal,
		m.NotificationsTotal,
		m.QueueDepth,
		m.PendingRetries,
		m.EndpointsTotal,
		m.EndpointsActive,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// WithOTel mirrors delivery metrics into OpenTelemetry instruments
func (m *Metrics) WithOTel(o *OTelMetrics) *Metrics {
	if m != nil {
		m.otel = o
	}
	return m
}

// RecordDelivery records one finished attempt. Zero durations are not observed.
func (m *Metrics) RecordDelivery(event, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(event, outcome).Inc()
	if d > 0 {
		m.DeliveryDuration.WithLabelValues(event).Observe(d.Seconds())
	}
	m.otel.recordDelivery(event, outcome, d)
}

// RecordDeliveryError counts a failed attempt by error kind
func (m *Metrics) RecordDeliveryError(kind string) {
	if m == nil {
		return
	}
	m.DeliveryErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordEndpointDisabled counts an automatic endpoint disable
func (m *Metrics) RecordEndpointDisabled() {
	if m == nil {
		return
	}
	m.EndpointsDisabledTotal.Inc()
	m.otel.recordEndpointDisabled()
}

// RecordNotification counts attempts enqueued for an event
func (m *Metrics) RecordNotification(event string, enqueued int) {
	if m == nil || enqueued <= 0 {
		return
	}
	m.NotificationsTotal.WithLabelValues(event).Add(float64(enqueued))
}

// SetQueueDepth sets the queue depth gauge
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetPendingRetries sets the pending retries gauge
func (m *Metrics) SetPendingRetries(n int) {
	if m == nil {
		return
	}
	m.PendingRetries.Set(float64(n))
}

// SetEndpoints sets the registry gauges
func (m *Metrics) SetEndpoints(total, active int) {
	if m == nil {
		return
	}
	m.EndpointsTotal.Set(float64(total))
	m.EndpointsActive.Set(float64(active))
}

// RecordStorageOperation records a storage call against a backend
func (m *Metrics) RecordStorageOperation(operation, backend string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(d.Seconds())
}

// RecordDBStats copies connection pool statistics into gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the matched route template so ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
