package observability

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDelivery("data_registered", "delivered", time.Second)
		m.RecordDeliveryError("timeout")
		m.RecordEndpointDisabled()
		m.RecordNotification("data_registered", 2)
		m.SetQueueDepth(3)
		m.SetPendingRetries(1)
		m.SetEndpoints(2, 1)
		m.RecordStorageOperation("get", "postgres", nil, time.Millisecond)
		m.RecordDBStats(sql.DBStats{})
	})
}

func TestMetrics_RecordDelivery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDelivery("data_registered", "delivered", 120*time.Millisecond)
	m.RecordDelivery("data_registered", "retry_scheduled", 0)
	m.RecordDelivery("data_registered", "retry_scheduled", 0)

	expected := `
		# HELP herald_webhook_deliveries_total Total number of webhook delivery attempts by outcome
		# TYPE herald_webhook_deliveries_total counter
		herald_webhook_deliveries_total{event="data_registered",outcome="delivered"} 1
		herald_webhook_deliveries_total{event="data_registered",outcome="retry_scheduled"} 2
	`
	require.NoError(t, testutil.CollectAndCompare(m.DeliveriesTotal, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DeliveryDuration))
}

func TestMetrics_GaugesAndCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetQueueDepth(7)
	m.SetPendingRetries(2)
	m.SetEndpoints(5, 3)
	m.RecordEndpointDisabled()
	m.RecordDeliveryError("http_status")
	m.RecordNotification("data_deleted", 3)
	m.RecordNotification("data_deleted", 0)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PendingRetries))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.EndpointsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EndpointsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EndpointsDisabledTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryErrorsTotal.WithLabelValues("http_status")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("data_deleted")))
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStorageOperation("get", "postgres", nil, time.Millisecond)
	m.RecordStorageOperation("get", "postgres", errors.New("down"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("get", "postgres", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("get", "postgres", "error")))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/webhooks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/"+id, nil))
		require.Equal(t, http.StatusNotFound, rr.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/webhooks/{id}", "404")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.SetQueueDepth(4)

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "herald_webhook_queue_depth 4")
}

func TestOTelMetrics_MirrorsDeliveries(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	otm, err := NewOTelMetrics(provider)
	require.NoError(t, err)

	m := NewMetrics(prometheus.NewRegistry()).WithOTel(otm)
	m.RecordDelivery("data_registered", "delivered", 50*time.Millisecond)
	m.RecordEndpointDisabled()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	assert.True(t, names["webhook.deliveries"])
	assert.True(t, names["webhook.delivery.duration"])
	assert.True(t, names["webhook.endpoints.disabled"])
}
