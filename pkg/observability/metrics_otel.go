package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments that mirror the delivery
// counters pushed over OTLP when tracing is enabled.
type OTelMetrics struct {
	deliveries        metric.Int64Counter
	deliveryDuration  metric.Float64Histogram
	endpointsDisabled metric.Int64Counter
}

// NewOTelMetrics creates the instruments on provider, or on the global
// provider when provider is nil
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/platinummonkey/herald")

	m := &OTelMetrics{}
	var err error

	m.deliveries, err = meter.Int64Counter(
		"webhook.deliveries",
		metric.WithDescription("Webhook delivery attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.deliveries counter: %w", err)
	}

	m.deliveryDuration, err = meter.Float64Histogram(
		"webhook.delivery.duration",
		metric.WithDescription("Webhook delivery round trip in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.delivery.duration histogram: %w", err)
	}

	m.endpointsDisabled, err = meter.Int64Counter(
		"webhook.endpoints.disabled",
		metric.WithDescription("Endpoints disabled by the failure threshold"),
		metric.WithUnit("{endpoint}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook.endpoints.disabled counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) recordDelivery(event, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("webhook.event", event),
		attribute.String("webhook.outcome", outcome),
	)
	m.deliveries.Add(ctx, 1, attrs)
	if d > 0 {
		m.deliveryDuration.Record(ctx, d.Seconds(), attrs)
	}
}

func (m *OTelMetrics) recordEndpointDisabled() {
	if m == nil {
		return
	}
	m.endpointsDisabled.Add(context.Background(), 1)
}
