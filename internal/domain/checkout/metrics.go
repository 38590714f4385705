package checkout

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the pipeline outcome counters and the tracer for the two
// operation entry points.
type Metrics struct {
	tracer    trace.Tracer
	committed metric.Int64Counter
	failed    metric.Int64Counter
	expired   metric.Int64Counter
	anomalies metric.Int64Counter
}

// NewMetrics registers the checkout counters on the given providers. A nil
// meter provider yields no-op instruments; a nil tracer provider falls back
// to the global one.
func NewMetrics(mp metric.MeterProvider, tp trace.TracerProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter("storefront-checkout")

	m := Metrics{tracer: tp.Tracer("storefront-checkout")}

	var err error
	if m.committed, err = meter.Int64Counter("checkout_committed_total",
		metric.WithDescription("Checkout attempts that reached the committed state")); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("checkout_failed_total",
		metric.WithDescription("Checkout attempts that reached the failed state")); err != nil {
		return nil, err
	}
	if m.expired, err = meter.Int64Counter("checkout_expired_total",
		metric.WithDescription("Checkout attempts expired by the hold-window sweep")); err != nil {
		return nil, err
	}
	if m.anomalies, err = meter.Int64Counter("checkout_anomalies_total",
		metric.WithDescription("Reconciliation anomalies filed to the operator queue")); err != nil {
		return nil, err
	}
	return &m, nil
}

// startSpan opens a span for a pipeline entry point. Works on a nil Metrics
// so tests without telemetry stay quiet.
func (m *Metrics) startSpan(ctx context.Context, name, attemptID string) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String("checkout.attempt_id", attemptID)))
}

func (m *Metrics) addCommitted(ctx context.Context) {
	if m != nil {
		m.committed.Add(ctx, 1)
	}
}

func (m *Metrics) addFailed(ctx context.Context) {
	if m != nil {
		m.failed.Add(ctx, 1)
	}
}

func (m *Metrics) addExpired(ctx context.Context) {
	if m != nil {
		m.expired.Add(ctx, 1)
	}
}

func (m *Metrics) addAnomaly(ctx context.Context) {
	if m != nil {
		m.anomalies.Add(ctx, 1)
	}
}
