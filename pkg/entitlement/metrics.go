package entitlement

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type metrics struct {
	operations   *prometheus.CounterVec
	busFailures  *prometheus.CounterVec
	scheduled    prometheus.Counter
	invariantErr prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entitlement",
			Name:      "operations_total",
			Help:      "Total number of entitlement operations by result",
		}, []string{"operation", "result"}),
		busFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entitlement",
			Name:      "bus_publish_failures_total",
			Help:      "Bus publishes that failed and were dropped",
		}, []string{"kind"}),
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "entitlement",
			Name:      "notifications_scheduled_total",
			Help:      "Future events registered with the scheduler",
		}),
		invariantErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "entitlement",
			Name:      "invariant_violations_total",
			Help:      "Operations aborted by an invariant violation",
		}),
	}
	reg.MustRegister(m.operations, m.busFailures, m.scheduled, m.invariantErr)
	return m
}

func (m *metrics) observeOperation(op Operation, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		if IsInvariantError(err) {
			m.invariantErr.Inc()
		}
	}
	m.operations.WithLabelValues(string(op), result).Inc()
}

func (m *metrics) busFailure(kind BusEventKind) {
	if m == nil {
		return
	}
	m.busFailures.WithLabelValues(string(kind)).Inc()
}

func (m *metrics) notificationScheduled() {
	if m == nil {
		return
	}
	m.scheduled.Inc()
}

// begin starts the span for op. The returned func must be deferred with a
// pointer to the operation's named error result.
func (s *service) begin(ctx context.Context, op Operation, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "entitlement."+string(op),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.observeOperation(op, err)
		span.End()
	}
}
