package entitlement

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithClock overrides the wall clock. Tests use it to pin "now".
func WithClock(c Clock) ServiceOption {
	return func(s *service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMetrics registers operation counters on reg.
// Panics if the collectors are already registered.
func WithMetrics(reg prometheus.Registerer) ServiceOption {
	return func(s *service) {
		if reg != nil {
			s.metrics = newMetrics(reg)
		}
	}
}
