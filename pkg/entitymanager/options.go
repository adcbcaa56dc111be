package entitymanager

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures an EntityManager using the functional options pattern.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	registerer    prometheus.Registerer
	metricsLabels prometheus.Labels
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics registers Prometheus metrics with reg. Const labels
// distinguish several entity managers registered with one registry.
// If reg is nil, this option is ignored.
func WithMetrics(reg prometheus.Registerer, constLabels prometheus.Labels) Option {
	return func(o *options) {
		if reg != nil {
			o.registerer = reg
			o.metricsLabels = constLabels
		}
	}
}
