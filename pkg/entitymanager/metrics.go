package entitymanager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rieonke/em4go/pkg/metamodel"
)

const (
	metricsNamespace = "em4go"
	metricsSubsystem = "entitymanager"
)

// Find result labels
const (
	findContextHit = "context_hit"
	findBackendHit = "backend_hit"
	findMiss       = "miss"
)

// managerMetrics holds Prometheus metrics for one entity manager.
// A nil *managerMetrics records nothing.
type managerMetrics struct {
	transitions *prometheus.CounterVec
	callbacks   *prometheus.CounterVec
	flushWrites prometheus.Counter
	finds       *prometheus.CounterVec
	managed     prometheus.Gauge
}

// newManagerMetrics creates the metrics and registers them with reg.
func newManagerMetrics(reg prometheus.Registerer, constLabels prometheus.Labels) (*managerMetrics, error) {
	m := &managerMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "transitions_total",
			ConstLabels: constLabels,
			Help:        "Total number of applied entity state transitions",
		}, []string{"from", "to"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "callbacks_total",
			ConstLabels: constLabels,
			Help:        "Total number of lifecycle callback deliveries",
		}, []string{"event"}),
		flushWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "flush_writes_total",
			ConstLabels: constLabels,
			Help:        "Total number of modified entities written by flush",
		}),
		finds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "find_total",
			ConstLabels: constLabels,
			Help:        "Total number of find operations by result",
		}, []string{"result"}),
		managed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "managed_entities",
			ConstLabels: constLabels,
			Help:        "Current number of entities in the persistence context",
		}),
	}

	for _, c := range []prometheus.Collector{m.transitions, m.callbacks, m.flushWrites, m.finds, m.managed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *managerMetrics) recordTransition(from, to EntityState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *managerMetrics) recordCallback(event metamodel.Event) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(event.String()).Inc()
}

func (m *managerMetrics) recordFlushWrite() {
	if m == nil {
		return
	}
	m.flushWrites.Inc()
}

func (m *managerMetrics) recordFind(result string) {
	if m == nil {
		return
	}
	m.finds.WithLabelValues(result).Inc()
}

func (m *managerMetrics) setManaged(n int) {
	if m == nil {
		return
	}
	m.managed.Set(float64(n))
}
