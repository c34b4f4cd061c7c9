package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "pulsecore"
	metricsSubsystem = "scheduler"
)

// Metrics holds the Prometheus collectors for the scheduler.
//
// A nil *Metrics is valid and records nothing, so tests and tools can
// run the scheduler without a registry.
type Metrics struct {
	active         prometheus.Gauge
	queueLength    prometheus.Gauge
	submissions    *prometheus.CounterVec
	executions     *prometheus.CounterVec
	tickFailures   prometheus.Counter
	duration       *prometheus.SummaryVec
	internalErrors prometheus.Counter
}

// NewMetrics creates the scheduler collectors and registers them with reg.
// Registering twice on the same registry panics, as with promauto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active",
			Help:      "1 while an execution is running, 0 when idle",
		}),
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_length",
			Help:      "Number of entries waiting to execute",
		}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "submissions_total",
			Help:      "Submissions by admission result",
		}, []string{"result"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "executions_total",
			Help:      "Finished executions by kind and outcome",
		}, []string{"kind", "outcome"}),
		tickFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tick_failures_total",
			Help:      "Individual device calls that failed during a tick",
		}),
		duration: factory.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "execution_duration_seconds",
			Help:      "Wall time from execution start to final off",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.001,
			},
		}, []string{"kind"}),
		internalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "internal_errors_total",
			Help:      "Dispatch failures recovered by the scheduler",
		}),
	}
}

func (m *Metrics) setActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
}

func (m *Metrics) setQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

func (m *Metrics) submission(status SubmitStatus) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) executionFinished(kind Kind, outcome Outcome) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(string(kind), string(outcome.Status)).Inc()
	if outcome.TickFailures > 0 {
		m.tickFailures.Add(float64(outcome.TickFailures))
	}
	if outcome.Elapsed > 0 {
		m.duration.WithLabelValues(string(kind)).Observe(outcome.Elapsed.Seconds())
	}
}

func (m *Metrics) internalError() {
	if m == nil {
		return
	}
	m.internalErrors.Inc()
}
