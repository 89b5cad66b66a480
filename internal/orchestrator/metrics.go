package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn outcomes recorded by Metrics.
const (
	outcomeCompleted      = "completed"
	outcomeRejected       = "rejected"
	outcomeSynthesisError = "synthesis_error"
	outcomePersistError   = "persist_error"
	outcomeCanceled       = "canceled"
	outcomeError          = "error"
)

// Metrics holds the orchestrator's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	turns       *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	invocations *prometheus.CounterVec
	duration    prometheus.Histogram
	steps       prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellnessd",
			Name:      "turns_total",
			Help:      "Turns handled, by outcome.",
		}, []string{"outcome"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellnessd",
			Name:      "supervisor_decisions_total",
			Help:      "Supervisor decisions, by chosen capability.",
		}, []string{"capability"}),
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellnessd",
			Name:      "specialist_invocations_total",
			Help:      "Specialist invocations, by capability and result.",
		}, []string{"capability", "result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wellnessd",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		steps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wellnessd",
			Name:      "turn_steps",
			Help:      "Loop iterations used per turn.",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}),
	}
}

func (m *Metrics) turn(outcome string, start time.Time, steps int) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.duration.Observe(time.Since(start).Seconds())
	m.steps.Observe(float64(steps))
}

func (m *Metrics) decision(capability string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(capability).Inc()
}

func (m *Metrics) invocation(capability, result string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(capability, result).Inc()
}
