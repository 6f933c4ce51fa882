// Package metrics holds the Prometheus collectors for upstream traffic and
// grading.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for upstream attempts.
const (
	OutcomeSuccess = "success"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	fallbacks       prometheus.Counter
	exhausted       *prometheus.CounterVec
	grades          prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is convenient for tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_attempts_total",
				Help: "Upstream completion attempts by model and outcome.",
			},
			[]string{"model", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_attempt_duration_seconds",
				Help:    "Upstream completion attempt duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upstream_fallbacks_total",
			Help: "Attempts made against a non-primary candidate model.",
		}),
		exhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_exhausted_total",
				Help: "Pipeline invocations for which every candidate model failed.",
			},
			[]string{"pipeline"},
		),
		grades: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "score_composite_grade",
			Help:    "Distribution of composite grades on the 0-20 scale.",
			Buckets: prometheus.LinearBuckets(0, 2, 11),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.attempts, m.attemptDuration, m.fallbacks, m.exhausted, m.grades)
	}
	return m
}

// ObserveAttempt records one upstream attempt. outcome is OutcomeSuccess or a
// failure kind.
func (m *Metrics) ObserveAttempt(model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(model, outcome).Inc()
	m.attemptDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

// IncFallback counts an attempt against a fallback candidate.
func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// IncExhausted counts a pipeline invocation that ran out of candidates.
func (m *Metrics) IncExhausted(pipeline string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(pipeline).Inc()
}

// ObserveGrade records a composite grade.
func (m *Metrics) ObserveGrade(grade int) {
	if m == nil {
		return
	}
	m.grades.Observe(float64(grade))
}
