// Package metrics exports rotation step metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/systmms/rotator/pkg/rotation"
)

// Error reasons used as the reason label of rotator_step_errors_total.
const (
	ReasonTerminal  = "terminal"
	ReasonTransient = "transient"
	ReasonOther     = "other"
)

// StepMetrics records step outcomes. It implements rotation.StepObserver.
type StepMetrics struct {
	steps                *prometheus.CounterVec
	errors               *prometheus.CounterVec
	duration             *prometheus.HistogramVec
	verificationFailures prometheus.Counter
	lastSuccess          *prometheus.GaugeVec
}

var (
	defaultMetrics *StepMetrics
	defaultOnce    sync.Once
)

// Default returns metrics registered with the default Prometheus registry,
// which promhttp.Handler serves. The metrics are registered once.
func Default() *StepMetrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New registers the step metrics with reg.
func New(reg prometheus.Registerer) *StepMetrics {
	factory := promauto.With(reg)
	return &StepMetrics{
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_step_total",
				Help: "Total number of rotation steps handled, by outcome",
			},
			[]string{"step", "outcome"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_step_errors_total",
				Help: "Total number of failed rotation steps, by reason",
			},
			[]string{"step", "reason"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotator_step_duration_seconds",
				Help:    "Duration of rotation steps in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"step"},
		),
		verificationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rotator_verification_failures_total",
				Help: "Total number of pending credentials rejected by testSecret",
			},
		),
		lastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotator_step_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run of each step",
			},
			[]string{"step"},
		),
	}
}

// ObserveStep implements rotation.StepObserver.
func (m *StepMetrics) ObserveStep(_ context.Context, outcome rotation.StepOutcome) {
	step := outcome.Request.Step.String()

	m.steps.WithLabelValues(step, string(outcome.Outcome)).Inc()
	m.duration.WithLabelValues(step).Observe(outcome.Duration.Seconds())

	if outcome.Err == nil {
		m.lastSuccess.WithLabelValues(step).Set(float64(outcome.StartedAt.Add(outcome.Duration).Unix()))
		return
	}

	m.errors.WithLabelValues(step, Reason(outcome.Err)).Inc()
	if errors.Is(outcome.Err, rotation.ErrCredentialVerificationFailed) {
		m.verificationFailures.Inc()
	}
}

// Reason classifies a step error for the reason label.
func Reason(err error) string {
	switch {
	case rotation.IsTerminal(err):
		return ReasonTerminal
	case errors.Is(err, rotation.ErrStoreUnavailable):
		return ReasonTransient
	default:
		return ReasonOther
	}
}
