// Package metrics provides Prometheus instrumentation for the rewrite
// pipeline. It implements the orchestrator's Observer contract.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Jobs finished by terminal status
	JobsFinished *prometheus.CounterVec

	// Section rewrites finished by terminal status
	SectionsFinished *prometheus.CounterVec

	// Inference call latency by outcome
	InferenceDuration *prometheus.HistogramVec

	// Circuit breaker state: 0 closed, 1 open, 2 half_open
	BreakerStateGauge prometheus.Gauge

	// Review decisions by decision kind
	ReviewDecisions *prometheus.CounterVec

	// Audit ledger length
	AuditEvents prometheus.Counter
}

// New creates a Metrics instance with all collectors registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		JobsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reviso_jobs_finished_total",
			Help: "Total rewrite jobs reaching a terminal status",
		}, []string{"status"}),

		SectionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reviso_sections_finished_total",
			Help: "Total section rewrites reaching a terminal status",
		}, []string{"status"}),

		InferenceDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reviso_inference_duration_seconds",
			Help:    "Duration of inference engine calls by outcome",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		BreakerStateGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "reviso_inference_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half_open",
		}),

		ReviewDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reviso_review_decisions_total",
			Help: "Total review decisions by kind",
		}, []string{"decision"}),

		AuditEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reviso_audit_events_total",
			Help: "Total audit events appended to the ledger",
		}),
	}
}

// JobFinished records a job reaching a terminal status.
func (m *Metrics) JobFinished(status string) {
	if m != nil {
		m.JobsFinished.WithLabelValues(status).Inc()
	}
}

// SectionFinished records a section rewrite reaching a terminal status.
func (m *Metrics) SectionFinished(status string) {
	if m != nil {
		m.SectionsFinished.WithLabelValues(status).Inc()
	}
}

// InferenceObserved records one inference call.
func (m *Metrics) InferenceObserved(seconds float64, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.InferenceDuration.WithLabelValues(outcome).Observe(seconds)
}

// BreakerState records the breaker's current state.
func (m *Metrics) BreakerState(state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "open":
		v = 1
	case "half_open":
		v = 2
	}
	m.BreakerStateGauge.Set(v)
}

// ReviewDecided records a review decision.
func (m *Metrics) ReviewDecided(decision string) {
	if m != nil {
		m.ReviewDecisions.WithLabelValues(decision).Inc()
	}
}

// AuditAppended records one ledger append.
func (m *Metrics) AuditAppended() {
	if m != nil {
		m.AuditEvents.Inc()
	}
}
