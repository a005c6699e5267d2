// Package metrics defines the Prometheus collectors exported by shipyard.
//
// All methods are safe on a nil *Metrics, so core packages can record
// unconditionally and tests can leave metrics unset.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the loop's Prometheus collectors.
type Metrics struct {
	GuardrailResults *prometheus.CounterVec
	GateDecisions    *prometheus.CounterVec
	Verifications    *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	Invocations      *prometheus.CounterVec
	DriftedSections  *prometheus.CounterVec
	LoopPaused       prometheus.Gauge
}

// New creates collectors and registers them with reg. Pass a fresh
// prometheus.NewRegistry() per process (or per test) to avoid duplicate
// registration panics.
//
// Metrics:
//   - shipyard_guardrail_results_total{guardrail,severity}
//   - shipyard_completion_gate_decisions_total{scope,outcome}
//   - shipyard_verifications_total{scope,passed}
//   - shipyard_failures_total{severity}
//   - shipyard_agent_invocations_total{outcome}
//   - shipyard_drifted_sections_total{document}
//   - shipyard_loop_paused
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GuardrailResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shipyard_guardrail_results_total",
			Help: "Guardrail evaluations by guardrail and resulting severity",
		}, []string{"guardrail", "severity"}),

		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shipyard_completion_gate_decisions_total",
			Help: "Completion gate decisions by scope and outcome (allowed|rejected)",
		}, []string{"scope", "outcome"}),

		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shipyard_verifications_total",
			Help: "Oracle verifications by scope and verdict",
		}, []string{"scope", "passed"}),

		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shipyard_failures_total",
			Help: "Failures classified by the escalation handler",
		}, []string{"severity"}),

		Invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shipyard_agent_invocations_total",
			Help: "Agent invocations by outcome (ok|error|blocked)",
		}, []string{"outcome"}),

		DriftedSections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shipyard_drifted_sections_total",
			Help: "Specification sections detected as drifted",
		}, []string{"document"}),

		LoopPaused: f.NewGauge(prometheus.GaugeOpts{
			Name: "shipyard_loop_paused",
			Help: "1 while the control loop is paused",
		}),
	}
}

// RecordGuardrail counts one guardrail evaluation.
func (m *Metrics) RecordGuardrail(guardrail, severity string) {
	if m == nil {
		return
	}
	m.GuardrailResults.WithLabelValues(guardrail, severity).Inc()
}

// RecordGateDecision counts one completion gate decision.
func (m *Metrics) RecordGateDecision(scope string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if allowed {
		outcome = "allowed"
	}
	m.GateDecisions.WithLabelValues(scope, outcome).Inc()
}

// RecordVerification counts one oracle verdict.
func (m *Metrics) RecordVerification(scope string, passed bool) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(scope, strconv.FormatBool(passed)).Inc()
}

// RecordFailure counts one classified failure.
func (m *Metrics) RecordFailure(severity string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(severity).Inc()
}

// RecordInvocation counts one agent invocation outcome.
func (m *Metrics) RecordInvocation(outcome string) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(outcome).Inc()
}

// RecordDrift adds n drifted sections for document.
func (m *Metrics) RecordDrift(document string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DriftedSections.WithLabelValues(document).Add(float64(n))
}

// SetPaused reflects the loop's pause flag.
func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.LoopPaused.Set(1)
		return
	}
	m.LoopPaused.Set(0)
}
