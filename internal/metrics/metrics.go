package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the intake pipeline.
type Metrics struct {
	// Captures accepted into the queue by source ("single", "batch")
	CapturesEnqueued *prometheus.CounterVec

	// Pending captures waiting for an operator
	QueueDepth prometheus.Gauge

	// Finished workflow runs by outcome ("sighting", "trespass", "discarded", "cancelled")
	WorkflowOutcomes *prometheus.CounterVec

	// VIN checks by result ("valid", "corrected", "invalid", "malformed")
	VINChecks *prometheus.CounterVec

	// Degraded calls to external collaborators by service
	ExternalFailures *prometheus.CounterVec
}

// New registers the intake metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CapturesEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_intake_captures_enqueued_total",
			Help: "Captures accepted into the intake queue",
		}, []string{"source"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "asset_intake_queue_depth",
			Help: "Captures waiting for operator review",
		}),

		WorkflowOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_intake_workflow_outcomes_total",
			Help: "Completed workflow runs by outcome",
		}, []string{"outcome"}),

		VINChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_intake_vin_checks_total",
			Help: "VIN validations by result",
		}, []string{"result"}),

		ExternalFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_intake_external_failures_total",
			Help: "External lookups that degraded to unknown",
		}, []string{"service"}),
	}
}

func (m *Metrics) IncEnqueued(source string) {
	if m != nil {
		m.CapturesEnqueued.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m != nil {
		m.WorkflowOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncVINCheck(result string) {
	if m != nil {
		m.VINChecks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncExternalFailure(service string) {
	if m != nil {
		m.ExternalFailures.WithLabelValues(service).Inc()
	}
}
