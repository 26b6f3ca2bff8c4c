package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for workflow execution, namespaced
// "reviewpilot":
//
//  1. runs_inflight (gauge): runs currently executing, per workflow.
//  2. admission_queue_depth (gauge): runs waiting for a concurrency slot,
//     per workflow.
//  3. step_latency_ms (histogram): step execution duration, per workflow,
//     step, and status (success/error).
//  4. step_retries_total (counter): retry attempts, per workflow and step.
//  5. runs_total (counter): finished runs, per workflow and terminal status.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// guard their observation calls.
type Metrics struct {
	runsInflight *prometheus.GaugeVec
	queueDepth   *prometheus.GaugeVec
	stepLatency  *prometheus.HistogramVec
	stepRetries  *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all workflow metrics with the given
// registry. Pass prometheus.DefaultRegisterer for the global registry, or a
// dedicated prometheus.NewRegistry() for isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		runsInflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reviewpilot",
			Name:      "runs_inflight",
			Help:      "Current number of workflow runs executing",
		}, []string{"workflow"}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reviewpilot",
			Name:      "admission_queue_depth",
			Help:      "Number of runs waiting for a concurrency slot",
		}, []string{"workflow"}),

		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reviewpilot",
			Name:      "step_latency_ms",
			Help:      "Step execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"workflow", "step", "status"}),

		stepRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewpilot",
			Name:      "step_retries_total",
			Help:      "Cumulative count of step retry attempts",
		}, []string{"workflow", "step"}),

		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewpilot",
			Name:      "runs_total",
			Help:      "Finished workflow runs by terminal status",
		}, []string{"workflow", "status"}),
	}
}

// RunStarted records a run entering execution.
func (m *Metrics) RunStarted(workflow string) {
	if m == nil {
		return
	}
	m.runsInflight.WithLabelValues(workflow).Inc()
}

// RunEnded records a run leaving execution, regardless of outcome.
func (m *Metrics) RunEnded(workflow string) {
	if m == nil {
		return
	}
	m.runsInflight.WithLabelValues(workflow).Dec()
}

// RunFinished records a run reaching a terminal status.
func (m *Metrics) RunFinished(workflow, status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(workflow, status).Inc()
}

// QueueEnter records a run starting to wait for a concurrency slot.
func (m *Metrics) QueueEnter(workflow string) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(workflow).Inc()
}

// QueueLeave records a run leaving the admission queue.
func (m *Metrics) QueueLeave(workflow string) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(workflow).Dec()
}

// ObserveStep records one step invocation's duration and status.
func (m *Metrics) ObserveStep(workflow, step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(workflow, step, status).Observe(float64(d.Milliseconds()))
}

// RetryScheduled records a retry attempt for a step.
func (m *Metrics) RetryScheduled(workflow, step string) {
	if m == nil {
		return
	}
	m.stepRetries.WithLabelValues(workflow, step).Inc()
}
