package monitor

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agentflow/flows"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// PrometheusMonitor records run and step counts and durations.
type PrometheusMonitor struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runSteps     *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewPrometheusMonitor registers the workflow metrics with reg, or with the
// default registerer when reg is nil. Registering the same namespace twice
// on one registerer panics.
func NewPrometheusMonitor(reg prometheus.Registerer, namespace string) *PrometheusMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMonitor{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_runs_total",
				Help:      "Total number of workflow runs",
			},
			[]string{"workflow", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_run_duration_seconds",
				Help:      "Workflow run duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"workflow"},
		),
		runSteps: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_run_steps",
				Help:      "Steps executed per workflow run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			},
			[]string{"workflow"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_steps_total",
				Help:      "Total number of executed workflow steps",
			},
			[]string{"workflow", "step", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_step_duration_seconds",
				Help:      "Workflow step duration in seconds",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"workflow", "step"},
		),
	}
}

func (m *PrometheusMonitor) Notify(_ context.Context, event flows.FlowEvent) {
	switch event.Type {
	case flows.FlowEventTypeStepEnd:
		m.stepsTotal.WithLabelValues(event.Workflow, event.Step, statusOK).Inc()
		m.stepDuration.WithLabelValues(event.Workflow, event.Step).Observe(event.Duration.Seconds())
	case flows.FlowEventTypeStepError:
		m.stepsTotal.WithLabelValues(event.Workflow, event.Step, statusError).Inc()
		m.stepDuration.WithLabelValues(event.Workflow, event.Step).Observe(event.Duration.Seconds())
	case flows.FlowEventTypeFlowComplete:
		status := statusOK
		if event.Err != nil {
			status = statusError
		}
		m.runsTotal.WithLabelValues(event.Workflow, status).Inc()
		m.runDuration.WithLabelValues(event.Workflow).Observe(event.Duration.Seconds())
		m.runSteps.WithLabelValues(event.Workflow).Observe(float64(event.Steps))
	}
}
