// Package telemetry exposes the engine's Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/errandhq/errand/internal/orchestration"
)

// Metrics holds the engine's instrument handles. One instance per process;
// instruments register on the default registry.
type Metrics struct {
	tasksTotal    *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	oracleCalls   *prometheus.CounterVec
	oracleLatency prometheus.Histogram
	replansTotal  prometheus.Counter
}

// NewMetrics registers the engine instruments.
func NewMetrics() *Metrics {
	return &Metrics{
		tasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errand",
			Name:      "tasks_total",
			Help:      "Completed orchestration runs by terminal status.",
		}, []string{"status"}),
		taskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "errand",
			Name:      "task_duration_seconds",
			Help:      "End-to-end task execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		stepsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errand",
			Name:      "steps_total",
			Help:      "Dispatched plan steps by tool and outcome.",
		}, []string{"tool", "status"}),
		stepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "errand",
			Name:      "step_duration_seconds",
			Help:      "Tool invocation time per step.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"tool"}),
		oracleCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errand",
			Name:      "oracle_calls_total",
			Help:      "Planning oracle calls by kind and outcome.",
		}, []string{"kind", "outcome"}),
		oracleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "errand",
			Name:      "oracle_latency_seconds",
			Help:      "Planning oracle call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		replansTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "errand",
			Name:      "replans_total",
			Help:      "Replan decisions issued by the oracle.",
		}),
	}
}

// ObserveRun records one finished task.
func (m *Metrics) ObserveRun(result orchestration.RunResult) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(string(result.Status)).Inc()
	m.taskDuration.Observe(result.ExecutionTime.Seconds())
	for _, r := range result.Results {
		m.stepsTotal.WithLabelValues(r.ToolName, string(r.Status)).Inc()
		if r.Status != orchestration.StepSkipped {
			m.stepDuration.WithLabelValues(r.ToolName).Observe(r.Duration.Seconds())
		}
	}
}

// ObserveOracleCall records one oracle round trip.
func (m *Metrics) ObserveOracleCall(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.oracleCalls.WithLabelValues(kind, outcome).Inc()
	m.oracleLatency.Observe(d.Seconds())
}

// ObserveReplan counts a replan decision.
func (m *Metrics) ObserveReplan() {
	if m == nil {
		return
	}
	m.replansTotal.Inc()
}
