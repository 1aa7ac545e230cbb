package telemetry

import (
	"context"
	"time"

	"github.com/errandhq/errand/internal/orchestration"
	"github.com/errandhq/errand/internal/tools"
)

// InstrumentedOracle wraps a planning oracle with call counters and latency
// histograms. It is transparent to the orchestrator.
type InstrumentedOracle struct {
	inner   orchestration.PlanningOracle
	metrics *Metrics
}

// InstrumentOracle decorates the oracle. A nil metrics passes through.
func InstrumentOracle(inner orchestration.PlanningOracle, metrics *Metrics) *InstrumentedOracle {
	return &InstrumentedOracle{inner: inner, metrics: metrics}
}

func (o *InstrumentedOracle) CreatePlan(ctx context.Context, requestText string, catalog []tools.Tool, history []orchestration.Entry) (*orchestration.Plan, *orchestration.Decision, error) {
	start := time.Now()
	plan, escalate, err := o.inner.CreatePlan(ctx, requestText, catalog, history)
	o.metrics.ObserveOracleCall("create_plan", time.Since(start), err)
	return plan, escalate, err
}

func (o *InstrumentedOracle) Decide(ctx context.Context, requestText string, catalog []tools.Tool, history []orchestration.Entry, latest []orchestration.StepResult) (orchestration.Decision, error) {
	start := time.Now()
	decision, err := o.inner.Decide(ctx, requestText, catalog, history, latest)
	o.metrics.ObserveOracleCall("decide", time.Since(start), err)
	if err == nil && decision.Type == orchestration.DecisionReplan {
		o.metrics.ObserveReplan()
	}
	return decision, err
}
