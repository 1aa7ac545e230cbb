package orchestration

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/errandhq/errand/internal/tools"
)

// DispatcherConfig bounds retry and batch concurrency.
type DispatcherConfig struct {
	MaxRetries  int           // tool-call retries on transient failure
	Backoff     time.Duration // base backoff, doubled per attempt
	Concurrency int           // parallel steps per batch
}

func (c *DispatcherConfig) defaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 250 * time.Millisecond
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// Dispatcher executes one batch of eligible plan steps per call. Independent
// steps run concurrently under a semaphore; steps whose dependencies failed
// are skipped. Every outcome lands in the tracker as exactly one StepResult,
// and no single-step failure is fatal to the task.
type Dispatcher struct {
	invoker   *tools.Invoker
	cfg       DispatcherConfig
	logger    *log.Logger
	semaphore chan struct{}
}

// NewDispatcher wires a dispatcher over an invoker.
func NewDispatcher(invoker *tools.Invoker, cfg DispatcherConfig) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		invoker:   invoker,
		cfg:       cfg,
		logger:    log.New(os.Stdout, "[DISPATCH] ", log.LstdFlags),
		semaphore: make(chan struct{}, cfg.Concurrency),
	}
}

// DispatchBatch runs every currently eligible step of the plan and returns
// the number of steps it settled (dispatched or skipped). The outputs map is
// extended in place with each completed step's output, keyed by step ID, for
// placeholder resolution in later steps.
func (d *Dispatcher) DispatchBatch(ctx context.Context, plan *Plan, outputs map[string]map[string]interface{}, tracker *Tracker, sink EventSink) (int, error) {
	if plan == nil {
		return 0, fmt.Errorf("no plan installed")
	}

	var ready []int
	settled := 0
	for i := range plan.Steps {
		if plan.Steps[i].Status != StepPending {
			continue
		}
		eligible := true
		for _, dep := range plan.Steps[i].DependsOn {
			switch plan.Steps[dep].Status {
			case StepCompleted:
			case StepFailed, StepSkipped:
				// A dead dependency can never complete; the step is skipped
				// now rather than left pending forever.
				d.skipStep(plan, i, dep, tracker, sink)
				settled++
				eligible = false
			default:
				eligible = false
			}
			if !eligible {
				break
			}
		}
		if eligible {
			ready = append(ready, i)
		}
	}

	if len(ready) == 0 {
		return settled, nil
	}

	traceID := tracker.Task().TraceID
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, idx := range ready {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		plan.Steps[idx].Status = StepRunning
		go func(i int) {
			defer wg.Done()

			select {
			case d.semaphore <- struct{}{}:
				defer func() { <-d.semaphore }()
			case <-ctx.Done():
				mu.Lock()
				plan.Steps[i].Status = StepPending
				mu.Unlock()
				return
			}

			step := plan.Steps[i]
			sink.Publish(Event{
				Type:    EventStepStarted,
				TraceID: traceID,
				Message: step.Description,
				Data:    map[string]interface{}{"step_id": step.ID, "tool_name": step.ToolName},
			})

			result := d.executeStep(ctx, step, snapshotOutputs(&mu, outputs))

			mu.Lock()
			plan.Steps[i].Status = result.Status
			if result.Status == StepCompleted {
				outputs[step.ID] = result.Output
			}
			mu.Unlock()

			if err := tracker.RecordResult(result); err != nil {
				d.logger.Printf("recording result for %s: %v", step.ID, err)
			}
			if result.Status == StepCompleted {
				sink.Publish(Event{
					Type:    EventStepCompleted,
					TraceID: traceID,
					Message: step.Description,
					Data:    map[string]interface{}{"step_id": step.ID, "tool_name": step.ToolName, "output": result.Output},
				})
			} else {
				sink.Publish(Event{
					Type:    EventStepFailed,
					TraceID: traceID,
					Message: result.Error,
					Data:    map[string]interface{}{"step_id": step.ID, "tool_name": step.ToolName, "error_kind": string(result.ErrorKind)},
				})
			}
		}(idx)
	}
	wg.Wait()

	settledNow := 0
	for _, idx := range ready {
		if plan.Steps[idx].Status == StepCompleted || plan.Steps[idx].Status == StepFailed {
			settledNow++
		}
	}
	return settled + settledNow, nil
}

// executeStep resolves placeholders and invokes the tool, retrying transient
// failures. Exactly one StepResult comes back regardless of attempts.
func (d *Dispatcher) executeStep(ctx context.Context, step Step, outputs map[string]map[string]interface{}) StepResult {
	start := time.Now()
	result := StepResult{
		StepID:    step.ID,
		ToolName:  step.ToolName,
		Timestamp: start,
	}

	args, err := ResolveArguments(step.Arguments, outputs)
	if err != nil {
		result.Status = StepFailed
		result.Error = err.Error()
		result.ErrorKind = tools.ErrorKindSchema
		result.Duration = time.Since(start)
		return result
	}

	var (
		output  map[string]interface{}
		lastErr error
	)
	backoff := d.cfg.Backoff
	for attempt := 0; ; attempt++ {
		output, lastErr = d.invoker.Invoke(ctx, step.ToolName, args)
		if lastErr == nil || attempt >= d.cfg.MaxRetries || ctx.Err() != nil || !tools.IsTransient(lastErr) {
			break
		}
		d.logger.Printf("retrying %s (%s) after transient failure: %v", step.ID, step.ToolName, lastErr)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		// Cancellation observed during backoff; no further invocations.
		if ctx.Err() != nil {
			break
		}
		backoff *= 2
	}

	result.Duration = time.Since(start)
	if lastErr != nil {
		result.Status = StepFailed
		result.Error = lastErr.Error()
		result.ErrorKind = tools.ErrorKindOf(lastErr)
		return result
	}
	result.Status = StepCompleted
	result.Output = output
	return result
}

func (d *Dispatcher) skipStep(plan *Plan, i, dep int, tracker *Tracker, sink EventSink) {
	step := &plan.Steps[i]
	step.Status = StepSkipped
	result := StepResult{
		StepID:    step.ID,
		ToolName:  step.ToolName,
		Status:    StepSkipped,
		Error:     fmt.Sprintf("dependency %s did not complete", plan.Steps[dep].ID),
		Timestamp: time.Now(),
	}
	if err := tracker.RecordResult(result); err != nil {
		d.logger.Printf("recording skip for %s: %v", step.ID, err)
	}
	sink.Publish(Event{
		Type:    EventStepFailed,
		TraceID: tracker.Task().TraceID,
		Message: result.Error,
		Data:    map[string]interface{}{"step_id": step.ID, "tool_name": step.ToolName, "status": string(StepSkipped)},
	})
}

// snapshotOutputs copies the shared outputs map so a running step reads a
// stable view while siblings write their results.
func snapshotOutputs(mu *sync.Mutex, outputs map[string]map[string]interface{}) map[string]map[string]interface{} {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]map[string]interface{}, len(outputs))
	for k, v := range outputs {
		out[k] = v
	}
	return out
}
