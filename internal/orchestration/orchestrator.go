package orchestration

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/errandhq/errand/internal/tools"
)

var orchestratorTracer trace.Tracer = otel.Tracer("errand/internal/orchestration")

// HistoryStore persists a finished run. Implementations must tolerate being
// called once per task, after sealing.
type HistoryStore interface {
	SaveRun(ctx context.Context, task Task, history []Entry, result RunResult) error
}

// Config bounds one orchestrator instance. Settings are passed explicitly
// per instance; there are no process-wide mutable knobs.
type Config struct {
	MaxIterations int // PLAN_OR_DECIDE cycles per task
}

func (c *Config) defaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
}

// Orchestrator drives the task state machine: obtain or revise a plan,
// dispatch eligible steps, feed results back to the oracle, repeat until a
// terminal state. One Run call is one sequential state-machine walk;
// concurrency exists only inside a dispatch batch.
type Orchestrator struct {
	oracle     PlanningOracle
	registry   *tools.Registry
	dispatcher *Dispatcher
	store      HistoryStore
	logger     *log.Logger
	cfg        Config

	mu     sync.Mutex
	humans map[string]chan Decision
}

// NewOrchestrator wires the engine. store may be nil when persistence is
// handled elsewhere.
func NewOrchestrator(oracle PlanningOracle, registry *tools.Registry, dispatcher *Dispatcher, store HistoryStore, cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		oracle:     oracle,
		registry:   registry,
		dispatcher: dispatcher,
		store:      store,
		logger:     log.New(os.Stdout, "[ORCH] ", log.LstdFlags),
		cfg:        cfg,
		humans:     make(map[string]chan Decision),
	}
}

// ProvideHumanInput resumes a task waiting in HUMAN_IN_THE_LOOP with an
// externally supplied decision.
func (o *Orchestrator) ProvideHumanInput(traceID string, d Decision) error {
	o.mu.Lock()
	ch, ok := o.humans[traceID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("no task waiting for human input under trace %s", traceID)
	}
	select {
	case ch <- d:
		return nil
	default:
		return fmt.Errorf("task %s already received human input", traceID)
	}
}

// Run executes one task to its terminal state. Cancellation of ctx is
// cooperative: it is observed at state boundaries and before new dispatches,
// and ends the task in ERROR with cause "cancelled".
func (o *Orchestrator) Run(ctx context.Context, req Request, sink EventSink) (RunResult, error) {
	if sink == nil {
		sink = NopSink{}
	}
	start := time.Now()
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	task := Task{
		SessionID:   req.SessionID,
		TraceID:     traceID,
		UserID:      req.UserID,
		Tenant:      req.Tenant,
		RequestText: req.RequestText,
		CreatedAt:   start,
	}
	tracker := NewTracker(task)

	ctx, span := orchestratorTracer.Start(ctx, "orchestration.run",
		trace.WithAttributes(
			attribute.String("task.trace_id", task.TraceID),
			attribute.String("task.session_id", task.SessionID),
		))
	defer span.End()

	o.logger.Printf("starting task %s: %q", task.TraceID, req.RequestText)
	sink.Publish(Event{
		Type:    EventExecutionStarted,
		TraceID: task.TraceID,
		Message: req.RequestText,
		Data:    map[string]interface{}{"session_id": task.SessionID},
	})

	walk := &runState{
		task:    task,
		tracker: tracker,
		sink:    sink,
		outputs: make(map[string]map[string]interface{}),
		prior:   turnEntries(req.Turns),
	}
	terminal, message := o.walk(ctx, walk)

	status := tracker.AggregateStatus(terminal)
	tracker.Seal(status)
	span.SetAttributes(attribute.String("task.status", string(status)))

	result := RunResult{
		Success:       status == TaskSuccess,
		Status:        status,
		Message:       message,
		Results:       tracker.Results(),
		TraceID:       task.TraceID,
		ExecutionTime: time.Since(start),
	}
	if walk.plan != nil {
		result.PlanID = walk.plan.PlanID
	}

	if terminal == NodeError {
		span.SetStatus(codes.Error, message)
		sink.Publish(Event{Type: EventExecutionError, TraceID: task.TraceID, Message: message})
	} else {
		span.SetStatus(codes.Ok, "completed")
		sink.Publish(Event{
			Type:    EventExecutionCompleted,
			TraceID: task.TraceID,
			Message: message,
			Data:    map[string]interface{}{"status": string(status)},
		})
	}
	sink.Publish(Event{Type: EventDone, TraceID: task.TraceID})

	if o.store != nil {
		persisted := tracker.Task()
		if err := o.store.SaveRun(context.WithoutCancel(ctx), persisted, tracker.History(), result); err != nil {
			o.logger.Printf("warn: persisting run %s failed: %v", task.TraceID, err)
		}
	}
	o.logger.Printf("task %s finished with status %s in %v", task.TraceID, status, result.ExecutionTime)
	return result, nil
}

// runState is the mutable context of one state-machine walk.
type runState struct {
	task       Task
	tracker    *Tracker
	sink       EventSink
	plan       *Plan
	outputs    map[string]map[string]interface{}
	prior      []Entry // session conversation preceding this task
	iterations int
	seenCount  int // results already shown to the oracle
	injected   *Decision
}

// oracleHistory is what the oracle sees: prior session turns followed by this
// task's own history. The tracker itself stays free of conversation entries.
func (rs *runState) oracleHistory() []Entry {
	if len(rs.prior) == 0 {
		return rs.tracker.History()
	}
	out := make([]Entry, 0, len(rs.prior))
	out = append(out, rs.prior...)
	return append(out, rs.tracker.History()...)
}

func turnEntries(turns []ConversationTurn) []Entry {
	var out []Entry
	for i := range turns {
		out = append(out, Entry{Kind: EntryTurn, Turn: &turns[i]})
	}
	return out
}

// walk runs the machine from INIT to a terminal state and returns that state
// plus the user-facing message.
func (o *Orchestrator) walk(ctx context.Context, rs *runState) (NodeState, string) {
	state := NodeInit
	message := ""
	for !state.Terminal() {
		if ctx.Err() != nil {
			o.transition(rs, state, NodeError, "cancelled")
			return NodeError, "cancelled"
		}
		var next NodeState
		var note string
		switch state {
		case NodeInit:
			next, note = NodePlanOrDecide, "task started"
		case NodePlanOrDecide:
			next, note, message = o.planOrDecide(ctx, rs)
		case NodeDispatch:
			next, note = o.dispatch(ctx, rs)
			if next == NodeError {
				message = note
			}
		case NodeHumanInTheLoop:
			next, note = o.awaitHuman(ctx, rs)
			if next == NodeError {
				message = note
			}
		default:
			next, note = NodeError, fmt.Sprintf("unknown state %s", state)
			message = note
		}
		o.transition(rs, state, next, note)
		state = next
	}
	return state, message
}

func (o *Orchestrator) transition(rs *runState, from, to NodeState, note string) {
	if err := rs.tracker.RecordTransition(from, to, note); err != nil {
		o.logger.Printf("recording transition %s -> %s: %v", from, to, err)
	}
	rs.sink.Publish(Event{Type: EventNodeExited, TraceID: rs.task.TraceID, Data: map[string]interface{}{"node": string(from)}})
	rs.sink.Publish(Event{
		Type:    EventNodeEntered,
		TraceID: rs.task.TraceID,
		Message: note,
		Data:    map[string]interface{}{"node": string(to)},
	})
}

// planOrDecide consumes one iteration of the loop budget and asks the oracle
// for a plan (first pass) or a decision (after dispatches).
func (o *Orchestrator) planOrDecide(ctx context.Context, rs *runState) (NodeState, string, string) {
	rs.iterations++
	if rs.iterations > o.cfg.MaxIterations {
		return NodeError, "max iterations exceeded", "max iterations exceeded"
	}

	// A decision injected by a human resumes the loop without an oracle call.
	if rs.injected != nil {
		d := *rs.injected
		rs.injected = nil
		if err := rs.tracker.RecordDecision(d); err != nil {
			o.logger.Printf("recording human decision: %v", err)
		}
		return o.applyDecision(rs, d)
	}

	if rs.plan == nil {
		plan, escalate, err := o.oracle.CreatePlan(ctx, rs.task.RequestText, o.registry.Tools(), rs.oracleHistory())
		if err != nil {
			msg := fmt.Sprintf("planning failed: %v", err)
			o.logger.Printf("task %s: %s", rs.task.TraceID, msg)
			return NodeError, msg, msg
		}
		if escalate != nil {
			if err := rs.tracker.RecordDecision(*escalate); err != nil {
				o.logger.Printf("recording escalation: %v", err)
			}
			return NodeHumanInTheLoop, escalate.Message, ""
		}
		return o.installPlan(rs, plan, "plan created")
	}

	latest := rs.tracker.Results()[rs.seenCount:]
	decision, err := o.oracle.Decide(ctx, rs.task.RequestText, o.registry.Tools(), rs.oracleHistory(), latest)
	if err != nil {
		msg := fmt.Sprintf("decision failed: %v", err)
		o.logger.Printf("task %s: %s", rs.task.TraceID, msg)
		return NodeError, msg, msg
	}
	rs.seenCount = len(rs.tracker.Results())
	if err := rs.tracker.RecordDecision(decision); err != nil {
		o.logger.Printf("recording decision: %v", err)
	}
	rs.sink.Publish(Event{
		Type:    EventDecisionMade,
		TraceID: rs.task.TraceID,
		Message: decision.NextAction,
		Data:    map[string]interface{}{"decision_type": string(decision.Type)},
	})
	return o.applyDecision(rs, decision)
}

func (o *Orchestrator) applyDecision(rs *runState, d Decision) (NodeState, string, string) {
	switch d.Type {
	case DecisionFinish:
		return NodeFinal, "finished", finalMessage(d)
	case DecisionEscalate:
		return NodeHumanInTheLoop, d.Message, ""
	case DecisionReplan:
		if d.Plan == nil {
			msg := "replan decision carried no plan"
			return NodeError, msg, msg
		}
		// Pending steps of the old plan are discarded; completed and failed
		// history stays in the tracker for future oracle context.
		rs.outputs = make(map[string]map[string]interface{})
		return o.installPlan(rs, d.Plan, "replanned")
	case DecisionContinue:
		if hasPending(rs.plan) {
			return NodeDispatch, "continuing current plan", ""
		}
		return NodeFinal, "plan exhausted", finalMessage(d)
	default:
		msg := fmt.Sprintf("unknown decision type %q", d.Type)
		return NodeError, msg, msg
	}
}

func (o *Orchestrator) installPlan(rs *runState, plan *Plan, note string) (NodeState, string, string) {
	rs.plan = plan
	if err := rs.tracker.RecordPlan(*plan); err != nil {
		o.logger.Printf("recording plan: %v", err)
	}
	rs.sink.Publish(Event{
		Type:    EventPlanCreated,
		TraceID: rs.task.TraceID,
		Message: plan.Reasoning,
		Data:    map[string]interface{}{"plan_id": plan.PlanID, "step_count": len(plan.Steps)},
	})
	if len(plan.Steps) == 0 {
		// The request needs no tools; the oracle answered directly.
		return NodeFinal, note, plan.Reasoning
	}
	return NodeDispatch, note, ""
}

func (o *Orchestrator) dispatch(ctx context.Context, rs *runState) (NodeState, string) {
	settled, err := o.dispatcher.DispatchBatch(ctx, rs.plan, rs.outputs, rs.tracker, rs.sink)
	if err != nil {
		// Infrastructure-level failure unrelated to any specific tool.
		return NodeError, fmt.Sprintf("dispatch failed: %v", err)
	}
	if settled == 0 && hasPending(rs.plan) && ctx.Err() == nil {
		return NodeError, "dispatch made no progress on a plan with pending steps"
	}
	return NodePlanOrDecide, fmt.Sprintf("dispatched batch, %d steps settled", settled)
}

func (o *Orchestrator) awaitHuman(ctx context.Context, rs *runState) (NodeState, string) {
	ch := make(chan Decision, 1)
	o.mu.Lock()
	o.humans[rs.task.TraceID] = ch
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.humans, rs.task.TraceID)
		o.mu.Unlock()
	}()

	o.logger.Printf("task %s waiting for human input", rs.task.TraceID)
	select {
	case d := <-ch:
		rs.injected = &d
		return NodePlanOrDecide, "human input received"
	case <-ctx.Done():
		return NodeError, "cancelled"
	}
}

func hasPending(plan *Plan) bool {
	if plan == nil {
		return false
	}
	for _, s := range plan.Steps {
		if s.Status == StepPending {
			return true
		}
	}
	return false
}

func finalMessage(d Decision) string {
	if d.Message != "" {
		return d.Message
	}
	return d.NextAction
}
