// Package orchestration implements the task engine: the planning/decision
// loop, the step dispatcher, the execution tracker and the event stream.
package orchestration

import (
	"time"

	"github.com/errandhq/errand/internal/tools"
)

// TaskStatus is the terminal outcome of one orchestration run.
type TaskStatus string

const (
	TaskPending        TaskStatus = "pending"
	TaskSuccess        TaskStatus = "success"
	TaskPartialSuccess TaskStatus = "partial_success"
	TaskFailure        TaskStatus = "failure"
	TaskError          TaskStatus = "error"
)

// StepStatus tracks a single step through dispatch.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// NodeState names a state of the orchestrator's state machine.
type NodeState string

const (
	NodeInit           NodeState = "INIT"
	NodePlanOrDecide   NodeState = "PLAN_OR_DECIDE"
	NodeDispatch       NodeState = "DISPATCH"
	NodeHumanInTheLoop NodeState = "HUMAN_IN_THE_LOOP"
	NodeFinal          NodeState = "FINAL"
	NodeError          NodeState = "ERROR"
)

// Terminal reports whether the state ends the run.
func (s NodeState) Terminal() bool { return s == NodeFinal || s == NodeError }

// Task is one end-to-end user request.
type Task struct {
	SessionID   string     `json:"session_id"`
	TraceID     string     `json:"trace_id"`
	UserID      string     `json:"user_id,omitempty"`
	Tenant      string     `json:"tenant,omitempty"`
	RequestText string     `json:"request_text"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Step is one planned tool invocation. DependsOn references prior steps of
// the same plan by zero-based index.
type Step struct {
	ID          string                 `json:"id"`
	ToolName    string                 `json:"tool_name"`
	Arguments   map[string]interface{} `json:"arguments"`
	Description string                 `json:"description,omitempty"`
	DependsOn   []int                  `json:"depends_on,omitempty"`
	Status      StepStatus             `json:"status"`
}

// Plan is an ordered sequence of steps produced by one planning call. Steps
// are listed in dependency order; a step never depends on a later index.
type Plan struct {
	PlanID    string    `json:"plan_id"`
	Steps     []Step    `json:"steps"`
	Reasoning string    `json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StepResult is the outcome of executing a step. Error is set iff the step
// failed; results are immutable once recorded.
type StepResult struct {
	StepID    string                 `json:"step_id"`
	ToolName  string                 `json:"tool_name"`
	Status    StepStatus             `json:"status"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorKind tools.ErrorKind        `json:"error_kind,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
}

// DecisionType is the oracle's verdict after observing step results.
type DecisionType string

const (
	DecisionContinue DecisionType = "continue"
	DecisionReplan   DecisionType = "replan"
	DecisionFinish   DecisionType = "finish"
	DecisionEscalate DecisionType = "escalate"
)

// Decision drives the orchestrator's next transition. Plan is set only for
// replan decisions; Message carries the final answer on finish and the
// question to the human on escalate.
type Decision struct {
	Type       DecisionType `json:"decision_type"`
	NextAction string       `json:"next_action,omitempty"`
	Message    string       `json:"message,omitempty"`
	Plan       *Plan        `json:"plan,omitempty"`
}

// RunResult is the terminal response handed back to the caller.
type RunResult struct {
	Success       bool          `json:"success"`
	Status        TaskStatus    `json:"status"`
	Message       string        `json:"message"`
	Results       []StepResult  `json:"results"`
	TraceID       string        `json:"trace_id"`
	PlanID        string        `json:"plan_id,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// ConversationTurn is one prior exchange in the session: a user request or
// the engine's final answer.
type ConversationTurn struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// Request is an inbound orchestration request.
type Request struct {
	SessionID   string `json:"session_id"`
	RequestText string `json:"request_text"`
	UserID      string `json:"user_id,omitempty"`
	Tenant      string `json:"tenant,omitempty"`
	// TraceID may be pre-assigned by callers that need to reference the
	// task before Run returns (e.g. to attach an event stream).
	TraceID string `json:"trace_id,omitempty"`
	// Turns carries the session's prior conversation, oldest first. It is
	// planning context only and never enters the task's own history.
	Turns []ConversationTurn `json:"turns,omitempty"`
}
