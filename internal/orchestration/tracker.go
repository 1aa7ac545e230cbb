package orchestration

import (
	"fmt"
	"sync"
	"time"
)

// EntryKind classifies one tracker entry.
type EntryKind string

const (
	EntryPlan       EntryKind = "plan"
	EntryStepResult EntryKind = "step_result"
	EntryDecision   EntryKind = "decision"
	EntryTransition EntryKind = "transition"
	EntryNote       EntryKind = "note"
	EntryTurn       EntryKind = "turn"
)

// Entry is one record in a task's append-only history. Exactly one of Plan,
// Result, Decision or Turn is set depending on Kind. Turn entries never
// originate from the tracker itself; the orchestrator prepends them to the
// oracle's view to carry prior session conversation.
type Entry struct {
	Seq       int               `json:"seq"`
	Kind      EntryKind         `json:"kind"`
	Plan      *Plan             `json:"plan,omitempty"`
	Result    *StepResult       `json:"result,omitempty"`
	Decision  *Decision         `json:"decision,omitempty"`
	Turn      *ConversationTurn `json:"turn,omitempty"`
	From      NodeState         `json:"from,omitempty"`
	To        NodeState         `json:"to,omitempty"`
	Note      string            `json:"note,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Tracker is the append-only record of a single task's lifecycle. Entries
// are strictly append-ordered and never mutated; once sealed the history is
// immutable.
type Tracker struct {
	mu     sync.RWMutex
	task   Task
	nextSq int
	log    []Entry
	sealed bool
}

// NewTracker opens a history for the given task.
func NewTracker(task Task) *Tracker {
	task.Status = TaskPending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	return &Tracker{task: task}
}

// Task returns a copy of the tracked task record.
func (t *Tracker) Task() Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.task
}

func (t *Tracker) appendLocked(e Entry) error {
	if t.sealed {
		return fmt.Errorf("task %s is sealed", t.task.TraceID)
	}
	e.Seq = t.nextSq
	t.nextSq++
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	t.log = append(t.log, e)
	return nil
}

// RecordPlan appends a plan-created entry.
func (t *Tracker) RecordPlan(p Plan) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(Entry{Kind: EntryPlan, Plan: &p})
}

// RecordResult appends one step outcome.
func (t *Tracker) RecordResult(r StepResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(Entry{Kind: EntryStepResult, Result: &r})
}

// RecordDecision appends an oracle decision.
func (t *Tracker) RecordDecision(d Decision) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(Entry{Kind: EntryDecision, Decision: &d})
}

// RecordTransition appends one state-machine transition.
func (t *Tracker) RecordTransition(from, to NodeState, note string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(Entry{Kind: EntryTransition, From: from, To: to, Note: note})
}

// History returns the full entry log in append order.
func (t *Tracker) History() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.log))
	copy(out, t.log)
	return out
}

// Results returns every recorded step result in append order.
func (t *Tracker) Results() []StepResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []StepResult
	for _, e := range t.log {
		if e.Kind == EntryStepResult && e.Result != nil {
			out = append(out, *e.Result)
		}
	}
	return out
}

// LatestResults returns the most recent n step results, oldest first.
func (t *Tracker) LatestResults(n int) []StepResult {
	results := t.Results()
	if n <= 0 || n >= len(results) {
		return results
	}
	return results[len(results)-n:]
}

// Plans returns every recorded plan in append order.
func (t *Tracker) Plans() []Plan {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Plan
	for _, e := range t.log {
		if e.Kind == EntryPlan && e.Plan != nil {
			out = append(out, *e.Plan)
		}
	}
	return out
}

// AggregateStatus derives the terminal task status from the history and the
// reached terminal state: success iff every dispatched step completed and
// FINAL was reached; partial_success if FINAL was reached with at least one
// failed or skipped step but also at least one completed; failure if FINAL
// was reached with attempts but zero completed steps; error for ERROR.
func (t *Tracker) AggregateStatus(terminal NodeState) TaskStatus {
	if terminal == NodeError {
		return TaskError
	}
	results := t.Results()
	completed, notCompleted := 0, 0
	for _, r := range results {
		if r.Status == StepCompleted {
			completed++
		} else {
			notCompleted++
		}
	}
	switch {
	case notCompleted == 0:
		return TaskSuccess
	case completed > 0:
		return TaskPartialSuccess
	default:
		return TaskFailure
	}
}

// Seal freezes the history with the terminal status. Further appends fail.
func (t *Tracker) Seal(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	t.task.Status = status
	t.sealed = true
}

// Sealed reports whether the history is frozen.
func (t *Tracker) Sealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sealed
}
