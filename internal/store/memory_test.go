package store

import (
	"context"
	"errors"
	"testing"

	"github.com/errandhq/errand/internal/orchestration"
)

func sampleRun(traceID, sessionID string) (orchestration.Task, []orchestration.Entry, orchestration.RunResult) {
	task := orchestration.Task{
		TraceID:     traceID,
		SessionID:   sessionID,
		RequestText: "add 2 and 3",
		Status:      orchestration.TaskSuccess,
	}
	history := []orchestration.Entry{
		{Seq: 0, Kind: orchestration.EntryNote, Note: "task created"},
		{Seq: 1, Kind: orchestration.EntryStepResult, Result: &orchestration.StepResult{
			StepID:   "step_1",
			ToolName: "calculator.add",
			Status:   orchestration.StepCompleted,
			Output:   map[string]interface{}{"result": float64(5)},
		}},
	}
	result := orchestration.RunResult{
		Success: true,
		Status:  orchestration.TaskSuccess,
		Message: "2 + 3 = 5",
		TraceID: traceID,
	}
	return task, history, result
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	task, history, result := sampleRun("trace-1", "sess-1")
	if err := m.SaveRun(ctx, task, history, result); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	rec, err := m.GetRun(ctx, "trace-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Task.TraceID != "trace-1" || rec.Task.Status != orchestration.TaskSuccess {
		t.Fatalf("task = %+v", rec.Task)
	}
	if len(rec.History) != 2 || rec.History[1].Result.Output["result"] != float64(5) {
		t.Fatalf("history = %+v", rec.History)
	}
	if rec.Result.Message != "2 + 3 = 5" {
		t.Fatalf("result = %+v", rec.Result)
	}

	if _, err := m.GetRun(ctx, "no-such-trace"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreSaveKeepsFirstWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	task, history, result := sampleRun("trace-1", "sess-1")
	if err := m.SaveRun(ctx, task, history, result); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	result.Message = "overwritten"
	if err := m.SaveRun(ctx, task, history, result); err != nil {
		t.Fatalf("second SaveRun: %v", err)
	}
	rec, err := m.GetRun(ctx, "trace-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Result.Message != "2 + 3 = 5" {
		t.Fatalf("expected first write preserved, got %q", rec.Result.Message)
	}
}

func TestMemoryStoreListRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for _, id := range []string{"trace-1", "trace-2"} {
		task, history, result := sampleRun(id, "sess-a")
		if err := m.SaveRun(ctx, task, history, result); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}
	task, history, result := sampleRun("trace-3", "sess-b")
	if err := m.SaveRun(ctx, task, history, result); err != nil {
		t.Fatalf("SaveRun trace-3: %v", err)
	}

	all, err := m.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	// Newest first.
	if all[0].Task.TraceID != "trace-3" {
		t.Fatalf("expected trace-3 first, got %s", all[0].Task.TraceID)
	}

	bySession, err := m.ListRuns(ctx, "sess-a", 0)
	if err != nil {
		t.Fatalf("ListRuns sess-a: %v", err)
	}
	if len(bySession) != 2 {
		t.Fatalf("expected 2 runs for sess-a, got %d", len(bySession))
	}
	for _, rec := range bySession {
		if rec.Task.SessionID != "sess-a" {
			t.Fatalf("unexpected session %s", rec.Task.SessionID)
		}
	}

	limited, err := m.ListRuns(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListRuns limit: %v", err)
	}
	if len(limited) != 1 || limited[0].Task.TraceID != "trace-3" {
		t.Fatalf("limited = %+v", limited)
	}
}
