package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/errandhq/errand/internal/orchestration"
	"github.com/errandhq/errand/internal/store"
	"github.com/errandhq/errand/internal/telemetry"
	"github.com/errandhq/errand/internal/tools"
)

// Prometheus collectors register globally, so the suite shares one instance.
var testMetrics = telemetry.NewMetrics()

type fixedOracle struct {
	plan        *orchestration.Plan
	decision    orchestration.Decision
	planHistory []orchestration.Entry // history seen by the last CreatePlan
}

func (o *fixedOracle) CreatePlan(ctx context.Context, requestText string, catalog []tools.Tool, history []orchestration.Entry) (*orchestration.Plan, *orchestration.Decision, error) {
	o.planHistory = history
	return o.plan, nil, nil
}

func (o *fixedOracle) Decide(ctx context.Context, requestText string, catalog []tools.Tool, history []orchestration.Entry, latest []orchestration.StepResult) (orchestration.Decision, error) {
	return o.decision, nil
}

func newTestTasksHandler(t *testing.T) (*TasksHandler, *fixedOracle) {
	t.Helper()
	registry, err := tools.NewRegistry(context.Background(), tools.NewCalculatorProvider())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	oracle := &fixedOracle{
		plan: &orchestration.Plan{
			PlanID: "plan-1",
			Steps: []orchestration.Step{{
				ID:        "step_1",
				ToolName:  "calculator.add",
				Arguments: map[string]interface{}{"a": 2, "b": 3},
				Status:    orchestration.StepPending,
			}},
		},
		decision: orchestration.Decision{Type: orchestration.DecisionFinish, Message: "2 + 3 = 5"},
	}
	invoker := tools.NewInvoker(registry, time.Second)
	dispatcher := orchestration.NewDispatcher(invoker, orchestration.DispatcherConfig{MaxRetries: 0, Backoff: time.Millisecond})
	orch := orchestration.NewOrchestrator(oracle, registry, dispatcher, store.NewMemoryStore(), orchestration.Config{MaxIterations: 5})
	return &TasksHandler{
		Orch:    orch,
		Events:  orchestration.NewBroadcaster(16),
		Metrics: testMetrics,
		Logger:  log.New(os.Stdout, "[TASKS] ", log.LstdFlags),
	}, oracle
}

// fakeSessions is an in-memory SessionHistory.
type fakeSessions struct {
	turns    []store.Turn
	appended []store.Turn
}

func (f *fakeSessions) AppendTurn(ctx context.Context, sessionID string, turn store.Turn) error {
	f.appended = append(f.appended, turn)
	return nil
}

func (f *fakeSessions) History(ctx context.Context, sessionID string, n int) ([]store.Turn, error) {
	return f.turns, nil
}

func newTaskContext(t *testing.T, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/run", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRunTaskRequiresRequestText(t *testing.T) {
	handler, _ := newTestTasksHandler(t)
	ctx, _ := newTaskContext(t, `{"session_id":"sess-a"}`)
	err := handler.run(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestRunTaskWaitReturnsResult(t *testing.T) {
	handler, _ := newTestTasksHandler(t)
	ctx, rec := newTaskContext(t, `{"session_id":"sess-a","request_text":"add 2 and 3","wait":true}`)
	if err := handler.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result orchestration.RunResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !result.Success || result.Message != "2 + 3 = 5" {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Results) != 1 || result.Results[0].Output["result"] != float64(5) {
		t.Fatalf("results = %+v", result.Results)
	}
}

func TestRunTaskAsyncReturnsAccepted(t *testing.T) {
	handler, _ := newTestTasksHandler(t)
	ctx, rec := newTaskContext(t, `{"request_text":"add 2 and 3"}`)
	if err := handler.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var accepted RunTaskAccepted
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if accepted.TraceID == "" || accepted.SessionID == "" {
		t.Fatalf("accepted = %+v", accepted)
	}
	if accepted.StreamURL != "/api/tasks/"+accepted.TraceID+"/stream" {
		t.Fatalf("stream URL = %q", accepted.StreamURL)
	}
}

func TestRunTaskCarriesSessionContext(t *testing.T) {
	handler, oracle := newTestTasksHandler(t)
	sessions := &fakeSessions{turns: []store.Turn{
		{Role: "user", Content: "add 2 and 3"},
		{Role: "assistant", Content: "2 + 3 = 5"},
	}}
	handler.Sessions = sessions

	ctx, rec := newTaskContext(t, `{"session_id":"sess-a","request_text":"now double it","wait":true}`)
	if err := handler.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got []string
	for _, e := range oracle.planHistory {
		if e.Kind == orchestration.EntryTurn && e.Turn != nil {
			got = append(got, e.Turn.Role+": "+e.Turn.Content)
		}
	}
	want := []string{"user: add 2 and 3", "assistant: 2 + 3 = 5"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("planning history turns = %v, want %v", got, want)
	}
	if len(sessions.appended) != 2 {
		t.Fatalf("expected user and assistant turns appended, got %d", len(sessions.appended))
	}
}

func TestStreamReplaysFinishedRun(t *testing.T) {
	handler, _ := newTestTasksHandler(t)
	mem := store.NewMemoryStore()
	if err := mem.SaveRun(context.Background(),
		orchestration.Task{TraceID: "trace-9", SessionID: "sess-a", Status: orchestration.TaskSuccess},
		nil,
		orchestration.RunResult{Success: true, Status: orchestration.TaskSuccess, Message: "finished earlier", TraceID: "trace-9"},
	); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	handler.Runs = mem

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/tasks/trace-9/stream", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("trace_id")
	ctx.SetParamValues("trace-9")

	done := make(chan error, 1)
	go func() { done <- handler.stream(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not return for an already finished run")
	}
	body := rec.Body.String()
	if !strings.Contains(body, "execution_completed") || !strings.Contains(body, "finished earlier") {
		t.Fatalf("stream body = %q", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Fatalf("stream body missing done marker: %q", body)
	}
}

func TestHumanInputValidatesAction(t *testing.T) {
	handler, _ := newTestTasksHandler(t)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/trace-1/human", strings.NewReader(`{"action":"abort"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("trace_id")
	ctx.SetParamValues("trace-1")

	err := handler.humanInput(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHumanInputUnknownTrace(t *testing.T) {
	handler, _ := newTestTasksHandler(t)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/no-such-trace/human", strings.NewReader(`{"action":"finish","message":"done"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("trace_id")
	ctx.SetParamValues("no-such-trace")

	err := handler.humanInput(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
