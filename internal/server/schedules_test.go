package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/errandhq/errand/internal/store"
)

func newScheduleContext(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestScheduleCreate(t *testing.T) {
	st, mock, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &SchedulesHandler{Store: st}

	mock.ExpectExec(`INSERT INTO schedules`).
		WithArgs(sqlmock.AnyArg(), "sess-a", "", "summarize my inbox", "*/5 * * * *",
			sqlmock.AnyArg(), true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx, rec := newScheduleContext(t, http.MethodPost, "/api/schedules",
		`{"session_id":"sess-a","request_text":"summarize my inbox","cron_spec":"*/5 * * * *"}`)
	if err := handler.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var sched store.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &sched); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sched.ID == "" || !sched.Enabled || sched.NextRunAt.Before(time.Now().Add(-time.Minute)) {
		t.Fatalf("schedule = %+v", sched)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestScheduleCreateRejectsBadInput(t *testing.T) {
	st, _, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &SchedulesHandler{Store: st}

	cases := []struct {
		name string
		body string
	}{
		{"missing request text", `{"cron_spec":"*/5 * * * *"}`},
		{"bad cron spec", `{"request_text":"summarize my inbox","cron_spec":"not a cron"}`},
	}
	for _, tc := range cases {
		ctx, _ := newScheduleContext(t, http.MethodPost, "/api/schedules", tc.body)
		err := handler.create(ctx)
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %v", tc.name, err)
		}
	}
}

func TestScheduleList(t *testing.T) {
	st, mock, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &SchedulesHandler{Store: st}

	cols := []string{"id", "session_id", "user_id", "request_text", "cron_spec", "next_run_at", "enabled", "created_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("sched-1", "sess-a", "user-1", "summarize my inbox", "*/5 * * * *", time.Now().Add(time.Minute), true, time.Now())
	mock.ExpectQuery(`FROM schedules WHERE session_id = \$1 ORDER BY created_at`).
		WithArgs("sess-a").
		WillReturnRows(rows)

	ctx, rec := newScheduleContext(t, http.MethodGet, "/api/schedules?session_id=sess-a", "")
	if err := handler.list(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	var schedules []store.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &schedules); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(schedules) != 1 || schedules[0].ID != "sched-1" {
		t.Fatalf("schedules = %+v", schedules)
	}
}

func TestScheduleListRequiresSession(t *testing.T) {
	st, _, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &SchedulesHandler{Store: st}

	ctx, _ := newScheduleContext(t, http.MethodGet, "/api/schedules", "")
	err := handler.list(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestScheduleDisable(t *testing.T) {
	st, mock, cleanup := setupHistoryStore(t)
	defer cleanup()
	handler := &SchedulesHandler{Store: st}

	mock.ExpectExec(`UPDATE schedules SET enabled = FALSE WHERE id = \$1`).
		WithArgs("sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx, rec := newScheduleContext(t, http.MethodDelete, "/api/schedules/sched-1", "")
	ctx.SetParamNames("id")
	ctx.SetParamValues("sched-1")
	if err := handler.disable(ctx); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
