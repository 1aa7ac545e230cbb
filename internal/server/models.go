package server

import (
	"time"

	"github.com/errandhq/errand/internal/orchestration"
)

// HTTPError is the unified error envelope returned by all endpoints.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// RunTaskRequest submits a natural-language request for execution.
// When Wait is false the task runs in the background and the caller
// follows progress over the event stream.
type RunTaskRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	RequestText string `json:"request_text"`
	Tenant      string `json:"tenant,omitempty"`
	Wait        bool   `json:"wait,omitempty"`
}

type RunTaskAccepted struct {
	TraceID   string `json:"trace_id"`
	SessionID string `json:"session_id"`
	StreamURL string `json:"stream_url"`
}

// ScheduleCreateRequest registers a recurring request. The engine re-runs
// request_text on the cron cadence under the given session.
type ScheduleCreateRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	RequestText string `json:"request_text"`
	CronSpec    string `json:"cron_spec"`
}

// HumanInputRequest resolves a task parked in HUMAN_IN_THE_LOOP.
type HumanInputRequest struct {
	Action  string              `json:"action"` // continue, replan, finish, escalate
	Message string              `json:"message,omitempty"`
	Plan    *orchestration.Plan `json:"plan,omitempty"`
}

type historyItem struct {
	TraceID     string                   `json:"trace_id"`
	SessionID   string                   `json:"session_id"`
	RequestText string                   `json:"request_text"`
	Status      orchestration.TaskStatus `json:"status"`
	Message     string                   `json:"message"`
	CreatedAt   time.Time                `json:"created_at"`
}

type searchResponse struct {
	Query string       `json:"query"`
	TopK  int          `json:"top_k"`
	Hits  []searchItem `json:"hits"`
}

type searchItem struct {
	TraceID string       `json:"trace_id"`
	Score   float64      `json:"score"`
	Item    *historyItem `json:"item,omitempty"`
}
