package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/errandhq/errand/config"
	"github.com/errandhq/errand/internal/orchestration"
	"github.com/errandhq/errand/internal/runtime"
	"github.com/errandhq/errand/internal/store"
	"github.com/errandhq/errand/internal/telemetry"
)

var tasksTracer = otel.Tracer("errand/internal/server/tasks")

// sessionContextTurns caps how much prior conversation follow-up requests
// carry into planning.
const sessionContextTurns = 20

// SessionHistory records and replays per-session conversation turns.
// Satisfied by store.Sessions.
type SessionHistory interface {
	AppendTurn(ctx context.Context, sessionID string, turn store.Turn) error
	History(ctx context.Context, sessionID string, n int) ([]store.Turn, error)
}

// RunFinder looks up archived runs. Satisfied by the run stores.
type RunFinder interface {
	GetRun(ctx context.Context, traceID string) (store.RunRecord, error)
}

// TasksHandler submits tasks to the orchestrator and streams their events.
type TasksHandler struct {
	Orch     *orchestration.Orchestrator
	Events   *orchestration.Broadcaster
	Sessions SessionHistory
	Runs     RunFinder
	Metrics  *telemetry.Metrics
	Config   *config.Config
	Logger   *log.Logger
}

func (h *TasksHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("/run", h.run)
	g.GET("/:trace_id/stream", h.stream)
	g.POST("/:trace_id/human", h.humanInput)
}

func (h *TasksHandler) run(c echo.Context) error {
	var req RunTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.RequestText) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request_text required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	userID, _ := c.Get("user_id").(string)

	traceID := uuid.NewString()
	orchReq := orchestration.Request{
		SessionID:   req.SessionID,
		RequestText: req.RequestText,
		UserID:      userID,
		Tenant:      req.Tenant,
		TraceID:     traceID,
	}

	if req.Wait {
		ctx, span := tasksTracer.Start(c.Request().Context(), "TasksHandler.run")
		defer span.End()
		span.SetAttributes(attribute.String("trace_id", traceID))
		result, err := h.execute(ctx, orchReq)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, result)
	}

	go func() {
		if _, err := h.execute(context.Background(), orchReq); err != nil {
			h.Logger.Printf("background task %s failed: %v", traceID, err)
		}
	}()
	return c.JSON(http.StatusAccepted, RunTaskAccepted{
		TraceID:   traceID,
		SessionID: req.SessionID,
		StreamURL: "/api/tasks/" + traceID + "/stream",
	})
}

// execute runs the task and records the exchange in session history. Prior
// turns of the session ride along as planning context, so a follow-up like
// "and double it" can resolve against the earlier exchange.
func (h *TasksHandler) execute(ctx context.Context, req orchestration.Request) (orchestration.RunResult, error) {
	if h.Sessions != nil {
		turns, err := h.Sessions.History(ctx, req.SessionID, sessionContextTurns)
		if err != nil {
			h.Logger.Printf("warn: loading session %s history: %v", req.SessionID, err)
		}
		for _, turn := range turns {
			req.Turns = append(req.Turns, orchestration.ConversationTurn{Role: turn.Role, Content: turn.Content})
		}
	}
	result, err := h.Orch.Run(ctx, req, h.Events)
	if err != nil {
		return result, err
	}
	h.Metrics.ObserveRun(result)
	if h.Sessions != nil {
		now := time.Now()
		bg := context.WithoutCancel(ctx)
		if err := h.Sessions.AppendTurn(bg, req.SessionID, store.Turn{
			Role: "user", Content: req.RequestText, TraceID: result.TraceID, Timestamp: now,
		}); err != nil {
			h.Logger.Printf("warn: session append failed: %v", err)
		}
		if err := h.Sessions.AppendTurn(bg, req.SessionID, store.Turn{
			Role: "assistant", Content: result.Message, TraceID: result.TraceID, Timestamp: now,
		}); err != nil {
			h.Logger.Printf("warn: session append failed: %v", err)
		}
	}
	return result, nil
}

func (h *TasksHandler) stream(c echo.Context) error {
	if h.Config != nil && !h.Config.Server.RunStreamEnabled {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run stream disabled")
	}
	traceID := c.Param("trace_id")
	if strings.TrimSpace(traceID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "trace_id required")
	}
	ctx := c.Request().Context()

	events, cancel := h.Events.Subscribe()
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	send := func(ev orchestration.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// A run that sealed before this client attached will never broadcast
	// again; replay its terminal outcome instead of blocking on the channel.
	if h.Runs != nil {
		if rec, err := h.Runs.GetRun(ctx, traceID); err == nil {
			ev := orchestration.Event{
				Type:      orchestration.EventExecutionCompleted,
				TraceID:   traceID,
				Message:   rec.Result.Message,
				Data:      map[string]interface{}{"status": string(rec.Result.Status)},
				Timestamp: rec.CreatedAt,
			}
			if rec.Result.Status == orchestration.TaskError {
				ev.Type = orchestration.EventExecutionError
			}
			if err := send(ev); err != nil {
				return nil
			}
			_ = send(orchestration.Event{Type: orchestration.EventDone, TraceID: traceID, Timestamp: rec.CreatedAt})
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-events:
			if !open {
				return nil
			}
			if ev.TraceID != traceID {
				continue
			}
			if err := send(ev); err != nil {
				return nil
			}
			if ev.Type == orchestration.EventDone {
				return nil
			}
		}
	}
}

func (h *TasksHandler) humanInput(c echo.Context) error {
	traceID := c.Param("trace_id")
	var req HumanInputRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var dtype orchestration.DecisionType
	switch req.Action {
	case "continue":
		dtype = orchestration.DecisionContinue
	case "replan":
		dtype = orchestration.DecisionReplan
	case "finish":
		dtype = orchestration.DecisionFinish
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "action must be continue, replan, or finish")
	}
	d := orchestration.Decision{Type: dtype, Message: req.Message, Plan: req.Plan}
	if err := h.Orch.ProvideHumanInput(traceID, d); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}
