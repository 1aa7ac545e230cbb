package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/errandhq/errand/internal/runtime"
	"github.com/errandhq/errand/internal/store"
)

// SchedulesHandler manages recurring requests. Created schedules are picked
// up by the background scheduler on its next poll.
type SchedulesHandler struct {
	Store *store.Store
}

func (h *SchedulesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.DELETE("/:id", h.disable)
}

func (h *SchedulesHandler) create(c echo.Context) error {
	var req ScheduleCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.RequestText) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request_text required")
	}
	if _, err := cronexpr.Parse(req.CronSpec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron_spec: "+err.Error())
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	userID, _ := c.Get("user_id").(string)

	sched, err := h.Store.CreateSchedule(c.Request().Context(), store.Schedule{
		SessionID:   req.SessionID,
		UserID:      userID,
		RequestText: req.RequestText,
		CronSpec:    req.CronSpec,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, sched)
}

func (h *SchedulesHandler) list(c echo.Context) error {
	sessionID := strings.TrimSpace(c.QueryParam("session_id"))
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id required")
	}
	schedules, err := h.Store.ListSchedules(c.Request().Context(), sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if schedules == nil {
		schedules = []store.Schedule{}
	}
	return c.JSON(http.StatusOK, schedules)
}

func (h *SchedulesHandler) disable(c echo.Context) error {
	id := c.Param("id")
	if strings.TrimSpace(id) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id required")
	}
	if err := h.Store.DisableSchedule(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
