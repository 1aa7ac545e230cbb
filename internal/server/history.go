package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/errandhq/errand/internal/runtime"
	"github.com/errandhq/errand/internal/store"
)

// HistoryHandler serves the archived run history and its search index.
type HistoryHandler struct {
	Store  *store.Store
	Search *store.SearchIndex
}

func (h *HistoryHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/:trace_id", h.get)
}

func (h *HistoryHandler) list(c echo.Context) error {
	sessionID := strings.TrimSpace(c.QueryParam("session_id"))
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id required")
	}
	limit := 0
	if val := c.QueryParam("limit"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := h.Store.ListRuns(c.Request().Context(), sessionID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]historyItem, 0, len(records))
	for _, rec := range records {
		items = append(items, toHistoryItem(rec))
	}
	return c.JSON(http.StatusOK, items)
}

func (h *HistoryHandler) get(c echo.Context) error {
	traceID := c.Param("trace_id")
	rec, err := h.Store.GetRun(c.Request().Context(), traceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *HistoryHandler) search(c echo.Context) error {
	if h.Search == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search index disabled")
	}
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	topK := 10
	if val := c.QueryParam("k"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			topK = n
		}
	}
	hits, err := h.Search.Search(query, topK)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := searchResponse{Query: query, TopK: topK, Hits: make([]searchItem, 0, len(hits))}
	for _, hit := range hits {
		item := searchItem{TraceID: hit.TraceID, Score: hit.Score}
		if rec, err := h.Store.GetRun(c.Request().Context(), hit.TraceID); err == nil {
			hi := toHistoryItem(rec)
			item.Item = &hi
		}
		out.Hits = append(out.Hits, item)
	}
	return c.JSON(http.StatusOK, out)
}

func toHistoryItem(rec store.RunRecord) historyItem {
	return historyItem{
		TraceID:     rec.Task.TraceID,
		SessionID:   rec.Task.SessionID,
		RequestText: rec.Task.RequestText,
		Status:      rec.Result.Status,
		Message:     rec.Result.Message,
		CreatedAt:   rec.CreatedAt,
	}
}
