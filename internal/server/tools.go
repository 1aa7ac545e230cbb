package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/errandhq/errand/internal/runtime"
	"github.com/errandhq/errand/internal/tools"
)

// ToolsHandler exposes the registered tool catalog.
type ToolsHandler struct {
	Registry *tools.Registry
}

func (h *ToolsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.list)
}

func (h *ToolsHandler) list(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": h.Registry.Len(),
		"tools": h.Registry.Tools(),
	})
}
