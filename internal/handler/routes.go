package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"resume-gateway/internal/config"
	"resume-gateway/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Gateway
// routes are registered before the UI prefix; everything else falls through
// to the error handler as a 404.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, ws *WebSocketHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/health", health.Health)
	e.GET("/api/status", health.Status)
	e.Static("/static", cfg.Server.StaticRoot)

	prefix := cfg.Backend.UIPrefix
	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, prefix+"/")
	})

	ui := func(c echo.Context) error {
		if websocket.IsWebSocketUpgrade(c.Request()) {
			return ws.Handle(c)
		}
		return proxy.Handle(c)
	}
	e.Any(prefix, ui)
	e.Any(prefix+"/*", ui)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}
}
