package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"resume-gateway/internal/config"
	"resume-gateway/internal/model"
)

// Version is a string type for dependency injection of the build version.
type Version string

// BackendStatus reports the supervised backend without exposing control over it.
type BackendStatus interface {
	Snapshot() model.BackendHandle
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	backend BackendStatus
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, backend BackendStatus) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, backend: backend, now: time.Now}
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// StatusResponse is the body of GET /api/status. Feature flags report only
// whether a setting is present, never its value.
type StatusResponse struct {
	Status         string              `json:"status"`
	Version        string              `json:"version"`
	Environment    string              `json:"environment"`
	DatabaseStatus string              `json:"database_status"`
	Features       FeatureFlags        `json:"features"`
	Backend        model.BackendHandle `json:"backend"`
}

// FeatureFlags lists which optional capabilities are configured.
type FeatureFlags struct {
	Database bool `json:"database"`
	Premium  bool `json:"premium"`
	AI       bool `json:"ai"`
}

// Health reports gateway liveness. It does not depend on the backend.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		Version:   string(h.version),
	})
}

// Status returns gateway configuration and backend process status.
func (h *HealthHandler) Status(c echo.Context) error {
	f := h.cfg.Features
	dbStatus := "not_configured"
	if f.DatabaseConfigured() {
		dbStatus = "connected"
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Status:         "running",
		Version:        string(h.version),
		Environment:    h.cfg.Server.Environment,
		DatabaseStatus: dbStatus,
		Features: FeatureFlags{
			Database: f.DatabaseConfigured(),
			Premium:  f.Premium,
			AI:       f.AIConfigured(),
		},
		Backend: h.backend.Snapshot(),
	})
}
