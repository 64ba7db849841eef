package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"resume-gateway/internal/config"
	"resume-gateway/internal/model"
)

func TestHealthHandler_Health(t *testing.T) {
	h := NewHealthHandler(&config.Config{}, "1.2.3", fakeBackend{handle: model.BackendHandle{State: model.BackendExited}})
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)) }

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Health(c); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %q, want %q", body["status"], "healthy")
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %q, want %q", body["version"], "1.2.3")
	}
	if body["timestamp"] != "2026-01-02T02:04:05Z" {
		t.Errorf("timestamp = %q, want %q", body["timestamp"], "2026-01-02T02:04:05Z")
	}
}

func TestHealthHandler_Status(t *testing.T) {
	exit := 1
	tests := []struct {
		name         string
		features     config.FeaturesConfig
		backend      model.BackendHandle
		wantDBStatus string
		wantFeatures FeatureFlags
	}{
		{
			name:         "nothing configured",
			backend:      model.BackendHandle{PID: 10, Port: 7860, Variant: "default", State: model.BackendRunning},
			wantDBStatus: "not_configured",
			wantFeatures: FeatureFlags{},
		},
		{
			name: "all configured",
			features: config.FeaturesConfig{
				DatabaseURL:  "postgres://user:secret@db/resumes",
				Premium:      true,
				OpenAIAPIKey: "sk-test",
			},
			backend:      model.BackendHandle{PID: 11, Port: 7860, Variant: "database", State: model.BackendStarting, Restarts: 2},
			wantDBStatus: "connected",
			wantFeatures: FeatureFlags{Database: true, Premium: true, AI: true},
		},
		{
			name:         "backend exited",
			features:     config.FeaturesConfig{Premium: true},
			backend:      model.BackendHandle{Port: 7860, Variant: "premium", State: model.BackendExited, ExitCode: &exit},
			wantDBStatus: "not_configured",
			wantFeatures: FeatureFlags{Premium: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Server:   config.ServerConfig{Environment: "production"},
				Features: tt.features,
			}
			h := NewHealthHandler(cfg, "1.2.3", fakeBackend{handle: tt.backend})

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.Status(c); err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}

			var body StatusResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body.DatabaseStatus != tt.wantDBStatus {
				t.Errorf("database_status = %q, want %q", body.DatabaseStatus, tt.wantDBStatus)
			}
			if body.Features != tt.wantFeatures {
				t.Errorf("features = %+v, want %+v", body.Features, tt.wantFeatures)
			}
			if body.Environment != "production" {
				t.Errorf("environment = %q, want %q", body.Environment, "production")
			}
			if body.Version != "1.2.3" {
				t.Errorf("version = %q, want %q", body.Version, "1.2.3")
			}
			if body.Backend.State != tt.backend.State || body.Backend.PID != tt.backend.PID || body.Backend.Restarts != tt.backend.Restarts {
				t.Errorf("backend = %+v, want %+v", body.Backend, tt.backend)
			}
		})
	}
}

func TestHealthHandler_StatusNeverLeaksSecrets(t *testing.T) {
	cfg := &config.Config{Features: config.FeaturesConfig{
		DatabaseURL:  "postgres://user:hunter2@db/resumes",
		OpenAIAPIKey: "sk-secret-value",
	}}
	h := NewHealthHandler(cfg, "1.2.3", fakeBackend{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)
	rec := httptest.NewRecorder()
	if err := h.Status(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	body := rec.Body.String()
	for _, secret := range []string{"hunter2", "sk-secret-value", "postgres://"} {
		if strings.Contains(body, secret) {
			t.Errorf("status body leaks %q: %s", secret, body)
		}
	}
}
