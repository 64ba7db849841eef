package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"resume-gateway/internal/config"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		err         error
		wantStatus  int
		wantBody    map[string]string
	}{
		{
			name:       "not found",
			err:        echo.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]string{"error": "Route not found"},
		},
		{
			name:       "method not allowed",
			err:        echo.ErrMethodNotAllowed,
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]string{"error": "Route not found"},
		},
		{
			name:       "rate limited",
			err:        &echo.HTTPError{Code: http.StatusTooManyRequests, Message: "rate limit exceeded"},
			wantStatus: http.StatusTooManyRequests,
			wantBody:   map[string]string{"error": "rate limit exceeded"},
		},
		{
			name:       "client error without message",
			err:        &echo.HTTPError{Code: http.StatusRequestEntityTooLarge},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   map[string]string{"error": "Request Entity Too Large"},
		},
		{
			name:        "internal error in production",
			environment: "production",
			err:         errors.New("template exploded"),
			wantStatus:  http.StatusInternalServerError,
			wantBody:    map[string]string{"error": "Internal server error", "message": "Something went wrong"},
		},
		{
			name:        "internal error in development",
			environment: "development",
			err:         errors.New("template exploded"),
			wantStatus:  http.StatusInternalServerError,
			wantBody:    map[string]string{"error": "Internal server error", "message": "template exploded"},
		},
		{
			name:        "server HTTPError treated as internal",
			environment: "production",
			err:         echo.ErrServiceUnavailable,
			wantStatus:  http.StatusInternalServerError,
			wantBody:    map[string]string{"error": "Internal server error", "message": "Something went wrong"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Server: config.ServerConfig{Environment: tt.environment}}
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			handle := NewErrorHandler(cfg, logger)

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/anything", http.NoBody)
			rec := httptest.NewRecorder()
			handle(tt.err, e.NewContext(req, rec))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
			}
			if len(body) != len(tt.wantBody) {
				t.Errorf("body = %v, want %v", body, tt.wantBody)
			}
			for k, want := range tt.wantBody {
				if body[k] != want {
					t.Errorf("body[%q] = %q, want %q", k, body[k], want)
				}
			}
		})
	}
}

func TestErrorHandler_HeadHasNoBody(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handle := NewErrorHandler(&config.Config{}, logger)

	e := echo.New()
	req := httptest.NewRequest(http.MethodHead, "/missing", http.NoBody)
	rec := httptest.NewRecorder()
	handle(echo.ErrNotFound, e.NewContext(req, rec))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestErrorHandler_CommittedResponseUntouched(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handle := NewErrorHandler(&config.Config{}, logger)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/gradio/stream", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Response().WriteHeader(http.StatusOK)
	_, _ = c.Response().Write([]byte("partial"))

	handle(errors.New("late failure"), c)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "partial" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "partial")
	}
}
