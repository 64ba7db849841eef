package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRecover(t *testing.T) {
	tests := []struct {
		name        string
		development bool
		wantStack   bool
	}{
		{"production hides stack", false, false},
		{"development logs stack", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			e := echo.New()
			e.Use(Recover(logger, tt.development))
			e.GET("/panic", func(c echo.Context) error {
				panic("boom")
			})

			req := httptest.NewRequest(http.MethodGet, "/panic", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
			}
			out := buf.String()
			if !strings.Contains(out, "panic recovered") {
				t.Errorf("log = %q, want panic entry", out)
			}
			if got := strings.Contains(out, "stack="); got != tt.wantStack {
				t.Errorf("stack logged = %v, want %v", got, tt.wantStack)
			}
		})
	}
}
