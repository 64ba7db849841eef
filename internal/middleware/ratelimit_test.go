package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

func newLimitedEcho() *echo.Echo {
	e := echo.New()
	// 1 request per second with a burst of 1.
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(1))
	e.Use(echomw.RateLimiter(store))
	e.GET("/gradio/config", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func get(e *echo.Echo, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodGet, "/gradio/config", http.NoBody)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiter_Enabled(t *testing.T) {
	e := newLimitedEcho()

	if code := get(e, "192.0.2.1:1000"); code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", code, http.StatusOK)
	}

	got429 := false
	for range 10 {
		if get(e, "192.0.2.1:1000") == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response after burst, got none")
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	e := newLimitedEcho()

	for range 5 {
		get(e, "192.0.2.1:1000")
	}
	if code := get(e, "192.0.2.2:1000"); code != http.StatusOK {
		t.Errorf("other client: status = %d, want %d", code, http.StatusOK)
	}
}
