package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"resume-gateway/internal/config"
)

// NewErrorHandler returns the central Echo error handler. Unknown routes map
// to a JSON 404; server errors are logged and only described to callers in
// development.
func NewErrorHandler(cfg *config.Config, logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	development := cfg.Server.Development()

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}

		var body map[string]string
		switch {
		case code == http.StatusNotFound || code == http.StatusMethodNotAllowed:
			code = http.StatusNotFound
			body = map[string]string{"error": "Route not found"}
		case code >= 400 && code < 500:
			body = map[string]string{"error": httpErrorMessage(he)}
		default:
			code = http.StatusInternalServerError
			message := "Something went wrong"
			if development {
				message = err.Error()
			}
			logger.Error("unhandled error",
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
			)
			body = map[string]string{
				"error":   "Internal server error",
				"message": message,
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error("write error response", "err", err)
		}
	}
}

func httpErrorMessage(he *echo.HTTPError) string {
	switch m := he.Message.(type) {
	case string:
		return m
	case error:
		return m.Error()
	case nil:
		return http.StatusText(he.Code)
	default:
		return fmt.Sprint(m)
	}
}
