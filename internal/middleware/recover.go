package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// Recover turns handler panics into errors for the central error handler.
// Stack traces are logged only in development.
func Recover(logger *slog.Logger, development bool) echo.MiddlewareFunc {
	logger = logger.With("component", "recover")
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		DisablePrintStack: !development,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			attrs := []any{
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
			}
			if development {
				attrs = append(attrs, "stack", string(stack))
			}
			logger.Error("panic recovered", attrs...)
			return err
		},
	})
}
