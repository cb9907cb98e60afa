package middleware

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
)

// CharmLog logs every control request through charmbracelet/log. Handler
// errors are rendered by the echo error handler before the line is written
// so the logged status is the one the client saw.
func CharmLog() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			fields := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"bytes", res.Size,
				"took", time.Since(start).Round(time.Microsecond),
			}

			switch {
			case res.Status >= 500:
				log.Error("control request", fields...)
			case res.Status >= 400:
				log.Warn("control request", fields...)
			default:
				log.Debug("control request", fields...)
			}
			return nil
		}
	}
}
