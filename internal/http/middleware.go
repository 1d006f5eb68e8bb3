package http

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/example/resource-scheduler/internal/logging"
)

// RequestLogger attaches a request scoped logger to the request context and
// logs the start and completion of every request.
func RequestLogger(base *slog.Logger) echo.MiddlewareFunc {
	base = defaultLogger(base)
	var counter atomic.Uint64

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", req.Method,
				"path", req.URL.Path,
			)

			ctx := logging.ContextWithLogger(req.Context(), logger)
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			logger.InfoContext(ctx, "request started")
			if err := next(c); err != nil {
				// Let echo render the error so the logged status is final.
				c.Error(err)
			}
			logger.InfoContext(ctx, "request completed",
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return nil
		}
	}
}
