package http

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type RouterConfig struct {
	Feeds  *FeedHandler
	Health *HealthHandler
	Logger *slog.Logger
}

// NewRouter builds the echo instance serving the configured handlers.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(RequestLogger(cfg.Logger))

	if cfg.Health != nil {
		e.GET("/healthz", cfg.Health.Get)
	}
	if cfg.Feeds != nil {
		e.GET("/feeds/:token", cfg.Feeds.Get)
	}
	return e
}
