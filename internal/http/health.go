package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type healthCache struct {
	result    healthResponse
	fetchedAt time.Time
	valid     bool
}

// HealthHandler runs the registered checks, caching the outcome for ttl.
type HealthHandler struct {
	checks map[string]HealthCheck
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache healthCache
}

func NewHealthHandler(checks map[string]HealthCheck, ttl time.Duration, now func() time.Time, logger *slog.Logger) *HealthHandler {
	if now == nil {
		now = time.Now
	}
	copied := make(map[string]HealthCheck, len(checks))
	for name, check := range checks {
		if check != nil {
			copied[name] = check
		}
	}
	return &HealthHandler{checks: copied, ttl: ttl, now: now, logger: defaultLogger(logger)}
}

// Get answers GET /healthz.
func (h *HealthHandler) Get(c echo.Context) error {
	result := h.evaluate(c.Request().Context())
	status := http.StatusOK
	if result.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, result)
}

func (h *HealthHandler) evaluate(ctx context.Context) healthResponse {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if h.cache.valid && now.Sub(h.cache.fetchedAt) < h.ttl {
		return h.cache.result
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	result := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			result.Status = "degraded"
			result.Checks[name] = err.Error()
			handlerLogger(ctx, h.logger, "health", "check", "check", name).WarnContext(ctx, "health check failed", "error", err)
			continue
		}
		result.Checks[name] = "ok"
	}

	h.cache = healthCache{result: result, fetchedAt: now, valid: true}
	return result
}
