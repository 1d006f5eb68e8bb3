package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const calendarContentType = "text/calendar; charset=utf-8"

type feedService interface {
	Render(ctx context.Context, token string) ([]byte, error)
}

// FeedHandler serves subscription calendar feeds.
type FeedHandler struct {
	service   feedService
	responder responder
	logger    *slog.Logger
}

func NewFeedHandler(service feedService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

// Get renders the feed for the token in the path.
func (h *FeedHandler) Get(c echo.Context) error {
	if h == nil || h.service == nil {
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	token := strings.TrimSuffix(c.Param("token"), ".ics")
	if token == "" {
		return c.JSON(http.StatusNotFound, errorResponse{Message: localizedStatusMessage(http.StatusNotFound)})
	}

	ctx := c.Request().Context()
	body, err := h.service.Render(ctx, token)
	if err != nil {
		return h.responder.handleServiceError(c, err)
	}

	handlerLogger(ctx, h.logger, "feed", "get", "bytes", len(body)).DebugContext(ctx, "feed rendered")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, calendarContentType, body)
}
