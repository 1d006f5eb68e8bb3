package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/example/resource-scheduler/internal/application"
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeError(c echo.Context, status int, err error) error {
	ctx := c.Request().Context()
	if err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "request failed",
			"status", status,
			"error", err,
			"error_kind", application.ErrorKind(err),
		)
	}
	return c.JSON(status, errorResponse{Message: localizedStatusMessage(status)})
}

func (r responder) handleServiceError(c echo.Context, err error) error {
	switch {
	case err == nil:
		return r.writeError(c, http.StatusInternalServerError, errors.New("unknown error"))
	case errors.Is(err, application.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Message: localizedStatusMessage(http.StatusNotFound)})
	case errors.Is(err, application.ErrSubscriptionInactive):
		return c.JSON(http.StatusGone, errorResponse{
			ErrorCode: "SUBSCRIPTION_INACTIVE",
			Message:   localizedStatusMessage(http.StatusGone),
		})
	case errors.Is(err, application.ErrUnauthorized):
		return c.JSON(http.StatusForbidden, errorResponse{Message: localizedStatusMessage(http.StatusForbidden)})
	case application.IsRetryable(err):
		return r.writeError(c, http.StatusServiceUnavailable, err)
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Message: localizedStatusMessage(http.StatusUnprocessableEntity),
			Errors:  vErr.FieldErrors,
		})
	}
	return r.writeError(c, http.StatusInternalServerError, err)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return handlerLogger(ctx, r.logger, "responder", "")
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusGone:
		return "このカレンダー購読は無効になっています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusServiceUnavailable:
		return "一時的に処理できません。しばらくしてから再度お試しください。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
