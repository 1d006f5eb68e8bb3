package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/resource-scheduler/internal/application"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging to logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notifications")}
}

// Notify implements application.Notifier.
func (s *LogSink) Notify(ctx context.Context, event application.Event) error {
	attrs := []any{
		"event_type", string(event.Type),
		"recipient_id", event.RecipientID,
		"resource_id", event.ResourceID,
		"start", event.Payload.Start,
		"end", event.Payload.End,
	}
	if event.BookingID != "" {
		attrs = append(attrs, "booking_id", event.BookingID)
	}
	if event.Payload.PreviousStatus != "" {
		attrs = append(attrs, "previous_status", string(event.Payload.PreviousStatus))
	}
	if event.Payload.Status != "" {
		attrs = append(attrs, "status", string(event.Payload.Status))
	}
	if event.Payload.Occurrences > 0 {
		attrs = append(attrs, "occurrences", event.Payload.Occurrences)
	}
	if len(event.Payload.Changes) > 0 {
		attrs = append(attrs, "changes", event.Payload.Changes)
	}
	if event.Payload.Reason != "" {
		attrs = append(attrs, "reason", event.Payload.Reason)
	}
	s.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}

// Fanout delivers each event to every notifier and joins their errors.
type Fanout []application.Notifier

// Notify implements application.Notifier.
func (f Fanout) Notify(ctx context.Context, event application.Event) error {
	var errs []error
	for _, notifier := range f {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
