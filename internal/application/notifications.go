package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/resource-scheduler/internal/scheduler"
)

// EventType names a notification emitted by the engine.
type EventType string

const (
	EventBookingCreated   EventType = "booking_created"
	EventSeriesCreated    EventType = "series_created"
	EventOwnerNotified    EventType = "owner_notified"
	EventBookingApproved  EventType = "booking_approved"
	EventBookingRejected  EventType = "booking_rejected"
	EventBookingCancelled EventType = "booking_cancelled"
	EventBookingModified  EventType = "booking_modified"
	EventWaitlistOpening  EventType = "waitlist_opening"
)

// Event is a fire-and-forget notification addressed to one recipient.
type Event struct {
	Type        EventType    `json:"type"`
	RecipientID string       `json:"recipient_id"`
	BookingID   string       `json:"booking_id,omitempty"`
	ResourceID  string       `json:"resource_id"`
	OccurredAt  time.Time    `json:"occurred_at"`
	Payload     EventPayload `json:"payload"`
}

// EventPayload carries the details a recipient needs to describe the change.
type EventPayload struct {
	Status          scheduler.Status `json:"status,omitempty"`
	PreviousStatus  scheduler.Status `json:"previous_status,omitempty"`
	Start           time.Time        `json:"start"`
	End             time.Time        `json:"end"`
	RequesterID     string           `json:"requester_id,omitempty"`
	SeriesID        string           `json:"series_id,omitempty"`
	Occurrences     int              `json:"occurrences,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	Changes         []string         `json:"changes,omitempty"`
	WaitlistEntryID string           `json:"waitlist_entry_id,omitempty"`
}

// Notifier delivers events. Delivery failures never affect the operation that
// produced the event.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Event) error { return nil }

func defaultNotifier(notifier Notifier) Notifier {
	if notifier != nil {
		return notifier
	}
	return discardNotifier{}
}

func emit(ctx context.Context, notifier Notifier, logger *slog.Logger, event Event) {
	if event.RecipientID == "" {
		return
	}
	if err := notifier.Notify(ctx, event); err != nil {
		logger.WarnContext(ctx, "notification delivery failed",
			"event_type", string(event.Type),
			"recipient_id", event.RecipientID,
			"booking_id", event.BookingID,
			"error", err,
		)
	}
}

func bookingPayload(booking Booking) EventPayload {
	return EventPayload{
		Status:      booking.Status,
		Start:       booking.Start,
		End:         booking.End,
		RequesterID: booking.RequesterID,
		SeriesID:    booking.SeriesID(),
	}
}

// recipients returns the requester and, when different, the resource owner.
func recipients(booking Booking, resource Resource) []string {
	out := []string{booking.RequesterID}
	if resource.OwnerID != "" && resource.OwnerID != booking.RequesterID {
		out = append(out, resource.OwnerID)
	}
	return out
}
