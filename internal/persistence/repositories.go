package persistence

import (
	"context"
	"time"
)

// ResourceRepository exposes catalog operations for bookable resources.
type ResourceRepository interface {
	CreateResource(ctx context.Context, resource Resource) error
	UpdateResource(ctx context.Context, resource Resource) error
	GetResource(ctx context.Context, id string) (Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)
}

// BookingFilter narrows booking queries. Zero values are ignored.
type BookingFilter struct {
	ResourceID  string
	RequesterID string
	Statuses    []string
	// From keeps bookings ending after the instant.
	From *time.Time
	// To keeps bookings starting before the instant.
	To *time.Time
	// EndedBy keeps bookings ending at or before the instant.
	EndedBy *time.Time
	Limit   int
}

// BookingRepository stores bookings and their status history.
type BookingRepository interface {
	// InsertBookings persists the batch atomically. Before each insert the
	// number of blocking bookings overlapping the row (including earlier rows
	// of the same batch) is re-counted; when it reaches limit the whole batch
	// is rolled back with a *SlotTakenError.
	InsertBookings(ctx context.Context, bookings []Booking, limit int) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	// ListBlocking returns pending and active bookings of the resource whose
	// window overlaps [start, end).
	ListBlocking(ctx context.Context, resourceID string, start, end time.Time) ([]Booking, error)
	// ListSeries returns the parent and all children of a series ordered by start.
	ListSeries(ctx context.Context, parentID string) ([]Booking, error)
	// TransitionStatus moves a booking from one status to another only when
	// its current status still equals from, and records the change.
	TransitionStatus(ctx context.Context, id, from, to string, at time.Time) (Booking, error)
	// RescheduleBooking changes the window and resource of a blocking booking
	// after re-counting overlapping bookings other than itself against limit.
	RescheduleBooking(ctx context.Context, booking Booking, limit int) error
	ListStatusHistory(ctx context.Context, id string) ([]StatusChange, error)
	DeleteBooking(ctx context.Context, id string) error
}

// WaitlistRepository stores waitlist entries.
type WaitlistRepository interface {
	CreateWaitlistEntry(ctx context.Context, entry WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, id string) (WaitlistEntry, error)
	// FindPendingWaitlistEntry returns a pending entry of the requester for the
	// resource that overlaps [start, end), or ErrNotFound.
	FindPendingWaitlistEntry(ctx context.Context, resourceID, requesterID string, start, end time.Time) (WaitlistEntry, error)
	// ListPendingWaitlist returns pending entries of the resource overlapping
	// [start, end) in creation order.
	ListPendingWaitlist(ctx context.Context, resourceID string, start, end time.Time) ([]WaitlistEntry, error)
	UpdateWaitlistStatus(ctx context.Context, id, status string, notifiedAt *time.Time, at time.Time) (WaitlistEntry, error)
}

// SubscriptionRepository stores calendar feed subscriptions.
type SubscriptionRepository interface {
	// ReplaceSubscription deactivates the user's active subscriptions and
	// stores the new one in a single transaction.
	ReplaceSubscription(ctx context.Context, subscription CalendarSubscription) error
	GetSubscriptionByTokenHash(ctx context.Context, tokenHash string) (CalendarSubscription, error)
	DeactivateSubscriptions(ctx context.Context, userID string) (int, error)
	RecordSubscriptionAccess(ctx context.Context, id string, at time.Time) error
}
