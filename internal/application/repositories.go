package application

import (
	"context"
	"errors"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

// ResourceCatalog exposes read access to the resource catalog.
type ResourceCatalog interface {
	GetResource(ctx context.Context, id string) (Resource, error)
}

// BookingStore captures the booking persistence interactions of the engine.
type BookingStore interface {
	// ListBlocking returns pending and active bookings of the resource that
	// overlap [start, end).
	ListBlocking(ctx context.Context, resourceID string, start, end time.Time) ([]Booking, error)
	// InsertBookings commits the batch atomically after re-checking that no
	// more than limit blocking bookings overlap any row.
	InsertBookings(ctx context.Context, bookings []Booking, limit int) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	ListSeries(ctx context.Context, parentID string) ([]Booking, error)
	TransitionStatus(ctx context.Context, id string, from, to scheduler.Status, at time.Time) (Booking, error)
	RescheduleBooking(ctx context.Context, booking Booking, limit int) error
	ListStatusHistory(ctx context.Context, id string) ([]StatusChange, error)
	DeleteBooking(ctx context.Context, id string) error
}

// WaitlistStore persists waitlist entries.
type WaitlistStore interface {
	CreateWaitlistEntry(ctx context.Context, entry WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, id string) (WaitlistEntry, error)
	FindPendingWaitlistEntry(ctx context.Context, resourceID, requesterID string, start, end time.Time) (WaitlistEntry, error)
	ListPendingWaitlist(ctx context.Context, resourceID string, start, end time.Time) ([]WaitlistEntry, error)
	UpdateWaitlistStatus(ctx context.Context, id string, status WaitlistStatus, notifiedAt *time.Time, at time.Time) (WaitlistEntry, error)
}

// SubscriptionStore persists calendar feed subscriptions.
type SubscriptionStore interface {
	ReplaceSubscription(ctx context.Context, subscription CalendarSubscription) error
	GetSubscriptionByTokenHash(ctx context.Context, tokenHash string) (CalendarSubscription, error)
	DeactivateSubscriptions(ctx context.Context, userID string) (int, error)
	RecordSubscriptionAccess(ctx context.Context, id string, at time.Time) error
}

// RequesterPolicy decides whether a requester may place bookings.
type RequesterPolicy interface {
	CanBook(ctx context.Context, requesterID string) (bool, error)
}

// ResourceLocker serialises writers per key. The returned release function
// must be called once the protected section ends.
type ResourceLocker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// SlotReleaseListener is told when a booking gives up its window.
type SlotReleaseListener interface {
	SlotReleased(ctx context.Context, resourceID string, window scheduler.Window) (int, error)
}

func resourceLockKey(resourceID string) string {
	return "resource:" + resourceID
}

// mapRepoError translates persistence errors into application errors.
func mapRepoError(op string, err error) error {
	if err == nil {
		return nil
	}
	var slotErr *persistence.SlotTakenError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrStaleStatus):
		return ErrConcurrentUpdate
	case errors.As(err, &slotErr):
		return err
	case errors.Is(err, persistence.ErrConstraintViolation):
		return newValidationError("window", "start must be before end")
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		return newValidationError("resource_id", "resource does not exist")
	case errors.Is(err, persistence.ErrTransient):
		return &TransientError{Op: op, Err: err}
	}
	return err
}

func requireResource(ctx context.Context, resources ResourceCatalog, id string) (Resource, error) {
	resource, err := resources.GetResource(ctx, id)
	if err != nil {
		mapped := mapRepoError("load resource", err)
		if errors.Is(mapped, ErrNotFound) {
			return Resource{}, newValidationError("resource_id", "resource does not exist")
		}
		return Resource{}, mapped
	}
	return resource, nil
}

func checkRequesterPolicy(ctx context.Context, policy RequesterPolicy, requesterID string) error {
	if policy == nil {
		return nil
	}
	allowed, err := policy.CanBook(ctx, requesterID)
	if err != nil {
		return &TransientError{Op: "check requester policy", Err: err}
	}
	if !allowed {
		return newValidationError("requester_id", "requester is suspended")
	}
	return nil
}
