package application

import (
	"time"

	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

// ResourceStatus is the catalog publication state of a resource.
type ResourceStatus string

const (
	ResourceDraft     ResourceStatus = "draft"
	ResourcePublished ResourceStatus = "published"
	ResourceArchived  ResourceStatus = "archived"
)

// Resource is a bookable catalog entry as seen by the scheduling engine.
type Resource struct {
	ID               string
	Title            string
	OwnerID          string
	Location         *string
	Capacity         *int
	RequiresApproval bool
	IsAvailable      bool
	Status           ResourceStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Bookable reports whether new bookings may be placed on the resource.
func (r Resource) Bookable() bool {
	return r.Status == ResourcePublished && r.IsAvailable
}

// Booking is a reservation of a resource window. Occurrences of a series share
// the parent's rule and reference the parent through SeriesParentID.
type Booking struct {
	ID              string
	ResourceID      string
	RequesterID     string
	Start           time.Time
	End             time.Time
	Status          scheduler.Status
	Notes           *string
	Recurrence      recurrence.Rule
	RecurrenceEndAt *time.Time
	SeriesParentID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Window returns the booking's time window.
func (b Booking) Window() scheduler.Window {
	return scheduler.Window{Start: b.Start, End: b.End}
}

// IsSeriesParent reports whether the booking heads a recurring series.
func (b Booking) IsSeriesParent() bool {
	return b.Recurrence.Repeats() && b.SeriesParentID == nil
}

// SeriesID returns the identifier of the series the booking belongs to, or
// the empty string for a standalone booking.
func (b Booking) SeriesID() string {
	if b.SeriesParentID != nil {
		return *b.SeriesParentID
	}
	if b.IsSeriesParent() {
		return b.ID
	}
	return ""
}

func (b Booking) occupant() scheduler.Occupant {
	return scheduler.Occupant{
		BookingID:  b.ID,
		ResourceID: b.ResourceID,
		Window:     b.Window(),
		Status:     b.Status,
	}
}

// StatusChange is one recorded status transition of a booking.
type StatusChange struct {
	BookingID string
	From      scheduler.Status
	To        scheduler.Status
	ChangedAt time.Time
}

// BookingFilter narrows booking listings.
type BookingFilter struct {
	ResourceID  string
	RequesterID string
	Statuses    []scheduler.Status
	From        *time.Time
	To          *time.Time
	EndedBy     *time.Time
	Limit       int
}

// ScheduleRequest asks for a resource window, optionally repeating.
type ScheduleRequest struct {
	ResourceID      string
	RequesterID     string
	Start           time.Time
	End             time.Time
	Recurrence      recurrence.Rule
	RecurrenceEndAt *time.Time
	Notes           *string
}

// CancelScope selects how far a cancellation reaches.
type CancelScope string

const (
	// CancelSingle cancels the booking alone unless it heads a series.
	CancelSingle CancelScope = "single"
	// CancelSeries cancels every occurrence of the booking's series.
	CancelSeries CancelScope = "series"
)

// CancelRequest identifies a booking to cancel.
type CancelRequest struct {
	BookingID string
	Scope     CancelScope
	Reason    string
}

// DecisionRequest approves or rejects a pending booking. Series scope applies
// the decision to every pending occurrence of the booking's series.
type DecisionRequest struct {
	BookingID string
	Scope     CancelScope
	Reason    string
}

// RescheduleRequest moves a booking to another window and optionally another resource.
type RescheduleRequest struct {
	BookingID  string
	ResourceID string
	Start      time.Time
	End        time.Time
	Notes      *string
}

// WaitlistStatus is the state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistPending   WaitlistStatus = "pending"
	WaitlistNotified  WaitlistStatus = "notified"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

// WaitlistEntry records interest in a window that could not be booked.
type WaitlistEntry struct {
	ID          string
	ResourceID  string
	RequesterID string
	Start       time.Time
	End         time.Time
	Status      WaitlistStatus
	Notes       *string
	NotifiedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Window returns the entry's requested window.
func (w WaitlistEntry) Window() scheduler.Window {
	return scheduler.Window{Start: w.Start, End: w.End}
}

// WaitlistRequest records interest in a resource window.
type WaitlistRequest struct {
	ResourceID  string
	RequesterID string
	Start       time.Time
	End         time.Time
	Notes       *string
}

// CalendarSubscription grants tokenised read access to a user's bookings.
type CalendarSubscription struct {
	ID             string
	UserID         string
	TokenHash      string
	StatusFilter   []scheduler.Status
	RangeStart     *time.Time
	RangeEnd       *time.Time
	IsActive       bool
	ExpiresAt      *time.Time
	LastAccessedAt *time.Time
	AccessCount    int
	CreatedAt      time.Time
}

// SubscribeRequest configures a new calendar feed subscription.
type SubscribeRequest struct {
	UserID    string
	Statuses  []scheduler.Status
	From      *time.Time
	To        *time.Time
	ExpiresAt *time.Time
}

// SubscriptionGrant returns the stored subscription with the clear-text token.
// The token is not recoverable afterwards.
type SubscriptionGrant struct {
	Subscription CalendarSubscription
	Token        string
}

// FeedEntry is one booking as rendered in a calendar feed.
type FeedEntry struct {
	Booking       Booking
	ResourceTitle string
	Location      string
}
