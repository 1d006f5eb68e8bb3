package persistence

import "time"

// Resource is a bookable catalog entry.
type Resource struct {
	ID               string
	Title            string
	OwnerID          string
	Location         *string
	Capacity         *int
	RequiresApproval bool
	IsAvailable      bool
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Booking is a stored reservation of a resource window.
type Booking struct {
	ID              string
	ResourceID      string
	RequesterID     string
	Start           time.Time
	End             time.Time
	Status          string
	Notes           *string
	RecurrenceRule  string
	RecurrenceEndAt *time.Time
	SeriesParentID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusChange is one entry of a booking's status history.
type StatusChange struct {
	BookingID string
	From      string
	To        string
	ChangedAt time.Time
}

// WaitlistEntry records a requester's interest in a window that could not be booked.
type WaitlistEntry struct {
	ID          string
	ResourceID  string
	RequesterID string
	Start       time.Time
	End         time.Time
	Status      string
	Notes       *string
	NotifiedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CalendarSubscription grants read access to a user's bookings as a calendar feed.
type CalendarSubscription struct {
	ID             string
	UserID         string
	TokenHash      string
	StatusFilter   []string
	RangeStart     *time.Time
	RangeEnd       *time.Time
	IsActive       bool
	ExpiresAt      *time.Time
	LastAccessedAt *time.Time
	AccessCount    int
	CreatedAt      time.Time
}
