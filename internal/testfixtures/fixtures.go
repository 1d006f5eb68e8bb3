package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

var (
	resourceCounter uint64
	bookingCounter  uint64
)

// referenceTime is a Monday morning so daily and weekly rules line up with
// business days in examples.
var referenceTime = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Resource fixtures -----------------------------

// ResourceFixture is a deterministic catalog entry. Defaults describe a
// published, available, single-occupancy room without approval.
type ResourceFixture struct {
	ID               string
	Title            string
	OwnerID          string
	Location         *string
	Capacity         *int
	RequiresApproval bool
	IsAvailable      bool
	Status           string
	CreatedAt        time.Time
}

// ResourceOption configures the generated resource fixture.
type ResourceOption func(*ResourceFixture)

// NewResourceFixture returns a resource fixture with optional overrides.
func NewResourceFixture(opts ...ResourceOption) ResourceFixture {
	idx := atomic.AddUint64(&resourceCounter, 1)
	location := "Building A"
	fixture := ResourceFixture{
		ID:          fmt.Sprintf("resource-%03d", idx),
		Title:       fmt.Sprintf("Room %03d", idx),
		OwnerID:     "owner-1",
		Location:    &location,
		IsAvailable: true,
		Status:      string(application.ResourcePublished),
		CreatedAt:   referenceTime.Add(-24 * time.Hour),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithResourceID overrides the generated resource ID.
func WithResourceID(id string) ResourceOption {
	return func(f *ResourceFixture) {
		f.ID = id
	}
}

// WithResourceOwner sets the owner notified about bookings.
func WithResourceOwner(ownerID string) ResourceOption {
	return func(f *ResourceFixture) {
		f.OwnerID = ownerID
	}
}

// WithCapacity sets a seat count. Capacity 1 behaves like an unset capacity.
func WithCapacity(capacity int) ResourceOption {
	return func(f *ResourceFixture) {
		f.Capacity = &capacity
	}
}

// WithApproval marks the resource as requiring owner approval.
func WithApproval() ResourceOption {
	return func(f *ResourceFixture) {
		f.RequiresApproval = true
	}
}

// WithResourceStatus overrides the publication status.
func WithResourceStatus(status application.ResourceStatus) ResourceOption {
	return func(f *ResourceFixture) {
		f.Status = string(status)
	}
}

// Unavailable marks the resource as temporarily out of service.
func Unavailable() ResourceOption {
	return func(f *ResourceFixture) {
		f.IsAvailable = false
	}
}

// Persistence returns the fixture as a persistence.Resource value.
func (f ResourceFixture) Persistence() persistence.Resource {
	return persistence.Resource{
		ID:               f.ID,
		Title:            f.Title,
		OwnerID:          f.OwnerID,
		Location:         copyStringPtr(f.Location),
		Capacity:         copyIntPtr(f.Capacity),
		RequiresApproval: f.RequiresApproval,
		IsAvailable:      f.IsAvailable,
		Status:           f.Status,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.CreatedAt,
	}
}

// Application returns the fixture as an application.Resource value.
func (f ResourceFixture) Application() application.Resource {
	return application.Resource{
		ID:               f.ID,
		Title:            f.Title,
		OwnerID:          f.OwnerID,
		Location:         copyStringPtr(f.Location),
		Capacity:         copyIntPtr(f.Capacity),
		RequiresApproval: f.RequiresApproval,
		IsAvailable:      f.IsAvailable,
		Status:           application.ResourceStatus(f.Status),
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.CreatedAt,
	}
}

// ----------------------------- Booking fixtures ------------------------------

// BookingFixture is a deterministic stored booking. Defaults describe an
// active one hour booking starting at ReferenceTime.
type BookingFixture struct {
	ID              string
	ResourceID      string
	RequesterID     string
	Start           time.Time
	End             time.Time
	Status          scheduler.Status
	Rule            recurrence.Rule
	RecurrenceEndAt *time.Time
	SeriesParentID  *string
	CreatedAt       time.Time
}

// BookingOption configures the generated booking fixture.
type BookingOption func(*BookingFixture)

// NewBookingFixture returns a booking of resourceID with optional overrides.
func NewBookingFixture(resourceID string, opts ...BookingOption) BookingFixture {
	idx := atomic.AddUint64(&bookingCounter, 1)
	fixture := BookingFixture{
		ID:          fmt.Sprintf("booking-%03d", idx),
		ResourceID:  resourceID,
		RequesterID: "requester-1",
		Start:       referenceTime,
		End:         referenceTime.Add(time.Hour),
		Status:      scheduler.StatusActive,
		Rule:        recurrence.RuleNone,
		CreatedAt:   referenceTime.Add(-time.Hour),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithBookingID overrides the generated booking ID.
func WithBookingID(id string) BookingOption {
	return func(f *BookingFixture) {
		f.ID = id
	}
}

// WithRequester sets the requesting user.
func WithRequester(requesterID string) BookingOption {
	return func(f *BookingFixture) {
		f.RequesterID = requesterID
	}
}

// WithWindow sets the booking window.
func WithWindow(start, end time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.Start = start
		f.End = end
	}
}

// WithStatus sets the lifecycle status.
func WithStatus(status scheduler.Status) BookingOption {
	return func(f *BookingFixture) {
		f.Status = status
	}
}

// InSeries makes the booking an occurrence of the series headed by parentID.
// An empty parentID marks the booking itself as the series parent.
func InSeries(rule recurrence.Rule, parentID string) BookingOption {
	return func(f *BookingFixture) {
		f.Rule = rule
		if parentID == "" {
			f.SeriesParentID = nil
			return
		}
		id := parentID
		f.SeriesParentID = &id
	}
}

// Persistence returns the fixture as a persistence.Booking value.
func (f BookingFixture) Persistence() persistence.Booking {
	return persistence.Booking{
		ID:              f.ID,
		ResourceID:      f.ResourceID,
		RequesterID:     f.RequesterID,
		Start:           f.Start,
		End:             f.End,
		Status:          string(f.Status),
		RecurrenceRule:  string(f.Rule),
		RecurrenceEndAt: copyTimePtr(f.RecurrenceEndAt),
		SeriesParentID:  copyStringPtr(f.SeriesParentID),
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.CreatedAt,
	}
}

// Application returns the fixture as an application.Booking value.
func (f BookingFixture) Application() application.Booking {
	return application.Booking{
		ID:              f.ID,
		ResourceID:      f.ResourceID,
		RequesterID:     f.RequesterID,
		Start:           f.Start,
		End:             f.End,
		Status:          f.Status,
		Recurrence:      f.Rule,
		RecurrenceEndAt: copyTimePtr(f.RecurrenceEndAt),
		SeriesParentID:  copyStringPtr(f.SeriesParentID),
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.CreatedAt,
	}
}

func copyStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func copyIntPtr(value *int) *int {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func copyTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
