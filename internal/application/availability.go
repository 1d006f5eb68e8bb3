package application

import (
	"context"
	"fmt"
	"time"

	"github.com/example/resource-scheduler/internal/scheduler"
)

// Availability answers read-only conflict and capacity questions against the
// last committed bookings. It never blocks writers.
type Availability struct {
	resources ResourceCatalog
	bookings  BookingStore
}

// NewAvailability wires the catalog and booking store.
func NewAvailability(resources ResourceCatalog, bookings BookingStore) *Availability {
	return &Availability{resources: resources, bookings: bookings}
}

// HasConflict reports whether a pending or active booking of the resource
// overlaps [start, end). excludeBookingID is ignored when empty.
func (a *Availability) HasConflict(ctx context.Context, resourceID string, start, end time.Time, excludeBookingID string) (bool, error) {
	if a == nil {
		return false, fmt.Errorf("Availability is nil")
	}
	candidate := scheduler.Window{Start: start, End: end}
	if !candidate.Valid() {
		return false, newValidationError("window", "start must be before end")
	}
	occupants, err := a.occupants(ctx, resourceID, candidate)
	if err != nil {
		return false, err
	}
	_, found := scheduler.DetectConflict(occupants, resourceID, candidate, excludeBookingID)
	return found, nil
}

// IsCapacityReached reports whether the overlapping pending and active
// bookings already fill the resource's capacity.
func (a *Availability) IsCapacityReached(ctx context.Context, resourceID string, start, end time.Time) (bool, error) {
	if a == nil {
		return false, fmt.Errorf("Availability is nil")
	}
	candidate := scheduler.Window{Start: start, End: end}
	if !candidate.Valid() {
		return false, newValidationError("window", "start must be before end")
	}
	resource, err := requireResource(ctx, a.resources, resourceID)
	if err != nil {
		return false, err
	}
	occupants, err := a.occupants(ctx, resourceID, candidate)
	if err != nil {
		return false, err
	}
	return scheduler.CapacityReached(occupants, resourceID, candidate, resource.Capacity), nil
}

func (a *Availability) occupants(ctx context.Context, resourceID string, window scheduler.Window) ([]scheduler.Occupant, error) {
	bookings, err := a.bookings.ListBlocking(ctx, resourceID, window.Start, window.End)
	if err != nil {
		return nil, mapRepoError("list blocking bookings", err)
	}
	return occupantsOf(bookings), nil
}

func occupantsOf(bookings []Booking) []scheduler.Occupant {
	occupants := make([]scheduler.Occupant, 0, len(bookings))
	for _, booking := range bookings {
		occupants = append(occupants, booking.occupant())
	}
	return occupants
}

// admit decides whether candidate can join occupants on the resource. Single
// occupancy resources are decided by the conflict detector; larger resources
// by the capacity evaluator.
func admit(resource Resource, occupants []scheduler.Occupant, candidate scheduler.Window, excludeID string) (RejectionReason, string, bool) {
	capacity := scheduler.EffectiveCapacity(resource.Capacity)
	if capacity == scheduler.DefaultCapacity {
		if conflict, found := scheduler.DetectConflict(occupants, resource.ID, candidate, excludeID); found {
			return RejectionConflict, conflict.WithBookingID, false
		}
		return "", "", true
	}
	if scheduler.CountOverlapping(occupants, resource.ID, candidate, excludeID) >= capacity {
		return RejectionCapacity, "", false
	}
	return "", "", true
}
