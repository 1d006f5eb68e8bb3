package scheduler

import "time"

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window has a strictly positive duration.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && w.Start.Before(w.End)
}

// Overlaps reports whether two half-open windows share any instant.
// Windows that merely touch (one ends exactly when the other starts) do not overlap.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Occupant is the scheduling view of an existing booking on a resource.
type Occupant struct {
	BookingID  string
	ResourceID string
	Window     Window
	Status     Status
}

// Blocking reports whether the occupant still holds its slot.
func (o Occupant) Blocking() bool {
	return o.Status.Blocking()
}

// ConflictType describes why a candidate window cannot be admitted.
type ConflictType string

const (
	// ConflictTypeOverlap indicates the window overlaps a blocking booking.
	ConflictTypeOverlap ConflictType = "conflict"
	// ConflictTypeCapacity indicates the resource is already at capacity for the window.
	ConflictTypeCapacity ConflictType = "capacity"
)

// Conflict details the first blocking booking found for a candidate window.
type Conflict struct {
	WithBookingID string
	Type          ConflictType
	Window        Window
}

// DefaultCapacity applies to resources without a configured capacity.
const DefaultCapacity = 1

// EffectiveCapacity resolves an optional capacity to the number of concurrent
// blocking bookings a resource accepts.
func EffectiveCapacity(capacity *int) int {
	if capacity == nil || *capacity < 1 {
		return DefaultCapacity
	}
	return *capacity
}

// DetectConflict returns the first blocking occupant of resourceID overlapping
// the candidate window. The occupant identified by excludeID is ignored so that
// an existing booking can be re-validated against everything except itself.
func DetectConflict(existing []Occupant, resourceID string, candidate Window, excludeID string) (Conflict, bool) {
	for _, occupant := range existing {
		if !occupies(occupant, resourceID, candidate, excludeID) {
			continue
		}
		return Conflict{
			WithBookingID: occupant.BookingID,
			Type:          ConflictTypeOverlap,
			Window:        occupant.Window,
		}, true
	}
	return Conflict{}, false
}

// CountOverlapping counts blocking occupants of resourceID whose window overlaps the candidate.
func CountOverlapping(existing []Occupant, resourceID string, candidate Window, excludeID string) int {
	count := 0
	for _, occupant := range existing {
		if occupies(occupant, resourceID, candidate, excludeID) {
			count++
		}
	}
	return count
}

// CapacityReached reports whether admitting another booking in the candidate
// window would exceed the resource capacity.
func CapacityReached(existing []Occupant, resourceID string, candidate Window, capacity *int) bool {
	return CountOverlapping(existing, resourceID, candidate, "") >= EffectiveCapacity(capacity)
}

func occupies(occupant Occupant, resourceID string, candidate Window, excludeID string) bool {
	if occupant.ResourceID != resourceID {
		return false
	}
	if excludeID != "" && occupant.BookingID == excludeID {
		return false
	}
	if !occupant.Blocking() {
		return false
	}
	return occupant.Window.Overlaps(candidate)
}
