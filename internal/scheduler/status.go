package scheduler

import "fmt"

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCancelled, StatusCompleted},
}

// ParseStatus converts a stored value into a Status.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !status.Valid() {
		return "", fmt.Errorf("scheduler: unknown booking status %q", value)
	}
	return status, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Blocking reports whether bookings in this status occupy their slot.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusActive
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InitialStatus returns the status a newly admitted booking starts in.
func InitialStatus(requiresApproval bool) Status {
	if requiresApproval {
		return StatusPending
	}
	return StatusActive
}
