package application

import (
	"fmt"
	"time"

	"github.com/example/resource-scheduler/internal/scheduler"
)

// OutcomeKind classifies the result of a scheduling request.
type OutcomeKind string

const (
	// OutcomeScheduled means every requested occurrence was booked.
	OutcomeScheduled OutcomeKind = "scheduled"
	// OutcomePartiallyScheduled means a leading run of occurrences was booked
	// and the rest were skipped from SkippedFromIndex onwards.
	OutcomePartiallyScheduled OutcomeKind = "partially_scheduled"
	// OutcomeRejected means nothing was booked.
	OutcomeRejected OutcomeKind = "rejected"
)

// RejectionReason explains why an occurrence could not be admitted.
type RejectionReason string

const (
	RejectionConflict RejectionReason = "conflict"
	RejectionCapacity RejectionReason = "capacity"
)

// Rejection describes the first occurrence that could not be admitted.
type Rejection struct {
	Reason               RejectionReason
	OccurrenceIndex      int
	Start                time.Time
	End                  time.Time
	ConflictingBookingID string
}

// WarningCode identifies a non-fatal condition surfaced with an outcome.
type WarningCode string

const (
	// WarningPartialSeries is raised when only part of a series was booked.
	WarningPartialSeries WarningCode = "partial_series"
	// WarningHardCap is raised when the series was truncated by the occurrence cap.
	WarningHardCap WarningCode = "hard_cap"
)

// Warning is a non-fatal condition the caller must show to the requester.
type Warning struct {
	Code    WarningCode
	Message string
}

// ScheduleOutcome is the typed result of BookingService.Schedule.
type ScheduleOutcome struct {
	Kind OutcomeKind
	// Bookings holds the committed bookings in occurrence order.
	Bookings []Booking
	// Rejection is set for rejected outcomes and explains the skipped tail of
	// partially scheduled ones.
	Rejection *Rejection
	// SkippedFromIndex is the first occurrence index that was not booked. It
	// is only meaningful for partially scheduled outcomes.
	SkippedFromIndex int
	// RequestedOccurrences counts the occurrences produced by expansion.
	RequestedOccurrences int
	HardCapReached       bool
	Warnings             []Warning
}

// Accepted reports whether at least one booking was committed.
func (o ScheduleOutcome) Accepted() bool {
	return o.Kind == OutcomeScheduled || o.Kind == OutcomePartiallyScheduled
}

// Err returns a *RejectionError for rejected outcomes and nil otherwise.
func (o ScheduleOutcome) Err() error {
	if o.Kind != OutcomeRejected || o.Rejection == nil {
		return nil
	}
	return &RejectionError{Rejection: *o.Rejection}
}

func partialSeriesWarning(accepted, requested int) Warning {
	return Warning{
		Code:    WarningPartialSeries,
		Message: fmt.Sprintf("only %d of %d occurrences were booked", accepted, requested),
	}
}

func hardCapWarning(hardCap int) Warning {
	return Warning{
		Code:    WarningHardCap,
		Message: fmt.Sprintf("series truncated at %d occurrences", hardCap),
	}
}

// CancellationResult reports the effect of a cancellation request.
type CancellationResult struct {
	Requested Booking
	// Cancelled lists the bookings this request moved to cancelled.
	Cancelled []Booking
	// AlreadyCancelled counts targets that were cancelled before the request.
	AlreadyCancelled int
	// Skipped counts series members left untouched because they had completed.
	Skipped   int
	Attempted int
}

// NoOp reports whether the request changed nothing because the target was
// already cancelled.
func (r CancellationResult) NoOp() bool {
	return len(r.Cancelled) == 0 && r.AlreadyCancelled > 0
}

// TransitionResult reports a single status transition.
type TransitionResult struct {
	Booking        Booking
	PreviousStatus scheduler.Status
	Changed        bool
}

// RescheduleOutcome reports the result of moving a booking.
type RescheduleOutcome struct {
	Booking   Booking
	Changes   []string
	Rejection *Rejection
}

// CompletionReport summarises a completion sweep.
type CompletionReport struct {
	Completed int
	Failed    int
}
