package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/resource-scheduler/internal/lock"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

// completionBatchSize bounds how many bookings one sweep completes.
const completionBatchSize = 500

// LifecycleServiceDeps groups the collaborators of LifecycleService.
type LifecycleServiceDeps struct {
	Resources ResourceCatalog
	Bookings  BookingStore
	Locker    ResourceLocker
	Notifier  Notifier
	Waitlist  SlotReleaseListener
	Now       func() time.Time
	Logger    *slog.Logger
}

// LifecycleService applies status transitions, edits and removals to
// existing bookings.
type LifecycleService struct {
	resources ResourceCatalog
	bookings  BookingStore
	locker    ResourceLocker
	notifier  Notifier
	waitlist  SlotReleaseListener
	now       func() time.Time
	logger    *slog.Logger
}

// NewLifecycleService wires dependencies for booking lifecycle operations.
func NewLifecycleService(deps LifecycleServiceDeps) *LifecycleService {
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &LifecycleService{
		resources: deps.Resources,
		bookings:  deps.Bookings,
		locker:    deps.Locker,
		notifier:  defaultNotifier(deps.Notifier),
		waitlist:  deps.Waitlist,
		now:       deps.Now,
		logger:    defaultLogger(deps.Logger),
	}
}

// Get returns a booking by id.
func (s *LifecycleService) Get(ctx context.Context, bookingID string) (Booking, error) {
	if s == nil {
		return Booking{}, fmt.Errorf("LifecycleService is nil")
	}
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, mapRepoError("load booking", err)
	}
	return booking, nil
}

// History returns the recorded status changes of a booking, oldest first.
func (s *LifecycleService) History(ctx context.Context, bookingID string) ([]StatusChange, error) {
	if s == nil {
		return nil, fmt.Errorf("LifecycleService is nil")
	}
	if _, err := s.Get(ctx, bookingID); err != nil {
		return nil, err
	}
	changes, err := s.bookings.ListStatusHistory(ctx, bookingID)
	if err != nil {
		return nil, mapRepoError("list status history", err)
	}
	return changes, nil
}

// Approve moves pending bookings to active.
func (s *LifecycleService) Approve(ctx context.Context, req DecisionRequest) ([]TransitionResult, error) {
	if s == nil {
		return nil, fmt.Errorf("LifecycleService is nil")
	}
	return s.decide(ctx, req, scheduler.StatusActive, EventBookingApproved, "Approve")
}

// Reject moves pending bookings to cancelled and releases their windows.
func (s *LifecycleService) Reject(ctx context.Context, req DecisionRequest) ([]TransitionResult, error) {
	if s == nil {
		return nil, fmt.Errorf("LifecycleService is nil")
	}
	return s.decide(ctx, req, scheduler.StatusCancelled, EventBookingRejected, "Reject")
}

func (s *LifecycleService) decide(ctx context.Context, req DecisionRequest, to scheduler.Status, eventType EventType, operation string) ([]TransitionResult, error) {
	logger := serviceLogger(ctx, s.logger, "LifecycleService", operation, "booking_id", req.BookingID)

	target, err := s.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	targets := []Booking{target}
	series := req.Scope == CancelSeries && target.SeriesID() != ""
	if series {
		members, err := s.bookings.ListSeries(ctx, target.SeriesID())
		if err != nil {
			return nil, mapRepoError("list series", err)
		}
		targets = targets[:0]
		for _, member := range members {
			if member.Status == scheduler.StatusPending {
				targets = append(targets, member)
			}
		}
	} else if target.Status != scheduler.StatusPending {
		return nil, ErrInvalidTransition
	}

	resource := s.resourceFor(ctx, target.ResourceID)
	results := make([]TransitionResult, 0, len(targets))
	for _, booking := range targets {
		updated, err := s.bookings.TransitionStatus(ctx, booking.ID, scheduler.StatusPending, to, s.now())
		if err != nil {
			err = mapRepoError("transition booking", err)
			logger.WarnContext(ctx, "decision failed", "target_id", booking.ID, "error", err, "error_kind", ErrorKind(err))
			if series && errors.Is(err, ErrConcurrentUpdate) {
				continue
			}
			return results, err
		}
		results = append(results, TransitionResult{Booking: updated, PreviousStatus: booking.Status, Changed: true})

		payload := bookingPayload(updated)
		payload.PreviousStatus = booking.Status
		payload.Reason = req.Reason
		emit(ctx, s.notifier, s.logger, Event{
			Type:        eventType,
			RecipientID: updated.RequesterID,
			BookingID:   updated.ID,
			ResourceID:  updated.ResourceID,
			OccurredAt:  s.now(),
			Payload:     payload,
		})
		if to == scheduler.StatusCancelled {
			s.releaseSlot(ctx, resource.ID, updated.Window())
		}
	}

	logger.InfoContext(ctx, "decision applied", "status", string(to), "changed", len(results))
	return results, nil
}

// Complete marks an active booking completed.
func (s *LifecycleService) Complete(ctx context.Context, bookingID string) (TransitionResult, error) {
	if s == nil {
		return TransitionResult{}, fmt.Errorf("LifecycleService is nil")
	}
	booking, err := s.Get(ctx, bookingID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !booking.Status.CanTransition(scheduler.StatusCompleted) {
		return TransitionResult{}, ErrInvalidTransition
	}
	updated, err := s.bookings.TransitionStatus(ctx, booking.ID, booking.Status, scheduler.StatusCompleted, s.now())
	if err != nil {
		return TransitionResult{}, mapRepoError("complete booking", err)
	}
	return TransitionResult{Booking: updated, PreviousStatus: booking.Status, Changed: true}, nil
}

// CompleteElapsed completes active bookings whose window has ended. Bookings
// changed concurrently are left alone.
func (s *LifecycleService) CompleteElapsed(ctx context.Context) (CompletionReport, error) {
	if s == nil {
		return CompletionReport{}, fmt.Errorf("LifecycleService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "LifecycleService", "CompleteElapsed")

	now := s.now()
	elapsed, err := s.bookings.ListBookings(ctx, BookingFilter{
		Statuses: []scheduler.Status{scheduler.StatusActive},
		EndedBy:  &now,
		Limit:    completionBatchSize,
	})
	if err != nil {
		return CompletionReport{}, mapRepoError("list elapsed bookings", err)
	}

	var report CompletionReport
	for _, booking := range elapsed {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, err := s.bookings.TransitionStatus(ctx, booking.ID, scheduler.StatusActive, scheduler.StatusCompleted, now)
		switch err = mapRepoError("complete booking", err); {
		case err == nil:
			report.Completed++
		case errors.Is(err, ErrConcurrentUpdate):
		default:
			report.Failed++
			logger.WarnContext(ctx, "completion failed", "booking_id", booking.ID, "error", err)
		}
	}
	if report.Completed > 0 || report.Failed > 0 {
		logger.InfoContext(ctx, "completion sweep finished", "completed", report.Completed, "failed", report.Failed)
	}
	return report, nil
}

// Cancel cancels a booking. A series parent, or any occurrence cancelled with
// series scope, cancels every non-terminal occurrence of the series. A
// booking that is already cancelled is reported as a no-op.
func (s *LifecycleService) Cancel(ctx context.Context, req CancelRequest) (CancellationResult, error) {
	if s == nil {
		return CancellationResult{}, fmt.Errorf("LifecycleService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "LifecycleService", "Cancel",
		"booking_id", req.BookingID,
		"scope", string(req.Scope),
	)

	target, err := s.Get(ctx, req.BookingID)
	if err != nil {
		return CancellationResult{}, err
	}
	result := CancellationResult{Requested: target}
	resource := s.resourceFor(ctx, target.ResourceID)

	cascade := target.IsSeriesParent() || (req.Scope == CancelSeries && target.SeriesParentID != nil)
	if !cascade {
		result.Attempted = 1
		cancelled, changed, err := s.cancelOne(ctx, target, resource, req.Reason)
		if err != nil {
			logger.WarnContext(ctx, "cancel failed", "error", err, "error_kind", ErrorKind(err))
			return CancellationResult{}, err
		}
		if changed {
			result.Cancelled = append(result.Cancelled, cancelled)
		} else {
			result.AlreadyCancelled = 1
		}
		logger.InfoContext(ctx, "booking cancelled", "no_op", result.NoOp())
		return result, nil
	}

	members, err := s.bookings.ListSeries(ctx, target.SeriesID())
	if err != nil {
		return CancellationResult{}, mapRepoError("list series", err)
	}
	for _, member := range members {
		switch member.Status {
		case scheduler.StatusCancelled:
			result.AlreadyCancelled++
		case scheduler.StatusCompleted:
			result.Skipped++
		default:
			result.Attempted++
		}
	}

	for _, member := range members {
		if !member.Status.Blocking() {
			continue
		}
		cancelled, changed, err := s.cancelOne(ctx, member, resource, req.Reason)
		if err != nil {
			cErr := &CascadeError{Succeeded: len(result.Cancelled), Attempted: result.Attempted, Err: err}
			logger.ErrorContext(ctx, "series cancellation interrupted",
				"succeeded", cErr.Succeeded,
				"attempted", cErr.Attempted,
				"error", err,
				"error_kind", ErrorKind(cErr),
			)
			return result, cErr
		}
		if changed {
			result.Cancelled = append(result.Cancelled, cancelled)
		} else {
			result.AlreadyCancelled++
		}
	}

	logger.InfoContext(ctx, "series cancelled",
		"series_id", target.SeriesID(),
		"cancelled", len(result.Cancelled),
		"already_cancelled", result.AlreadyCancelled,
		"skipped", result.Skipped,
	)
	return result, nil
}

// cancelOne cancels a single booking. It reports changed=false when the
// booking was already cancelled, including by a concurrent writer.
func (s *LifecycleService) cancelOne(ctx context.Context, booking Booking, resource Resource, reason string) (Booking, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		switch {
		case booking.Status == scheduler.StatusCancelled:
			return booking, false, nil
		case !booking.Status.CanTransition(scheduler.StatusCancelled):
			return Booking{}, false, ErrInvalidTransition
		}

		updated, err := s.bookings.TransitionStatus(ctx, booking.ID, booking.Status, scheduler.StatusCancelled, s.now())
		if err == nil {
			s.notifyCancelled(ctx, updated, booking.Status, resource, reason)
			s.releaseSlot(ctx, updated.ResourceID, updated.Window())
			return updated, true, nil
		}
		mapped := mapRepoError("cancel booking", err)
		if !errors.Is(mapped, ErrConcurrentUpdate) {
			return Booking{}, false, mapped
		}
		if booking, err = s.Get(ctx, booking.ID); err != nil {
			return Booking{}, false, err
		}
	}
	return Booking{}, false, ErrConcurrentUpdate
}

// Reschedule moves a pending or active booking to a new window and optionally
// a new resource. The booking is re-validated against every other blocking
// booking; a clash is reported through the outcome.
func (s *LifecycleService) Reschedule(ctx context.Context, req RescheduleRequest) (RescheduleOutcome, error) {
	if s == nil {
		return RescheduleOutcome{}, fmt.Errorf("LifecycleService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "LifecycleService", "Reschedule", "booking_id", req.BookingID)

	booking, err := s.Get(ctx, req.BookingID)
	if err != nil {
		return RescheduleOutcome{}, err
	}
	if !booking.Status.Blocking() {
		return RescheduleOutcome{}, ErrInvalidTransition
	}

	if req.ResourceID == "" {
		req.ResourceID = booking.ResourceID
	}
	vErr := &ValidationError{}
	validateWindow(req.Start, req.End, vErr)
	if booking.SeriesID() != "" && !vErr.HasErrors() {
		if req.ResourceID != booking.ResourceID {
			vErr.add("resource_id", "series occurrences cannot move to another resource")
		}
		if req.End.Sub(req.Start) != booking.End.Sub(booking.Start) {
			vErr.add("end", "series occurrences must keep their duration")
		}
	}
	if vErr.HasErrors() {
		return RescheduleOutcome{}, vErr
	}

	resource, err := requireResource(ctx, s.resources, req.ResourceID)
	if err != nil {
		return RescheduleOutcome{}, err
	}
	if !resource.Bookable() {
		return RescheduleOutcome{}, newValidationError("resource_id", "resource is not available for booking")
	}

	updated := booking
	updated.ResourceID = resource.ID
	updated.Start = req.Start
	updated.End = req.End
	if req.Notes != nil {
		updated.Notes = req.Notes
	}
	changes := bookingChanges(booking, updated)
	if len(changes) == 0 {
		return RescheduleOutcome{Booking: booking}, nil
	}
	updated.UpdatedAt = s.now()

	release, err := s.locker.Acquire(ctx, resourceLockKey(resource.ID))
	if err != nil {
		return RescheduleOutcome{}, &TransientError{Op: "acquire resource lock", Err: err}
	}
	defer func() {
		if rErr := release(context.WithoutCancel(ctx)); rErr != nil {
			s.logger.WarnContext(ctx, "resource lock release failed", "resource_id", resource.ID, "error", rErr)
		}
	}()

	existing, err := s.bookings.ListBlocking(ctx, resource.ID, updated.Start, updated.End)
	if err != nil {
		return RescheduleOutcome{}, mapRepoError("list blocking bookings", err)
	}
	if reason, withID, ok := admit(resource, occupantsOf(existing), updated.Window(), booking.ID); !ok {
		rejection := &Rejection{Reason: reason, Start: updated.Start, End: updated.End, ConflictingBookingID: withID}
		logger.InfoContext(ctx, "reschedule rejected", "reason", string(reason))
		return RescheduleOutcome{Booking: booking, Rejection: rejection}, nil
	}

	if err := s.bookings.RescheduleBooking(ctx, updated, scheduler.EffectiveCapacity(resource.Capacity)); err != nil {
		var slotErr *persistence.SlotTakenError
		if errors.As(err, &slotErr) {
			reason := RejectionCapacity
			if scheduler.EffectiveCapacity(resource.Capacity) == scheduler.DefaultCapacity {
				reason = RejectionConflict
			}
			return RescheduleOutcome{Booking: booking, Rejection: &Rejection{Reason: reason, Start: updated.Start, End: updated.End}}, nil
		}
		err = mapRepoError("reschedule booking", err)
		logger.WarnContext(ctx, "reschedule failed", "error", err, "error_kind", ErrorKind(err))
		return RescheduleOutcome{}, err
	}

	payload := bookingPayload(updated)
	payload.Changes = changes
	for _, recipient := range recipients(updated, resource) {
		emit(ctx, s.notifier, s.logger, Event{
			Type:        EventBookingModified,
			RecipientID: recipient,
			BookingID:   updated.ID,
			ResourceID:  updated.ResourceID,
			OccurredAt:  s.now(),
			Payload:     payload,
		})
	}
	if booking.ResourceID != updated.ResourceID || !booking.Start.Equal(updated.Start) || !booking.End.Equal(updated.End) {
		s.releaseSlot(ctx, booking.ResourceID, booking.Window())
	}

	logger.InfoContext(ctx, "booking rescheduled", "changes", changes)
	return RescheduleOutcome{Booking: updated, Changes: changes}, nil
}

// Delete removes a booking on behalf of an administrator. Participants are
// notified as for a cancellation and the freed window is offered to the waitlist.
func (s *LifecycleService) Delete(ctx context.Context, bookingID string) error {
	if s == nil {
		return fmt.Errorf("LifecycleService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "LifecycleService", "Delete", "booking_id", bookingID)

	booking, err := s.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if err := s.bookings.DeleteBooking(ctx, booking.ID); err != nil {
		err = mapRepoError("delete booking", err)
		logger.WarnContext(ctx, "delete failed", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	if booking.Status.Blocking() {
		resource := s.resourceFor(ctx, booking.ResourceID)
		deleted := booking
		deleted.Status = scheduler.StatusCancelled
		s.notifyCancelled(ctx, deleted, booking.Status, resource, "deleted")
		s.releaseSlot(ctx, booking.ResourceID, booking.Window())
	}
	logger.InfoContext(ctx, "booking deleted", "status", string(booking.Status))
	return nil
}

func (s *LifecycleService) notifyCancelled(ctx context.Context, booking Booking, previous scheduler.Status, resource Resource, reason string) {
	payload := bookingPayload(booking)
	payload.PreviousStatus = previous
	payload.Reason = reason
	for _, recipient := range recipients(booking, resource) {
		emit(ctx, s.notifier, s.logger, Event{
			Type:        EventBookingCancelled,
			RecipientID: recipient,
			BookingID:   booking.ID,
			ResourceID:  booking.ResourceID,
			OccurredAt:  s.now(),
			Payload:     payload,
		})
	}
}

func (s *LifecycleService) releaseSlot(ctx context.Context, resourceID string, window scheduler.Window) {
	if s.waitlist == nil {
		return
	}
	if _, err := s.waitlist.SlotReleased(ctx, resourceID, window); err != nil {
		s.logger.WarnContext(ctx, "waitlist notification failed", "resource_id", resourceID, "error", err)
	}
}

// resourceFor loads the resource for notification routing. A missing resource
// only drops the owner from the recipients.
func (s *LifecycleService) resourceFor(ctx context.Context, id string) Resource {
	if s.resources == nil {
		return Resource{ID: id}
	}
	resource, err := s.resources.GetResource(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "resource lookup failed", "resource_id", id, "error", err)
		return Resource{ID: id}
	}
	return resource
}

func bookingChanges(before, after Booking) []string {
	var changes []string
	if before.ResourceID != after.ResourceID {
		changes = append(changes, "resource")
	}
	if !before.Start.Equal(after.Start) {
		changes = append(changes, "start")
	}
	if !before.End.Equal(after.End) {
		changes = append(changes, "end")
	}
	if derefString(before.Notes) != derefString(after.Notes) {
		changes = append(changes, "notes")
	}
	return changes
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
