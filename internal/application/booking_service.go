package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/resource-scheduler/internal/lock"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

// maxCommitAttempts bounds re-evaluation after another writer took a slot
// between planning and commit.
const maxCommitAttempts = 3

// BookingServiceDeps groups the collaborators of BookingService.
type BookingServiceDeps struct {
	Resources   ResourceCatalog
	Bookings    BookingStore
	Locker      ResourceLocker
	Policy      RequesterPolicy
	Notifier    Notifier
	Engine      *recurrence.Engine
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// BookingService places single and recurring bookings.
type BookingService struct {
	resources   ResourceCatalog
	bookings    BookingStore
	locker      ResourceLocker
	policy      RequesterPolicy
	notifier    Notifier
	engine      *recurrence.Engine
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewBookingService wires dependencies for scheduling.
func NewBookingService(deps BookingServiceDeps) *BookingService {
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Engine == nil {
		deps.Engine = recurrence.NewEngine(time.UTC, recurrence.DefaultHardCap)
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &BookingService{
		resources:   deps.Resources,
		bookings:    deps.Bookings,
		locker:      deps.Locker,
		policy:      deps.Policy,
		notifier:    defaultNotifier(deps.Notifier),
		engine:      deps.Engine,
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		logger:      defaultLogger(deps.Logger),
	}
}

// Schedule validates the request, expands its recurrence, admits occurrences
// in order and commits the accepted ones atomically. Business rejections are
// reported through the outcome; the error is reserved for validation and
// storage failures.
func (s *BookingService) Schedule(ctx context.Context, req ScheduleRequest) (ScheduleOutcome, error) {
	if s == nil {
		return ScheduleOutcome{}, fmt.Errorf("BookingService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "BookingService", "Schedule",
		"resource_id", req.ResourceID,
		"requester_id", req.RequesterID,
	)

	outcome, err := s.schedule(ctx, req)
	if err != nil {
		logger.WarnContext(ctx, "schedule failed", "error", err, "error_kind", ErrorKind(err))
		return ScheduleOutcome{}, err
	}

	attrs := []any{
		"outcome", string(outcome.Kind),
		"booked", len(outcome.Bookings),
		"requested", outcome.RequestedOccurrences,
	}
	if outcome.Rejection != nil {
		attrs = append(attrs, "reason", string(outcome.Rejection.Reason), "occurrence_index", outcome.Rejection.OccurrenceIndex)
	}
	if outcome.HardCapReached {
		attrs = append(attrs, "hard_cap_reached", true)
	}
	logger.InfoContext(ctx, "schedule evaluated", attrs...)
	return outcome, nil
}

func (s *BookingService) schedule(ctx context.Context, req ScheduleRequest) (ScheduleOutcome, error) {
	req.Recurrence = normalizeRule(req.Recurrence)
	if !req.Recurrence.Repeats() {
		req.RecurrenceEndAt = nil
	}
	if vErr := validateScheduleRequest(req); vErr.HasErrors() {
		return ScheduleOutcome{}, vErr
	}

	resource, err := requireResource(ctx, s.resources, req.ResourceID)
	if err != nil {
		return ScheduleOutcome{}, err
	}
	if !resource.Bookable() {
		return ScheduleOutcome{}, newValidationError("resource_id", "resource is not available for booking")
	}
	if err := checkRequesterPolicy(ctx, s.policy, req.RequesterID); err != nil {
		return ScheduleOutcome{}, err
	}

	expansion, err := s.engine.Expand(req.Start, req.End, req.Recurrence, req.RecurrenceEndAt)
	if err != nil {
		if errors.Is(err, recurrence.ErrInvalidRule) {
			return ScheduleOutcome{}, newValidationError("recurrence_rule", "unsupported recurrence rule")
		}
		return ScheduleOutcome{}, newValidationError("window", err.Error())
	}

	release, err := s.locker.Acquire(ctx, resourceLockKey(resource.ID))
	if err != nil {
		return ScheduleOutcome{}, &TransientError{Op: "acquire resource lock", Err: err}
	}
	defer func() {
		if rErr := release(context.WithoutCancel(ctx)); rErr != nil {
			s.logger.WarnContext(ctx, "resource lock release failed", "resource_id", resource.ID, "error", rErr)
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		outcome, err := s.plan(ctx, resource, req, expansion)
		if err != nil {
			return ScheduleOutcome{}, err
		}
		if !outcome.Accepted() {
			return outcome, nil
		}

		err = s.bookings.InsertBookings(ctx, outcome.Bookings, scheduler.EffectiveCapacity(resource.Capacity))
		if err == nil {
			s.notifyScheduled(ctx, resource, outcome)
			return outcome, nil
		}
		if !errors.Is(err, persistence.ErrSlotTaken) {
			return ScheduleOutcome{}, storageFault("commit bookings", err)
		}
		lastErr = err
		s.logger.DebugContext(ctx, "slot taken before commit, re-evaluating",
			"resource_id", resource.ID,
			"attempt", attempt,
			"error", err,
		)
	}
	return ScheduleOutcome{}, &TransientError{Op: "commit bookings", Err: lastErr}
}

// plan admits occurrences against a snapshot of the committed occupants plus
// the occurrences accepted earlier in the same request. No writes happen here.
func (s *BookingService) plan(ctx context.Context, resource Resource, req ScheduleRequest, expansion recurrence.Expansion) (ScheduleOutcome, error) {
	occurrences := expansion.Occurrences
	outcome := ScheduleOutcome{
		RequestedOccurrences: len(occurrences),
		HardCapReached:       expansion.Truncated,
	}

	span := scheduler.Window{Start: occurrences[0].Start, End: occurrences[len(occurrences)-1].End}
	existing, err := s.bookings.ListBlocking(ctx, resource.ID, span.Start, span.End)
	if err != nil {
		return ScheduleOutcome{}, storageFault("list blocking bookings", err)
	}
	occupants := occupantsOf(existing)

	status := scheduler.InitialStatus(resource.RequiresApproval)
	createdAt := s.now()
	var parentID *string

	for _, occurrence := range occurrences {
		window := scheduler.Window{Start: occurrence.Start, End: occurrence.End}
		reason, withID, ok := admit(resource, occupants, window, "")
		if !ok {
			outcome.Rejection = &Rejection{
				Reason:               reason,
				OccurrenceIndex:      occurrence.Index,
				Start:                occurrence.Start,
				End:                  occurrence.End,
				ConflictingBookingID: withID,
			}
			break
		}

		booking := Booking{
			ID:              s.idGenerator(),
			ResourceID:      resource.ID,
			RequesterID:     req.RequesterID,
			Start:           occurrence.Start,
			End:             occurrence.End,
			Status:          status,
			Notes:           req.Notes,
			Recurrence:      req.Recurrence,
			RecurrenceEndAt: req.RecurrenceEndAt,
			SeriesParentID:  parentID,
			CreatedAt:       createdAt,
			UpdatedAt:       createdAt,
		}
		if parentID == nil && req.Recurrence.Repeats() {
			id := booking.ID
			parentID = &id
		}
		outcome.Bookings = append(outcome.Bookings, booking)
		occupants = append(occupants, booking.occupant())
	}

	switch {
	case len(outcome.Bookings) == 0:
		outcome.Kind = OutcomeRejected
	case outcome.Rejection != nil:
		outcome.Kind = OutcomePartiallyScheduled
		outcome.SkippedFromIndex = outcome.Rejection.OccurrenceIndex
		outcome.Warnings = append(outcome.Warnings, partialSeriesWarning(len(outcome.Bookings), outcome.RequestedOccurrences))
	default:
		outcome.Kind = OutcomeScheduled
	}
	if outcome.HardCapReached {
		outcome.Warnings = append(outcome.Warnings, hardCapWarning(s.engine.HardCap()))
	}
	return outcome, nil
}

func (s *BookingService) notifyScheduled(ctx context.Context, resource Resource, outcome ScheduleOutcome) {
	first := outcome.Bookings[0]
	at := s.now()

	eventType := EventBookingCreated
	payload := bookingPayload(first)
	if len(outcome.Bookings) > 1 {
		eventType = EventSeriesCreated
		payload.Occurrences = len(outcome.Bookings)
		payload.End = outcome.Bookings[len(outcome.Bookings)-1].End
	}

	emit(ctx, s.notifier, s.logger, Event{
		Type:        eventType,
		RecipientID: first.RequesterID,
		BookingID:   first.ID,
		ResourceID:  resource.ID,
		OccurredAt:  at,
		Payload:     payload,
	})
	if resource.OwnerID != "" && resource.OwnerID != first.RequesterID {
		emit(ctx, s.notifier, s.logger, Event{
			Type:        EventOwnerNotified,
			RecipientID: resource.OwnerID,
			BookingID:   first.ID,
			ResourceID:  resource.ID,
			OccurredAt:  at,
			Payload:     payload,
		})
	}
}

// storageFault maps a store failure met while scheduling. Nothing has been
// committed at that point, so anything that is not a validation failure is
// reported as transient and the whole call may be retried.
func storageFault(op string, err error) error {
	mapped := mapRepoError(op, err)
	var vErr *ValidationError
	var tErr *TransientError
	if errors.As(mapped, &vErr) || errors.As(mapped, &tErr) {
		return mapped
	}
	return &TransientError{Op: op, Err: mapped}
}

func normalizeRule(rule recurrence.Rule) recurrence.Rule {
	rule = recurrence.Rule(strings.ToLower(strings.TrimSpace(string(rule))))
	if rule == "" {
		return recurrence.RuleNone
	}
	return rule
}

func validateScheduleRequest(req ScheduleRequest) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(req.ResourceID) == "" {
		vErr.add("resource_id", "resource is required")
	}
	if strings.TrimSpace(req.RequesterID) == "" {
		vErr.add("requester_id", "requester is required")
	}
	validateWindow(req.Start, req.End, vErr)
	if _, err := recurrence.ParseRule(string(req.Recurrence)); err != nil {
		vErr.add("recurrence_rule", "unsupported recurrence rule")
	} else if req.Recurrence.Repeats() {
		switch {
		case req.RecurrenceEndAt == nil:
			vErr.add("recurrence_end_at", "recurrence end is required for repeating bookings")
		case !req.RecurrenceEndAt.After(req.Start):
			vErr.add("recurrence_end_at", "recurrence end must be after start")
		}
	}
	return vErr
}

func validateWindow(start, end time.Time, vErr *ValidationError) {
	switch {
	case start.IsZero():
		vErr.add("start", "start is required")
	case end.IsZero():
		vErr.add("end", "end is required")
	case !end.After(start):
		vErr.add("end", "end must be after start")
	}
}
