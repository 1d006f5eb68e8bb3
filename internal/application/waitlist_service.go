package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/resource-scheduler/internal/scheduler"
)

// WaitlistService records interest in unavailable windows and tells waiting
// requesters when a matching window frees up.
type WaitlistService struct {
	resources   ResourceCatalog
	entries     WaitlistStore
	policy      RequesterPolicy
	notifier    Notifier
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewWaitlistService wires dependencies for waitlist operations.
func NewWaitlistService(resources ResourceCatalog, entries WaitlistStore, policy RequesterPolicy, notifier Notifier, idGenerator func() string, now func() time.Time) *WaitlistService {
	return NewWaitlistServiceWithLogger(resources, entries, policy, notifier, idGenerator, now, nil)
}

// NewWaitlistServiceWithLogger wires dependencies and uses the provided logger.
func NewWaitlistServiceWithLogger(resources ResourceCatalog, entries WaitlistStore, policy RequesterPolicy, notifier Notifier, idGenerator func() string, now func() time.Time, logger *slog.Logger) *WaitlistService {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &WaitlistService{
		resources:   resources,
		entries:     entries,
		policy:      policy,
		notifier:    defaultNotifier(notifier),
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// RecordInterest stores a pending waitlist entry. When the requester already
// waits for an overlapping window on the same resource the existing entry is
// returned and created is false.
func (s *WaitlistService) RecordInterest(ctx context.Context, req WaitlistRequest) (entry WaitlistEntry, created bool, err error) {
	if s == nil {
		return WaitlistEntry{}, false, fmt.Errorf("WaitlistService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "WaitlistService", "RecordInterest",
		"resource_id", req.ResourceID,
		"requester_id", req.RequesterID,
	)

	vErr := &ValidationError{}
	if strings.TrimSpace(req.ResourceID) == "" {
		vErr.add("resource_id", "resource is required")
	}
	if strings.TrimSpace(req.RequesterID) == "" {
		vErr.add("requester_id", "requester is required")
	}
	validateWindow(req.Start, req.End, vErr)
	if vErr.HasErrors() {
		return WaitlistEntry{}, false, vErr
	}

	if _, err := requireResource(ctx, s.resources, req.ResourceID); err != nil {
		return WaitlistEntry{}, false, err
	}
	if err := checkRequesterPolicy(ctx, s.policy, req.RequesterID); err != nil {
		return WaitlistEntry{}, false, err
	}

	existing, err := s.entries.FindPendingWaitlistEntry(ctx, req.ResourceID, req.RequesterID, req.Start, req.End)
	switch err = mapRepoError("find waitlist entry", err); {
	case err == nil:
		logger.InfoContext(ctx, "waitlist entry already pending", "entry_id", existing.ID)
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return WaitlistEntry{}, false, err
	}

	now := s.now()
	entry = WaitlistEntry{
		ID:          s.idGenerator(),
		ResourceID:  req.ResourceID,
		RequesterID: req.RequesterID,
		Start:       req.Start,
		End:         req.End,
		Status:      WaitlistPending,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.entries.CreateWaitlistEntry(ctx, entry); err != nil {
		err = mapRepoError("create waitlist entry", err)
		logger.WarnContext(ctx, "waitlist entry not stored", "error", err, "error_kind", ErrorKind(err))
		return WaitlistEntry{}, false, err
	}

	logger.InfoContext(ctx, "waitlist entry recorded", "entry_id", entry.ID)
	return entry, true, nil
}

// Withdraw cancels the requester's own waitlist entry. Withdrawing a
// cancelled entry returns it unchanged.
func (s *WaitlistService) Withdraw(ctx context.Context, entryID, requesterID string) (WaitlistEntry, error) {
	if s == nil {
		return WaitlistEntry{}, fmt.Errorf("WaitlistService is nil")
	}
	entry, err := s.entries.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return WaitlistEntry{}, mapRepoError("load waitlist entry", err)
	}
	if entry.RequesterID != requesterID {
		return WaitlistEntry{}, ErrUnauthorized
	}
	if entry.Status == WaitlistCancelled {
		return entry, nil
	}
	updated, err := s.entries.UpdateWaitlistStatus(ctx, entry.ID, WaitlistCancelled, entry.NotifiedAt, s.now())
	if err != nil {
		return WaitlistEntry{}, mapRepoError("cancel waitlist entry", err)
	}
	return updated, nil
}

// SlotReleased marks every pending entry overlapping the freed window as
// notified and emits a waitlist opening event to each requester. It returns
// the number of entries notified.
func (s *WaitlistService) SlotReleased(ctx context.Context, resourceID string, window scheduler.Window) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("WaitlistService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "WaitlistService", "SlotReleased", "resource_id", resourceID)

	pending, err := s.entries.ListPendingWaitlist(ctx, resourceID, window.Start, window.End)
	if err != nil {
		return 0, mapRepoError("list pending waitlist", err)
	}

	notified := 0
	for _, entry := range pending {
		at := s.now()
		updated, err := s.entries.UpdateWaitlistStatus(ctx, entry.ID, WaitlistNotified, &at, at)
		if err != nil {
			logger.WarnContext(ctx, "waitlist entry not updated", "entry_id", entry.ID, "error", err)
			continue
		}
		notified++
		emit(ctx, s.notifier, s.logger, Event{
			Type:        EventWaitlistOpening,
			RecipientID: updated.RequesterID,
			ResourceID:  updated.ResourceID,
			OccurredAt:  at,
			Payload: EventPayload{
				Start:           updated.Start,
				End:             updated.End,
				RequesterID:     updated.RequesterID,
				WaitlistEntryID: updated.ID,
			},
		})
	}
	if notified > 0 {
		logger.InfoContext(ctx, "waitlist notified", "entries", notified)
	}
	return notified, nil
}
