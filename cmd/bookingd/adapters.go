package main

import (
	"context"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

// storage is the persistence surface the daemon needs.
type storage interface {
	persistence.ResourceRepository
	persistence.BookingRepository
	persistence.WaitlistRepository
	persistence.SubscriptionRepository
}

type resourceCatalogAdapter struct {
	repo persistence.ResourceRepository
}

func newResourceCatalogAdapter(repo persistence.ResourceRepository) *resourceCatalogAdapter {
	return &resourceCatalogAdapter{repo: repo}
}

func (a *resourceCatalogAdapter) GetResource(ctx context.Context, id string) (application.Resource, error) {
	stored, err := a.repo.GetResource(ctx, id)
	if err != nil {
		return application.Resource{}, err
	}
	return toApplicationResource(stored), nil
}

type bookingStoreAdapter struct {
	repo persistence.BookingRepository
}

func newBookingStoreAdapter(repo persistence.BookingRepository) *bookingStoreAdapter {
	return &bookingStoreAdapter{repo: repo}
}

func (a *bookingStoreAdapter) ListBlocking(ctx context.Context, resourceID string, start, end time.Time) ([]application.Booking, error) {
	stored, err := a.repo.ListBlocking(ctx, resourceID, start, end)
	if err != nil {
		return nil, err
	}
	return toApplicationBookings(stored), nil
}

func (a *bookingStoreAdapter) InsertBookings(ctx context.Context, bookings []application.Booking, limit int) error {
	models := make([]persistence.Booking, 0, len(bookings))
	for _, booking := range bookings {
		models = append(models, toPersistenceBooking(booking))
	}
	return a.repo.InsertBookings(ctx, models, limit)
}

func (a *bookingStoreAdapter) GetBooking(ctx context.Context, id string) (application.Booking, error) {
	stored, err := a.repo.GetBooking(ctx, id)
	if err != nil {
		return application.Booking{}, err
	}
	return toApplicationBooking(stored), nil
}

func (a *bookingStoreAdapter) ListBookings(ctx context.Context, filter application.BookingFilter) ([]application.Booking, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	stored, err := a.repo.ListBookings(ctx, persistence.BookingFilter{
		ResourceID:  filter.ResourceID,
		RequesterID: filter.RequesterID,
		Statuses:    statuses,
		From:        cloneTime(filter.From),
		To:          cloneTime(filter.To),
		EndedBy:     cloneTime(filter.EndedBy),
		Limit:       filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	return toApplicationBookings(stored), nil
}

func (a *bookingStoreAdapter) ListSeries(ctx context.Context, parentID string) ([]application.Booking, error) {
	stored, err := a.repo.ListSeries(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return toApplicationBookings(stored), nil
}

func (a *bookingStoreAdapter) TransitionStatus(ctx context.Context, id string, from, to scheduler.Status, at time.Time) (application.Booking, error) {
	stored, err := a.repo.TransitionStatus(ctx, id, string(from), string(to), at)
	if err != nil {
		return application.Booking{}, err
	}
	return toApplicationBooking(stored), nil
}

func (a *bookingStoreAdapter) RescheduleBooking(ctx context.Context, booking application.Booking, limit int) error {
	return a.repo.RescheduleBooking(ctx, toPersistenceBooking(booking), limit)
}

func (a *bookingStoreAdapter) ListStatusHistory(ctx context.Context, id string) ([]application.StatusChange, error) {
	stored, err := a.repo.ListStatusHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	changes := make([]application.StatusChange, 0, len(stored))
	for _, change := range stored {
		changes = append(changes, application.StatusChange{
			BookingID: change.BookingID,
			From:      scheduler.Status(change.From),
			To:        scheduler.Status(change.To),
			ChangedAt: change.ChangedAt,
		})
	}
	return changes, nil
}

func (a *bookingStoreAdapter) DeleteBooking(ctx context.Context, id string) error {
	return a.repo.DeleteBooking(ctx, id)
}

type waitlistStoreAdapter struct {
	repo persistence.WaitlistRepository
}

func newWaitlistStoreAdapter(repo persistence.WaitlistRepository) *waitlistStoreAdapter {
	return &waitlistStoreAdapter{repo: repo}
}

func (a *waitlistStoreAdapter) CreateWaitlistEntry(ctx context.Context, entry application.WaitlistEntry) error {
	return a.repo.CreateWaitlistEntry(ctx, persistence.WaitlistEntry{
		ID:          entry.ID,
		ResourceID:  entry.ResourceID,
		RequesterID: entry.RequesterID,
		Start:       entry.Start,
		End:         entry.End,
		Status:      string(entry.Status),
		Notes:       cloneString(entry.Notes),
		NotifiedAt:  cloneTime(entry.NotifiedAt),
		CreatedAt:   entry.CreatedAt,
		UpdatedAt:   entry.UpdatedAt,
	})
}

func (a *waitlistStoreAdapter) GetWaitlistEntry(ctx context.Context, id string) (application.WaitlistEntry, error) {
	stored, err := a.repo.GetWaitlistEntry(ctx, id)
	if err != nil {
		return application.WaitlistEntry{}, err
	}
	return toApplicationWaitlistEntry(stored), nil
}

func (a *waitlistStoreAdapter) FindPendingWaitlistEntry(ctx context.Context, resourceID, requesterID string, start, end time.Time) (application.WaitlistEntry, error) {
	stored, err := a.repo.FindPendingWaitlistEntry(ctx, resourceID, requesterID, start, end)
	if err != nil {
		return application.WaitlistEntry{}, err
	}
	return toApplicationWaitlistEntry(stored), nil
}

func (a *waitlistStoreAdapter) ListPendingWaitlist(ctx context.Context, resourceID string, start, end time.Time) ([]application.WaitlistEntry, error) {
	stored, err := a.repo.ListPendingWaitlist(ctx, resourceID, start, end)
	if err != nil {
		return nil, err
	}
	entries := make([]application.WaitlistEntry, 0, len(stored))
	for _, entry := range stored {
		entries = append(entries, toApplicationWaitlistEntry(entry))
	}
	return entries, nil
}

func (a *waitlistStoreAdapter) UpdateWaitlistStatus(ctx context.Context, id string, status application.WaitlistStatus, notifiedAt *time.Time, at time.Time) (application.WaitlistEntry, error) {
	stored, err := a.repo.UpdateWaitlistStatus(ctx, id, string(status), notifiedAt, at)
	if err != nil {
		return application.WaitlistEntry{}, err
	}
	return toApplicationWaitlistEntry(stored), nil
}

type subscriptionStoreAdapter struct {
	repo persistence.SubscriptionRepository
}

func newSubscriptionStoreAdapter(repo persistence.SubscriptionRepository) *subscriptionStoreAdapter {
	return &subscriptionStoreAdapter{repo: repo}
}

func (a *subscriptionStoreAdapter) ReplaceSubscription(ctx context.Context, subscription application.CalendarSubscription) error {
	statuses := make([]string, 0, len(subscription.StatusFilter))
	for _, status := range subscription.StatusFilter {
		statuses = append(statuses, string(status))
	}
	return a.repo.ReplaceSubscription(ctx, persistence.CalendarSubscription{
		ID:             subscription.ID,
		UserID:         subscription.UserID,
		TokenHash:      subscription.TokenHash,
		StatusFilter:   statuses,
		RangeStart:     cloneTime(subscription.RangeStart),
		RangeEnd:       cloneTime(subscription.RangeEnd),
		IsActive:       subscription.IsActive,
		ExpiresAt:      cloneTime(subscription.ExpiresAt),
		LastAccessedAt: cloneTime(subscription.LastAccessedAt),
		AccessCount:    subscription.AccessCount,
		CreatedAt:      subscription.CreatedAt,
	})
}

func (a *subscriptionStoreAdapter) GetSubscriptionByTokenHash(ctx context.Context, tokenHash string) (application.CalendarSubscription, error) {
	stored, err := a.repo.GetSubscriptionByTokenHash(ctx, tokenHash)
	if err != nil {
		return application.CalendarSubscription{}, err
	}
	statuses := make([]scheduler.Status, 0, len(stored.StatusFilter))
	for _, status := range stored.StatusFilter {
		statuses = append(statuses, scheduler.Status(status))
	}
	return application.CalendarSubscription{
		ID:             stored.ID,
		UserID:         stored.UserID,
		TokenHash:      stored.TokenHash,
		StatusFilter:   statuses,
		RangeStart:     stored.RangeStart,
		RangeEnd:       stored.RangeEnd,
		IsActive:       stored.IsActive,
		ExpiresAt:      stored.ExpiresAt,
		LastAccessedAt: stored.LastAccessedAt,
		AccessCount:    stored.AccessCount,
		CreatedAt:      stored.CreatedAt,
	}, nil
}

func (a *subscriptionStoreAdapter) DeactivateSubscriptions(ctx context.Context, userID string) (int, error) {
	return a.repo.DeactivateSubscriptions(ctx, userID)
}

func (a *subscriptionStoreAdapter) RecordSubscriptionAccess(ctx context.Context, id string, at time.Time) error {
	return a.repo.RecordSubscriptionAccess(ctx, id, at)
}

// suspensionPolicy refuses bookings from the configured requester IDs.
type suspensionPolicy struct {
	suspended map[string]struct{}
}

func newSuspensionPolicy(ids []string) *suspensionPolicy {
	suspended := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		suspended[id] = struct{}{}
	}
	return &suspensionPolicy{suspended: suspended}
}

func (p *suspensionPolicy) CanBook(ctx context.Context, requesterID string) (bool, error) {
	_, blocked := p.suspended[requesterID]
	return !blocked, nil
}

func toApplicationResource(model persistence.Resource) application.Resource {
	return application.Resource{
		ID:               model.ID,
		Title:            model.Title,
		OwnerID:          model.OwnerID,
		Location:         cloneString(model.Location),
		Capacity:         cloneInt(model.Capacity),
		RequiresApproval: model.RequiresApproval,
		IsAvailable:      model.IsAvailable,
		Status:           application.ResourceStatus(model.Status),
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}

func toApplicationBooking(model persistence.Booking) application.Booking {
	rule, err := recurrence.ParseRule(model.RecurrenceRule)
	if err != nil {
		// The schema CHECK keeps unknown rules out; treat stragglers as single bookings.
		rule = recurrence.RuleNone
	}
	return application.Booking{
		ID:              model.ID,
		ResourceID:      model.ResourceID,
		RequesterID:     model.RequesterID,
		Start:           model.Start,
		End:             model.End,
		Status:          scheduler.Status(model.Status),
		Notes:           cloneString(model.Notes),
		Recurrence:      rule,
		RecurrenceEndAt: cloneTime(model.RecurrenceEndAt),
		SeriesParentID:  cloneString(model.SeriesParentID),
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

func toApplicationBookings(models []persistence.Booking) []application.Booking {
	bookings := make([]application.Booking, 0, len(models))
	for _, model := range models {
		bookings = append(bookings, toApplicationBooking(model))
	}
	return bookings
}

func toPersistenceBooking(booking application.Booking) persistence.Booking {
	rule := booking.Recurrence
	if rule == "" {
		rule = recurrence.RuleNone
	}
	return persistence.Booking{
		ID:              booking.ID,
		ResourceID:      booking.ResourceID,
		RequesterID:     booking.RequesterID,
		Start:           booking.Start,
		End:             booking.End,
		Status:          string(booking.Status),
		Notes:           cloneString(booking.Notes),
		RecurrenceRule:  string(rule),
		RecurrenceEndAt: cloneTime(booking.RecurrenceEndAt),
		SeriesParentID:  cloneString(booking.SeriesParentID),
		CreatedAt:       booking.CreatedAt,
		UpdatedAt:       booking.UpdatedAt,
	}
}

func toApplicationWaitlistEntry(model persistence.WaitlistEntry) application.WaitlistEntry {
	return application.WaitlistEntry{
		ID:          model.ID,
		ResourceID:  model.ResourceID,
		RequesterID: model.RequesterID,
		Start:       model.Start,
		End:         model.End,
		Status:      application.WaitlistStatus(model.Status),
		Notes:       cloneString(model.Notes),
		NotifiedAt:  cloneTime(model.NotifiedAt),
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
