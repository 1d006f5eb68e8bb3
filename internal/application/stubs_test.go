package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

var referenceTime = time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return referenceTime }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialIDs(prefix string) func() string {
	var (
		mu   sync.Mutex
		next int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s-%d", prefix, next)
	}
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func publishedResource(id string) Resource {
	return Resource{
		ID:          id,
		Title:       "Room " + id,
		OwnerID:     "owner-1",
		IsAvailable: true,
		Status:      ResourcePublished,
	}
}

// memoryStore keeps every aggregate in maps and mirrors the commit-time
// re-check of the SQL store.
type memoryStore struct {
	mu sync.Mutex

	resources map[string]Resource
	bookings  map[string]Booking
	history   []StatusChange
	waitlist  map[string]WaitlistEntry
	subs      map[string]CalendarSubscription

	// insertErrs are returned, one per call, before InsertBookings evaluates the batch.
	insertErrs     []error
	blockingErr    error
	insertCalls    int
	beforeInsert   func(s *memoryStore)
	transitionErrs map[string]error
	accessed       []string
}

func newMemoryStore(resources ...Resource) *memoryStore {
	s := &memoryStore{
		resources:      make(map[string]Resource),
		bookings:       make(map[string]Booking),
		waitlist:       make(map[string]WaitlistEntry),
		subs:           make(map[string]CalendarSubscription),
		transitionErrs: make(map[string]error),
	}
	for _, resource := range resources {
		s.resources[resource.ID] = resource
	}
	return s
}

func (s *memoryStore) put(bookings ...Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, booking := range bookings {
		s.bookings[booking.ID] = booking
	}
}

func (s *memoryStore) status(id string) scheduler.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id].Status
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

func (s *memoryStore) GetResource(_ context.Context, id string) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource, ok := s.resources[id]
	if !ok {
		return Resource{}, persistence.ErrNotFound
	}
	return resource, nil
}

func (s *memoryStore) blockingLocked(resourceID string, window scheduler.Window, excludeID string) []Booking {
	var out []Booking
	for _, booking := range s.bookings {
		if booking.ID == excludeID || booking.ResourceID != resourceID || !booking.Status.Blocking() {
			continue
		}
		if booking.Window().Overlaps(window) {
			out = append(out, booking)
		}
	}
	sortBookings(out)
	return out
}

func (s *memoryStore) ListBlocking(_ context.Context, resourceID string, start, end time.Time) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockingErr != nil {
		return nil, s.blockingErr
	}
	return s.blockingLocked(resourceID, scheduler.Window{Start: start, End: end}, ""), nil
}

func (s *memoryStore) InsertBookings(_ context.Context, bookings []Booking, limit int) error {
	if s.beforeInsert != nil {
		hook := s.beforeInsert
		s.beforeInsert = nil
		hook(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		return err
	}

	staged := make(map[string]Booking, len(bookings))
	for i, booking := range bookings {
		occupied := len(s.blockingLocked(booking.ResourceID, booking.Window(), ""))
		for _, earlier := range staged {
			if earlier.ResourceID == booking.ResourceID && earlier.Window().Overlaps(booking.Window()) {
				occupied++
			}
		}
		if occupied >= limit {
			return &persistence.SlotTakenError{Index: i, BookingID: booking.ID, Occupied: occupied, Limit: limit}
		}
		staged[booking.ID] = booking
	}
	for id, booking := range staged {
		s.bookings[id] = booking
	}
	return nil
}

func (s *memoryStore) GetBooking(_ context.Context, id string) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[id]
	if !ok {
		return Booking{}, persistence.ErrNotFound
	}
	return booking, nil
}

func (s *memoryStore) ListBookings(_ context.Context, filter BookingFilter) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Booking
	for _, booking := range s.bookings {
		if filter.ResourceID != "" && booking.ResourceID != filter.ResourceID {
			continue
		}
		if filter.RequesterID != "" && booking.RequesterID != filter.RequesterID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, booking.Status) {
			continue
		}
		if filter.From != nil && !booking.End.After(*filter.From) {
			continue
		}
		if filter.To != nil && !booking.Start.Before(*filter.To) {
			continue
		}
		if filter.EndedBy != nil && booking.End.After(*filter.EndedBy) {
			continue
		}
		out = append(out, booking)
	}
	sortBookings(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memoryStore) ListSeries(_ context.Context, parentID string) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Booking
	for _, booking := range s.bookings {
		if booking.ID == parentID || (booking.SeriesParentID != nil && *booking.SeriesParentID == parentID) {
			out = append(out, booking)
		}
	}
	sortBookings(out)
	return out, nil
}

func (s *memoryStore) TransitionStatus(_ context.Context, id string, from, to scheduler.Status, at time.Time) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.transitionErrs[id]; ok {
		return Booking{}, err
	}
	booking, ok := s.bookings[id]
	if !ok {
		return Booking{}, persistence.ErrNotFound
	}
	if booking.Status != from {
		return Booking{}, fmt.Errorf("%w: expected %s, found %s", persistence.ErrStaleStatus, from, booking.Status)
	}
	booking.Status = to
	booking.UpdatedAt = at
	s.bookings[id] = booking
	s.history = append(s.history, StatusChange{BookingID: id, From: from, To: to, ChangedAt: at})
	return booking, nil
}

func (s *memoryStore) RescheduleBooking(_ context.Context, booking Booking, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.bookings[booking.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if !current.Status.Blocking() {
		return persistence.ErrStaleStatus
	}
	if occupied := len(s.blockingLocked(booking.ResourceID, booking.Window(), booking.ID)); occupied >= limit {
		return &persistence.SlotTakenError{BookingID: booking.ID, Occupied: occupied, Limit: limit}
	}
	s.bookings[booking.ID] = booking
	return nil
}

func (s *memoryStore) ListStatusHistory(_ context.Context, id string) ([]StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StatusChange
	for _, change := range s.history {
		if change.BookingID == id {
			out = append(out, change)
		}
	}
	return out, nil
}

func (s *memoryStore) DeleteBooking(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.bookings, id)
	for key, booking := range s.bookings {
		if booking.SeriesParentID != nil && *booking.SeriesParentID == id {
			booking.SeriesParentID = nil
			booking.Recurrence = recurrence.RuleNone
			booking.RecurrenceEndAt = nil
			s.bookings[key] = booking
		}
	}
	return nil
}

func (s *memoryStore) CreateWaitlistEntry(_ context.Context, entry WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.waitlist[entry.ID]; ok {
		return persistence.ErrDuplicate
	}
	s.waitlist[entry.ID] = entry
	return nil
}

func (s *memoryStore) GetWaitlistEntry(_ context.Context, id string) (WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.waitlist[id]
	if !ok {
		return WaitlistEntry{}, persistence.ErrNotFound
	}
	return entry, nil
}

func (s *memoryStore) FindPendingWaitlistEntry(_ context.Context, resourceID, requesterID string, start, end time.Time) (WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := scheduler.Window{Start: start, End: end}
	for _, entry := range s.waitlist {
		if entry.ResourceID == resourceID && entry.RequesterID == requesterID &&
			entry.Status == WaitlistPending && entry.Window().Overlaps(window) {
			return entry, nil
		}
	}
	return WaitlistEntry{}, persistence.ErrNotFound
}

func (s *memoryStore) ListPendingWaitlist(_ context.Context, resourceID string, start, end time.Time) ([]WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := scheduler.Window{Start: start, End: end}
	var out []WaitlistEntry
	for _, entry := range s.waitlist {
		if entry.ResourceID == resourceID && entry.Status == WaitlistPending && entry.Window().Overlaps(window) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpdateWaitlistStatus(_ context.Context, id string, status WaitlistStatus, notifiedAt *time.Time, at time.Time) (WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.waitlist[id]
	if !ok {
		return WaitlistEntry{}, persistence.ErrNotFound
	}
	entry.Status = status
	entry.NotifiedAt = notifiedAt
	entry.UpdatedAt = at
	s.waitlist[id] = entry
	return entry, nil
}

func (s *memoryStore) ReplaceSubscription(_ context.Context, subscription CalendarSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.subs {
		if existing.UserID == subscription.UserID {
			existing.IsActive = false
			s.subs[id] = existing
		}
	}
	s.subs[subscription.ID] = subscription
	return nil
}

func (s *memoryStore) GetSubscriptionByTokenHash(_ context.Context, tokenHash string) (CalendarSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subscription := range s.subs {
		if subscription.TokenHash == tokenHash {
			return subscription, nil
		}
	}
	return CalendarSubscription{}, persistence.ErrNotFound
}

func (s *memoryStore) DeactivateSubscriptions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, subscription := range s.subs {
		if subscription.UserID == userID && subscription.IsActive {
			subscription.IsActive = false
			s.subs[id] = subscription
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) RecordSubscriptionAccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subscription, ok := s.subs[id]
	if !ok {
		return persistence.ErrNotFound
	}
	subscription.AccessCount++
	subscription.LastAccessedAt = &at
	s.subs[id] = subscription
	s.accessed = append(s.accessed, id)
	return nil
}

func sortBookings(bookings []Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		if !bookings[i].Start.Equal(bookings[j].Start) {
			return bookings[i].Start.Before(bookings[j].Start)
		}
		return bookings[i].ID < bookings[j].ID
	})
}

func containsStatus(statuses []scheduler.Status, status scheduler.Status) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

type notifierStub struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *notifierStub) Notify(_ context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *notifierStub) ofType(eventType EventType) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, event := range n.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type policyStub struct {
	suspended map[string]bool
	err       error
}

func (p policyStub) CanBook(_ context.Context, requesterID string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return !p.suspended[requesterID], nil
}

type lockerStub struct {
	mu       sync.Mutex
	acquired []string
	released int
	err      error
}

func (l *lockerStub) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

type releaseRecorder struct {
	mu      sync.Mutex
	windows []scheduler.Window
	err     error
}

func (r *releaseRecorder) SlotReleased(_ context.Context, _ string, window scheduler.Window) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, window)
	return 0, r.err
}

var errBoom = errors.New("boom")
