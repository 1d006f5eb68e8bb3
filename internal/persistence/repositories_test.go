package persistence_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/scheduler"
	"github.com/example/resource-scheduler/internal/testfixtures"
)

func hours(n int) time.Time {
	return testfixtures.ReferenceTime().Add(time.Duration(n) * time.Hour)
}

func bookingIDs(bookings []persistence.Booking) []string {
	ids := make([]string, 0, len(bookings))
	for _, booking := range bookings {
		ids = append(ids, booking.ID)
	}
	return ids
}

func TestResourceRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	resource := testfixtures.NewResourceFixture(testfixtures.WithResourceID("lab"), testfixtures.WithCapacity(4)).Persistence()

	if err := harness.Resources.CreateResource(ctx, resource); err != nil {
		t.Fatalf("CreateResource failed: %v", err)
	}
	if err := harness.Resources.CreateResource(ctx, resource); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	resource.IsAvailable = false
	resource.UpdatedAt = hours(1)
	if err := harness.Resources.UpdateResource(ctx, resource); err != nil {
		t.Fatalf("UpdateResource failed: %v", err)
	}
	fetched, err := harness.Resources.GetResource(ctx, "lab")
	if err != nil {
		t.Fatalf("GetResource failed: %v", err)
	}
	if fetched.IsAvailable || fetched.Capacity == nil || *fetched.Capacity != 4 || fetched.OwnerID != resource.OwnerID {
		t.Fatalf("unexpected resource %+v", fetched)
	}

	if _, err := harness.Resources.GetResource(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	listed, err := harness.Resources.ListResources(ctx)
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected one resource, got %d (%v)", len(listed), err)
	}
}

func TestInsertBookings(t *testing.T) {
	t.Parallel()

	t.Run("rechecks occupancy inside the transaction", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		room := testfixtures.NewResourceFixture()
		harness.SeedResources(t, room)
		harness.SeedBookings(t, testfixtures.NewBookingFixture(room.ID,
			testfixtures.WithBookingID("existing"), testfixtures.WithWindow(hours(0), hours(1))))

		batch := []persistence.Booking{
			testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("later"), testfixtures.WithWindow(hours(2), hours(3))).Persistence(),
			testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("clash"), testfixtures.WithWindow(hours(0), hours(1))).Persistence(),
		}
		err := harness.Bookings.InsertBookings(ctx, batch, 1)

		var slotErr *persistence.SlotTakenError
		if !errors.As(err, &slotErr) || !errors.Is(err, persistence.ErrSlotTaken) {
			t.Fatalf("expected SlotTakenError, got %v", err)
		}
		if slotErr.Index != 1 || slotErr.BookingID != "clash" || slotErr.Occupied != 1 {
			t.Fatalf("unexpected slot error %+v", slotErr)
		}
		if _, err := harness.Bookings.GetBooking(ctx, "later"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("batch should roll back entirely, got %v", err)
		}
	})

	t.Run("earlier rows of the batch count as occupants", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		room := testfixtures.NewResourceFixture(testfixtures.WithCapacity(2))
		harness.SeedResources(t, room)

		var batch []persistence.Booking
		for _, id := range []string{"a", "b", "c"} {
			batch = append(batch, testfixtures.NewBookingFixture(room.ID,
				testfixtures.WithBookingID(id), testfixtures.WithWindow(hours(0), hours(1))).Persistence())
		}
		err := harness.Bookings.InsertBookings(ctx, batch, 2)

		var slotErr *persistence.SlotTakenError
		if !errors.As(err, &slotErr) || slotErr.Index != 2 || slotErr.Occupied != 2 {
			t.Fatalf("expected third row to fail at 2/2, got %v", err)
		}
		if err := harness.Bookings.InsertBookings(ctx, batch[:2], 2); err != nil {
			t.Fatalf("two seats should fit: %v", err)
		}
	})

	t.Run("touching and released windows do not block", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		room := testfixtures.NewResourceFixture()
		harness.SeedResources(t, room)
		harness.SeedBookings(t,
			testfixtures.NewBookingFixture(room.ID, testfixtures.WithWindow(hours(0), hours(1))),
			testfixtures.NewBookingFixture(room.ID, testfixtures.WithWindow(hours(1), hours(2)), testfixtures.WithStatus(scheduler.StatusCancelled)),
			testfixtures.NewBookingFixture(room.ID, testfixtures.WithWindow(hours(1), hours(2)), testfixtures.WithStatus(scheduler.StatusCompleted)),
		)

		candidate := testfixtures.NewBookingFixture(room.ID, testfixtures.WithWindow(hours(1), hours(2))).Persistence()
		if err := harness.Bookings.InsertBookings(ctx, []persistence.Booking{candidate}, 1); err != nil {
			t.Fatalf("expected insert to succeed, got %v", err)
		}

		blocking, err := harness.Bookings.ListBlocking(ctx, room.ID, hours(1), hours(2))
		if err != nil {
			t.Fatalf("ListBlocking failed: %v", err)
		}
		if ids := bookingIDs(blocking); len(ids) != 1 || ids[0] != candidate.ID {
			t.Fatalf("expected only %s to block, got %v", candidate.ID, ids)
		}
	})

	t.Run("unknown resource violates the foreign key", func(t *testing.T) {
		t.Parallel()
		harness := testfixtures.NewSQLiteHarness(t)
		booking := testfixtures.NewBookingFixture("ghost").Persistence()

		err := harness.Bookings.InsertBookings(context.Background(), []persistence.Booking{booking}, 1)
		if !errors.Is(err, persistence.ErrForeignKeyViolation) {
			t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
		}
	})
}

func TestBookingQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	room := testfixtures.NewResourceFixture()
	harness.SeedResources(t, room)
	harness.SeedBookings(t,
		testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("s-0"), testfixtures.InSeries("daily", ""), testfixtures.WithWindow(hours(0), hours(1))),
		testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("s-1"), testfixtures.InSeries("daily", "s-0"), testfixtures.WithWindow(hours(24), hours(25))),
		testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("s-2"), testfixtures.InSeries("daily", "s-0"), testfixtures.WithWindow(hours(48), hours(49))),
		testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("other"), testfixtures.WithRequester("requester-2"), testfixtures.WithWindow(hours(2), hours(3))),
	)

	series, err := harness.Bookings.ListSeries(ctx, "s-0")
	if err != nil {
		t.Fatalf("ListSeries failed: %v", err)
	}
	if got := bookingIDs(series); !slices.Equal(got, []string{"s-0", "s-1", "s-2"}) {
		t.Fatalf("unexpected series %v", got)
	}

	from, to := hours(1), hours(30)
	listed, err := harness.Bookings.ListBookings(ctx, persistence.BookingFilter{RequesterID: "requester-1", From: &from, To: &to})
	if err != nil {
		t.Fatalf("ListBookings failed: %v", err)
	}
	if got := bookingIDs(listed); !slices.Equal(got, []string{"s-1"}) {
		t.Fatalf("expected s-1 only, got %v", got)
	}

	endedBy := hours(3)
	ended, err := harness.Bookings.ListBookings(ctx, persistence.BookingFilter{Statuses: []string{"active"}, EndedBy: &endedBy, Limit: 1})
	if err != nil {
		t.Fatalf("ListBookings failed: %v", err)
	}
	if got := bookingIDs(ended); !slices.Equal(got, []string{"s-0"}) {
		t.Fatalf("expected earliest ended booking, got %v", got)
	}
}

func TestTransitionStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	room := testfixtures.NewResourceFixture()
	harness.SeedResources(t, room)
	harness.SeedBookings(t, testfixtures.NewBookingFixture(room.ID,
		testfixtures.WithBookingID("b"), testfixtures.WithStatus(scheduler.StatusPending)))

	updated, err := harness.Bookings.TransitionStatus(ctx, "b", "pending", "active", hours(-1))
	if err != nil {
		t.Fatalf("TransitionStatus failed: %v", err)
	}
	if updated.Status != "active" || !updated.UpdatedAt.Equal(hours(-1)) {
		t.Fatalf("unexpected booking %+v", updated)
	}

	if _, err := harness.Bookings.TransitionStatus(ctx, "b", "pending", "cancelled", hours(0)); !errors.Is(err, persistence.ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus, got %v", err)
	}
	if _, err := harness.Bookings.TransitionStatus(ctx, "missing", "pending", "active", hours(0)); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	history, err := harness.Bookings.ListStatusHistory(ctx, "b")
	if err != nil {
		t.Fatalf("ListStatusHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected creation and approval entries, got %+v", history)
	}
	if history[0].From != "" || history[0].To != "pending" {
		t.Fatalf("unexpected creation entry %+v", history[0])
	}
	if history[1].From != "pending" || history[1].To != "active" || !history[1].ChangedAt.Equal(hours(-1)) {
		t.Fatalf("unexpected approval entry %+v", history[1])
	}
}

func TestRescheduleBooking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	room := testfixtures.NewResourceFixture()
	harness.SeedResources(t, room)
	harness.SeedBookings(t,
		testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("mover"), testfixtures.WithWindow(hours(0), hours(1))),
		testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("blocker"), testfixtures.WithWindow(hours(3), hours(4))),
		testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("done"), testfixtures.WithWindow(hours(5), hours(6)), testfixtures.WithStatus(scheduler.StatusCompleted)),
	)

	mover, err := harness.Bookings.GetBooking(ctx, "mover")
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}

	// Overlapping itself is not a conflict.
	mover.Start, mover.End = hours(0), hours(2)
	if err := harness.Bookings.RescheduleBooking(ctx, mover, 1); err != nil {
		t.Fatalf("extending in place failed: %v", err)
	}

	mover.Start, mover.End = hours(3), hours(4)
	if err := harness.Bookings.RescheduleBooking(ctx, mover, 1); !errors.Is(err, persistence.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	done, err := harness.Bookings.GetBooking(ctx, "done")
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	done.Start, done.End = hours(8), hours(9)
	if err := harness.Bookings.RescheduleBooking(ctx, done, 1); !errors.Is(err, persistence.ErrStaleStatus) {
		t.Fatalf("completed bookings cannot move, got %v", err)
	}

	stored, err := harness.Bookings.GetBooking(ctx, "mover")
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if !stored.Start.Equal(hours(0)) || !stored.End.Equal(hours(2)) {
		t.Fatalf("expected window from the successful move, got %v-%v", stored.Start, stored.End)
	}
}

func TestDeleteBookingKeepsChildren(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	room := testfixtures.NewResourceFixture()
	harness.SeedResources(t, room)
	harness.SeedBookings(t,
		testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("parent"), testfixtures.InSeries("weekly", "")),
		testfixtures.NewBookingFixture(room.ID, testfixtures.WithBookingID("child"), testfixtures.InSeries("weekly", "parent"), testfixtures.WithWindow(hours(168), hours(169))),
	)

	if err := harness.Bookings.DeleteBooking(ctx, "parent"); err != nil {
		t.Fatalf("DeleteBooking failed: %v", err)
	}
	if err := harness.Bookings.DeleteBooking(ctx, "parent"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	child, err := harness.Bookings.GetBooking(ctx, "child")
	if err != nil {
		t.Fatalf("child should survive: %v", err)
	}
	if child.SeriesParentID != nil {
		t.Fatalf("expected parent reference cleared, got %v", *child.SeriesParentID)
	}
	if child.RecurrenceRule != "none" || child.RecurrenceEndAt != nil {
		t.Fatalf("orphaned child should become standalone, got rule %q end %v", child.RecurrenceRule, child.RecurrenceEndAt)
	}
}

func TestWaitlistRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	room := testfixtures.NewResourceFixture()
	harness.SeedResources(t, room)

	entries := []persistence.WaitlistEntry{
		{ID: "w-1", ResourceID: room.ID, RequesterID: "alice", Start: hours(0), End: hours(1), CreatedAt: hours(-3)},
		{ID: "w-2", ResourceID: room.ID, RequesterID: "bob", Start: hours(0), End: hours(2), CreatedAt: hours(-2)},
		{ID: "w-3", ResourceID: room.ID, RequesterID: "carol", Start: hours(1), End: hours(2), CreatedAt: hours(-1)},
	}
	for _, entry := range entries {
		if err := harness.Waitlist.CreateWaitlistEntry(ctx, entry); err != nil {
			t.Fatalf("CreateWaitlistEntry %s failed: %v", entry.ID, err)
		}
	}

	found, err := harness.Waitlist.FindPendingWaitlistEntry(ctx, room.ID, "alice", hours(0), hours(3))
	if err != nil || found.ID != "w-1" || found.Status != "pending" {
		t.Fatalf("expected pending w-1, got %+v (%v)", found, err)
	}
	if _, err := harness.Waitlist.FindPendingWaitlistEntry(ctx, room.ID, "alice", hours(1), hours(2)); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("touching window should not match, got %v", err)
	}

	pending, err := harness.Waitlist.ListPendingWaitlist(ctx, room.ID, hours(0), hours(1))
	if err != nil {
		t.Fatalf("ListPendingWaitlist failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "w-1" || pending[1].ID != "w-2" {
		t.Fatalf("expected w-1 and w-2 in creation order, got %+v", pending)
	}

	notifiedAt := hours(1)
	updated, err := harness.Waitlist.UpdateWaitlistStatus(ctx, "w-1", "notified", &notifiedAt, notifiedAt)
	if err != nil {
		t.Fatalf("UpdateWaitlistStatus failed: %v", err)
	}
	if updated.Status != "notified" || updated.NotifiedAt == nil || !updated.NotifiedAt.Equal(notifiedAt) {
		t.Fatalf("unexpected entry %+v", updated)
	}
	cancelled, err := harness.Waitlist.UpdateWaitlistStatus(ctx, "w-1", "cancelled", nil, hours(2))
	if err != nil || cancelled.NotifiedAt == nil {
		t.Fatalf("nil notifiedAt should keep the stored time, got %+v (%v)", cancelled, err)
	}
	if _, err := harness.Waitlist.UpdateWaitlistStatus(ctx, "missing", "cancelled", nil, hours(2)); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscriptionRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	rangeStart := hours(-24)

	first := persistence.CalendarSubscription{ID: "sub-1", UserID: "alice", TokenHash: "hash-1", IsActive: true, CreatedAt: hours(0)}
	second := persistence.CalendarSubscription{
		ID:           "sub-2",
		UserID:       "alice",
		TokenHash:    "hash-2",
		StatusFilter: []string{"active", "pending"},
		RangeStart:   &rangeStart,
		IsActive:     true,
		CreatedAt:    hours(1),
	}
	for _, sub := range []persistence.CalendarSubscription{first, second} {
		if err := harness.Subscriptions.ReplaceSubscription(ctx, sub); err != nil {
			t.Fatalf("ReplaceSubscription %s failed: %v", sub.ID, err)
		}
	}

	old, err := harness.Subscriptions.GetSubscriptionByTokenHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetSubscriptionByTokenHash failed: %v", err)
	}
	if old.IsActive {
		t.Fatal("replacing a subscription should deactivate the previous one")
	}

	current, err := harness.Subscriptions.GetSubscriptionByTokenHash(ctx, "hash-2")
	if err != nil {
		t.Fatalf("GetSubscriptionByTokenHash failed: %v", err)
	}
	if !current.IsActive || !slices.Equal(current.StatusFilter, []string{"active", "pending"}) || current.RangeStart == nil || !current.RangeStart.Equal(rangeStart) {
		t.Fatalf("unexpected subscription %+v", current)
	}

	if err := harness.Subscriptions.RecordSubscriptionAccess(ctx, "sub-2", hours(2)); err != nil {
		t.Fatalf("RecordSubscriptionAccess failed: %v", err)
	}
	accessed, err := harness.Subscriptions.GetSubscriptionByTokenHash(ctx, "hash-2")
	if err != nil {
		t.Fatalf("GetSubscriptionByTokenHash failed: %v", err)
	}
	if accessed.AccessCount != 1 || accessed.LastAccessedAt == nil || !accessed.LastAccessedAt.Equal(hours(2)) {
		t.Fatalf("access not recorded: %+v", accessed)
	}

	revoked, err := harness.Subscriptions.DeactivateSubscriptions(ctx, "alice")
	if err != nil || revoked != 1 {
		t.Fatalf("expected one deactivated subscription, got %d (%v)", revoked, err)
	}
	if _, err := harness.Subscriptions.GetSubscriptionByTokenHash(ctx, "unknown"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
