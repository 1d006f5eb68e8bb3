package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/persistence/sqlite"
)

// SQLiteHarness provides repository access backed by a migrated SQLite file
// in a temporary directory.
type SQLiteHarness struct {
	Storage       *sqlite.Storage
	Resources     persistence.ResourceRepository
	Bookings      persistence.BookingRepository
	Waitlist      persistence.WaitlistRepository
	Subscriptions persistence.SubscriptionRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens and migrates a fresh database. The harness closes
// itself when the test ends.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "scheduler.db")
	storage, err := sqlite.Open(path)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage:       storage,
		Resources:     storage,
		Bookings:      storage,
		Waitlist:      storage,
		Subscriptions: storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// SeedResources stores the resource fixtures.
func (h *SQLiteHarness) SeedResources(tb testing.TB, fixtures ...ResourceFixture) {
	tb.Helper()
	for _, fixture := range fixtures {
		if err := h.Resources.CreateResource(context.Background(), fixture.Persistence()); err != nil {
			tb.Fatalf("seed resource %s: %v", fixture.ID, err)
		}
	}
}

// seedLimit lets SeedBookings arrange any occupancy.
const seedLimit = 1 << 20

// SeedBookings stores the booking fixtures in one batch.
func (h *SQLiteHarness) SeedBookings(tb testing.TB, fixtures ...BookingFixture) {
	tb.Helper()
	if len(fixtures) == 0 {
		return
	}
	bookings := make([]persistence.Booking, 0, len(fixtures))
	for _, fixture := range fixtures {
		bookings = append(bookings, fixture.Persistence())
	}
	if err := h.Bookings.InsertBookings(context.Background(), bookings, seedLimit); err != nil {
		tb.Fatalf("seed bookings: %v", err)
	}
}
