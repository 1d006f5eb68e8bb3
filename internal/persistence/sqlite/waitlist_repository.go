package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
)

// WaitlistRepository implements persistence.WaitlistRepository using SQLite.
type WaitlistRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	now    func() time.Time
}

// NewWaitlistRepository creates a new SQLite waitlist repository.
func NewWaitlistRepository(pool *ConnectionPool) *WaitlistRepository {
	return &WaitlistRepository{pool: pool, mapper: NewErrorMapper(), now: time.Now}
}

const waitlistColumns = `id, resource_id, requester_id, start_at, end_at, status, notes, notified_at, created_at, updated_at`

// CreateWaitlistEntry inserts a new waitlist entry.
func (r *WaitlistRepository) CreateWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry) error {
	if entry.ID == "" {
		return persistence.ErrConstraintViolation
	}
	entry.CreatedAt = orNow(entry.CreatedAt, r.now().UTC())
	entry.UpdatedAt = orNow(entry.UpdatedAt, entry.CreatedAt)
	if entry.Status == "" {
		entry.Status = "pending"
	}

	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO waitlist_entries (`+waitlistColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ResourceID,
		entry.RequesterID,
		formatTime(entry.Start),
		formatTime(entry.End),
		entry.Status,
		nullableString(entry.Notes),
		nullableTime(entry.NotifiedAt),
		formatTime(entry.CreatedAt),
		formatTime(entry.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetWaitlistEntry retrieves an entry by ID.
func (r *WaitlistRepository) GetWaitlistEntry(ctx context.Context, id string) (persistence.WaitlistEntry, error) {
	entry, err := scanWaitlistEntry(r.pool.DB().QueryRowContext(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = ?`, id))
	if err != nil {
		return persistence.WaitlistEntry{}, r.mapper.MapError(err)
	}
	return entry, nil
}

// FindPendingWaitlistEntry returns the requester's oldest pending entry for the
// resource overlapping [start, end).
func (r *WaitlistRepository) FindPendingWaitlistEntry(ctx context.Context, resourceID, requesterID string, start, end time.Time) (persistence.WaitlistEntry, error) {
	entry, err := scanWaitlistEntry(r.pool.DB().QueryRowContext(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries
		WHERE resource_id = ? AND requester_id = ? AND status = 'pending'
		  AND start_at < ? AND end_at > ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		resourceID, requesterID, formatTime(end), formatTime(start)))
	if err != nil {
		return persistence.WaitlistEntry{}, r.mapper.MapError(err)
	}
	return entry, nil
}

// ListPendingWaitlist returns pending entries overlapping [start, end) in creation order.
func (r *WaitlistRepository) ListPendingWaitlist(ctx context.Context, resourceID string, start, end time.Time) ([]persistence.WaitlistEntry, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries
		WHERE resource_id = ? AND status = 'pending' AND start_at < ? AND end_at > ?
		ORDER BY created_at ASC, id ASC`,
		resourceID, formatTime(end), formatTime(start))
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var entries []persistence.WaitlistEntry
	for rows.Next() {
		entry, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return entries, nil
}

// UpdateWaitlistStatus sets the status of an entry. A nil notifiedAt keeps the
// stored notification time.
func (r *WaitlistRepository) UpdateWaitlistStatus(ctx context.Context, id, status string, notifiedAt *time.Time, at time.Time) (persistence.WaitlistEntry, error) {
	var updated persistence.WaitlistEntry
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE waitlist_entries
			SET status = ?, notified_at = COALESCE(?, notified_at), updated_at = ?
			WHERE id = ?`,
			status, nullableTime(notifiedAt), formatTime(at), id)
		if err != nil {
			return r.mapper.MapError(err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return persistence.ErrNotFound
		}
		updated, err = scanWaitlistEntry(tx.QueryRowContext(ctx,
			`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = ?`, id))
		return r.mapper.MapError(err)
	})
	if err != nil {
		return persistence.WaitlistEntry{}, err
	}
	return updated, nil
}

func scanWaitlistEntry(row rowScanner) (persistence.WaitlistEntry, error) {
	var (
		entry                persistence.WaitlistEntry
		notes, notifiedAt    sql.NullString
		startAt, endAt       string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&entry.ID,
		&entry.ResourceID,
		&entry.RequesterID,
		&startAt,
		&endAt,
		&entry.Status,
		&notes,
		&notifiedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.WaitlistEntry{}, err
	}

	entry.Notes = stringPtr(notes)

	var err error
	if entry.Start, err = parseTime(startAt); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	if entry.End, err = parseTime(endAt); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	if entry.NotifiedAt, err = parseNullableTime(notifiedAt); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	return entry, nil
}
