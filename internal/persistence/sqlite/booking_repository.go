package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
)

// BookingRepository implements persistence.BookingRepository using SQLite.
type BookingRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	now    func() time.Time
}

// NewBookingRepository creates a new SQLite booking repository.
func NewBookingRepository(pool *ConnectionPool) *BookingRepository {
	return &BookingRepository{pool: pool, mapper: NewErrorMapper(), now: time.Now}
}

const bookingColumns = `id, resource_id, requester_id, start_at, end_at, status, notes,
	recurrence_rule, recurrence_end_at, series_parent_id, created_at, updated_at`

// blockingStatuses must stay in sync with scheduler.Status.Blocking.
const blockingStatuses = `'pending', 'active'`

const countBlockingSQL = `
	SELECT COUNT(*) FROM bookings
	WHERE resource_id = ? AND status IN (` + blockingStatuses + `)
	  AND start_at < ? AND end_at > ? AND id <> ?`

func isBlocking(status string) bool {
	return status == "pending" || status == "active"
}

// InsertBookings persists the batch atomically after re-counting overlaps.
// Rows inserted earlier in the same transaction are visible to the count, so
// overlapping occurrences of one series are checked against each other too.
func (r *BookingRepository) InsertBookings(ctx context.Context, bookings []persistence.Booking, limit int) error {
	if len(bookings) == 0 {
		return nil
	}
	if limit < 1 {
		limit = 1
	}
	now := r.now().UTC()

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		for i, booking := range bookings {
			if booking.ID == "" || booking.ResourceID == "" {
				return persistence.ErrConstraintViolation
			}
			if isBlocking(booking.Status) {
				var occupied int
				if err := tx.QueryRowContext(ctx, countBlockingSQL,
					booking.ResourceID, formatTime(booking.End), formatTime(booking.Start), booking.ID,
				).Scan(&occupied); err != nil {
					return r.mapper.MapError(err)
				}
				if occupied >= limit {
					return &persistence.SlotTakenError{Index: i, BookingID: booking.ID, Occupied: occupied, Limit: limit}
				}
			}

			booking.CreatedAt = orNow(booking.CreatedAt, now)
			booking.UpdatedAt = orNow(booking.UpdatedAt, booking.CreatedAt)
			rule := booking.RecurrenceRule
			if rule == "" {
				rule = "none"
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO bookings (`+bookingColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				booking.ID,
				booking.ResourceID,
				booking.RequesterID,
				formatTime(booking.Start),
				formatTime(booking.End),
				booking.Status,
				nullableString(booking.Notes),
				rule,
				nullableTime(booking.RecurrenceEndAt),
				nullableString(booking.SeriesParentID),
				formatTime(booking.CreatedAt),
				formatTime(booking.UpdatedAt),
			); err != nil {
				return r.mapper.MapError(err)
			}
			if err := insertStatusChange(ctx, tx, booking.ID, "", booking.Status, booking.CreatedAt); err != nil {
				return r.mapper.MapError(err)
			}
		}
		return nil
	})
}

// GetBooking retrieves a booking by ID.
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	if id == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	booking, err := scanBooking(r.pool.DB().QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return persistence.Booking{}, r.mapper.MapError(err)
	}
	return booking, nil
}

// ListBookings returns bookings matching the filter ordered by start.
func (r *BookingRepository) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.RequesterID != "" {
		clauses = append(clauses, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.From != nil {
		clauses = append(clauses, "end_at > ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		clauses = append(clauses, "start_at < ?")
		args = append(args, formatTime(*filter.To))
	}
	if filter.EndedBy != nil {
		clauses = append(clauses, "end_at <= ?")
		args = append(args, formatTime(*filter.EndedBy))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return r.queryBookings(ctx, r.pool.DB(), query, args...)
}

// ListBlocking returns pending and active bookings overlapping [start, end).
func (r *BookingRepository) ListBlocking(ctx context.Context, resourceID string, start, end time.Time) ([]persistence.Booking, error) {
	return r.ListBookings(ctx, persistence.BookingFilter{
		ResourceID: resourceID,
		Statuses:   []string{"pending", "active"},
		From:       &start,
		To:         &end,
	})
}

// ListSeries returns the series parent and its children ordered by start.
func (r *BookingRepository) ListSeries(ctx context.Context, parentID string) ([]persistence.Booking, error) {
	return r.queryBookings(ctx, r.pool.DB(), `
		SELECT `+bookingColumns+` FROM bookings
		WHERE id = ? OR series_parent_id = ?
		ORDER BY start_at ASC, id ASC`, parentID, parentID)
}

// TransitionStatus performs a conditional status update and records the change.
func (r *BookingRepository) TransitionStatus(ctx context.Context, id, from, to string, at time.Time) (persistence.Booking, error) {
	var updated persistence.Booking
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			to, formatTime(at), id, from)
		if err != nil {
			return r.mapper.MapError(err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			var current string
			if err := tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&current); err != nil {
				return r.mapper.MapError(err)
			}
			return fmt.Errorf("%w: expected %s, found %s", persistence.ErrStaleStatus, from, current)
		}
		if err := insertStatusChange(ctx, tx, id, from, to, at); err != nil {
			return r.mapper.MapError(err)
		}
		updated, err = scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
		return r.mapper.MapError(err)
	})
	if err != nil {
		return persistence.Booking{}, err
	}
	return updated, nil
}

// RescheduleBooking moves a blocking booking to a new window or resource.
func (r *BookingRepository) RescheduleBooking(ctx context.Context, booking persistence.Booking, limit int) error {
	if limit < 1 {
		limit = 1
	}
	updatedAt := orNow(booking.UpdatedAt, r.now().UTC())

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, booking.ID).Scan(&current); err != nil {
			return r.mapper.MapError(err)
		}
		if !isBlocking(current) {
			return fmt.Errorf("%w: booking is %s", persistence.ErrStaleStatus, current)
		}

		var occupied int
		if err := tx.QueryRowContext(ctx, countBlockingSQL,
			booking.ResourceID, formatTime(booking.End), formatTime(booking.Start), booking.ID,
		).Scan(&occupied); err != nil {
			return r.mapper.MapError(err)
		}
		if occupied >= limit {
			return &persistence.SlotTakenError{BookingID: booking.ID, Occupied: occupied, Limit: limit}
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE bookings
			SET resource_id = ?, start_at = ?, end_at = ?, notes = ?, updated_at = ?
			WHERE id = ?`,
			booking.ResourceID,
			formatTime(booking.Start),
			formatTime(booking.End),
			nullableString(booking.Notes),
			formatTime(updatedAt),
			booking.ID,
		)
		return r.mapper.MapError(err)
	})
}

// ListStatusHistory returns the recorded status changes of a booking, oldest first.
func (r *BookingRepository) ListStatusHistory(ctx context.Context, id string) ([]persistence.StatusChange, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT booking_id, from_status, to_status, changed_at
		FROM booking_status_changes
		WHERE booking_id = ?
		ORDER BY id ASC`, id)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var changes []persistence.StatusChange
	for rows.Next() {
		var (
			change    persistence.StatusChange
			changedAt string
		)
		if err := rows.Scan(&change.BookingID, &change.From, &change.To, &changedAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if change.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return changes, nil
}

// DeleteBooking removes a booking. Children of a deleted series parent keep
// their rows but become standalone bookings: the parent reference and the
// recurrence rule are both cleared.
func (r *BookingRepository) DeleteBooking(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE bookings
			SET series_parent_id = NULL, recurrence_rule = 'none', recurrence_end_at = NULL, updated_at = ?
			WHERE series_parent_id = ?`,
			formatTime(r.now().UTC()), id,
		); err != nil {
			return r.mapper.MapError(err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
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
		return nil
	})
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *BookingRepository) queryBookings(ctx context.Context, q queryer, query string, args ...any) ([]persistence.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var bookings []persistence.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return bookings, nil
}

func insertStatusChange(ctx context.Context, tx *sql.Tx, bookingID, from, to string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO booking_status_changes (booking_id, from_status, to_status, changed_at)
		VALUES (?, ?, ?, ?)`, bookingID, from, to, formatTime(at))
	return err
}

func scanBooking(row rowScanner) (persistence.Booking, error) {
	var (
		booking              persistence.Booking
		notes                sql.NullString
		recurrenceEndAt      sql.NullString
		seriesParentID       sql.NullString
		startAt, endAt       string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&booking.ID,
		&booking.ResourceID,
		&booking.RequesterID,
		&startAt,
		&endAt,
		&booking.Status,
		&notes,
		&booking.RecurrenceRule,
		&recurrenceEndAt,
		&seriesParentID,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Booking{}, persistence.ErrNotFound
		}
		return persistence.Booking{}, err
	}

	booking.Notes = stringPtr(notes)
	booking.SeriesParentID = stringPtr(seriesParentID)

	var err error
	if booking.Start, err = parseTime(startAt); err != nil {
		return persistence.Booking{}, err
	}
	if booking.End, err = parseTime(endAt); err != nil {
		return persistence.Booking{}, err
	}
	if booking.RecurrenceEndAt, err = parseNullableTime(recurrenceEndAt); err != nil {
		return persistence.Booking{}, err
	}
	if booking.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Booking{}, err
	}
	if booking.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Booking{}, err
	}
	return booking, nil
}
