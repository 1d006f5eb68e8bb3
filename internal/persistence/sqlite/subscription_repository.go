package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
)

// SubscriptionRepository implements persistence.SubscriptionRepository using SQLite.
type SubscriptionRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	now    func() time.Time
}

// NewSubscriptionRepository creates a new SQLite subscription repository.
func NewSubscriptionRepository(pool *ConnectionPool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool, mapper: NewErrorMapper(), now: time.Now}
}

const subscriptionColumns = `id, user_id, token_hash, status_filter, range_start, range_end, is_active,
	expires_at, last_accessed_at, access_count, created_at`

// ReplaceSubscription deactivates the user's subscriptions and inserts the new one.
func (r *SubscriptionRepository) ReplaceSubscription(ctx context.Context, subscription persistence.CalendarSubscription) error {
	if subscription.ID == "" || subscription.UserID == "" || subscription.TokenHash == "" {
		return persistence.ErrConstraintViolation
	}
	subscription.CreatedAt = orNow(subscription.CreatedAt, r.now().UTC())

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE calendar_subscriptions SET is_active = 0 WHERE user_id = ? AND is_active = 1`,
			subscription.UserID); err != nil {
			return r.mapper.MapError(err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO calendar_subscriptions (`+subscriptionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			subscription.ID,
			subscription.UserID,
			subscription.TokenHash,
			strings.Join(subscription.StatusFilter, ","),
			nullableTime(subscription.RangeStart),
			nullableTime(subscription.RangeEnd),
			boolToInt(subscription.IsActive),
			nullableTime(subscription.ExpiresAt),
			nullableTime(subscription.LastAccessedAt),
			subscription.AccessCount,
			formatTime(subscription.CreatedAt),
		)
		return r.mapper.MapError(err)
	})
}

// GetSubscriptionByTokenHash looks up a subscription by its token digest.
func (r *SubscriptionRepository) GetSubscriptionByTokenHash(ctx context.Context, tokenHash string) (persistence.CalendarSubscription, error) {
	if tokenHash == "" {
		return persistence.CalendarSubscription{}, persistence.ErrNotFound
	}
	subscription, err := scanSubscription(r.pool.DB().QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM calendar_subscriptions WHERE token_hash = ?`, tokenHash))
	if err != nil {
		return persistence.CalendarSubscription{}, r.mapper.MapError(err)
	}
	return subscription, nil
}

// DeactivateSubscriptions deactivates all active subscriptions of the user.
func (r *SubscriptionRepository) DeactivateSubscriptions(ctx context.Context, userID string) (int, error) {
	result, err := r.pool.DB().ExecContext(ctx,
		`UPDATE calendar_subscriptions SET is_active = 0 WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return 0, r.mapper.MapError(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// RecordSubscriptionAccess bumps the access counter and last access time.
func (r *SubscriptionRepository) RecordSubscriptionAccess(ctx context.Context, id string, at time.Time) error {
	result, err := r.pool.DB().ExecContext(ctx, `
		UPDATE calendar_subscriptions
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`, formatTime(at), id)
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
}

func scanSubscription(row rowScanner) (persistence.CalendarSubscription, error) {
	var (
		subscription                    persistence.CalendarSubscription
		statusFilter                    string
		rangeStart, rangeEnd, expiresAt sql.NullString
		lastAccessedAt                  sql.NullString
		isActive                        int
		createdAt                       string
	)
	if err := row.Scan(
		&subscription.ID,
		&subscription.UserID,
		&subscription.TokenHash,
		&statusFilter,
		&rangeStart,
		&rangeEnd,
		&isActive,
		&expiresAt,
		&lastAccessedAt,
		&subscription.AccessCount,
		&createdAt,
	); err != nil {
		return persistence.CalendarSubscription{}, err
	}

	if statusFilter != "" {
		subscription.StatusFilter = strings.Split(statusFilter, ",")
	}
	subscription.IsActive = isActive != 0

	var err error
	if subscription.RangeStart, err = parseNullableTime(rangeStart); err != nil {
		return persistence.CalendarSubscription{}, err
	}
	if subscription.RangeEnd, err = parseNullableTime(rangeEnd); err != nil {
		return persistence.CalendarSubscription{}, err
	}
	if subscription.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return persistence.CalendarSubscription{}, err
	}
	if subscription.LastAccessedAt, err = parseNullableTime(lastAccessedAt); err != nil {
		return persistence.CalendarSubscription{}, err
	}
	if subscription.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.CalendarSubscription{}, err
	}
	return subscription, nil
}
