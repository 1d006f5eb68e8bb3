package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
	_ "modernc.org/sqlite"
)

// Config holds SQLite connection settings.
type Config struct {
	// DSN is a database file path or a full "file:" connection string. Plain
	// paths are expanded with the pragmas below; full DSNs are used as given.
	DSN string

	// BusyTimeout sets how long a connection waits for a database lock.
	BusyTimeout time.Duration

	// JournalMode sets the SQLite journal mode (WAL, DELETE, ...).
	JournalMode string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Retry RetryConfig
}

// DefaultConfig returns the settings used by Open.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:          dsn,
		BusyTimeout:  5 * time.Second,
		JournalMode:  "WAL",
		MaxOpenConns: 8,
		MaxIdleConns: 4,
		Retry:        DefaultRetryConfig(),
	}
}

// connectionString expands a plain path into a DSN. Every pooled connection
// gets the pragmas, and write transactions start with BEGIN IMMEDIATE so that
// concurrent writers queue on the busy timeout instead of failing on upgrade.
func (c Config) connectionString() string {
	if strings.HasPrefix(c.DSN, "file:") || strings.Contains(c.DSN, "?") {
		return c.DSN
	}
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	if c.JournalMode != "" {
		params.Add("_pragma", fmt.Sprintf("journal_mode(%s)", c.JournalMode))
	}
	params.Set("_txlock", "immediate")
	return "file:" + c.DSN + "?" + params.Encode()
}

// ConnectionPool manages SQLite database connections with transaction support.
type ConnectionPool struct {
	db     *sql.DB
	config Config
	retry  *RetryHelper
}

// NewConnectionPool opens and verifies a connection pool.
func NewConnectionPool(config Config) (*ConnectionPool, error) {
	if strings.TrimSpace(config.DSN) == "" {
		return nil, fmt.Errorf("sqlite: dsn is required")
	}
	db, err := sql.Open("sqlite", config.connectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	return &ConnectionPool{
		db:     db,
		config: config,
		retry:  NewRetryHelper(config.Retry),
	}, nil
}

// DB returns the underlying database handle.
func (cp *ConnectionPool) DB() *sql.DB {
	return cp.db
}

// Close closes the connection pool.
func (cp *ConnectionPool) Close() error {
	if cp.db != nil {
		return cp.db.Close()
	}
	return nil
}

// Ping tests the database connection.
func (cp *ConnectionPool) Ping(ctx context.Context) error {
	return cp.db.PingContext(ctx)
}

// TransactionFunc represents a function that executes within a transaction.
type TransactionFunc func(tx *sql.Tx) error

// WithTransaction executes fn within a transaction, retrying the whole
// transaction while SQLite reports the database as busy. If fn returns an
// error the transaction is rolled back; otherwise it is committed.
func (cp *ConnectionPool) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	return cp.retry.WithRetry(ctx, func() error {
		return cp.runTransaction(ctx, fn)
	})
}

func (cp *ConnectionPool) runTransaction(ctx context.Context, fn TransactionFunc) (err error) {
	tx, err := cp.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ErrorMapper maps SQLite errors to persistence layer errors.
type ErrorMapper struct{}

// NewErrorMapper creates a new error mapper.
func NewErrorMapper() *ErrorMapper {
	return &ErrorMapper{}
}

// MapError maps SQLite-specific errors to persistence sentinel errors. Errors
// that already carry a persistence sentinel are returned unchanged.
func (em *ErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	for _, known := range []error{
		persistence.ErrNotFound,
		persistence.ErrDuplicate,
		persistence.ErrConstraintViolation,
		persistence.ErrForeignKeyViolation,
		persistence.ErrTransient,
		persistence.ErrStaleStatus,
		persistence.ErrSlotTaken,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	errStr := err.Error()
	switch {
	case containsAny(errStr, "UNIQUE constraint failed", "PRIMARY KEY constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case containsAny(errStr, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrForeignKeyViolation, err)
	case containsAny(errStr, "CHECK constraint failed", "NOT NULL constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	case containsAny(errStr, "database is locked", "database table is locked", "SQLITE_BUSY", "SQLITE_LOCKED"):
		return fmt.Errorf("%w: %v", persistence.ErrTransient, err)
	}
	return err
}

func containsAny(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// RetryConfig configures retry behavior for database operations.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a retry configuration with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryHelper retries operations that fail with transient errors.
type RetryHelper struct {
	config RetryConfig
	mapper *ErrorMapper
}

// NewRetryHelper creates a new retry helper.
func NewRetryHelper(config RetryConfig) *RetryHelper {
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &RetryHelper{config: config, mapper: NewErrorMapper()}
}

// RetryableFunc represents a function that can be retried.
type RetryableFunc func() error

// WithRetry executes fn, retrying with exponential backoff while the mapped
// error is transient. Errors are returned mapped to persistence sentinels.
func (rh *RetryHelper) WithRetry(ctx context.Context, fn RetryableFunc) error {
	var lastErr error
	delay := rh.config.InitialDelay

	for attempt := 0; attempt <= rh.config.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * rh.config.BackoffFactor)
			if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
				delay = rh.config.MaxDelay
			}
		}

		lastErr = rh.mapper.MapError(fn())
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", rh.config.MaxRetries, lastErr)
}

func isRetryableError(err error) bool {
	return errors.Is(err, persistence.ErrTransient)
}
