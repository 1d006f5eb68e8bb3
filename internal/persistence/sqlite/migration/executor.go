package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Executor applies migrations and maintains the schema_migrations table.
type Executor struct {
	db  *sql.DB
	now func() time.Time
}

// NewExecutor creates an Executor for db.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db, now: time.Now}
}

// InitializeVersionTable creates the schema_migrations table if it doesn't exist.
func (e *Executor) InitializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL DEFAULT 0
		)`
	if _, err := e.db.ExecContext(ctx, createTableSQL); err != nil {
		return newMigrationError("", "", "create schema_migrations table", err)
	}
	return nil
}

// Apply runs the migration statements and records the version in one transaction.
func (e *Executor) Apply(ctx context.Context, migration Migration) (err error) {
	started := e.now()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback error: %v)", err, rbErr)
			}
		}
	}()

	statements := splitStatements(migration.SQL)
	if len(statements) == 0 {
		return newMigrationError(migration.Version, migration.FilePath, "parse SQL",
			fmt.Errorf("%w: no statements", ErrInvalidMigrationFile))
	}

	for i, stmt := range statements {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return newMigrationError(migration.Version, migration.FilePath,
				fmt.Sprintf("execute statement %d", i+1), fmt.Errorf("%w: %v", ErrMigrationFailed, execErr))
		}
	}

	const insertSQL = `
		INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms)
		VALUES (?, ?, ?, ?)`
	elapsed := e.now().Sub(started)
	if _, execErr := tx.ExecContext(ctx, insertSQL,
		migration.Version,
		e.now().UTC().Format(time.RFC3339),
		migration.Checksum,
		elapsed.Milliseconds(),
	); execErr != nil {
		return newMigrationError(migration.Version, migration.FilePath, "record migration", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return newMigrationError(migration.Version, migration.FilePath, "commit transaction", commitErr)
	}
	return nil
}

// Applied returns the applied migrations ordered by version.
func (e *Executor) Applied(ctx context.Context) ([]AppliedMigration, error) {
	const querySQL = `
		SELECT version, applied_at, checksum, execution_time_ms
		FROM schema_migrations
		ORDER BY version ASC`

	rows, err := e.db.QueryContext(ctx, querySQL)
	if err != nil {
		return nil, newMigrationError("", "", "list applied migrations", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			row          AppliedMigration
			appliedAtStr string
			elapsedMs    int64
		)
		if err := rows.Scan(&row.Version, &appliedAtStr, &row.Checksum, &elapsedMs); err != nil {
			return nil, newMigrationError("", "", "scan applied migration", err)
		}
		if row.AppliedAt, err = time.Parse(time.RFC3339, appliedAtStr); err != nil {
			return nil, newMigrationError(row.Version, "", "parse applied_at", err)
		}
		row.ExecutionTime = time.Duration(elapsedMs) * time.Millisecond
		applied = append(applied, row)
	}
	if err := rows.Err(); err != nil {
		return nil, newMigrationError("", "", "iterate applied migrations", err)
	}
	return applied, nil
}

// splitStatements splits SQL content on semicolons and drops comment-only lines.
func splitStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}
