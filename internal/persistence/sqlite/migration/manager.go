package migration

import (
	"context"
	"fmt"
	"log/slog"
)

// Manager orchestrates scanning and applying migrations.
type Manager struct {
	scanner  *Scanner
	executor *Executor
	logger   *slog.Logger
}

// NewManager creates a Manager. A nil logger falls back to slog.Default.
func NewManager(scanner *Scanner, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: scanner, executor: executor, logger: logger.With("component", "migration")}
}

// Run applies all pending migrations in version order. Already applied
// migrations are verified against their recorded checksum.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to initialize version table: %w", err)
	}

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	if len(status.Pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil
	}

	for i, migration := range status.Pending {
		m.logger.InfoContext(ctx, "applying migration",
			"version", migration.Version,
			"description", migration.Description,
			"position", i+1,
			"pending", len(status.Pending),
		)
		if err := m.executor.Apply(ctx, migration); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", migration.Version, "error", err)
			return err
		}
	}

	m.logger.InfoContext(ctx, "migrations applied",
		"count", len(status.Pending),
		"version", status.Pending[len(status.Pending)-1].Version,
	)
	return nil
}

// Status compares available migrations with the applied ones.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	available, err := m.scanner.Scan()
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}

	checksums := make(map[string]string, len(applied))
	status := Status{Applied: applied}
	for _, row := range applied {
		checksums[row.Version] = row.Checksum
		status.CurrentVersion = row.Version
	}

	for _, migration := range available {
		checksum, ok := checksums[migration.Version]
		if !ok {
			status.Pending = append(status.Pending, migration)
			continue
		}
		if checksum != migration.Checksum {
			return Status{}, newMigrationError(migration.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return status, nil
}
