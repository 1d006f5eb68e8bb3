package sqlite

import (
	"context"
	"embed"
	"log/slog"

	"github.com/example/resource-scheduler/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	*ResourceRepository
	*BookingRepository
	*WaitlistRepository
	*SubscriptionRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

// Open returns a Storage using DefaultConfig for dsn.
func Open(dsn string) (*Storage, error) {
	return OpenWithConfig(DefaultConfig(dsn), nil)
}

// OpenWithConfig returns a Storage for the supplied configuration.
func OpenWithConfig(config Config, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		ResourceRepository:     NewResourceRepository(pool),
		BookingRepository:      NewBookingRepository(pool),
		WaitlistRepository:     NewWaitlistRepository(pool),
		SubscriptionRepository: NewSubscriptionRepository(pool),
		pool:                   pool,
		logger:                 logger,
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewExecutor(s.pool.DB()),
		s.logger,
	)
	return manager.Run(ctx)
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
