package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
)

// ResourceRepository implements persistence.ResourceRepository using SQLite.
type ResourceRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	now    func() time.Time
}

// NewResourceRepository creates a new SQLite resource repository.
func NewResourceRepository(pool *ConnectionPool) *ResourceRepository {
	return &ResourceRepository{pool: pool, mapper: NewErrorMapper(), now: time.Now}
}

const resourceColumns = `id, title, owner_id, location, capacity, requires_approval, is_available, status, created_at, updated_at`

// CreateResource inserts a new resource.
func (r *ResourceRepository) CreateResource(ctx context.Context, resource persistence.Resource) error {
	if resource.ID == "" {
		return persistence.ErrConstraintViolation
	}
	now := r.now().UTC()
	resource.CreatedAt = orNow(resource.CreatedAt, now)
	resource.UpdatedAt = orNow(resource.UpdatedAt, resource.CreatedAt)
	if resource.Status == "" {
		resource.Status = "draft"
	}

	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO resources (`+resourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resource.ID,
		resource.Title,
		resource.OwnerID,
		nullableString(resource.Location),
		nullableInt(resource.Capacity),
		boolToInt(resource.RequiresApproval),
		boolToInt(resource.IsAvailable),
		resource.Status,
		formatTime(resource.CreatedAt),
		formatTime(resource.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// UpdateResource replaces the mutable fields of a resource.
func (r *ResourceRepository) UpdateResource(ctx context.Context, resource persistence.Resource) error {
	if resource.ID == "" {
		return persistence.ErrNotFound
	}
	resource.UpdatedAt = orNow(resource.UpdatedAt, r.now().UTC())

	result, err := r.pool.DB().ExecContext(ctx, `
		UPDATE resources
		SET title = ?, owner_id = ?, location = ?, capacity = ?, requires_approval = ?,
		    is_available = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		resource.Title,
		resource.OwnerID,
		nullableString(resource.Location),
		nullableInt(resource.Capacity),
		boolToInt(resource.RequiresApproval),
		boolToInt(resource.IsAvailable),
		resource.Status,
		formatTime(resource.UpdatedAt),
		resource.ID,
	)
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

// GetResource retrieves a resource by ID.
func (r *ResourceRepository) GetResource(ctx context.Context, id string) (persistence.Resource, error) {
	if id == "" {
		return persistence.Resource{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	resource, err := scanResource(row)
	if err != nil {
		return persistence.Resource{}, r.mapper.MapError(err)
	}
	return resource, nil
}

// ListResources returns all resources ordered by title then ID.
func (r *ResourceRepository) ListResources(ctx context.Context) ([]persistence.Resource, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY title ASC, id ASC`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var resources []persistence.Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return resources, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (persistence.Resource, error) {
	var (
		resource             persistence.Resource
		location             sql.NullString
		capacity             sql.NullInt64
		requiresApproval     int
		isAvailable          int
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&resource.ID,
		&resource.Title,
		&resource.OwnerID,
		&location,
		&capacity,
		&requiresApproval,
		&isAvailable,
		&resource.Status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Resource{}, err
	}

	resource.Location = stringPtr(location)
	resource.Capacity = intPtr(capacity)
	resource.RequiresApproval = requiresApproval != 0
	resource.IsAvailable = isAvailable != 0

	var err error
	if resource.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Resource{}, err
	}
	if resource.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Resource{}, err
	}
	return resource, nil
}
