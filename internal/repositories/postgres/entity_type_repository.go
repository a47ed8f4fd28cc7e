package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// PostgresEntityTypeRepository implements EntityTypeRepository using PostgreSQL
type PostgresEntityTypeRepository struct {
	db DBTX
}

// NewPostgresEntityTypeRepository creates a new PostgreSQL entity type repository
func NewPostgresEntityTypeRepository(db DBTX) repositories.EntityTypeRepository {
	return &PostgresEntityTypeRepository{db: db}
}

// Create persists a new entity type
func (r *PostgresEntityTypeRepository) Create(ctx context.Context, entityType *entities.EntityType) error {
	if err := entityType.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO entity_types (id, name, display_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		entityType.ID, entityType.Name, entityType.DisplayName, entityType.IsActive, now, now,
	)
	if err != nil {
		return translateError("create entity type", err)
	}
	return nil
}

// GetByID retrieves an entity type by id
func (r *PostgresEntityTypeRepository) GetByID(ctx context.Context, id string) (*entities.EntityType, error) {
	query := `
		SELECT id, name, display_name, is_active, created_at, updated_at
		FROM entity_types
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByName retrieves an entity type by its unique name
func (r *PostgresEntityTypeRepository) GetByName(ctx context.Context, name string) (*entities.EntityType, error) {
	query := `
		SELECT id, name, display_name, is_active, created_at, updated_at
		FROM entity_types
		WHERE name = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, name))
}

// List retrieves entity types ordered by name
func (r *PostgresEntityTypeRepository) List(ctx context.Context, includeInactive bool) ([]*entities.EntityType, error) {
	query := `
		SELECT id, name, display_name, is_active, created_at, updated_at
		FROM entity_types
		WHERE ($1 OR is_active)
		ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query, includeInactive)
	if err != nil {
		return nil, translateError("list entity types", err)
	}
	defer rows.Close()

	var result []*entities.EntityType
	for rows.Next() {
		var et entities.EntityType
		if err := rows.Scan(&et.ID, &et.Name, &et.DisplayName, &et.IsActive, &et.CreatedAt, &et.UpdatedAt); err != nil {
			return nil, translateError("scan entity type", err)
		}
		result = append(result, &et)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("iterate entity types", err)
	}
	return result, nil
}

// SetActive activates or deactivates an entity type
func (r *PostgresEntityTypeRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE entity_types
		SET is_active = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return translateError("set entity type active", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return translateError("set entity type active", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *PostgresEntityTypeRepository) scanOne(row *sql.Row) (*entities.EntityType, error) {
	var et entities.EntityType
	err := row.Scan(&et.ID, &et.Name, &et.DisplayName, &et.IsActive, &et.CreatedAt, &et.UpdatedAt)
	if err != nil {
		return nil, translateError("get entity type", err)
	}
	return &et, nil
}
