package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// PostgresEntityRepository implements EntityRepository using PostgreSQL
type PostgresEntityRepository struct {
	db DBTX
}

// NewPostgresEntityRepository creates a new PostgreSQL entity repository
func NewPostgresEntityRepository(db DBTX) repositories.EntityRepository {
	return &PostgresEntityRepository{db: db}
}

// Create persists a new entity row
func (r *PostgresEntityRepository) Create(ctx context.Context, entity *entities.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO entities (id, entity_type_id, external_id, metadata, created_by, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	now := time.Now().UTC()
	var metadata interface{}
	if entity.Metadata != nil {
		metadata = []byte(entity.Metadata)
	}
	_, err := r.db.ExecContext(ctx, query,
		entity.ID, entity.EntityTypeID, nullString(entity.ExternalID), metadata,
		entity.CreatedBy, entity.IsActive, now, now,
	)
	if err != nil {
		return translateError("create entity", err)
	}
	return nil
}

// GetByID retrieves an entity by id, active or not
func (r *PostgresEntityRepository) GetByID(ctx context.Context, id string) (*entities.Entity, error) {
	query := `
		SELECT id, entity_type_id, external_id, metadata, created_by, is_active, created_at, updated_at, deleted_at
		FROM entities
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByExternalID retrieves an active entity by its per-type external id
func (r *PostgresEntityRepository) GetByExternalID(ctx context.Context, entityTypeID, externalID string) (*entities.Entity, error) {
	query := `
		SELECT id, entity_type_id, external_id, metadata, created_by, is_active, created_at, updated_at, deleted_at
		FROM entities
		WHERE entity_type_id = $1 AND external_id = $2 AND is_active
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, entityTypeID, externalID))
}

// Update persists external id and metadata changes
func (r *PostgresEntityRepository) Update(ctx context.Context, entity *entities.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE entities
		SET external_id = $1, metadata = $2, updated_at = $3
		WHERE id = $4
	`
	var metadata interface{}
	if entity.Metadata != nil {
		metadata = []byte(entity.Metadata)
	}
	result, err := r.db.ExecContext(ctx, query,
		nullString(entity.ExternalID), metadata, time.Now().UTC(), entity.ID,
	)
	if err != nil {
		return translateError("update entity", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return translateError("update entity", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// SetActive soft-deletes or restores an entity
func (r *PostgresEntityRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE entities
		SET is_active = $1,
			deleted_at = CASE WHEN $1 THEN NULL ELSE $2::timestamptz END,
			updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return translateError("set entity active", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return translateError("set entity active", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// Query returns matching entity ids in sort order plus the total match count
func (r *PostgresEntityRepository) Query(ctx context.Context, spec *repositories.QuerySpec) ([]string, int, error) {
	idQuery, countQuery, idArgs, countArgs, err := buildEntityQuery(spec)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, translateError("count entities", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	rows, err := r.db.QueryContext(ctx, idQuery, idArgs...)
	if err != nil {
		return nil, 0, translateError("query entities", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, translateError("scan entity id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translateError("iterate entities", err)
	}
	return ids, total, nil
}

func (r *PostgresEntityRepository) scanOne(row *sql.Row) (*entities.Entity, error) {
	var (
		e          entities.Entity
		externalID sql.NullString
		metadata   []byte
		deletedAt  sql.NullTime
	)
	err := row.Scan(&e.ID, &e.EntityTypeID, &externalID, &metadata, &e.CreatedBy,
		&e.IsActive, &e.CreatedAt, &e.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, translateError("get entity", err)
	}
	e.ExternalID = externalID.String
	if metadata != nil {
		e.Metadata = json.RawMessage(metadata)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		e.DeletedAt = &t
	}
	return &e, nil
}
