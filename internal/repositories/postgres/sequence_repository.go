package postgres

import (
	"context"
	"time"

	"github.com/asakaida/puroteusu/internal/repositories"
)

// PostgresSequenceRepository implements SequenceRepository using PostgreSQL
type PostgresSequenceRepository struct {
	db DBTX
}

// NewPostgresSequenceRepository creates a new PostgreSQL sequence repository
func NewPostgresSequenceRepository(db DBTX) repositories.SequenceRepository {
	return &PostgresSequenceRepository{db: db}
}

// Init creates the counter row for an attribute. The counter stores the last
// issued value, so it starts at start-1.
func (r *PostgresSequenceRepository) Init(ctx context.Context, attributeID string, start int64) error {
	if start < 1 {
		start = 1
	}
	query := `
		INSERT INTO sequence_state (attribute_id, counter, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (attribute_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, attributeID, start-1, time.Now().UTC()); err != nil {
		return translateError("init sequence", err)
	}
	return nil
}

// NextCounter atomically increments and returns the counter. The increment
// happens inside the UPDATE under the row lock, so no two callers ever
// observe the same pre-increment value.
func (r *PostgresSequenceRepository) NextCounter(ctx context.Context, attributeID string) (int64, error) {
	query := `
		UPDATE sequence_state
		SET counter = counter + 1, updated_at = $1
		WHERE attribute_id = $2
		RETURNING counter
	`
	var counter int64
	if err := r.db.QueryRowContext(ctx, query, time.Now().UTC(), attributeID).Scan(&counter); err != nil {
		return 0, translateError("next sequence counter", err)
	}
	return counter, nil
}
