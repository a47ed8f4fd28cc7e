package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asakaida/puroteusu/internal/repositories"
)

// NewRepositories builds the repository set on top of a connection or an
// open transaction.
func NewRepositories(db DBTX) *repositories.Repositories {
	return &repositories.Repositories{
		EntityTypes: NewPostgresEntityTypeRepository(db),
		Attributes:  NewPostgresAttributeRepository(db),
		Entities:    NewPostgresEntityRepository(db),
		Values:      NewPostgresValueRepository(db),
		Sequences:   NewPostgresSequenceRepository(db),
	}
}

// TxManager implements repositories.TxManager using database transactions
type TxManager struct {
	db *sql.DB
}

// NewTxManager creates a new transaction manager
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// InTransaction runs fn with a tx-scoped repository set. On error the
// transaction is rolled back and the original error is returned; readers
// never observe a partial write.
func (m *TxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, repos *repositories.Repositories) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError("begin transaction", err)
	}

	if err := fn(ctx, NewRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return translateError("commit transaction", err)
	}
	return nil
}
