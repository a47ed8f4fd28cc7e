package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every repository works
// standalone for reads and inside a transaction for writes.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Postgres error codes that are worth distinguishing at this boundary.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
	pqQueryCanceled        = "57014"
)

// translateError maps driver errors onto the engine error taxonomy:
// unique violations become ConflictError, retryable driver failures become
// transient StorageError, everything else a permanent StorageError.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, repositories.ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &entities.StorageError{Transient: true, Err: fmt.Errorf("%s: %w", op, err)}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return &entities.ConflictError{
				Kind:    entities.ConflictDuplicateUniqueValue,
				Message: fmt.Sprintf("%s: %s", op, pqErr.Detail),
			}
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable, pqQueryCanceled:
			return &entities.StorageError{Transient: true, Err: fmt.Errorf("%s: %w", op, err)}
		}
	}

	return &entities.StorageError{Err: fmt.Errorf("%s: %w", op, err)}
}

// IsRetryable reports whether an error is a transient storage failure that
// the caller may retry as a whole operation.
func IsRetryable(err error) bool {
	var storageErr *entities.StorageError
	return errors.As(err, &storageErr) && storageErr.Transient
}
