package repositories

import "context"

// SequenceRepository defines the interface for auto-increment counter access
type SequenceRepository interface {
	// Init creates the counter row for an attribute, starting so that the
	// first allocated value equals start. No-op if the row already exists.
	Init(ctx context.Context, attributeID string, start int64) error

	// NextCounter atomically increments and returns the counter for an
	// attribute. The increment must happen inside the database (row lock or
	// compare-and-swap), never as an application-level read-then-write.
	NextCounter(ctx context.Context, attributeID string) (int64, error)
}
