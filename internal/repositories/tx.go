package repositories

import "context"

// Repositories bundles the repository set visible inside one transaction.
type Repositories struct {
	EntityTypes EntityTypeRepository
	Attributes  AttributeRepository
	Entities    EntityRepository
	Values      ValueRepository
	Sequences   SequenceRepository
}

// TxManager runs a function inside one storage transaction. Every entity
// mutation goes through it: validate, write all rows, commit. A failed fn
// rolls back and no partial state is ever visible to readers.
type TxManager interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error
}
