package repositories

import (
	"context"

	"github.com/asakaida/puroteusu/internal/entities"
)

// InboundReference is one active value row pointing at a target entity.
type InboundReference struct {
	EntityID    string // the referencing entity
	AttributeID string // the REFERENCE attribute holding the value
}

// ValueRepository defines the interface for typed value row access.
// The typed-column polymorphism of entity_values is fully contained behind
// this interface; callers only ever see entities.TypedValue.
type ValueRepository interface {
	// GetValues retrieves all value rows for an entity, ordered by attribute
	// and sort index
	GetValues(ctx context.Context, entityID string) ([]*entities.EntityValue, error)

	// GetValuesForEntities retrieves value rows for many entities at once,
	// grouped by entity id. Used by query hydration.
	GetValuesForEntities(ctx context.Context, entityIDs []string) (map[string][]*entities.EntityValue, error)

	// SetValues writes value rows for an entity. SINGLE-cardinality values
	// upsert by (entity, attribute); MULTI values append after the current
	// highest sort index unless replace is set, in which case prior rows for
	// the written attributes are deleted first. All-or-nothing within the
	// surrounding transaction.
	SetValues(ctx context.Context, entityID string, values []*entities.EntityValue, replace bool) error

	// DeleteForAttribute removes the value rows of one attribute on one entity
	DeleteForAttribute(ctx context.Context, entityID, attributeID string) error

	// FindEntityIDsByValue returns the ids of active entities of the
	// attribute's entity type holding a value equal to v, excluding
	// excludeEntityID when non-empty. Backs uniqueness probes.
	FindEntityIDsByValue(ctx context.Context, attr *entities.AttributeDefinition, v entities.TypedValue, excludeEntityID string) ([]string, error)

	// CountForAttribute returns the number of value rows stored for an
	// attribute across all entities. Guards data-type immutability.
	CountForAttribute(ctx context.Context, attributeID string) (int, error)

	// FindReferencing returns the active inbound reference rows pointing at
	// the target entity through any of the given REFERENCE attributes
	FindReferencing(ctx context.Context, targetEntityID string, attributeIDs []string) ([]InboundReference, error)

	// ClearReferences removes all value rows holding a reference to the
	// target entity through the given attribute. Backs SET_NULL.
	ClearReferences(ctx context.Context, attributeID, targetEntityID string) error

	// LockUniqueValue serializes concurrent writers of the same (attribute,
	// value) pair for the rest of the surrounding transaction, using a
	// database-level lock. Must be called before the uniqueness re-probe.
	LockUniqueValue(ctx context.Context, attributeID string, v entities.TypedValue) error
}
