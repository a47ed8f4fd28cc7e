package repositories

import (
	"context"

	"github.com/asakaida/puroteusu/internal/entities"
)

// AttributeRepository defines the interface for attribute definition access
type AttributeRepository interface {
	// Create persists a new attribute definition
	Create(ctx context.Context, attr *entities.AttributeDefinition) error

	// GetByID retrieves an attribute definition by id
	GetByID(ctx context.Context, id string) (*entities.AttributeDefinition, error)

	// Update persists changes to an existing attribute definition. Data type
	// immutability is enforced by the registry service, not here.
	Update(ctx context.Context, attr *entities.AttributeDefinition) error

	// GetByEntityType retrieves the definitions of an entity type ordered by
	// sort_order then name, optionally including deactivated ones
	GetByEntityType(ctx context.Context, entityTypeID string, includeInactive bool) ([]*entities.AttributeDefinition, error)

	// SetActive activates or deactivates an attribute definition
	SetActive(ctx context.Context, id string, active bool) error

	// ListReferencing retrieves all active REFERENCE definitions whose target
	// is the given entity type, across all entity types. Used by delete-time
	// policy checks.
	ListReferencing(ctx context.Context, targetEntityTypeID string) ([]*entities.AttributeDefinition, error)

	// CreateGroup persists a new attribute group
	CreateGroup(ctx context.Context, group *entities.AttributeGroup) error

	// ListGroups retrieves the groups of an entity type ordered by sort_order
	ListGroups(ctx context.Context, entityTypeID string) ([]*entities.AttributeGroup, error)
}
