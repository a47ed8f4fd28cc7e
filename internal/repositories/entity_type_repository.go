package repositories

import (
	"context"

	"github.com/asakaida/puroteusu/internal/entities"
)

// EntityTypeRepository defines the interface for entity type registry access
type EntityTypeRepository interface {
	// Create persists a new entity type
	Create(ctx context.Context, entityType *entities.EntityType) error

	// GetByID retrieves an entity type by id
	GetByID(ctx context.Context, id string) (*entities.EntityType, error)

	// GetByName retrieves an entity type by its unique name
	GetByName(ctx context.Context, name string) (*entities.EntityType, error)

	// List retrieves entity types, optionally including inactive ones
	List(ctx context.Context, includeInactive bool) ([]*entities.EntityType, error)

	// SetActive activates or deactivates an entity type
	SetActive(ctx context.Context, id string, active bool) error
}
