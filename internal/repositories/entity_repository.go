package repositories

import (
	"context"

	"github.com/asakaida/puroteusu/internal/entities"
)

// FilterOperator is a comparison applied to one attribute in a query.
type FilterOperator string

const (
	OpEquals     FilterOperator = "eq"
	OpNotEquals  FilterOperator = "neq"
	OpContains   FilterOperator = "contains"
	OpGreater    FilterOperator = "gt"
	OpGreaterEq  FilterOperator = "gte"
	OpLess       FilterOperator = "lt"
	OpLessEq     FilterOperator = "lte"
	OpIsEmpty    FilterOperator = "is_empty"
	OpIsNotEmpty FilterOperator = "is_not_empty"
)

// ValueFilter selects entities by one attribute. An entity with no stored row
// for the attribute is treated as NULL: it never matches a value operator and
// matches only OpIsEmpty.
type ValueFilter struct {
	Attribute *entities.AttributeDefinition
	Operator  FilterOperator
	Value     entities.TypedValue // unused for is_empty / is_not_empty
}

// Sort orders query results. A nil attribute sorts by creation time.
type Sort struct {
	Attribute  *entities.AttributeDefinition
	Descending bool
}

// Page is a limit/offset window. Total counts ignore it.
type Page struct {
	Limit  int
	Offset int
}

// QuerySpec is a validated multi-attribute query over one entity type.
// Filters combine with AND semantics.
type QuerySpec struct {
	EntityTypeID string
	Filters      []ValueFilter
	Sort         *Sort
	Page         Page
}

// EntityRepository defines the interface for entity row access
type EntityRepository interface {
	// Create persists a new entity row
	Create(ctx context.Context, entity *entities.Entity) error

	// GetByID retrieves an entity by id. Inactive entities are returned too;
	// callers decide whether soft-deleted rows are visible.
	GetByID(ctx context.Context, id string) (*entities.Entity, error)

	// GetByExternalID retrieves an active entity by its per-type external id
	GetByExternalID(ctx context.Context, entityTypeID, externalID string) (*entities.Entity, error)

	// Update persists external id and metadata changes
	Update(ctx context.Context, entity *entities.Entity) error

	// SetActive soft-deletes (active=false, deleted_at set) or restores
	// (active=true, deleted_at cleared) an entity
	SetActive(ctx context.Context, id string, active bool) error

	// Query returns the ids of entities matching the QuerySpec, in sort order and
	// windowed by the page, plus the total match count without the window
	Query(ctx context.Context, spec *QuerySpec) (ids []string, total int, err error)
}
