package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entity is one instance of an entity type. Deletion is always soft:
// IsActive=false plus DeletedAt, never a physical purge.
type Entity struct {
	ID           string
	EntityTypeID string
	ExternalID   string // optional, unique per entity type when set
	Metadata     json.RawMessage
	CreatedBy    string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Validate checks if the entity is valid
func (e *Entity) Validate() error {
	if e.EntityTypeID == "" {
		return fmt.Errorf("entity type ID is required")
	}
	if e.Metadata != nil && !json.Valid(e.Metadata) {
		return fmt.Errorf("entity metadata is not valid JSON")
	}
	return nil
}

// HydratedEntity is an entity together with its attribute-name → value map,
// as returned by the query engine and by Get.
type HydratedEntity struct {
	Entity *Entity
	// Values maps attribute name to the stored values. SINGLE attributes
	// hold one element; MULTI attributes preserve insertion order.
	Values map[string][]TypedValue
	// Display maps REFERENCE attribute names to the expanded display field
	// of the referenced entity, when expansion was requested.
	Display map[string]string
}

// SequenceState is the durable counter behind an auto-increment attribute.
// It is read-modify-written only through the sequence service, and only via
// an atomic database increment.
type SequenceState struct {
	AttributeID string
	Counter     int64
	UpdatedAt   time.Time
}
