package entities

import (
	"fmt"
	"time"
)

// EntityType is a user-defined schema (e.g. "Customer") composed of
// attribute definitions. Instances of the type are Entity rows.
type EntityType struct {
	ID          string
	Name        string
	DisplayName string
	IsActive    bool
	Attributes  []*AttributeDefinition // populated by the registry service
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks if the entity type is valid
func (t *EntityType) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("entity type name is required")
	}
	return nil
}

// GetAttribute returns the attribute definition by name, or nil.
func (t *EntityType) GetAttribute(name string) *AttributeDefinition {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// GetAttributeByID returns the attribute definition by id, or nil.
func (t *EntityType) GetAttributeByID(id string) *AttributeDefinition {
	for _, a := range t.Attributes {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// AttributeGroup is an optional grouping/ordering aid for attribute
// definitions. It has no behavioral effect on validation or queries.
type AttributeGroup struct {
	ID           string
	EntityTypeID string
	Name         string
	SortOrder    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks if the attribute group is valid
func (g *AttributeGroup) Validate() error {
	if g.EntityTypeID == "" {
		return fmt.Errorf("entity type ID is required")
	}
	if g.Name == "" {
		return fmt.Errorf("group name is required")
	}
	return nil
}
