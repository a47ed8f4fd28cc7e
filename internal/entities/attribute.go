package entities

import (
	"fmt"
	"time"
)

// ValidationRules holds the optional custom constraints of an attribute.
// Min/Max apply to NUMBER values (and to the length of TEXT values),
// Pattern is a regular expression for TEXT, Enum restricts TEXT to a set.
type ValidationRules struct {
	Min     *float64
	Max     *float64
	Pattern string
	Enum    []string
}

// IsZero reports whether no rule is configured.
func (r ValidationRules) IsZero() bool {
	return r.Min == nil && r.Max == nil && r.Pattern == "" && len(r.Enum) == 0
}

// AttributeDefinition is a typed, runtime-configurable field belonging to an
// entity type.
// Example: Customer.email = TEXT, required, unique
type AttributeDefinition struct {
	ID           string
	EntityTypeID string
	Name         string // unique within the entity type, case-sensitive
	DisplayName  string
	DataType     DataType
	Cardinality  Cardinality
	Scope        Scope

	IsRequired   bool
	IsUnique     bool
	IsIndexed    bool
	IsSearchable bool

	// Auto-increment configuration. The formatted value is
	// prefix + zero-padded counter + suffix, e.g. "CUST-0001".
	IsAutoIncrement      bool
	AutoIncrementPrefix  string
	AutoIncrementSuffix  string
	AutoIncrementPadding int
	AutoIncrementStart   int64

	DefaultValue *TypedValue
	Rules        ValidationRules

	// REFERENCE configuration. ReferenceEntityTypeID is required iff
	// DataType is REFERENCE. OnDelete is the explicit delete-time policy
	// for the reference target.
	ReferenceEntityTypeID string
	ReferenceDisplayField string
	OnDelete              DeletePolicy

	GroupID   string
	SortOrder int
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the structural invariants of the definition.
func (a *AttributeDefinition) Validate() error {
	if a.EntityTypeID == "" {
		return fmt.Errorf("entity type ID is required")
	}
	if a.Name == "" {
		return fmt.Errorf("attribute name is required")
	}
	if !a.DataType.IsValid() {
		return fmt.Errorf("invalid data type: %s", a.DataType)
	}
	if !a.Cardinality.IsValid() {
		return fmt.Errorf("invalid cardinality: %s", a.Cardinality)
	}
	if !a.Scope.IsValid() {
		return fmt.Errorf("invalid scope: %s", a.Scope)
	}

	// Uniqueness and auto-increment are per-entity properties; neither is
	// meaningful on an ordered list of values.
	if a.Cardinality == CardinalityMulti && a.IsUnique {
		return fmt.Errorf("unique attribute %q cannot have MULTI cardinality", a.Name)
	}
	if a.Cardinality == CardinalityMulti && a.IsAutoIncrement {
		return fmt.Errorf("auto-increment attribute %q cannot have MULTI cardinality", a.Name)
	}

	if a.IsAutoIncrement {
		if a.DataType != DataTypeText {
			return fmt.Errorf("auto-increment attribute %q must have TEXT data type", a.Name)
		}
		if a.AutoIncrementPadding < 0 {
			return fmt.Errorf("auto-increment padding must not be negative")
		}
	}

	if a.DataType == DataTypeReference {
		if a.ReferenceEntityTypeID == "" {
			return fmt.Errorf("reference attribute %q requires a reference entity type", a.Name)
		}
		if a.OnDelete != "" && !a.OnDelete.IsValid() {
			return fmt.Errorf("invalid delete policy: %s", a.OnDelete)
		}
	} else {
		if a.ReferenceEntityTypeID != "" {
			return fmt.Errorf("attribute %q is not a reference but declares a reference target", a.Name)
		}
	}

	if a.DefaultValue != nil && a.DefaultValue.Type != a.DataType {
		return fmt.Errorf("default value type %s does not match attribute data type %s",
			a.DefaultValue.Type, a.DataType)
	}

	return nil
}

// DeletePolicyOrDefault returns the configured delete policy, falling back to
// RESTRICT when the definition predates explicit policies.
func (a *AttributeDefinition) DeletePolicyOrDefault() DeletePolicy {
	if a.OnDelete == "" {
		return DeletePolicyRestrict
	}
	return a.OnDelete
}
