package entities

import (
	"fmt"
	"strings"
)

// FieldErrorKind classifies a single per-attribute validation failure.
type FieldErrorKind string

const (
	FieldErrorTypeMismatch         FieldErrorKind = "type_mismatch"
	FieldErrorRequiredMissing      FieldErrorKind = "required_missing"
	FieldErrorDuplicateUniqueValue FieldErrorKind = "duplicate_unique_value"
	FieldErrorDanglingReference    FieldErrorKind = "dangling_reference"
	FieldErrorRuleViolation        FieldErrorKind = "rule_violation"
)

// FieldError is one validation failure attributed to a single attribute.
type FieldError struct {
	AttributeID   string
	AttributeName string
	Kind          FieldErrorKind
	Message       string
}

// ValidationError carries the list of per-attribute failures collected by the
// validation engine. It is never retried automatically.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", f.AttributeName, f.Message, f.Kind))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasKind reports whether any field error has the given kind.
func (e *ValidationError) HasKind(kind FieldErrorKind) bool {
	for _, f := range e.Fields {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// NotFoundError reports that an entity type, attribute definition or entity
// does not exist (or is not visible to the caller). An inactive reference
// target surfaces as "reference_target" so callers can tell it apart from a
// missing owning entity type.
type NotFoundError struct {
	Resource string // "entity_type" | "reference_target" | "attribute_definition" | "entity"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictKind classifies conflicts.
type ConflictKind string

const (
	ConflictDuplicateUniqueValue   ConflictKind = "duplicate_unique_value"
	ConflictDuplicateAttributeName ConflictKind = "duplicate_attribute_name"
	ConflictSequence               ConflictKind = "sequence_conflict"
)

// ConflictError reports a conflict: an attribute name already defined on the
// entity type, a unique value race that slipped past pre-write validation, or
// an exhausted sequence allocation.
type ConflictError struct {
	Kind        ConflictKind
	AttributeID string
	Message     string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// IntegrityKind classifies referential integrity failures.
type IntegrityKind string

const (
	IntegrityRestrictedDelete  IntegrityKind = "restricted_delete"
	IntegrityDanglingReference IntegrityKind = "dangling_reference"
)

// ReferentialIntegrityError reports that an operation would break the
// reference graph: deleting a target still referenced through a RESTRICT
// attribute, or storing a reference to a missing/inactive entity.
type ReferentialIntegrityError struct {
	Kind        IntegrityKind
	EntityID    string
	AttributeID string
	Message     string
}

func (e *ReferentialIntegrityError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// StorageError wraps a failure from the backing store. Transient errors
// (timeouts, serialization failures) are safe for the caller to retry as a
// whole operation; permanent ones are not.
type StorageError struct {
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("storage error (%s): %v", kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
