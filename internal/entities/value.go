package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// TypedValue is the tagged union behind every stored attribute value: the
// declared DataType plus exactly one populated slot. The physical column
// polymorphism of entity_values never escapes this type; callers always see
// a strongly typed logical value.
//
// NUMBER is carried as a decimal string backed by a numeric column, so that
// values like 0.1 or 19-digit identifiers survive a round trip without
// floating point loss. DATE and DATETIME are normalized to UTC on creation.
type TypedValue struct {
	Type DataType

	Text      *string
	Number    *string // decimal string, validated by big.Rat
	Boolean   *bool
	Date      *time.Time // UTC, truncated to midnight
	DateTime  *time.Time // UTC
	JSON      json.RawMessage
	Blob      []byte
	Reference *string // id of the referenced entity
}

// NewTextValue returns a TEXT value.
func NewTextValue(s string) TypedValue {
	return TypedValue{Type: DataTypeText, Text: &s}
}

// NewNumberValue returns a NUMBER value from a decimal string.
// The string must parse as a decimal number.
func NewNumberValue(s string) (TypedValue, error) {
	if _, ok := new(big.Rat).SetString(s); !ok {
		return TypedValue{}, fmt.Errorf("invalid number: %q", s)
	}
	return TypedValue{Type: DataTypeNumber, Number: &s}, nil
}

// NewBooleanValue returns a BOOLEAN value.
func NewBooleanValue(b bool) TypedValue {
	return TypedValue{Type: DataTypeBoolean, Boolean: &b}
}

// NewDateValue returns a DATE value truncated to UTC midnight.
func NewDateValue(t time.Time) TypedValue {
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return TypedValue{Type: DataTypeDate, Date: &d}
}

// NewDateTimeValue returns a DATETIME value normalized to UTC.
func NewDateTimeValue(t time.Time) TypedValue {
	u := t.UTC()
	return TypedValue{Type: DataTypeDateTime, DateTime: &u}
}

// NewJSONValue returns a JSON value. The raw message must be valid JSON.
func NewJSONValue(raw json.RawMessage) (TypedValue, error) {
	if !json.Valid(raw) {
		return TypedValue{}, fmt.Errorf("invalid JSON value")
	}
	return TypedValue{Type: DataTypeJSON, JSON: raw}, nil
}

// NewBlobValue returns a BLOB value.
func NewBlobValue(b []byte) TypedValue {
	return TypedValue{Type: DataTypeBlob, Blob: b}
}

// NewReferenceValue returns a REFERENCE value holding the target entity id.
func NewReferenceValue(entityID string) TypedValue {
	return TypedValue{Type: DataTypeReference, Reference: &entityID}
}

// Validate checks that exactly the slot matching the declared type is set.
func (v TypedValue) Validate() error {
	if !v.Type.IsValid() {
		return fmt.Errorf("invalid data type: %s", v.Type)
	}

	populated := 0
	var match bool
	if v.Text != nil {
		populated++
		match = match || v.Type == DataTypeText
	}
	if v.Number != nil {
		populated++
		match = match || v.Type == DataTypeNumber
	}
	if v.Boolean != nil {
		populated++
		match = match || v.Type == DataTypeBoolean
	}
	if v.Date != nil {
		populated++
		match = match || v.Type == DataTypeDate
	}
	if v.DateTime != nil {
		populated++
		match = match || v.Type == DataTypeDateTime
	}
	if v.JSON != nil {
		populated++
		match = match || v.Type == DataTypeJSON
	}
	if v.Blob != nil {
		populated++
		match = match || v.Type == DataTypeBlob
	}
	if v.Reference != nil {
		populated++
		match = match || v.Type == DataTypeReference
	}

	if populated == 0 {
		return fmt.Errorf("value has no populated slot")
	}
	if populated > 1 {
		return fmt.Errorf("value has %d populated slots, want exactly 1", populated)
	}
	if !match {
		return fmt.Errorf("populated slot does not match declared type %s", v.Type)
	}
	return nil
}

// Equal reports logical equality of two values. NUMBER values compare as
// decimals (so "1.50" equals "1.5"), DATE/DATETIME compare as instants.
func (v TypedValue) Equal(o TypedValue) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case DataTypeText:
		return strPtrEqual(v.Text, o.Text)
	case DataTypeNumber:
		if v.Number == nil || o.Number == nil {
			return v.Number == o.Number
		}
		a, okA := new(big.Rat).SetString(*v.Number)
		b, okB := new(big.Rat).SetString(*o.Number)
		if !okA || !okB {
			return *v.Number == *o.Number
		}
		return a.Cmp(b) == 0
	case DataTypeBoolean:
		if v.Boolean == nil || o.Boolean == nil {
			return v.Boolean == o.Boolean
		}
		return *v.Boolean == *o.Boolean
	case DataTypeDate:
		return timePtrEqual(v.Date, o.Date)
	case DataTypeDateTime:
		return timePtrEqual(v.DateTime, o.DateTime)
	case DataTypeJSON:
		return bytes.Equal(compactJSON(v.JSON), compactJSON(o.JSON))
	case DataTypeBlob:
		return bytes.Equal(v.Blob, o.Blob)
	case DataTypeReference:
		return strPtrEqual(v.Reference, o.Reference)
	}
	return false
}

// String returns a human-readable representation for error messages and logs.
func (v TypedValue) String() string {
	switch v.Type {
	case DataTypeText:
		if v.Text != nil {
			return *v.Text
		}
	case DataTypeNumber:
		if v.Number != nil {
			return *v.Number
		}
	case DataTypeBoolean:
		if v.Boolean != nil {
			return fmt.Sprintf("%t", *v.Boolean)
		}
	case DataTypeDate:
		if v.Date != nil {
			return v.Date.Format("2006-01-02")
		}
	case DataTypeDateTime:
		if v.DateTime != nil {
			return v.DateTime.Format(time.RFC3339Nano)
		}
	case DataTypeJSON:
		return string(v.JSON)
	case DataTypeBlob:
		return fmt.Sprintf("<blob %d bytes>", len(v.Blob))
	case DataTypeReference:
		if v.Reference != nil {
			return *v.Reference
		}
	}
	return "<nil>"
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func compactJSON(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// EntityValue is one stored (entity, attribute) → typed value row.
// SINGLE cardinality keeps at most one row per pair; MULTI keeps an ordered
// set, ordered by SortIndex.
type EntityValue struct {
	ID          int64
	EntityID    string
	AttributeID string
	SortIndex   int
	Value       TypedValue
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks if the entity value is valid
func (ev *EntityValue) Validate() error {
	if ev.EntityID == "" {
		return fmt.Errorf("entity ID is required")
	}
	if ev.AttributeID == "" {
		return fmt.Errorf("attribute ID is required")
	}
	return ev.Value.Validate()
}
