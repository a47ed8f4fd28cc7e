package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedValue_Validate(t *testing.T) {
	text := "hello"
	num := "42"
	b := true

	tests := []struct {
		name    string
		value   TypedValue
		wantErr bool
	}{
		{"text slot matches TEXT", TypedValue{Type: DataTypeText, Text: &text}, false},
		{"number slot matches NUMBER", TypedValue{Type: DataTypeNumber, Number: &num}, false},
		{"no populated slot", TypedValue{Type: DataTypeText}, true},
		{"wrong slot for type", TypedValue{Type: DataTypeText, Boolean: &b}, true},
		{"two populated slots", TypedValue{Type: DataTypeText, Text: &text, Number: &num}, true},
		{"invalid type", TypedValue{Type: "UUID", Text: &text}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.value.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTypedValue_NumberPrecision(t *testing.T) {
	// 19-digit identifiers and small decimals must survive untouched.
	v, err := NewNumberValue("9007199254740993")
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", *v.Number)

	small, err := NewNumberValue("0.1")
	require.NoError(t, err)
	assert.Equal(t, "0.1", *small.Number)

	_, err = NewNumberValue("not-a-number")
	assert.Error(t, err)
}

func TestTypedValue_NumberEquality(t *testing.T) {
	a, err := NewNumberValue("1.50")
	require.NoError(t, err)
	b, err := NewNumberValue("1.5")
	require.NoError(t, err)

	assert.True(t, a.Equal(b), "decimal equality should ignore trailing zeros")

	c, err := NewNumberValue("1.51")
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
}

func TestTypedValue_DateTimeNormalization(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	local := time.Date(2025, 3, 14, 9, 30, 0, 0, tokyo)
	v := NewDateTimeValue(local)

	assert.Equal(t, time.UTC, v.DateTime.Location())
	assert.True(t, v.DateTime.Equal(local))

	// Same instant expressed in a different zone compares equal.
	other := NewDateTimeValue(local.UTC())
	assert.True(t, v.Equal(other))
}

func TestTypedValue_DateTruncation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 2025-03-14 02:00 JST is 2025-03-13 17:00 UTC; DATE keeps the UTC day.
	v := NewDateValue(time.Date(2025, 3, 14, 2, 0, 0, 0, tokyo))
	assert.Equal(t, "2025-03-13", v.Date.Format("2006-01-02"))
	assert.Equal(t, 0, v.Date.Hour())
}

func TestTypedValue_JSONEquality(t *testing.T) {
	a, err := NewJSONValue(json.RawMessage(`{"k": 1}`))
	require.NoError(t, err)
	b, err := NewJSONValue(json.RawMessage(`{"k":1}`))
	require.NoError(t, err)

	assert.True(t, a.Equal(b), "whitespace differences should not break equality")

	_, err = NewJSONValue(json.RawMessage(`{"k":`))
	assert.Error(t, err)
}

func TestEntityValue_Validate(t *testing.T) {
	tests := []struct {
		name    string
		value   EntityValue
		wantErr bool
	}{
		{
			name:    "valid",
			value:   EntityValue{EntityID: "e1", AttributeID: "a1", Value: NewTextValue("x")},
			wantErr: false,
		},
		{
			name:    "missing entity ID",
			value:   EntityValue{AttributeID: "a1", Value: NewTextValue("x")},
			wantErr: true,
		},
		{
			name:    "missing attribute ID",
			value:   EntityValue{EntityID: "e1", Value: NewTextValue("x")},
			wantErr: true,
		},
		{
			name:    "empty typed value",
			value:   EntityValue{EntityID: "e1", AttributeID: "a1", Value: TypedValue{Type: DataTypeText}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.value.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
