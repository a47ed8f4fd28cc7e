package entities

import (
	"encoding/json"
	"time"
)

// typedValueJSON is the wire shape of a TypedValue: the declared type plus
// whichever slot is populated. NUMBER stays a string so precision survives
// serialization; BLOB is base64 per encoding/json.
type typedValueJSON struct {
	Type      DataType        `json:"type"`
	Text      *string         `json:"text,omitempty"`
	Number    *string         `json:"number,omitempty"`
	Boolean   *bool           `json:"boolean,omitempty"`
	Date      *time.Time      `json:"date,omitempty"`
	DateTime  *time.Time      `json:"datetime,omitempty"`
	JSON      json.RawMessage `json:"json,omitempty"`
	Blob      []byte          `json:"blob,omitempty"`
	Reference *string         `json:"reference,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v TypedValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(typedValueJSON{
		Type:      v.Type,
		Text:      v.Text,
		Number:    v.Number,
		Boolean:   v.Boolean,
		Date:      v.Date,
		DateTime:  v.DateTime,
		JSON:      v.JSON,
		Blob:      v.Blob,
		Reference: v.Reference,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *TypedValue) UnmarshalJSON(data []byte) error {
	var w typedValueJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*v = TypedValue{
		Type:      w.Type,
		Text:      w.Text,
		Number:    w.Number,
		Boolean:   w.Boolean,
		Date:      w.Date,
		DateTime:  w.DateTime,
		JSON:      w.JSON,
		Blob:      w.Blob,
		Reference: w.Reference,
	}
	return v.Validate()
}
