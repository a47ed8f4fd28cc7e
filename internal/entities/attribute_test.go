package entities

import (
	"testing"
)

func TestAttributeDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		attr    AttributeDefinition
		wantErr bool
	}{
		{
			name: "valid TEXT attribute",
			attr: AttributeDefinition{
				EntityTypeID: "et1",
				Name:         "title",
				DataType:     DataTypeText,
				Cardinality:  CardinalitySingle,
				Scope:        ScopeInstance,
			},
			wantErr: false,
		},
		{
			name: "valid MULTI NUMBER attribute",
			attr: AttributeDefinition{
				EntityTypeID: "et1",
				Name:         "scores",
				DataType:     DataTypeNumber,
				Cardinality:  CardinalityMulti,
				Scope:        ScopeInstance,
			},
			wantErr: false,
		},
		{
			name: "missing entity type ID",
			attr: AttributeDefinition{
				Name:        "title",
				DataType:    DataTypeText,
				Cardinality: CardinalitySingle,
				Scope:       ScopeInstance,
			},
			wantErr: true,
		},
		{
			name: "missing name",
			attr: AttributeDefinition{
				EntityTypeID: "et1",
				DataType:     DataTypeText,
				Cardinality:  CardinalitySingle,
				Scope:        ScopeInstance,
			},
			wantErr: true,
		},
		{
			name: "invalid data type",
			attr: AttributeDefinition{
				EntityTypeID: "et1",
				Name:         "title",
				DataType:     "VARCHAR",
				Cardinality:  CardinalitySingle,
				Scope:        ScopeInstance,
			},
			wantErr: true,
		},
		{
			name: "unique with MULTI cardinality",
			attr: AttributeDefinition{
				EntityTypeID: "et1",
				Name:         "emails",
				DataType:     DataTypeText,
				Cardinality:  CardinalityMulti,
				Scope:        ScopeInstance,
				IsUnique:     true,
			},
			wantErr: true,
		},
		{
			name: "auto-increment with MULTI cardinality",
			attr: AttributeDefinition{
				EntityTypeID:    "et1",
				Name:            "codes",
				DataType:        DataTypeText,
				Cardinality:     CardinalityMulti,
				Scope:           ScopeInstance,
				IsAutoIncrement: true,
			},
			wantErr: true,
		},
		{
			name: "auto-increment on non-TEXT attribute",
			attr: AttributeDefinition{
				EntityTypeID:    "et1",
				Name:            "counter",
				DataType:        DataTypeNumber,
				Cardinality:     CardinalitySingle,
				Scope:           ScopeInstance,
				IsAutoIncrement: true,
			},
			wantErr: true,
		},
		{
			name: "reference without target entity type",
			attr: AttributeDefinition{
				EntityTypeID: "et1",
				Name:         "owner",
				DataType:     DataTypeReference,
				Cardinality:  CardinalitySingle,
				Scope:        ScopeInstance,
			},
			wantErr: true,
		},
		{
			name: "valid reference with RESTRICT policy",
			attr: AttributeDefinition{
				EntityTypeID:          "et1",
				Name:                  "owner",
				DataType:              DataTypeReference,
				Cardinality:           CardinalitySingle,
				Scope:                 ScopeInstance,
				ReferenceEntityTypeID: "et2",
				OnDelete:              DeletePolicyRestrict,
			},
			wantErr: false,
		},
		{
			name: "non-reference with reference target",
			attr: AttributeDefinition{
				EntityTypeID:          "et1",
				Name:                  "title",
				DataType:              DataTypeText,
				Cardinality:           CardinalitySingle,
				Scope:                 ScopeInstance,
				ReferenceEntityTypeID: "et2",
			},
			wantErr: true,
		},
		{
			name: "default value type mismatch",
			attr: AttributeDefinition{
				EntityTypeID: "et1",
				Name:         "active",
				DataType:     DataTypeBoolean,
				Cardinality:  CardinalitySingle,
				Scope:        ScopeInstance,
				DefaultValue: &TypedValue{Type: DataTypeText},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.attr.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAttributeDefinition_DeletePolicyOrDefault(t *testing.T) {
	attr := AttributeDefinition{OnDelete: ""}
	if got := attr.DeletePolicyOrDefault(); got != DeletePolicyRestrict {
		t.Errorf("DeletePolicyOrDefault() = %v, want RESTRICT", got)
	}

	attr.OnDelete = DeletePolicyCascade
	if got := attr.DeletePolicyOrDefault(); got != DeletePolicyCascade {
		t.Errorf("DeletePolicyOrDefault() = %v, want CASCADE", got)
	}
}
