package entities

// DataType is the declared logical type of an attribute.
// The physical storage slot in entity_values is chosen by this type.
type DataType string

const (
	DataTypeText      DataType = "TEXT"
	DataTypeNumber    DataType = "NUMBER"
	DataTypeBoolean   DataType = "BOOLEAN"
	DataTypeDate      DataType = "DATE"
	DataTypeDateTime  DataType = "DATETIME"
	DataTypeJSON      DataType = "JSON"
	DataTypeBlob      DataType = "BLOB"
	DataTypeReference DataType = "REFERENCE"
)

// IsValid reports whether the data type is one of the supported types.
func (d DataType) IsValid() bool {
	switch d {
	case DataTypeText, DataTypeNumber, DataTypeBoolean, DataTypeDate,
		DataTypeDateTime, DataTypeJSON, DataTypeBlob, DataTypeReference:
		return true
	}
	return false
}

// Cardinality controls how many values an entity may hold for an attribute.
type Cardinality string

const (
	CardinalitySingle Cardinality = "SINGLE"
	CardinalityMulti  Cardinality = "MULTI"
)

// IsValid reports whether the cardinality is SINGLE or MULTI.
func (c Cardinality) IsValid() bool {
	return c == CardinalitySingle || c == CardinalityMulti
}

// Scope controls whether a value is stored per entity or shared by the type.
type Scope string

const (
	ScopeInstance Scope = "INSTANCE"
	ScopeType     Scope = "TYPE"
)

// IsValid reports whether the scope is INSTANCE or TYPE.
func (s Scope) IsValid() bool {
	return s == ScopeInstance || s == ScopeType
}

// DeletePolicy controls what happens to a REFERENCE value when its target
// entity is deleted. There is no implicit default beyond RESTRICT; the policy
// is always explicit on the attribute definition.
type DeletePolicy string

const (
	DeletePolicyRestrict DeletePolicy = "RESTRICT"
	DeletePolicySetNull  DeletePolicy = "SET_NULL"
	DeletePolicyCascade  DeletePolicy = "CASCADE"
)

// IsValid reports whether the delete policy is a supported value.
func (p DeletePolicy) IsValid() bool {
	return p == DeletePolicyRestrict || p == DeletePolicySetNull || p == DeletePolicyCascade
}
