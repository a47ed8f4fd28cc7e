package services

import (
	"context"
	"errors"
	"testing"

	"github.com/asakaida/puroteusu/internal/entities"
)

// validationFixture builds a Product type with one attribute per pipeline
// stage worth exercising.
func validationFixture(t *testing.T, env *testEnv) *entities.EntityType {
	t.Helper()
	ctx := context.Background()

	product := &entities.EntityType{Name: "Product"}
	if err := env.registry.DefineEntityType(ctx, product); err != nil {
		t.Fatalf("failed to define Product: %v", err)
	}
	supplier := &entities.EntityType{Name: "Supplier"}
	if err := env.registry.DefineEntityType(ctx, supplier); err != nil {
		t.Fatalf("failed to define Supplier: %v", err)
	}

	min, max := 0.0, 10000.0
	attrs := []*entities.AttributeDefinition{
		{
			EntityTypeID: product.ID, Name: "sku",
			DataType: entities.DataTypeText, Cardinality: entities.CardinalitySingle,
			Scope: entities.ScopeInstance, IsRequired: true, IsUnique: true,
			Rules: entities.ValidationRules{Pattern: `^SKU-[0-9]+$`},
		},
		{
			EntityTypeID: product.ID, Name: "price",
			DataType: entities.DataTypeNumber, Cardinality: entities.CardinalitySingle,
			Scope: entities.ScopeInstance,
			Rules: entities.ValidationRules{Min: &min, Max: &max},
		},
		{
			EntityTypeID: product.ID, Name: "status",
			DataType: entities.DataTypeText, Cardinality: entities.CardinalitySingle,
			Scope: entities.ScopeInstance,
			Rules: entities.ValidationRules{Enum: []string{"draft", "published"}},
		},
		{
			EntityTypeID: product.ID, Name: "tags",
			DataType: entities.DataTypeText, Cardinality: entities.CardinalityMulti,
			Scope: entities.ScopeInstance,
		},
		{
			EntityTypeID: product.ID, Name: "supplier",
			DataType: entities.DataTypeReference, Cardinality: entities.CardinalitySingle,
			Scope: entities.ScopeInstance, ReferenceEntityTypeID: supplier.ID,
		},
	}
	for _, attr := range attrs {
		if err := env.registry.DefineAttribute(ctx, attr); err != nil {
			t.Fatalf("failed to define %s: %v", attr.Name, err)
		}
	}

	loaded, err := env.registry.GetEntityType(ctx, "Product")
	if err != nil {
		t.Fatalf("failed to load Product: %v", err)
	}
	return loaded
}

func newValidator(env *testEnv) *ValidationService {
	return NewValidationService(env.repos.Values, env.repos.Entities, nil)
}

func mustNumber(t *testing.T, s string) entities.TypedValue {
	t.Helper()
	v, err := entities.NewNumberValue(s)
	if err != nil {
		t.Fatalf("invalid number %q: %v", s, err)
	}
	return v
}

func validationErr(t *testing.T, err error) *entities.ValidationError {
	t.Helper()
	var vErr *entities.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	return vErr
}

func TestValidationService_UnknownAttribute(t *testing.T) {
	env := newTestEnv()
	product := validationFixture(t, env)

	err := newValidator(env).Validate(context.Background(), product, "", map[string][]entities.TypedValue{
		"sku":     textValues("SKU-1"),
		"unknown": textValues("x"),
	}, ValidateOptions{})

	vErr := validationErr(t, err)
	if !vErr.HasKind(entities.FieldErrorTypeMismatch) {
		t.Errorf("kinds = %+v, want type_mismatch", vErr.Fields)
	}
}

func TestValidationService_TypeMismatch(t *testing.T) {
	env := newTestEnv()
	product := validationFixture(t, env)

	// TEXT value on a NUMBER attribute
	err := newValidator(env).Validate(context.Background(), product, "", map[string][]entities.TypedValue{
		"sku":   textValues("SKU-1"),
		"price": textValues("not a number"),
	}, ValidateOptions{})

	vErr := validationErr(t, err)
	if !vErr.HasKind(entities.FieldErrorTypeMismatch) {
		t.Errorf("kinds = %+v, want type_mismatch", vErr.Fields)
	}
}

func TestValidationService_SingleCardinalityViolation(t *testing.T) {
	env := newTestEnv()
	product := validationFixture(t, env)

	err := newValidator(env).Validate(context.Background(), product, "", map[string][]entities.TypedValue{
		"sku": {entities.NewTextValue("SKU-1"), entities.NewTextValue("SKU-2")},
	}, ValidateOptions{})

	vErr := validationErr(t, err)
	if !vErr.HasKind(entities.FieldErrorTypeMismatch) {
		t.Errorf("kinds = %+v, want type_mismatch", vErr.Fields)
	}
}

func TestValidationService_MultiCardinalityAllowed(t *testing.T) {
	env := newTestEnv()
	product := validationFixture(t, env)

	err := newValidator(env).Validate(context.Background(), product, "", map[string][]entities.TypedValue{
		"sku":  textValues("SKU-1"),
		"tags": {entities.NewTextValue("new"), entities.NewTextValue("sale")},
	}, ValidateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidationService_RequiredMissing(t *testing.T) {
	env := newTestEnv()
	product := validationFixture(t, env)

	err := newValidator(env).Validate(context.Background(), product, "", map[string][]entities.TypedValue{
		"status": textValues("draft"),
	}, ValidateOptions{})

	vErr := validationErr(t, err)
	if !vErr.HasKind(entities.FieldErrorRequiredMissing) {
		t.Errorf("kinds = %+v, want required_missing", vErr.Fields)
	}

	// Partial mode skips absent attributes
	err = newValidator(env).Validate(context.Background(), product, "", map[string][]entities.TypedValue{
		"status": textValues("draft"),
	}, ValidateOptions{Partial: true})
	if err != nil {
		t.Fatalf("partial validation should pass: %v", err)
	}

	// But an explicitly emptied required attribute still fails
	err = newValidator(env).Validate(context.Background(), product, "", map[string][]entities.TypedValue{
		"sku": {},
	}, ValidateOptions{Partial: true})
	vErr = validationErr(t, err)
	if !vErr.HasKind(entities.FieldErrorRequiredMissing) {
		t.Errorf("kinds = %+v, want required_missing", vErr.Fields)
	}
}

func TestValidationService_Rules(t *testing.T) {
	env := newTestEnv()
	product := validationFixture(t, env)
	ctx := context.Background()
	validator := newValidator(env)

	tests := []struct {
		name    string
		values  map[string][]entities.TypedValue
		wantErr bool
	}{
		{
			name: "price within range",
			values: map[string][]entities.TypedValue{
				"sku": textValues("SKU-1"), "price": {mustNumber(t, "19.99")},
			},
		},
		{
			name: "price above maximum",
			values: map[string][]entities.TypedValue{
				"sku": textValues("SKU-1"), "price": {mustNumber(t, "10000.01")},
			},
			wantErr: true,
		},
		{
			name: "price below minimum",
			values: map[string][]entities.TypedValue{
				"sku": textValues("SKU-1"), "price": {mustNumber(t, "-0.01")},
			},
			wantErr: true,
		},
		{
			name: "pattern mismatch",
			values: map[string][]entities.TypedValue{
				"sku": textValues("NOPE-1"),
			},
			wantErr: true,
		},
		{
			name: "enum violation",
			values: map[string][]entities.TypedValue{
				"sku": textValues("SKU-1"), "status": textValues("archived"),
			},
			wantErr: true,
		},
		{
			name: "enum match",
			values: map[string][]entities.TypedValue{
				"sku": textValues("SKU-1"), "status": textValues("published"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(ctx, product, "", tt.values, ValidateOptions{})
			if tt.wantErr {
				vErr := validationErr(t, err)
				if !vErr.HasKind(entities.FieldErrorRuleViolation) {
					t.Errorf("kinds = %+v, want rule_violation", vErr.Fields)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidationService_DanglingReference(t *testing.T) {
	env := newTestEnv()
	product := validationFixture(t, env)
	ctx := context.Background()
	validator := newValidator(env)

	// Missing target
	err := validator.Validate(ctx, product, "", map[string][]entities.TypedValue{
		"sku":      textValues("SKU-1"),
		"supplier": {entities.NewReferenceValue("no-such-entity")},
	}, ValidateOptions{})
	vErr := validationErr(t, err)
	if !vErr.HasKind(entities.FieldErrorDanglingReference) {
		t.Errorf("kinds = %+v, want dangling_reference", vErr.Fields)
	}

	// Valid active target of the declared type
	supplier, err := env.lifecycle.Create(ctx, &CreateEntityRequest{EntityTypeName: "Supplier"})
	if err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}
	if err := validator.Validate(ctx, product, "", map[string][]entities.TypedValue{
		"sku":      textValues("SKU-1"),
		"supplier": {entities.NewReferenceValue(supplier.Entity.ID)},
	}, ValidateOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Deleted target dangles
	if _, err := env.lifecycle.Delete(ctx, supplier.Entity.ID, "alice"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	err = validator.Validate(ctx, product, "", map[string][]entities.TypedValue{
		"sku":      textValues("SKU-1"),
		"supplier": {entities.NewReferenceValue(supplier.Entity.ID)},
	}, ValidateOptions{})
	vErr = validationErr(t, err)
	if !vErr.HasKind(entities.FieldErrorDanglingReference) {
		t.Errorf("kinds = %+v, want dangling_reference", vErr.Fields)
	}

	// A target of the wrong entity type dangles too
	wrongType, err := env.lifecycle.Create(ctx, &CreateEntityRequest{
		EntityTypeName: "Product",
		Values:         map[string][]entities.TypedValue{"sku": textValues("SKU-2")},
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	err = validator.Validate(ctx, product, "", map[string][]entities.TypedValue{
		"sku":      textValues("SKU-3"),
		"supplier": {entities.NewReferenceValue(wrongType.Entity.ID)},
	}, ValidateOptions{})
	vErr = validationErr(t, err)
	if !vErr.HasKind(entities.FieldErrorDanglingReference) {
		t.Errorf("kinds = %+v, want dangling_reference", vErr.Fields)
	}
}

func TestValidationService_UniquenessLock(t *testing.T) {
	env := newTestEnv()
	product := validationFixture(t, env)
	ctx := context.Background()

	// LockUnique takes the advisory lock before probing
	err := newValidator(env).Validate(ctx, product, "", map[string][]entities.TypedValue{
		"sku": textValues("SKU-1"),
	}, ValidateOptions{LockUnique: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.store.lockedKeys) == 0 {
		t.Error("expected an advisory lock for the unique sku")
	}

	// Preflight mode takes none
	env.store.lockedKeys = nil
	if err := newValidator(env).Validate(ctx, product, "", map[string][]entities.TypedValue{
		"sku": textValues("SKU-1"),
	}, ValidateOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.store.lockedKeys) != 0 {
		t.Error("no lock expected without LockUnique")
	}
}

func TestValidationService_PreflightValidate(t *testing.T) {
	env := newTestEnv()
	product := validationFixture(t, env)
	ctx := context.Background()

	if _, err := env.lifecycle.Create(ctx, &CreateEntityRequest{
		EntityTypeName: "Product",
		Values:         map[string][]entities.TypedValue{"sku": textValues("SKU-1")},
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	rows := []map[string][]entities.TypedValue{
		{"sku": textValues("SKU-2")},                                     // ok
		{"sku": textValues("SKU-1")},                                     // duplicate of stored entity
		{"status": textValues("draft")},                                  // missing required sku
		{"sku": textValues("SKU-3"), "price": {mustNumber(t, "-5")}},     // rule violation
		{"sku": textValues("SKU-4"), "status": textValues("published")},  // ok
	}

	results, err := newValidator(env).PreflightValidate(ctx, product, rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(rows) {
		t.Fatalf("results = %d, want %d", len(results), len(rows))
	}

	if results[0] != nil {
		t.Errorf("row 0 should pass: %v", results[0])
	}
	if results[1] == nil || !results[1].HasKind(entities.FieldErrorDuplicateUniqueValue) {
		t.Errorf("row 1 should fail uniqueness: %v", results[1])
	}
	if results[2] == nil || !results[2].HasKind(entities.FieldErrorRequiredMissing) {
		t.Errorf("row 2 should fail required: %v", results[2])
	}
	if results[3] == nil || !results[3].HasKind(entities.FieldErrorRuleViolation) {
		t.Errorf("row 3 should fail rules: %v", results[3])
	}
	if results[4] != nil {
		t.Errorf("row 4 should pass: %v", results[4])
	}
}
