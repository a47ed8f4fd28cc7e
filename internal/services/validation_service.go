package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// ValidationMetrics receives per-kind failure signals.
// Implemented by metrics.Collector.
type ValidationMetrics interface {
	RecordValidationFailure(kind string)
}

// ValidateOptions controls one validation run.
type ValidateOptions struct {
	// Partial skips the required check for attributes absent from the value
	// map. Used by partial updates.
	Partial bool
	// LockUnique serializes concurrent writers of the same unique value via
	// a transaction-scoped database lock before the uniqueness probe. Must
	// be set when validating inside a write transaction; must not be set
	// for read-only preflight runs.
	LockUnique bool
}

// ValidationService checks proposed attribute values against an entity
// type's definitions. The pipeline runs in stages - type, required,
// uniqueness, reference, rules - and stops at the first stage that collects
// errors, returning every field error of that stage at once.
type ValidationService struct {
	values   repositories.ValueRepository
	entities repositories.EntityRepository
	metrics  ValidationMetrics
}

// NewValidationService creates a ValidationService over the given
// repositories. Inside a transaction, construct it from the tx-scoped set.
// metrics may be nil.
func NewValidationService(
	values repositories.ValueRepository,
	entityRepo repositories.EntityRepository,
	metrics ValidationMetrics,
) *ValidationService {
	return &ValidationService{
		values:   values,
		entities: entityRepo,
		metrics:  metrics,
	}
}

// Validate checks the proposed values of one entity. excludeEntityID is the
// entity being updated (empty on create); its own rows never count as
// duplicates. Returns *entities.ValidationError on failure.
func (s *ValidationService) Validate(
	ctx context.Context,
	entityType *entities.EntityType,
	excludeEntityID string,
	values map[string][]entities.TypedValue,
	opts ValidateOptions,
) error {
	stages := []func(context.Context, *entities.EntityType, string, map[string][]entities.TypedValue, ValidateOptions) ([]entities.FieldError, error){
		s.checkTypes,
		s.checkRequired,
		s.checkUniqueness,
		s.checkReferences,
		s.checkRules,
	}

	for _, stage := range stages {
		fieldErrs, err := stage(ctx, entityType, excludeEntityID, values, opts)
		if err != nil {
			return err
		}
		if len(fieldErrs) > 0 {
			if s.metrics != nil {
				for _, fe := range fieldErrs {
					s.metrics.RecordValidationFailure(string(fe.Kind))
				}
			}
			return &entities.ValidationError{Fields: fieldErrs}
		}
	}

	return nil
}

// ValidateUnique runs only the uniqueness stage. Restore uses it: a freed
// unique value may have been taken by another entity while this one was
// deleted, and nothing else about the stored values can have changed.
func (s *ValidationService) ValidateUnique(
	ctx context.Context,
	entityType *entities.EntityType,
	excludeEntityID string,
	values map[string][]entities.TypedValue,
	opts ValidateOptions,
) error {
	fieldErrs, err := s.checkUniqueness(ctx, entityType, excludeEntityID, values, opts)
	if err != nil {
		return err
	}
	if len(fieldErrs) > 0 {
		if s.metrics != nil {
			for _, fe := range fieldErrs {
				s.metrics.RecordValidationFailure(string(fe.Kind))
			}
		}
		return &entities.ValidationError{Fields: fieldErrs}
	}
	return nil
}

// PreflightValidate validates many rows without persisting anything, for
// bulk imports. Rows are validated in bounded parallel; the result slice is
// aligned with rows, nil meaning the row passed. Uniqueness is probed
// against stored entities only, not across the batch, and no locks are
// taken.
func (s *ValidationService) PreflightValidate(
	ctx context.Context,
	entityType *entities.EntityType,
	rows []map[string][]entities.TypedValue,
) ([]*entities.ValidationError, error) {
	results := make([]*entities.ValidationError, len(rows))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			err := s.Validate(ctx, entityType, "", row, ValidateOptions{})
			if err == nil {
				return nil
			}
			var vErr *entities.ValidationError
			if errors.As(err, &vErr) {
				results[i] = vErr
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Stage 1: values must belong to known active definitions, carry the
// declared data type, and respect cardinality.
func (s *ValidationService) checkTypes(
	_ context.Context,
	entityType *entities.EntityType,
	_ string,
	values map[string][]entities.TypedValue,
	_ ValidateOptions,
) ([]entities.FieldError, error) {
	var fieldErrs []entities.FieldError

	for name, vals := range values {
		attr := entityType.GetAttribute(name)
		if attr == nil {
			fieldErrs = append(fieldErrs, entities.FieldError{
				AttributeName: name,
				Kind:          entities.FieldErrorTypeMismatch,
				Message:       "unknown attribute",
			})
			continue
		}

		if attr.Cardinality == entities.CardinalitySingle && len(vals) > 1 {
			fieldErrs = append(fieldErrs, entities.FieldError{
				AttributeID:   attr.ID,
				AttributeName: name,
				Kind:          entities.FieldErrorTypeMismatch,
				Message:       fmt.Sprintf("SINGLE attribute holds %d values", len(vals)),
			})
			continue
		}

		for _, v := range vals {
			if err := v.Validate(); err != nil {
				fieldErrs = append(fieldErrs, entities.FieldError{
					AttributeID:   attr.ID,
					AttributeName: name,
					Kind:          entities.FieldErrorTypeMismatch,
					Message:       err.Error(),
				})
				continue
			}
			if v.Type != attr.DataType {
				fieldErrs = append(fieldErrs, entities.FieldError{
					AttributeID:   attr.ID,
					AttributeName: name,
					Kind:          entities.FieldErrorTypeMismatch,
					Message:       fmt.Sprintf("value type %s does not match declared type %s", v.Type, attr.DataType),
				})
			}
		}
	}

	return fieldErrs, nil
}

// Stage 2: required INSTANCE-scope attributes must be present.
// Auto-increment and defaulted attributes are exempt - the engine fills
// them. TYPE-scope attributes hydrate from the definition, never from rows.
func (s *ValidationService) checkRequired(
	_ context.Context,
	entityType *entities.EntityType,
	_ string,
	values map[string][]entities.TypedValue,
	opts ValidateOptions,
) ([]entities.FieldError, error) {
	var fieldErrs []entities.FieldError

	for _, attr := range entityType.Attributes {
		if !attr.IsRequired || attr.Scope != entities.ScopeInstance {
			continue
		}
		if attr.IsAutoIncrement || attr.DefaultValue != nil {
			continue
		}

		vals, present := values[attr.Name]
		if !present {
			if opts.Partial {
				continue
			}
			fieldErrs = append(fieldErrs, entities.FieldError{
				AttributeID:   attr.ID,
				AttributeName: attr.Name,
				Kind:          entities.FieldErrorRequiredMissing,
				Message:       "required attribute is missing",
			})
			continue
		}
		if len(vals) == 0 {
			fieldErrs = append(fieldErrs, entities.FieldError{
				AttributeID:   attr.ID,
				AttributeName: attr.Name,
				Kind:          entities.FieldErrorRequiredMissing,
				Message:       "required attribute has no value",
			})
		}
	}

	return fieldErrs, nil
}

// Stage 3: unique attributes must not collide with another active entity.
// Under LockUnique each probed value is first serialized with a tx-scoped
// advisory lock, closing the probe-then-write race between concurrent
// creators of the same value.
func (s *ValidationService) checkUniqueness(
	ctx context.Context,
	entityType *entities.EntityType,
	excludeEntityID string,
	values map[string][]entities.TypedValue,
	opts ValidateOptions,
) ([]entities.FieldError, error) {
	var fieldErrs []entities.FieldError

	for _, attr := range entityType.Attributes {
		if !attr.IsUnique {
			continue
		}
		vals, present := values[attr.Name]
		if !present || len(vals) == 0 {
			continue
		}
		v := vals[0]

		if opts.LockUnique {
			if err := s.values.LockUniqueValue(ctx, attr.ID, v); err != nil {
				return nil, fmt.Errorf("failed to lock unique value: %w", err)
			}
		}

		ids, err := s.values.FindEntityIDsByValue(ctx, attr, v, excludeEntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to probe uniqueness: %w", err)
		}
		if len(ids) > 0 {
			fieldErrs = append(fieldErrs, entities.FieldError{
				AttributeID:   attr.ID,
				AttributeName: attr.Name,
				Kind:          entities.FieldErrorDuplicateUniqueValue,
				Message:       fmt.Sprintf("value %s already used by entity %s", v.String(), ids[0]),
			})
		}
	}

	return fieldErrs, nil
}

// Stage 4: REFERENCE values must point at an existing, active entity of the
// declared target type.
func (s *ValidationService) checkReferences(
	ctx context.Context,
	entityType *entities.EntityType,
	_ string,
	values map[string][]entities.TypedValue,
	_ ValidateOptions,
) ([]entities.FieldError, error) {
	var fieldErrs []entities.FieldError

	for name, vals := range values {
		attr := entityType.GetAttribute(name)
		if attr == nil || attr.DataType != entities.DataTypeReference {
			continue
		}

		for _, v := range vals {
			if v.Reference == nil {
				continue
			}
			targetID := *v.Reference

			target, err := s.entities.GetByID(ctx, targetID)
			if err != nil {
				if isNotFound(err) {
					fieldErrs = append(fieldErrs, entities.FieldError{
						AttributeID:   attr.ID,
						AttributeName: name,
						Kind:          entities.FieldErrorDanglingReference,
						Message:       fmt.Sprintf("referenced entity %s does not exist", targetID),
					})
					continue
				}
				return nil, fmt.Errorf("failed to resolve reference: %w", err)
			}

			switch {
			case !target.IsActive:
				fieldErrs = append(fieldErrs, entities.FieldError{
					AttributeID:   attr.ID,
					AttributeName: name,
					Kind:          entities.FieldErrorDanglingReference,
					Message:       fmt.Sprintf("referenced entity %s is deleted", targetID),
				})
			case target.EntityTypeID != attr.ReferenceEntityTypeID:
				fieldErrs = append(fieldErrs, entities.FieldError{
					AttributeID:   attr.ID,
					AttributeName: name,
					Kind:          entities.FieldErrorDanglingReference,
					Message:       fmt.Sprintf("referenced entity %s has the wrong entity type", targetID),
				})
			}
		}
	}

	return fieldErrs, nil
}

// Stage 5: custom rules. Min/Max bound NUMBER values and the length of TEXT
// values; Pattern and Enum apply to TEXT.
func (s *ValidationService) checkRules(
	_ context.Context,
	entityType *entities.EntityType,
	_ string,
	values map[string][]entities.TypedValue,
	_ ValidateOptions,
) ([]entities.FieldError, error) {
	var fieldErrs []entities.FieldError

	for name, vals := range values {
		attr := entityType.GetAttribute(name)
		if attr == nil || attr.Rules.IsZero() {
			continue
		}

		var pattern *regexp.Regexp
		if attr.Rules.Pattern != "" {
			var err error
			pattern, err = regexp.Compile(attr.Rules.Pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern on attribute %q: %w", name, err)
			}
		}

		for _, v := range vals {
			if msg := checkRuleViolation(attr, v, pattern); msg != "" {
				fieldErrs = append(fieldErrs, entities.FieldError{
					AttributeID:   attr.ID,
					AttributeName: name,
					Kind:          entities.FieldErrorRuleViolation,
					Message:       msg,
				})
			}
		}
	}

	return fieldErrs, nil
}

func checkRuleViolation(attr *entities.AttributeDefinition, v entities.TypedValue, pattern *regexp.Regexp) string {
	rules := attr.Rules

	switch v.Type {
	case entities.DataTypeNumber:
		if v.Number == nil {
			return ""
		}
		n, ok := new(big.Rat).SetString(*v.Number)
		if !ok {
			return fmt.Sprintf("invalid number: %q", *v.Number)
		}
		if rules.Min != nil {
			if min := new(big.Rat).SetFloat64(*rules.Min); min != nil && n.Cmp(min) < 0 {
				return fmt.Sprintf("value %s is below minimum %v", *v.Number, *rules.Min)
			}
		}
		if rules.Max != nil {
			if max := new(big.Rat).SetFloat64(*rules.Max); max != nil && n.Cmp(max) > 0 {
				return fmt.Sprintf("value %s is above maximum %v", *v.Number, *rules.Max)
			}
		}

	case entities.DataTypeText:
		if v.Text == nil {
			return ""
		}
		t := *v.Text
		if rules.Min != nil && float64(len([]rune(t))) < *rules.Min {
			return fmt.Sprintf("length %d is below minimum %v", len([]rune(t)), *rules.Min)
		}
		if rules.Max != nil && float64(len([]rune(t))) > *rules.Max {
			return fmt.Sprintf("length %d is above maximum %v", len([]rune(t)), *rules.Max)
		}
		if pattern != nil && !pattern.MatchString(t) {
			return fmt.Sprintf("value %q does not match pattern %s", t, rules.Pattern)
		}
		if len(rules.Enum) > 0 {
			for _, allowed := range rules.Enum {
				if t == allowed {
					return ""
				}
			}
			return fmt.Sprintf("value %q is not in the allowed set", t)
		}
	}

	return ""
}
