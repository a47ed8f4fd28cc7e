package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// PostgresAttributeRepository implements AttributeRepository using PostgreSQL
type PostgresAttributeRepository struct {
	db DBTX
}

// NewPostgresAttributeRepository creates a new PostgreSQL attribute repository
func NewPostgresAttributeRepository(db DBTX) repositories.AttributeRepository {
	return &PostgresAttributeRepository{db: db}
}

const attributeColumns = `
	id, entity_type_id, name, display_name, data_type, cardinality, scope,
	is_required, is_unique, is_indexed, is_searchable,
	is_auto_increment, auto_prefix, auto_suffix, auto_padding, auto_start,
	default_value, rule_min, rule_max, rule_pattern, rule_enum,
	reference_entity_type_id, reference_display_field, on_delete_policy,
	group_id, sort_order, is_active, created_at, updated_at`

// Create persists a new attribute definition
func (r *PostgresAttributeRepository) Create(ctx context.Context, attr *entities.AttributeDefinition) error {
	if err := attr.Validate(); err != nil {
		return fmt.Errorf("invalid attribute definition: %w", err)
	}

	defaultValue, err := encodeDefaultValue(attr.DefaultValue)
	if err != nil {
		return fmt.Errorf("failed to encode default value: %w", err)
	}
	ruleEnum, err := encodeEnum(attr.Rules.Enum)
	if err != nil {
		return fmt.Errorf("failed to encode enum rule: %w", err)
	}

	query := `
		INSERT INTO attribute_definitions (
			id, entity_type_id, name, display_name, data_type, cardinality, scope,
			is_required, is_unique, is_indexed, is_searchable,
			is_auto_increment, auto_prefix, auto_suffix, auto_padding, auto_start,
			default_value, rule_min, rule_max, rule_pattern, rule_enum,
			reference_entity_type_id, reference_display_field, on_delete_policy,
			group_id, sort_order, is_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
	`
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, query,
		attr.ID, attr.EntityTypeID, attr.Name, attr.DisplayName,
		attr.DataType, attr.Cardinality, attr.Scope,
		attr.IsRequired, attr.IsUnique, attr.IsIndexed, attr.IsSearchable,
		attr.IsAutoIncrement, attr.AutoIncrementPrefix, attr.AutoIncrementSuffix,
		attr.AutoIncrementPadding, attr.AutoIncrementStart,
		defaultValue, nullFloat(attr.Rules.Min), nullFloat(attr.Rules.Max),
		nullString(attr.Rules.Pattern), ruleEnum,
		nullString(attr.ReferenceEntityTypeID), nullString(attr.ReferenceDisplayField),
		nullString(string(attr.OnDelete)),
		nullString(attr.GroupID), attr.SortOrder, attr.IsActive, now, now,
	)
	if err != nil {
		return translateError("create attribute definition", err)
	}
	return nil
}

// Update persists changes to an existing attribute definition
func (r *PostgresAttributeRepository) Update(ctx context.Context, attr *entities.AttributeDefinition) error {
	if err := attr.Validate(); err != nil {
		return fmt.Errorf("invalid attribute definition: %w", err)
	}

	defaultValue, err := encodeDefaultValue(attr.DefaultValue)
	if err != nil {
		return fmt.Errorf("failed to encode default value: %w", err)
	}
	ruleEnum, err := encodeEnum(attr.Rules.Enum)
	if err != nil {
		return fmt.Errorf("failed to encode enum rule: %w", err)
	}

	query := `
		UPDATE attribute_definitions
		SET display_name = $1, data_type = $2, cardinality = $3, scope = $4,
			is_required = $5, is_unique = $6, is_indexed = $7, is_searchable = $8,
			is_auto_increment = $9, auto_prefix = $10, auto_suffix = $11,
			auto_padding = $12, auto_start = $13,
			default_value = $14, rule_min = $15, rule_max = $16,
			rule_pattern = $17, rule_enum = $18,
			reference_entity_type_id = $19, reference_display_field = $20,
			on_delete_policy = $21, group_id = $22, sort_order = $23, updated_at = $24
		WHERE id = $25
	`
	result, err := r.db.ExecContext(ctx, query,
		attr.DisplayName, attr.DataType, attr.Cardinality, attr.Scope,
		attr.IsRequired, attr.IsUnique, attr.IsIndexed, attr.IsSearchable,
		attr.IsAutoIncrement, attr.AutoIncrementPrefix, attr.AutoIncrementSuffix,
		attr.AutoIncrementPadding, attr.AutoIncrementStart,
		defaultValue, nullFloat(attr.Rules.Min), nullFloat(attr.Rules.Max),
		nullString(attr.Rules.Pattern), ruleEnum,
		nullString(attr.ReferenceEntityTypeID), nullString(attr.ReferenceDisplayField),
		nullString(string(attr.OnDelete)),
		nullString(attr.GroupID), attr.SortOrder, time.Now().UTC(),
		attr.ID,
	)
	if err != nil {
		return translateError("update attribute definition", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return translateError("update attribute definition", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// GetByID retrieves an attribute definition by id
func (r *PostgresAttributeRepository) GetByID(ctx context.Context, id string) (*entities.AttributeDefinition, error) {
	query := `SELECT` + attributeColumns + `
		FROM attribute_definitions
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)
	attr, err := scanAttribute(row.Scan)
	if err != nil {
		return nil, translateError("get attribute definition", err)
	}
	return attr, nil
}

// GetByEntityType retrieves the definitions of an entity type ordered by
// sort_order then name
func (r *PostgresAttributeRepository) GetByEntityType(ctx context.Context, entityTypeID string, includeInactive bool) ([]*entities.AttributeDefinition, error) {
	query := `SELECT` + attributeColumns + `
		FROM attribute_definitions
		WHERE entity_type_id = $1 AND ($2 OR is_active)
		ORDER BY sort_order, name
	`
	rows, err := r.db.QueryContext(ctx, query, entityTypeID, includeInactive)
	if err != nil {
		return nil, translateError("list attribute definitions", err)
	}
	defer rows.Close()

	var result []*entities.AttributeDefinition
	for rows.Next() {
		attr, err := scanAttribute(rows.Scan)
		if err != nil {
			return nil, translateError("scan attribute definition", err)
		}
		result = append(result, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("iterate attribute definitions", err)
	}
	return result, nil
}

// SetActive activates or deactivates an attribute definition
func (r *PostgresAttributeRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE attribute_definitions
		SET is_active = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return translateError("set attribute active", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return translateError("set attribute active", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// ListReferencing retrieves active REFERENCE definitions targeting an entity type
func (r *PostgresAttributeRepository) ListReferencing(ctx context.Context, targetEntityTypeID string) ([]*entities.AttributeDefinition, error) {
	query := `SELECT` + attributeColumns + `
		FROM attribute_definitions
		WHERE data_type = $1 AND reference_entity_type_id = $2 AND is_active
	`
	rows, err := r.db.QueryContext(ctx, query, entities.DataTypeReference, targetEntityTypeID)
	if err != nil {
		return nil, translateError("list referencing attributes", err)
	}
	defer rows.Close()

	var result []*entities.AttributeDefinition
	for rows.Next() {
		attr, err := scanAttribute(rows.Scan)
		if err != nil {
			return nil, translateError("scan attribute definition", err)
		}
		result = append(result, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("iterate referencing attributes", err)
	}
	return result, nil
}

// CreateGroup persists a new attribute group
func (r *PostgresAttributeRepository) CreateGroup(ctx context.Context, group *entities.AttributeGroup) error {
	if err := group.Validate(); err != nil {
		return fmt.Errorf("invalid attribute group: %w", err)
	}

	query := `
		INSERT INTO attribute_groups (id, entity_type_id, name, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		group.ID, group.EntityTypeID, group.Name, group.SortOrder, now, now,
	)
	if err != nil {
		return translateError("create attribute group", err)
	}
	return nil
}

// ListGroups retrieves the groups of an entity type ordered by sort_order
func (r *PostgresAttributeRepository) ListGroups(ctx context.Context, entityTypeID string) ([]*entities.AttributeGroup, error) {
	query := `
		SELECT id, entity_type_id, name, sort_order, created_at, updated_at
		FROM attribute_groups
		WHERE entity_type_id = $1
		ORDER BY sort_order, name
	`
	rows, err := r.db.QueryContext(ctx, query, entityTypeID)
	if err != nil {
		return nil, translateError("list attribute groups", err)
	}
	defer rows.Close()

	var result []*entities.AttributeGroup
	for rows.Next() {
		var g entities.AttributeGroup
		if err := rows.Scan(&g.ID, &g.EntityTypeID, &g.Name, &g.SortOrder, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, translateError("scan attribute group", err)
		}
		result = append(result, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("iterate attribute groups", err)
	}
	return result, nil
}

// scanAttribute reads one attribute_definitions row via the given scan
// function, so it works for both *sql.Row and *sql.Rows.
func scanAttribute(scan func(dest ...interface{}) error) (*entities.AttributeDefinition, error) {
	var (
		attr         entities.AttributeDefinition
		defaultValue sql.NullString
		ruleMin      sql.NullFloat64
		ruleMax      sql.NullFloat64
		rulePattern  sql.NullString
		ruleEnum     sql.NullString
		refType      sql.NullString
		refDisplay   sql.NullString
		onDelete     sql.NullString
		groupID      sql.NullString
	)

	err := scan(
		&attr.ID, &attr.EntityTypeID, &attr.Name, &attr.DisplayName,
		&attr.DataType, &attr.Cardinality, &attr.Scope,
		&attr.IsRequired, &attr.IsUnique, &attr.IsIndexed, &attr.IsSearchable,
		&attr.IsAutoIncrement, &attr.AutoIncrementPrefix, &attr.AutoIncrementSuffix,
		&attr.AutoIncrementPadding, &attr.AutoIncrementStart,
		&defaultValue, &ruleMin, &ruleMax, &rulePattern, &ruleEnum,
		&refType, &refDisplay, &onDelete,
		&groupID, &attr.SortOrder, &attr.IsActive, &attr.CreatedAt, &attr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if defaultValue.Valid {
		var v entities.TypedValue
		if err := json.Unmarshal([]byte(defaultValue.String), &v); err != nil {
			return nil, fmt.Errorf("failed to decode default value: %w", err)
		}
		attr.DefaultValue = &v
	}
	if ruleMin.Valid {
		attr.Rules.Min = &ruleMin.Float64
	}
	if ruleMax.Valid {
		attr.Rules.Max = &ruleMax.Float64
	}
	attr.Rules.Pattern = rulePattern.String
	if ruleEnum.Valid && ruleEnum.String != "" {
		if err := json.Unmarshal([]byte(ruleEnum.String), &attr.Rules.Enum); err != nil {
			return nil, fmt.Errorf("failed to decode enum rule: %w", err)
		}
	}
	attr.ReferenceEntityTypeID = refType.String
	attr.ReferenceDisplayField = refDisplay.String
	attr.OnDelete = entities.DeletePolicy(onDelete.String)
	attr.GroupID = groupID.String

	return &attr, nil
}

func encodeDefaultValue(v *entities.TypedValue) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func encodeEnum(values []string) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
