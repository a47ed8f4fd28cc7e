package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// PostgresValueRepository implements ValueRepository using PostgreSQL.
// One entity_values row holds exactly one populated typed column; which one
// is decided here and nowhere else.
type PostgresValueRepository struct {
	db DBTX
}

// NewPostgresValueRepository creates a new PostgreSQL value repository
func NewPostgresValueRepository(db DBTX) repositories.ValueRepository {
	return &PostgresValueRepository{db: db}
}

const valueColumns = `
	v.id, v.entity_id, v.attribute_id, v.sort_index, a.data_type,
	v.value_text, v.value_number, v.value_boolean, v.value_date,
	v.value_datetime, v.value_json, v.value_blob, v.created_at, v.updated_at`

// GetValues retrieves all value rows for an entity
func (r *PostgresValueRepository) GetValues(ctx context.Context, entityID string) ([]*entities.EntityValue, error) {
	query := `SELECT` + valueColumns + `
		FROM entity_values v
		JOIN attribute_definitions a ON a.id = v.attribute_id
		WHERE v.entity_id = $1
		ORDER BY v.attribute_id, v.sort_index
	`
	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, translateError("get values", err)
	}
	defer rows.Close()
	return collectValues(rows)
}

// GetValuesForEntities retrieves value rows for many entities grouped by entity id
func (r *PostgresValueRepository) GetValuesForEntities(ctx context.Context, entityIDs []string) (map[string][]*entities.EntityValue, error) {
	result := make(map[string][]*entities.EntityValue, len(entityIDs))
	if len(entityIDs) == 0 {
		return result, nil
	}

	query := `SELECT` + valueColumns + `
		FROM entity_values v
		JOIN attribute_definitions a ON a.id = v.attribute_id
		WHERE v.entity_id = ANY($1)
		ORDER BY v.entity_id, v.attribute_id, v.sort_index
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(entityIDs))
	if err != nil {
		return nil, translateError("get values for entities", err)
	}
	defer rows.Close()

	values, err := collectValues(rows)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		result[v.EntityID] = append(result[v.EntityID], v)
	}
	return result, nil
}

// SetValues writes value rows for an entity: SINGLE upserts, MULTI appends
// (or replaces when requested). Runs inside the caller's transaction.
func (r *PostgresValueRepository) SetValues(ctx context.Context, entityID string, values []*entities.EntityValue, replace bool) error {
	if len(values) == 0 {
		return nil
	}

	attrIDs := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid value for attribute %s: %w", v.AttributeID, err)
		}
		if v.EntityID != entityID {
			return fmt.Errorf("value entity id %s does not match %s", v.EntityID, entityID)
		}
		if !seen[v.AttributeID] {
			seen[v.AttributeID] = true
			attrIDs = append(attrIDs, v.AttributeID)
		}
	}

	cardinalities, err := r.loadCardinalities(ctx, attrIDs)
	if err != nil {
		return err
	}

	if replace {
		query := `DELETE FROM entity_values WHERE entity_id = $1 AND attribute_id = ANY($2)`
		if _, err := r.db.ExecContext(ctx, query, entityID, pq.Array(attrIDs)); err != nil {
			return translateError("replace values", err)
		}
	}

	// MULTI appends continue after the current highest sort index.
	nextIndex := make(map[string]int, len(attrIDs))
	for _, attrID := range attrIDs {
		if cardinalities[attrID] != entities.CardinalityMulti {
			continue
		}
		var max sql.NullInt64
		query := `SELECT MAX(sort_index) FROM entity_values WHERE entity_id = $1 AND attribute_id = $2`
		if err := r.db.QueryRowContext(ctx, query, entityID, attrID).Scan(&max); err != nil {
			return translateError("read max sort index", err)
		}
		if max.Valid {
			nextIndex[attrID] = int(max.Int64) + 1
		}
	}

	now := time.Now().UTC()
	for _, v := range values {
		card, ok := cardinalities[v.AttributeID]
		if !ok {
			return fmt.Errorf("unknown attribute: %s", v.AttributeID)
		}

		cols, err := typedColumnValues(v.Value)
		if err != nil {
			return fmt.Errorf("value for attribute %s: %w", v.AttributeID, err)
		}

		if card == entities.CardinalitySingle {
			query := `
				INSERT INTO entity_values (entity_id, attribute_id, sort_index,
					value_text, value_number, value_boolean, value_date,
					value_datetime, value_json, value_blob, created_at, updated_at)
				VALUES ($1, $2, 0, $3, $4, $5, $6, $7, $8, $9, $10, $10)
				ON CONFLICT (entity_id, attribute_id, sort_index)
				DO UPDATE SET
					value_text = EXCLUDED.value_text,
					value_number = EXCLUDED.value_number,
					value_boolean = EXCLUDED.value_boolean,
					value_date = EXCLUDED.value_date,
					value_datetime = EXCLUDED.value_datetime,
					value_json = EXCLUDED.value_json,
					value_blob = EXCLUDED.value_blob,
					updated_at = EXCLUDED.updated_at
			`
			args := append([]interface{}{entityID, v.AttributeID}, cols...)
			args = append(args, now)
			if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
				return translateError("upsert value", err)
			}
			continue
		}

		idx := nextIndex[v.AttributeID]
		nextIndex[v.AttributeID] = idx + 1
		query := `
			INSERT INTO entity_values (entity_id, attribute_id, sort_index,
				value_text, value_number, value_boolean, value_date,
				value_datetime, value_json, value_blob, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		`
		args := append([]interface{}{entityID, v.AttributeID, idx}, cols...)
		args = append(args, now)
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return translateError("append value", err)
		}
	}

	return nil
}

// DeleteForAttribute removes the value rows of one attribute on one entity
func (r *PostgresValueRepository) DeleteForAttribute(ctx context.Context, entityID, attributeID string) error {
	query := `DELETE FROM entity_values WHERE entity_id = $1 AND attribute_id = $2`
	if _, err := r.db.ExecContext(ctx, query, entityID, attributeID); err != nil {
		return translateError("delete values", err)
	}
	return nil
}

// FindEntityIDsByValue returns active entities holding a value equal to v
func (r *PostgresValueRepository) FindEntityIDsByValue(ctx context.Context, attr *entities.AttributeDefinition, v entities.TypedValue, excludeEntityID string) ([]string, error) {
	bound, err := bindTypedValue(v)
	if err != nil {
		return nil, fmt.Errorf("probe value for %q: %w", attr.Name, err)
	}

	query := fmt.Sprintf(`
		SELECT e.id
		FROM entities e
		JOIN entity_values v ON v.entity_id = e.id
		WHERE e.entity_type_id = $1 AND e.is_active
			AND v.attribute_id = $2 AND v.%s = $3
			AND ($4 = '' OR e.id <> $4)
	`, valueColumn(attr.DataType))

	rows, err := r.db.QueryContext(ctx, query, attr.EntityTypeID, attr.ID, bound, excludeEntityID)
	if err != nil {
		return nil, translateError("find entities by value", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, translateError("scan entity id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("iterate entities by value", err)
	}
	return ids, nil
}

// CountForAttribute returns the number of value rows stored for an attribute
func (r *PostgresValueRepository) CountForAttribute(ctx context.Context, attributeID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM entity_values WHERE attribute_id = $1`
	if err := r.db.QueryRowContext(ctx, query, attributeID).Scan(&count); err != nil {
		return 0, translateError("count values", err)
	}
	return count, nil
}

// FindReferencing returns active inbound reference rows pointing at a target
func (r *PostgresValueRepository) FindReferencing(ctx context.Context, targetEntityID string, attributeIDs []string) ([]repositories.InboundReference, error) {
	if len(attributeIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT v.entity_id, v.attribute_id
		FROM entity_values v
		JOIN entities e ON e.id = v.entity_id
		WHERE v.attribute_id = ANY($1) AND v.value_text = $2 AND e.is_active
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(attributeIDs), targetEntityID)
	if err != nil {
		return nil, translateError("find referencing values", err)
	}
	defer rows.Close()

	var refs []repositories.InboundReference
	for rows.Next() {
		var ref repositories.InboundReference
		if err := rows.Scan(&ref.EntityID, &ref.AttributeID); err != nil {
			return nil, translateError("scan inbound reference", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("iterate inbound references", err)
	}
	return refs, nil
}

// ClearReferences removes value rows holding a reference to the target
func (r *PostgresValueRepository) ClearReferences(ctx context.Context, attributeID, targetEntityID string) error {
	query := `DELETE FROM entity_values WHERE attribute_id = $1 AND value_text = $2`
	if _, err := r.db.ExecContext(ctx, query, attributeID, targetEntityID); err != nil {
		return translateError("clear references", err)
	}
	return nil
}

// LockUniqueValue serializes concurrent writers of one (attribute, value)
// pair for the rest of the transaction via a transaction-scoped advisory
// lock. Application-level read-then-write is unsafe here; the lock plus the
// re-probe closes the race.
func (r *PostgresValueRepository) LockUniqueValue(ctx context.Context, attributeID string, v entities.TypedValue) error {
	key, err := canonicalValueKey(attributeID, v)
	if err != nil {
		return err
	}
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return translateError("lock unique value", err)
	}
	return nil
}

func (r *PostgresValueRepository) loadCardinalities(ctx context.Context, attrIDs []string) (map[string]entities.Cardinality, error) {
	query := `SELECT id, cardinality FROM attribute_definitions WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(attrIDs))
	if err != nil {
		return nil, translateError("load cardinalities", err)
	}
	defer rows.Close()

	result := make(map[string]entities.Cardinality, len(attrIDs))
	for rows.Next() {
		var id string
		var card entities.Cardinality
		if err := rows.Scan(&id, &card); err != nil {
			return nil, translateError("scan cardinality", err)
		}
		result[id] = card
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("iterate cardinalities", err)
	}
	return result, nil
}

// typedColumnValues spreads a TypedValue over the seven physical columns,
// populating exactly one of them.
func typedColumnValues(v entities.TypedValue) ([]interface{}, error) {
	cols := make([]interface{}, 7) // text, number, boolean, date, datetime, json, blob
	bound, err := bindTypedValue(v)
	if err != nil {
		return nil, err
	}
	switch v.Type {
	case entities.DataTypeText, entities.DataTypeReference:
		cols[0] = bound
	case entities.DataTypeNumber:
		cols[1] = bound
	case entities.DataTypeBoolean:
		cols[2] = bound
	case entities.DataTypeDate:
		cols[3] = bound
	case entities.DataTypeDateTime:
		cols[4] = bound
	case entities.DataTypeJSON:
		cols[5] = bound
	case entities.DataTypeBlob:
		cols[6] = bound
	}
	return cols, nil
}

// collectValues reads entity_values rows joined with the attribute data type
// and rebuilds TypedValues from whichever physical column is populated.
func collectValues(rows *sql.Rows) ([]*entities.EntityValue, error) {
	var result []*entities.EntityValue
	for rows.Next() {
		var (
			ev       entities.EntityValue
			dataType entities.DataType
			text     sql.NullString
			number   sql.NullString
			boolean  sql.NullBool
			date     sql.NullTime
			datetime sql.NullTime
			jsonRaw  []byte
			blob     []byte
		)
		err := rows.Scan(&ev.ID, &ev.EntityID, &ev.AttributeID, &ev.SortIndex, &dataType,
			&text, &number, &boolean, &date, &datetime, &jsonRaw, &blob,
			&ev.CreatedAt, &ev.UpdatedAt)
		if err != nil {
			return nil, translateError("scan value", err)
		}

		ev.Value = entities.TypedValue{Type: dataType}
		switch dataType {
		case entities.DataTypeText:
			if text.Valid {
				ev.Value.Text = &text.String
			}
		case entities.DataTypeNumber:
			if number.Valid {
				ev.Value.Number = &number.String
			}
		case entities.DataTypeBoolean:
			if boolean.Valid {
				ev.Value.Boolean = &boolean.Bool
			}
		case entities.DataTypeDate:
			if date.Valid {
				d := date.Time.UTC()
				ev.Value.Date = &d
			}
		case entities.DataTypeDateTime:
			if datetime.Valid {
				d := datetime.Time.UTC()
				ev.Value.DateTime = &d
			}
		case entities.DataTypeJSON:
			if jsonRaw != nil {
				ev.Value.JSON = json.RawMessage(jsonRaw)
			}
		case entities.DataTypeBlob:
			if blob != nil {
				ev.Value.Blob = blob
			}
		case entities.DataTypeReference:
			if text.Valid {
				ev.Value.Reference = &text.String
			}
		}
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("iterate values", err)
	}
	return result, nil
}

// canonicalValueKey builds the advisory lock key for a unique value. The
// value part is canonicalized so "1.50" and "1.5" take the same lock.
func canonicalValueKey(attributeID string, v entities.TypedValue) (string, error) {
	var value string
	switch v.Type {
	case entities.DataTypeText:
		if v.Text == nil {
			return "", fmt.Errorf("TEXT value is empty")
		}
		value = *v.Text
	case entities.DataTypeNumber:
		if v.Number == nil {
			return "", fmt.Errorf("NUMBER value is empty")
		}
		rat, ok := new(big.Rat).SetString(*v.Number)
		if !ok {
			return "", fmt.Errorf("invalid number: %q", *v.Number)
		}
		value = rat.RatString()
	case entities.DataTypeBoolean:
		if v.Boolean == nil {
			return "", fmt.Errorf("BOOLEAN value is empty")
		}
		value = fmt.Sprintf("%t", *v.Boolean)
	case entities.DataTypeDate:
		if v.Date == nil {
			return "", fmt.Errorf("DATE value is empty")
		}
		value = v.Date.UTC().Format("2006-01-02")
	case entities.DataTypeDateTime:
		if v.DateTime == nil {
			return "", fmt.Errorf("DATETIME value is empty")
		}
		value = v.DateTime.UTC().Format(time.RFC3339Nano)
	case entities.DataTypeJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, v.JSON); err != nil {
			return "", fmt.Errorf("invalid JSON value: %w", err)
		}
		value = buf.String()
	case entities.DataTypeBlob:
		value = string(v.Blob)
	case entities.DataTypeReference:
		if v.Reference == nil {
			return "", fmt.Errorf("REFERENCE value is empty")
		}
		value = *v.Reference
	default:
		return "", fmt.Errorf("unsupported data type: %s", v.Type)
	}
	return attributeID + "\x1f" + value, nil
}
