package postgres

import (
	"fmt"
	"strings"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// valueColumn maps a data type onto its physical slot in entity_values.
// REFERENCE ids share the text slot.
func valueColumn(d entities.DataType) string {
	switch d {
	case entities.DataTypeNumber:
		return "value_number"
	case entities.DataTypeBoolean:
		return "value_boolean"
	case entities.DataTypeDate:
		return "value_date"
	case entities.DataTypeDateTime:
		return "value_datetime"
	case entities.DataTypeJSON:
		return "value_json"
	case entities.DataTypeBlob:
		return "value_blob"
	default: // TEXT, REFERENCE
		return "value_text"
	}
}

// bindTypedValue returns the driver argument for the populated slot.
func bindTypedValue(v entities.TypedValue) (interface{}, error) {
	switch v.Type {
	case entities.DataTypeText:
		if v.Text == nil {
			return nil, fmt.Errorf("TEXT value is empty")
		}
		return *v.Text, nil
	case entities.DataTypeNumber:
		if v.Number == nil {
			return nil, fmt.Errorf("NUMBER value is empty")
		}
		return *v.Number, nil
	case entities.DataTypeBoolean:
		if v.Boolean == nil {
			return nil, fmt.Errorf("BOOLEAN value is empty")
		}
		return *v.Boolean, nil
	case entities.DataTypeDate:
		if v.Date == nil {
			return nil, fmt.Errorf("DATE value is empty")
		}
		return *v.Date, nil
	case entities.DataTypeDateTime:
		if v.DateTime == nil {
			return nil, fmt.Errorf("DATETIME value is empty")
		}
		return *v.DateTime, nil
	case entities.DataTypeJSON:
		if v.JSON == nil {
			return nil, fmt.Errorf("JSON value is empty")
		}
		return []byte(v.JSON), nil
	case entities.DataTypeBlob:
		if v.Blob == nil {
			return nil, fmt.Errorf("BLOB value is empty")
		}
		return v.Blob, nil
	case entities.DataTypeReference:
		if v.Reference == nil {
			return nil, fmt.Errorf("REFERENCE value is empty")
		}
		return *v.Reference, nil
	}
	return nil, fmt.Errorf("unsupported data type: %s", v.Type)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildEntityQuery renders a QuerySpec into an id query (sorted, windowed)
// and a count query (same predicate, no window). Each filter becomes its own
// correlated EXISTS / NOT EXISTS subquery against entity_values, so an entity
// with no row for a filtered attribute matches only is_empty.
func buildEntityQuery(spec *repositories.QuerySpec) (idQuery, countQuery string, idArgs, countArgs []interface{}, err error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, fmt.Sprintf("e.entity_type_id = %s", arg(spec.EntityTypeID)))
	where = append(where, "e.is_active")

	for _, f := range spec.Filters {
		if f.Attribute == nil {
			return "", "", nil, nil, fmt.Errorf("filter has no attribute")
		}
		attrPred := fmt.Sprintf("v.entity_id = e.id AND v.attribute_id = %s", arg(f.Attribute.ID))

		switch f.Operator {
		case repositories.OpIsEmpty:
			where = append(where, fmt.Sprintf("NOT EXISTS (SELECT 1 FROM entity_values v WHERE %s)", attrPred))
		case repositories.OpIsNotEmpty:
			where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM entity_values v WHERE %s)", attrPred))
		case repositories.OpContains:
			if f.Value.Text == nil {
				return "", "", nil, nil, fmt.Errorf("contains filter on %q has no text value", f.Attribute.Name)
			}
			pattern := "%" + likeEscaper.Replace(*f.Value.Text) + "%"
			where = append(where, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM entity_values v WHERE %s AND v.value_text ILIKE %s)",
				attrPred, arg(pattern)))
		default:
			op, ok := sqlComparison(f.Operator)
			if !ok {
				return "", "", nil, nil, fmt.Errorf("unsupported operator: %s", f.Operator)
			}
			bound, bindErr := bindTypedValue(f.Value)
			if bindErr != nil {
				return "", "", nil, nil, fmt.Errorf("filter on %q: %w", f.Attribute.Name, bindErr)
			}
			where = append(where, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM entity_values v WHERE %s AND v.%s %s %s)",
				attrPred, valueColumn(f.Attribute.DataType), op, arg(bound)))
		}
	}

	whereClause := strings.Join(where, " AND ")
	countQuery = "SELECT COUNT(*) FROM entities e WHERE " + whereClause
	countArgs = append(countArgs, args...)

	// The id query reuses the predicate args and appends sort/window args.
	var join, orderBy string
	if spec.Sort != nil && spec.Sort.Attribute != nil {
		join = fmt.Sprintf(
			" LEFT JOIN entity_values s ON s.entity_id = e.id AND s.attribute_id = %s AND s.sort_index = 0",
			arg(spec.Sort.Attribute.ID))
		orderBy = fmt.Sprintf(" ORDER BY s.%s %s NULLS LAST, e.id",
			valueColumn(spec.Sort.Attribute.DataType), sortDirection(spec.Sort.Descending))
	} else {
		dir := "ASC"
		if spec.Sort != nil && spec.Sort.Descending {
			dir = "DESC"
		}
		orderBy = fmt.Sprintf(" ORDER BY e.created_at %s, e.id", dir)
	}

	window := ""
	if spec.Page.Limit > 0 {
		window += fmt.Sprintf(" LIMIT %s", arg(spec.Page.Limit))
	}
	if spec.Page.Offset > 0 {
		window += fmt.Sprintf(" OFFSET %s", arg(spec.Page.Offset))
	}

	idQuery = "SELECT e.id FROM entities e" + join + " WHERE " + whereClause + orderBy + window
	idArgs = args
	return idQuery, countQuery, idArgs, countArgs, nil
}

func sqlComparison(op repositories.FilterOperator) (string, bool) {
	switch op {
	case repositories.OpEquals:
		return "=", true
	case repositories.OpNotEquals:
		return "<>", true
	case repositories.OpGreater:
		return ">", true
	case repositories.OpGreaterEq:
		return ">=", true
	case repositories.OpLess:
		return "<", true
	case repositories.OpLessEq:
		return "<=", true
	}
	return "", false
}

func sortDirection(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}
