package services

import (
	"context"
	"fmt"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// defaultPageLimit applies when a query does not request a page size.
const defaultPageLimit = 50

// FilterInput is one caller-supplied filter, by attribute name.
type FilterInput struct {
	AttributeName string
	Operator      repositories.FilterOperator
	Value         *entities.TypedValue // nil for is_empty / is_not_empty
}

// QueryRequest is a multi-attribute query over one entity type. Filters
// combine with AND semantics.
type QueryRequest struct {
	EntityTypeName string
	Filters        []FilterInput
	SortAttribute  string // empty sorts by creation time
	SortDescending bool
	Limit          int
	Offset         int
	ExpandDepth    int // reference display expansion, 0 = one hop
}

// QueryResult carries one page of hydrated entities plus the total match
// count without the page window.
type QueryResult struct {
	Entities []*entities.HydratedEntity
	Total    int
}

// QueryServiceInterface defines the interface for entity queries
type QueryServiceInterface interface {
	Query(ctx context.Context, req *QueryRequest) (*QueryResult, error)
	GetByExternalID(ctx context.Context, entityTypeName, externalID string) (*entities.HydratedEntity, error)
}

// QueryService validates and executes entity queries. Operator validity
// depends on the attribute's data type; SQL generation itself lives in the
// postgres repository.
type QueryService struct {
	registry       RegistryServiceInterface
	repos          *repositories.Repositories
	maxPageSize    int
	maxExpandDepth int
}

// NewQueryService creates a new QueryService.
func NewQueryService(registry RegistryServiceInterface, repos *repositories.Repositories, maxPageSize, maxExpandDepth int) *QueryService {
	if maxPageSize < 1 {
		maxPageSize = defaultPageLimit
	}
	if maxExpandDepth < 1 {
		maxExpandDepth = 1
	}
	return &QueryService{
		registry:       registry,
		repos:          repos,
		maxPageSize:    maxPageSize,
		maxExpandDepth: maxExpandDepth,
	}
}

// Query executes a validated query and hydrates the matching entities.
func (s *QueryService) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	entityType, err := s.registry.GetEntityType(ctx, req.EntityTypeName)
	if err != nil {
		return nil, err
	}

	spec := &repositories.QuerySpec{
		EntityTypeID: entityType.ID,
	}

	for _, f := range req.Filters {
		filter, err := buildFilter(entityType, f)
		if err != nil {
			return nil, err
		}
		spec.Filters = append(spec.Filters, *filter)
	}

	if req.SortAttribute != "" {
		attr := entityType.GetAttribute(req.SortAttribute)
		if attr == nil {
			return nil, fmt.Errorf("unknown sort attribute: %s", req.SortAttribute)
		}
		spec.Sort = &repositories.Sort{Attribute: attr, Descending: req.SortDescending}
	} else if req.SortDescending {
		spec.Sort = &repositories.Sort{Descending: true}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	spec.Page = repositories.Page{Limit: limit, Offset: offset}

	ids, total, err := s.repos.Entities.Query(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	hydrated, err := hydrateByIDs(ctx, s.repos, entityType, ids)
	if err != nil {
		return nil, err
	}

	resolver := NewReferenceService(s.repos, s.maxExpandDepth)
	if err := resolver.ExpandDisplay(ctx, entityType, hydrated, req.ExpandDepth); err != nil {
		return nil, err
	}

	return &QueryResult{Entities: hydrated, Total: total}, nil
}

// GetByExternalID retrieves one active entity by its per-type external id.
func (s *QueryService) GetByExternalID(ctx context.Context, entityTypeName, externalID string) (*entities.HydratedEntity, error) {
	if externalID == "" {
		return nil, fmt.Errorf("external ID is required")
	}

	entityType, err := s.registry.GetEntityType(ctx, entityTypeName)
	if err != nil {
		return nil, err
	}

	entity, err := s.repos.Entities.GetByExternalID(ctx, entityType.ID, externalID)
	if err != nil {
		if isNotFound(err) {
			return nil, &entities.NotFoundError{Resource: "entity", ID: externalID}
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	hydrated, err := hydrateEntities(ctx, s.repos, entityType, []*entities.Entity{entity})
	if err != nil {
		return nil, err
	}

	resolver := NewReferenceService(s.repos, s.maxExpandDepth)
	if err := resolver.ExpandDisplay(ctx, entityType, hydrated, 1); err != nil {
		return nil, err
	}

	return hydrated[0], nil
}

// buildFilter resolves and validates one filter against the entity type.
func buildFilter(entityType *entities.EntityType, f FilterInput) (*repositories.ValueFilter, error) {
	attr := entityType.GetAttribute(f.AttributeName)
	if attr == nil {
		return nil, fmt.Errorf("unknown filter attribute: %s", f.AttributeName)
	}

	if !operatorValid(attr.DataType, f.Operator) {
		return nil, fmt.Errorf("operator %s is not valid for %s attribute %q",
			f.Operator, attr.DataType, f.AttributeName)
	}

	filter := &repositories.ValueFilter{Attribute: attr, Operator: f.Operator}

	switch f.Operator {
	case repositories.OpIsEmpty, repositories.OpIsNotEmpty:
		// no operand
	default:
		if f.Value == nil {
			return nil, fmt.Errorf("operator %s on %q requires a value", f.Operator, f.AttributeName)
		}
		if err := f.Value.Validate(); err != nil {
			return nil, fmt.Errorf("invalid filter value for %q: %w", f.AttributeName, err)
		}
		if f.Value.Type != attr.DataType {
			return nil, fmt.Errorf("filter value type %s does not match %s attribute %q",
				f.Value.Type, attr.DataType, f.AttributeName)
		}
		filter.Value = *f.Value
	}

	return filter, nil
}

// operatorValid reports whether an operator applies to a data type.
// is_empty and is_not_empty apply to every type.
func operatorValid(dt entities.DataType, op repositories.FilterOperator) bool {
	if op == repositories.OpIsEmpty || op == repositories.OpIsNotEmpty {
		return true
	}

	switch dt {
	case entities.DataTypeText:
		return op == repositories.OpEquals || op == repositories.OpNotEquals || op == repositories.OpContains
	case entities.DataTypeNumber, entities.DataTypeDate, entities.DataTypeDateTime:
		switch op {
		case repositories.OpEquals, repositories.OpNotEquals,
			repositories.OpGreater, repositories.OpGreaterEq,
			repositories.OpLess, repositories.OpLessEq:
			return true
		}
		return false
	case entities.DataTypeBoolean:
		return op == repositories.OpEquals || op == repositories.OpNotEquals
	case entities.DataTypeReference:
		return op == repositories.OpEquals || op == repositories.OpNotEquals
	default:
		// JSON and BLOB support only presence checks
		return false
	}
}

// hydrateByIDs loads entity rows in id order and hydrates them.
func hydrateByIDs(ctx context.Context, repos *repositories.Repositories, entityType *entities.EntityType, ids []string) ([]*entities.HydratedEntity, error) {
	rows := make([]*entities.Entity, 0, len(ids))
	for _, id := range ids {
		entity, err := repos.Entities.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity %s: %w", id, err)
		}
		rows = append(rows, entity)
	}
	return hydrateEntities(ctx, repos, entityType, rows)
}

// hydrateEntities attaches the attribute-name → value map of each entity.
// TYPE-scope attributes hydrate from the definition's default value; their
// values are shared by every instance and never stored per entity.
func hydrateEntities(ctx context.Context, repos *repositories.Repositories, entityType *entities.EntityType, rows []*entities.Entity) ([]*entities.HydratedEntity, error) {
	ids := make([]string, 0, len(rows))
	for _, e := range rows {
		ids = append(ids, e.ID)
	}

	valueRows, err := repos.Values.GetValuesForEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load values: %w", err)
	}

	hydrated := make([]*entities.HydratedEntity, 0, len(rows))
	for _, e := range rows {
		h := &entities.HydratedEntity{
			Entity: e,
			Values: make(map[string][]entities.TypedValue),
		}

		for _, row := range valueRows[e.ID] {
			attr := entityType.GetAttributeByID(row.AttributeID)
			if attr == nil {
				// Deactivated definition: value retained but not exposed
				continue
			}
			h.Values[attr.Name] = append(h.Values[attr.Name], row.Value)
		}

		for _, attr := range entityType.Attributes {
			if attr.Scope == entities.ScopeType && attr.DefaultValue != nil {
				h.Values[attr.Name] = []entities.TypedValue{*attr.DefaultValue}
			}
		}

		hydrated = append(hydrated, h)
	}

	return hydrated, nil
}
