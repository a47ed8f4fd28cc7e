package services

import (
	"context"
	"sort"
	"sync"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// memStore is the shared state behind the in-memory mock repositories.
type memStore struct {
	mu       sync.Mutex
	types    map[string]*entities.EntityType
	attrs    map[string]*entities.AttributeDefinition
	groups   []*entities.AttributeGroup
	rows     map[string]*entities.Entity
	values   map[string][]*entities.EntityValue
	counters map[string]int64

	// failure injection for sequence tests: popped per NextCounter call
	sequenceFailures []error
	// lock keys recorded by LockUniqueValue
	lockedKeys []string

	// transaction depth of the calling goroutine path, plus the number of
	// counter increments observed while a transaction was open
	inTxDepth         int
	sequenceCallsInTx int
}

func newMemStore() *memStore {
	return &memStore{
		types:    make(map[string]*entities.EntityType),
		attrs:    make(map[string]*entities.AttributeDefinition),
		rows:     make(map[string]*entities.Entity),
		values:   make(map[string][]*entities.EntityValue),
		counters: make(map[string]int64),
	}
}

func (s *memStore) repos() *repositories.Repositories {
	return &repositories.Repositories{
		EntityTypes: &mockEntityTypeRepo{s},
		Attributes:  &mockAttributeRepo{s},
		Entities:    &mockEntityRepo{store: s},
		Values:      &mockValueRepo{s},
		Sequences:   &mockSequenceRepo{s},
	}
}

// mockTxManager runs the function directly against the store-backed repos.
type mockTxManager struct {
	store *memStore
}

func (m *mockTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, repos *repositories.Repositories) error) error {
	m.store.mu.Lock()
	m.store.inTxDepth++
	m.store.mu.Unlock()
	defer func() {
		m.store.mu.Lock()
		m.store.inTxDepth--
		m.store.mu.Unlock()
	}()
	return fn(ctx, m.store.repos())
}

// --- entity types ---

type mockEntityTypeRepo struct {
	store *memStore
}

func (m *mockEntityTypeRepo) Create(ctx context.Context, entityType *entities.EntityType) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, t := range m.store.types {
		if t.Name == entityType.Name {
			return &entities.ConflictError{Kind: entities.ConflictDuplicateUniqueValue, Message: "entity type name taken"}
		}
	}
	cp := *entityType
	m.store.types[entityType.ID] = &cp
	return nil
}

func (m *mockEntityTypeRepo) GetByID(ctx context.Context, id string) (*entities.EntityType, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	t, ok := m.store.types[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	cp.Attributes = nil
	return &cp, nil
}

func (m *mockEntityTypeRepo) GetByName(ctx context.Context, name string) (*entities.EntityType, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, t := range m.store.types {
		if t.Name == name {
			cp := *t
			cp.Attributes = nil
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *mockEntityTypeRepo) List(ctx context.Context, includeInactive bool) ([]*entities.EntityType, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var result []*entities.EntityType
	for _, t := range m.store.types {
		if !includeInactive && !t.IsActive {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *mockEntityTypeRepo) SetActive(ctx context.Context, id string, active bool) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	t, ok := m.store.types[id]
	if !ok {
		return repositories.ErrNotFound
	}
	t.IsActive = active
	return nil
}

// --- attribute definitions ---

type mockAttributeRepo struct {
	store *memStore
}

func (m *mockAttributeRepo) Create(ctx context.Context, attr *entities.AttributeDefinition) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	cp := *attr
	m.store.attrs[attr.ID] = &cp
	return nil
}

func (m *mockAttributeRepo) Update(ctx context.Context, attr *entities.AttributeDefinition) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, ok := m.store.attrs[attr.ID]; !ok {
		return repositories.ErrNotFound
	}
	cp := *attr
	m.store.attrs[attr.ID] = &cp
	return nil
}

func (m *mockAttributeRepo) GetByID(ctx context.Context, id string) (*entities.AttributeDefinition, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	a, ok := m.store.attrs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAttributeRepo) GetByEntityType(ctx context.Context, entityTypeID string, includeInactive bool) ([]*entities.AttributeDefinition, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var result []*entities.AttributeDefinition
	for _, a := range m.store.attrs {
		if a.EntityTypeID != entityTypeID {
			continue
		}
		if !includeInactive && !a.IsActive {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SortOrder != result[j].SortOrder {
			return result[i].SortOrder < result[j].SortOrder
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (m *mockAttributeRepo) SetActive(ctx context.Context, id string, active bool) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	a, ok := m.store.attrs[id]
	if !ok {
		return repositories.ErrNotFound
	}
	a.IsActive = active
	return nil
}

func (m *mockAttributeRepo) ListReferencing(ctx context.Context, targetEntityTypeID string) ([]*entities.AttributeDefinition, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var result []*entities.AttributeDefinition
	for _, a := range m.store.attrs {
		if a.DataType == entities.DataTypeReference && a.ReferenceEntityTypeID == targetEntityTypeID && a.IsActive {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockAttributeRepo) CreateGroup(ctx context.Context, group *entities.AttributeGroup) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	cp := *group
	m.store.groups = append(m.store.groups, &cp)
	return nil
}

func (m *mockAttributeRepo) ListGroups(ctx context.Context, entityTypeID string) ([]*entities.AttributeGroup, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var result []*entities.AttributeGroup
	for _, g := range m.store.groups {
		if g.EntityTypeID == entityTypeID {
			cp := *g
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SortOrder < result[j].SortOrder })
	return result, nil
}

// --- entities ---

type mockEntityRepo struct {
	store *memStore

	// stubbed Query response; lastSpec captures the QuerySpec for assertions
	stubIDs   []string
	stubTotal int
	lastSpec  *repositories.QuerySpec
}

func (m *mockEntityRepo) Create(ctx context.Context, entity *entities.Entity) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if entity.ExternalID != "" {
		for _, e := range m.store.rows {
			if e.EntityTypeID == entity.EntityTypeID && e.ExternalID == entity.ExternalID && e.IsActive {
				return &entities.ConflictError{Kind: entities.ConflictDuplicateUniqueValue, Message: "external id taken"}
			}
		}
	}
	cp := *entity
	m.store.rows[entity.ID] = &cp
	return nil
}

func (m *mockEntityRepo) GetByID(ctx context.Context, id string) (*entities.Entity, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	e, ok := m.store.rows[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockEntityRepo) GetByExternalID(ctx context.Context, entityTypeID, externalID string) (*entities.Entity, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, e := range m.store.rows {
		if e.EntityTypeID == entityTypeID && e.ExternalID == externalID && e.IsActive {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *mockEntityRepo) Update(ctx context.Context, entity *entities.Entity) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, ok := m.store.rows[entity.ID]; !ok {
		return repositories.ErrNotFound
	}
	cp := *entity
	m.store.rows[entity.ID] = &cp
	return nil
}

func (m *mockEntityRepo) SetActive(ctx context.Context, id string, active bool) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	e, ok := m.store.rows[id]
	if !ok {
		return repositories.ErrNotFound
	}
	e.IsActive = active
	return nil
}

func (m *mockEntityRepo) Query(ctx context.Context, spec *repositories.QuerySpec) ([]string, int, error) {
	m.lastSpec = spec
	return m.stubIDs, m.stubTotal, nil
}

// --- values ---

type mockValueRepo struct {
	store *memStore
}

func (m *mockValueRepo) GetValues(ctx context.Context, entityID string) ([]*entities.EntityValue, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return copyValueRows(m.store.values[entityID]), nil
}

func (m *mockValueRepo) GetValuesForEntities(ctx context.Context, entityIDs []string) (map[string][]*entities.EntityValue, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	result := make(map[string][]*entities.EntityValue)
	for _, id := range entityIDs {
		if rows := m.store.values[id]; len(rows) > 0 {
			result[id] = copyValueRows(rows)
		}
	}
	return result, nil
}

func (m *mockValueRepo) SetValues(ctx context.Context, entityID string, values []*entities.EntityValue, replace bool) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	written := make(map[string]bool)
	for _, v := range values {
		written[v.AttributeID] = true
	}

	current := m.store.values[entityID]
	if replace {
		var kept []*entities.EntityValue
		for _, row := range current {
			if !written[row.AttributeID] {
				kept = append(kept, row)
			}
		}
		current = kept
	}

	for _, v := range values {
		attr := m.store.attrs[v.AttributeID]
		cp := *v
		cp.EntityID = entityID

		if attr != nil && attr.Cardinality == entities.CardinalitySingle {
			replaced := false
			for i, row := range current {
				if row.AttributeID == v.AttributeID {
					current[i] = &cp
					replaced = true
					break
				}
			}
			if !replaced {
				current = append(current, &cp)
			}
			continue
		}

		// MULTI append after current highest sort index
		max := -1
		for _, row := range current {
			if row.AttributeID == v.AttributeID && row.SortIndex > max {
				max = row.SortIndex
			}
		}
		if !replace {
			cp.SortIndex = max + 1
		}
		current = append(current, &cp)
	}

	m.store.values[entityID] = current
	return nil
}

func (m *mockValueRepo) DeleteForAttribute(ctx context.Context, entityID, attributeID string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var kept []*entities.EntityValue
	for _, row := range m.store.values[entityID] {
		if row.AttributeID != attributeID {
			kept = append(kept, row)
		}
	}
	m.store.values[entityID] = kept
	return nil
}

func (m *mockValueRepo) FindEntityIDsByValue(ctx context.Context, attr *entities.AttributeDefinition, v entities.TypedValue, excludeEntityID string) ([]string, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var ids []string
	for entityID, rows := range m.store.values {
		if entityID == excludeEntityID {
			continue
		}
		e := m.store.rows[entityID]
		if e == nil || !e.IsActive || e.EntityTypeID != attr.EntityTypeID {
			continue
		}
		for _, row := range rows {
			if row.AttributeID == attr.ID && row.Value.Equal(v) {
				ids = append(ids, entityID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockValueRepo) CountForAttribute(ctx context.Context, attributeID string) (int, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	count := 0
	for _, rows := range m.store.values {
		for _, row := range rows {
			if row.AttributeID == attributeID {
				count++
			}
		}
	}
	return count, nil
}

func (m *mockValueRepo) FindReferencing(ctx context.Context, targetEntityID string, attributeIDs []string) ([]repositories.InboundReference, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	wanted := make(map[string]bool, len(attributeIDs))
	for _, id := range attributeIDs {
		wanted[id] = true
	}
	var refs []repositories.InboundReference
	for entityID, rows := range m.store.values {
		e := m.store.rows[entityID]
		if e == nil || !e.IsActive {
			continue
		}
		for _, row := range rows {
			if wanted[row.AttributeID] && row.Value.Reference != nil && *row.Value.Reference == targetEntityID {
				refs = append(refs, repositories.InboundReference{EntityID: entityID, AttributeID: row.AttributeID})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].EntityID < refs[j].EntityID })
	return refs, nil
}

func (m *mockValueRepo) ClearReferences(ctx context.Context, attributeID, targetEntityID string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for entityID, rows := range m.store.values {
		var kept []*entities.EntityValue
		for _, row := range rows {
			if row.AttributeID == attributeID && row.Value.Reference != nil && *row.Value.Reference == targetEntityID {
				continue
			}
			kept = append(kept, row)
		}
		m.store.values[entityID] = kept
	}
	return nil
}

func (m *mockValueRepo) LockUniqueValue(ctx context.Context, attributeID string, v entities.TypedValue) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.lockedKeys = append(m.store.lockedKeys, attributeID+":"+v.String())
	return nil
}

// --- sequences ---

type mockSequenceRepo struct {
	store *memStore
}

func (m *mockSequenceRepo) Init(ctx context.Context, attributeID string, start int64) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, ok := m.store.counters[attributeID]; !ok {
		m.store.counters[attributeID] = start - 1
	}
	return nil
}

func (m *mockSequenceRepo) NextCounter(ctx context.Context, attributeID string) (int64, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if m.store.inTxDepth > 0 {
		m.store.sequenceCallsInTx++
	}
	if len(m.store.sequenceFailures) > 0 {
		err := m.store.sequenceFailures[0]
		m.store.sequenceFailures = m.store.sequenceFailures[1:]
		if err != nil {
			return 0, err
		}
	}
	c, ok := m.store.counters[attributeID]
	if !ok {
		return 0, repositories.ErrNotFound
	}
	c++
	m.store.counters[attributeID] = c
	return c, nil
}

// --- audit ---

type mockPublisher struct {
	mu     sync.Mutex
	events []*entities.AuditEvent
}

func (p *mockPublisher) Publish(ctx context.Context, event *entities.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func copyValueRows(rows []*entities.EntityValue) []*entities.EntityValue {
	result := make([]*entities.EntityValue, 0, len(rows))
	for _, row := range rows {
		cp := *row
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AttributeID != result[j].AttributeID {
			return result[i].AttributeID < result[j].AttributeID
		}
		return result[i].SortIndex < result[j].SortIndex
	})
	return result
}
