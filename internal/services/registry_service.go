package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
	"github.com/asakaida/puroteusu/pkg/cache"
)

// RegistryInvalidator propagates schema changes to the registry caches of
// every running instance. Implemented by infrastructure/cache.RegistryNotifier.
type RegistryInvalidator interface {
	// Generation is embedded in cache keys; a bump orphans stale entries.
	Generation() uint64
	// Invalidate bumps the generation and publishes the change.
	Invalidate(ctx context.Context, entityTypeID string) error
}

// RegistryServiceInterface defines the interface for schema registry operations
type RegistryServiceInterface interface {
	DefineEntityType(ctx context.Context, entityType *entities.EntityType) error
	GetEntityType(ctx context.Context, name string) (*entities.EntityType, error)
	GetEntityTypeByID(ctx context.Context, id string) (*entities.EntityType, error)
	ListEntityTypes(ctx context.Context, includeInactive bool) ([]*entities.EntityType, error)
	DefineAttribute(ctx context.Context, attr *entities.AttributeDefinition) error
	UpdateAttribute(ctx context.Context, attr *entities.AttributeDefinition) error
	DeactivateAttribute(ctx context.Context, attributeID string) error
	ListAttributes(ctx context.Context, entityTypeID string, includeInactive bool) ([]*entities.AttributeDefinition, error)
	DefineGroup(ctx context.Context, group *entities.AttributeGroup) error
	ListGroups(ctx context.Context, entityTypeID string) ([]*entities.AttributeGroup, error)
}

// RegistryService manages entity types, attribute definitions and groups.
// Reads go through an optional memory cache keyed by name and invalidation
// generation; every schema mutation bumps the generation.
type RegistryService struct {
	txManager   repositories.TxManager
	repos       *repositories.Repositories
	cache       cache.Cache
	cacheTTL    time.Duration
	invalidator RegistryInvalidator
	logger      *zap.SugaredLogger
}

// NewRegistryService creates a new RegistryService. cache, invalidator and
// logger may be nil.
func NewRegistryService(
	txManager repositories.TxManager,
	repos *repositories.Repositories,
	c cache.Cache,
	cacheTTL time.Duration,
	invalidator RegistryInvalidator,
	logger *zap.SugaredLogger,
) *RegistryService {
	return &RegistryService{
		txManager:   txManager,
		repos:       repos,
		cache:       c,
		cacheTTL:    cacheTTL,
		invalidator: invalidator,
		logger:      logger,
	}
}

// DefineEntityType registers a new entity type.
func (s *RegistryService) DefineEntityType(ctx context.Context, entityType *entities.EntityType) error {
	if err := entityType.Validate(); err != nil {
		return fmt.Errorf("invalid entity type: %w", err)
	}
	if entityType.ID == "" {
		entityType.ID = entities.NewID()
	}
	entityType.IsActive = true

	if err := s.repos.EntityTypes.Create(ctx, entityType); err != nil {
		return fmt.Errorf("failed to create entity type: %w", err)
	}

	s.logw("entity type defined", "name", entityType.Name, "id", entityType.ID)
	return s.invalidate(ctx, entityType.ID)
}

// GetEntityType retrieves an entity type by name with its active attribute
// definitions loaded.
func (s *RegistryService) GetEntityType(ctx context.Context, name string) (*entities.EntityType, error) {
	if name == "" {
		return nil, fmt.Errorf("entity type name is required")
	}

	key := s.cacheKey("name", name)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			if et, ok := cached.(*entities.EntityType); ok {
				return et, nil
			}
		}
	}

	entityType, err := s.repos.EntityTypes.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, &entities.NotFoundError{Resource: "entity_type", ID: name}
		}
		return nil, fmt.Errorf("failed to get entity type: %w", err)
	}

	if err := s.loadAttributes(ctx, entityType); err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, entityType, s.cacheTTL)
	}

	return entityType, nil
}

// GetEntityTypeByID retrieves an entity type by id with its active attribute
// definitions loaded.
func (s *RegistryService) GetEntityTypeByID(ctx context.Context, id string) (*entities.EntityType, error) {
	if id == "" {
		return nil, fmt.Errorf("entity type ID is required")
	}

	key := s.cacheKey("id", id)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			if et, ok := cached.(*entities.EntityType); ok {
				return et, nil
			}
		}
	}

	entityType, err := s.repos.EntityTypes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, &entities.NotFoundError{Resource: "entity_type", ID: id}
		}
		return nil, fmt.Errorf("failed to get entity type: %w", err)
	}

	if err := s.loadAttributes(ctx, entityType); err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, entityType, s.cacheTTL)
	}

	return entityType, nil
}

// ListEntityTypes retrieves registered entity types.
func (s *RegistryService) ListEntityTypes(ctx context.Context, includeInactive bool) ([]*entities.EntityType, error) {
	types, err := s.repos.EntityTypes.List(ctx, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity types: %w", err)
	}
	return types, nil
}

// DefineAttribute registers a new attribute definition on an existing entity
// type. For auto-increment attributes the sequence counter is initialized in
// the same transaction, so a first allocation can never observe a missing row.
func (s *RegistryService) DefineAttribute(ctx context.Context, attr *entities.AttributeDefinition) error {
	if err := attr.Validate(); err != nil {
		return fmt.Errorf("invalid attribute definition: %w", err)
	}
	if attr.ID == "" {
		attr.ID = entities.NewID()
	}
	attr.IsActive = true

	err := s.txManager.InTransaction(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		// The owning entity type must exist and be active
		owner, err := repos.EntityTypes.GetByID(ctx, attr.EntityTypeID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return &entities.NotFoundError{Resource: "entity_type", ID: attr.EntityTypeID}
			}
			return fmt.Errorf("failed to get entity type: %w", err)
		}
		if !owner.IsActive {
			return &entities.NotFoundError{Resource: "entity_type", ID: attr.EntityTypeID}
		}

		// Attribute names are case-sensitive and unique per entity type.
		// The DB unique constraint is the backstop; this check produces a
		// friendlier error without waiting for 23505.
		existing, err := repos.Attributes.GetByEntityType(ctx, attr.EntityTypeID, true)
		if err != nil {
			return fmt.Errorf("failed to list attribute definitions: %w", err)
		}
		for _, e := range existing {
			if e.Name == attr.Name {
				return &entities.ConflictError{
					Kind:        entities.ConflictDuplicateAttributeName,
					AttributeID: e.ID,
					Message:     fmt.Sprintf("attribute name %q already defined on entity type", attr.Name),
				}
			}
		}

		// REFERENCE targets must be registered, active entity types
		if attr.DataType == entities.DataTypeReference {
			target, err := repos.EntityTypes.GetByID(ctx, attr.ReferenceEntityTypeID)
			if err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					return &entities.NotFoundError{Resource: "reference_target", ID: attr.ReferenceEntityTypeID}
				}
				return fmt.Errorf("failed to get reference target: %w", err)
			}
			if !target.IsActive {
				return &entities.NotFoundError{Resource: "reference_target", ID: attr.ReferenceEntityTypeID}
			}
		}

		if err := repos.Attributes.Create(ctx, attr); err != nil {
			return fmt.Errorf("failed to create attribute definition: %w", err)
		}

		if attr.IsAutoIncrement {
			start := attr.AutoIncrementStart
			if start == 0 {
				start = 1
			}
			if err := repos.Sequences.Init(ctx, attr.ID, start); err != nil {
				return fmt.Errorf("failed to initialize sequence: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logw("attribute defined", "entity_type_id", attr.EntityTypeID, "name", attr.Name, "data_type", attr.DataType)
	return s.invalidate(ctx, attr.EntityTypeID)
}

// UpdateAttribute persists definition changes. The data type is immutable
// once value rows exist for the attribute.
func (s *RegistryService) UpdateAttribute(ctx context.Context, attr *entities.AttributeDefinition) error {
	if err := attr.Validate(); err != nil {
		return fmt.Errorf("invalid attribute definition: %w", err)
	}

	err := s.txManager.InTransaction(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		current, err := repos.Attributes.GetByID(ctx, attr.ID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return &entities.NotFoundError{Resource: "attribute_definition", ID: attr.ID}
			}
			return fmt.Errorf("failed to get attribute definition: %w", err)
		}

		if current.DataType != attr.DataType {
			count, err := repos.Values.CountForAttribute(ctx, attr.ID)
			if err != nil {
				return fmt.Errorf("failed to count attribute values: %w", err)
			}
			if count > 0 {
				return fmt.Errorf("data type of %q cannot change: %d value rows exist", current.Name, count)
			}
		}

		if current.Name != attr.Name {
			return fmt.Errorf("attribute name cannot change")
		}

		if err := repos.Attributes.Update(ctx, attr); err != nil {
			return fmt.Errorf("failed to update attribute definition: %w", err)
		}

		// First-time enablement of auto-increment needs a counter row
		if attr.IsAutoIncrement && !current.IsAutoIncrement {
			start := attr.AutoIncrementStart
			if start == 0 {
				start = 1
			}
			if err := repos.Sequences.Init(ctx, attr.ID, start); err != nil {
				return fmt.Errorf("failed to initialize sequence: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	return s.invalidate(ctx, attr.EntityTypeID)
}

// DeactivateAttribute marks a definition inactive. Stored values are
// retained; they simply stop participating in validation and queries.
func (s *RegistryService) DeactivateAttribute(ctx context.Context, attributeID string) error {
	attr, err := s.repos.Attributes.GetByID(ctx, attributeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return &entities.NotFoundError{Resource: "attribute_definition", ID: attributeID}
		}
		return fmt.Errorf("failed to get attribute definition: %w", err)
	}

	if err := s.repos.Attributes.SetActive(ctx, attributeID, false); err != nil {
		return fmt.Errorf("failed to deactivate attribute: %w", err)
	}

	s.logw("attribute deactivated", "id", attributeID, "name", attr.Name)
	return s.invalidate(ctx, attr.EntityTypeID)
}

// ListAttributes retrieves the definitions of an entity type ordered by
// sort_order then name.
func (s *RegistryService) ListAttributes(ctx context.Context, entityTypeID string, includeInactive bool) ([]*entities.AttributeDefinition, error) {
	if entityTypeID == "" {
		return nil, fmt.Errorf("entity type ID is required")
	}
	attrs, err := s.repos.Attributes.GetByEntityType(ctx, entityTypeID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list attribute definitions: %w", err)
	}
	return attrs, nil
}

// DefineGroup registers an attribute group on an entity type.
func (s *RegistryService) DefineGroup(ctx context.Context, group *entities.AttributeGroup) error {
	if err := group.Validate(); err != nil {
		return fmt.Errorf("invalid attribute group: %w", err)
	}
	if group.ID == "" {
		group.ID = entities.NewID()
	}

	if err := s.repos.Attributes.CreateGroup(ctx, group); err != nil {
		return fmt.Errorf("failed to create attribute group: %w", err)
	}

	return s.invalidate(ctx, group.EntityTypeID)
}

// ListGroups retrieves the groups of an entity type ordered by sort_order.
func (s *RegistryService) ListGroups(ctx context.Context, entityTypeID string) ([]*entities.AttributeGroup, error) {
	if entityTypeID == "" {
		return nil, fmt.Errorf("entity type ID is required")
	}
	groups, err := s.repos.Attributes.ListGroups(ctx, entityTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attribute groups: %w", err)
	}
	return groups, nil
}

func (s *RegistryService) loadAttributes(ctx context.Context, entityType *entities.EntityType) error {
	attrs, err := s.repos.Attributes.GetByEntityType(ctx, entityType.ID, false)
	if err != nil {
		return fmt.Errorf("failed to load attribute definitions: %w", err)
	}
	entityType.Attributes = attrs
	return nil
}

func (s *RegistryService) cacheKey(kind, value string) string {
	var gen uint64
	if s.invalidator != nil {
		gen = s.invalidator.Generation()
	}
	return fmt.Sprintf("registry:%d:%s:%s", gen, kind, value)
}

func (s *RegistryService) invalidate(ctx context.Context, entityTypeID string) error {
	if s.invalidator == nil {
		return nil
	}
	if err := s.invalidator.Invalidate(ctx, entityTypeID); err != nil {
		// The TTL fallback will catch up; schema change itself succeeded
		s.logw("registry invalidation failed", "entity_type_id", entityTypeID, "error", err)
	}
	return nil
}

func (s *RegistryService) logw(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Infow(msg, kv...)
	}
}
