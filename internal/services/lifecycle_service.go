package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/infrastructure/config"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// EngineMetrics aggregates the metric hooks the lifecycle pipeline needs.
// Implemented by metrics.Collector; nil disables collection.
type EngineMetrics interface {
	SequenceMetrics
	ValidationMetrics
}

// CreateEntityRequest carries one entity creation.
type CreateEntityRequest struct {
	EntityTypeName string
	ExternalID     string
	Metadata       json.RawMessage
	ActorID        string
	Values         map[string][]entities.TypedValue
}

// UpdateEntityRequest carries a partial or full entity update. Values holds
// only the changed attributes; attributes absent from the map keep their
// stored values.
type UpdateEntityRequest struct {
	EntityID   string
	ExternalID *string // nil keeps the current external id
	Metadata   json.RawMessage
	ActorID    string
	Values     map[string][]entities.TypedValue
	// Replace deletes the stored rows of each written MULTI attribute
	// before writing; otherwise MULTI writes append.
	Replace bool
	// RevalidateAll validates the merged result of stored and changed
	// values instead of only the changed attributes.
	RevalidateAll bool
}

// DeleteResult reports what a delete removed: the target plus any entities
// taken down by CASCADE policies.
type DeleteResult struct {
	EntityID   string
	CascadeIDs []string
}

// LifecycleServiceInterface defines the interface for entity lifecycle operations
type LifecycleServiceInterface interface {
	Create(ctx context.Context, req *CreateEntityRequest) (*entities.HydratedEntity, error)
	Update(ctx context.Context, req *UpdateEntityRequest) (*entities.HydratedEntity, error)
	Delete(ctx context.Context, entityID, actorID string) (*DeleteResult, error)
	Restore(ctx context.Context, entityID, actorID string) error
	Get(ctx context.Context, entityID string, expandDepth int) (*entities.HydratedEntity, error)
}

// LifecycleService owns entity mutations. Every mutation runs in one
// storage transaction: validate, allocate auto-increment values, persist
// entity and value rows, then emit the audit event after commit. A failed
// step rolls the whole mutation back; readers never observe partial state.
type LifecycleService struct {
	registry  RegistryServiceInterface
	txManager repositories.TxManager
	repos     *repositories.Repositories
	publisher AuditPublisher
	metrics   EngineMetrics
	cfg       config.EngineConfig
	logger    *zap.SugaredLogger
}

// NewLifecycleService creates a new LifecycleService. publisher, metrics and
// logger may be nil.
func NewLifecycleService(
	registry RegistryServiceInterface,
	txManager repositories.TxManager,
	repos *repositories.Repositories,
	publisher AuditPublisher,
	metrics EngineMetrics,
	cfg config.EngineConfig,
	logger *zap.SugaredLogger,
) *LifecycleService {
	return &LifecycleService{
		registry:  registry,
		txManager: txManager,
		repos:     repos,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// Create validates and persists a new entity with its values. Auto-increment
// values are allocated only after the validation gate passes, and each counter
// increment commits on its own statement outside the entity transaction: a
// create that fails later leaves a gap instead of handing the same counter to
// the next caller.
func (s *LifecycleService) Create(ctx context.Context, req *CreateEntityRequest) (*entities.HydratedEntity, error) {
	entityType, err := s.registry.GetEntityType(ctx, req.EntityTypeName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	proposed, err := s.buildProposed(entityType, req.Values)
	if err != nil {
		return nil, err
	}

	validator := NewValidationService(s.repos.Values, s.repos.Entities, s.metrics)
	if err := validator.Validate(ctx, entityType, "", proposed, ValidateOptions{}); err != nil {
		return nil, err
	}

	if err := s.allocateAutoValues(ctx, entityType, proposed); err != nil {
		return nil, err
	}

	var hydrated *entities.HydratedEntity

	err = s.txManager.InTransaction(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		// Re-check uniqueness under the value locks; a concurrent create may
		// have won the race since the unlocked gate above.
		validator := NewValidationService(repos.Values, repos.Entities, s.metrics)
		if err := validator.ValidateUnique(ctx, entityType, "", proposed, ValidateOptions{LockUnique: true}); err != nil {
			return err
		}

		entity := &entities.Entity{
			ID:           entities.NewID(),
			EntityTypeID: entityType.ID,
			ExternalID:   req.ExternalID,
			Metadata:     req.Metadata,
			CreatedBy:    req.ActorID,
			IsActive:     true,
		}
		if err := repos.Entities.Create(ctx, entity); err != nil {
			return fmt.Errorf("failed to create entity: %w", err)
		}

		rows := valueRows(entityType, entity.ID, proposed)
		if len(rows) > 0 {
			if err := repos.Values.SetValues(ctx, entity.ID, rows, false); err != nil {
				return fmt.Errorf("failed to write values: %w", err)
			}
		}

		result, err := hydrateEntities(ctx, repos, entityType, []*entities.Entity{entity})
		if err != nil {
			return err
		}
		hydrated = result[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := entities.NewAuditEvent(entities.AuditCreate, entityType.ID, hydrated.Entity.ID, req.ActorID)
	event.NewValues = proposed
	s.publish(ctx, event)

	s.logw("entity created", "entity_type", entityType.Name, "entity_id", hydrated.Entity.ID)
	return hydrated, nil
}

// Update validates and persists changed values on an existing entity.
func (s *LifecycleService) Update(ctx context.Context, req *UpdateEntityRequest) (*entities.HydratedEntity, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		hydrated   *entities.HydratedEntity
		entityType *entities.EntityType
		oldValues  map[string][]entities.TypedValue
		newValues  map[string][]entities.TypedValue
	)

	err := s.txManager.InTransaction(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		entity, err := s.loadActive(ctx, repos, req.EntityID)
		if err != nil {
			return err
		}

		entityType, err = s.registry.GetEntityTypeByID(ctx, entity.EntityTypeID)
		if err != nil {
			return err
		}

		oldValues, err = storedValues(ctx, repos, entityType, entity.ID)
		if err != nil {
			return err
		}

		changed := make(map[string][]entities.TypedValue, len(req.Values))
		for name, vals := range req.Values {
			attr := entityType.GetAttribute(name)
			if attr != nil && attr.IsAutoIncrement {
				return &entities.ValidationError{Fields: []entities.FieldError{{
					AttributeID:   attr.ID,
					AttributeName: name,
					Kind:          entities.FieldErrorRuleViolation,
					Message:       "auto-increment values are engine-assigned and immutable",
				}}}
			}
			if attr != nil && attr.Scope == entities.ScopeType {
				// TYPE-scope values live on the definition, not the entity
				continue
			}
			changed[name] = vals
		}

		validator := NewValidationService(repos.Values, repos.Entities, s.metrics)
		if req.RevalidateAll {
			merged := make(map[string][]entities.TypedValue, len(oldValues)+len(changed))
			for name, vals := range oldValues {
				merged[name] = vals
			}
			for name, vals := range changed {
				merged[name] = vals
			}
			newValues = merged
			if err := validator.Validate(ctx, entityType, entity.ID, merged, ValidateOptions{LockUnique: true}); err != nil {
				return err
			}
		} else {
			newValues = changed
			if err := validator.Validate(ctx, entityType, entity.ID, changed, ValidateOptions{Partial: true, LockUnique: true}); err != nil {
				return err
			}
		}

		rows := valueRows(entityType, entity.ID, changed)
		if len(rows) > 0 || req.Replace {
			if err := repos.Values.SetValues(ctx, entity.ID, rows, req.Replace); err != nil {
				return fmt.Errorf("failed to write values: %w", err)
			}
		}

		if req.ExternalID != nil || req.Metadata != nil {
			if req.ExternalID != nil {
				entity.ExternalID = *req.ExternalID
			}
			if req.Metadata != nil {
				entity.Metadata = req.Metadata
			}
			if err := repos.Entities.Update(ctx, entity); err != nil {
				return fmt.Errorf("failed to update entity: %w", err)
			}
		}

		result, err := hydrateEntities(ctx, repos, entityType, []*entities.Entity{entity})
		if err != nil {
			return err
		}
		hydrated = result[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := entities.NewAuditEvent(entities.AuditUpdate, entityType.ID, req.EntityID, req.ActorID)
	event.OldValues = oldValues
	event.NewValues = newValues
	s.publish(ctx, event)

	return hydrated, nil
}

// Delete soft-deletes an entity after enforcing the delete policies of
// every inbound reference. Deleting an already-deleted entity is a no-op.
func (s *LifecycleService) Delete(ctx context.Context, entityID, actorID string) (*DeleteResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		result    *DeleteResult
		entity    *entities.Entity
		cascaded  []*entities.Entity
		oldValues map[string][]entities.TypedValue
	)

	err := s.txManager.InTransaction(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		var err error
		entity, err = s.loadEntity(ctx, repos, entityID)
		if err != nil {
			return err
		}
		if !entity.IsActive {
			result = &DeleteResult{EntityID: entityID}
			return nil
		}

		entityType, err := s.registry.GetEntityTypeByID(ctx, entity.EntityTypeID)
		if err != nil {
			return err
		}
		oldValues, err = storedValues(ctx, repos, entityType, entity.ID)
		if err != nil {
			return err
		}

		resolver := NewReferenceService(repos, s.cfg.MaxExpandDepth)
		cascaded, err = resolver.ApplyDeletePolicies(ctx, entity)
		if err != nil {
			return err
		}

		if err := repos.Entities.SetActive(ctx, entity.ID, false); err != nil {
			return fmt.Errorf("failed to delete entity: %w", err)
		}

		cascadeIDs := make([]string, 0, len(cascaded))
		for _, c := range cascaded {
			cascadeIDs = append(cascadeIDs, c.ID)
		}
		result = &DeleteResult{EntityID: entityID, CascadeIDs: cascadeIDs}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldValues != nil {
		event := entities.NewAuditEvent(entities.AuditDelete, entity.EntityTypeID, entityID, actorID)
		event.OldValues = oldValues
		s.publish(ctx, event)

		for _, c := range cascaded {
			s.publish(ctx, entities.NewAuditEvent(entities.AuditDelete, c.EntityTypeID, c.ID, actorID))
		}

		s.logw("entity deleted", "entity_id", entityID, "cascade_count", len(result.CascadeIDs))
	}

	return result, nil
}

// Restore reactivates a soft-deleted entity. Uniqueness is re-validated
// first: another entity may have taken a freed unique value in the
// meantime. Restoring an active entity is a no-op.
func (s *LifecycleService) Restore(ctx context.Context, entityID, actorID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		entity   *entities.Entity
		restored bool
	)

	err := s.txManager.InTransaction(ctx, func(ctx context.Context, repos *repositories.Repositories) error {
		var err error
		entity, err = s.loadEntity(ctx, repos, entityID)
		if err != nil {
			return err
		}
		if entity.IsActive {
			return nil
		}

		entityType, err := s.registry.GetEntityTypeByID(ctx, entity.EntityTypeID)
		if err != nil {
			return err
		}

		values, err := storedValues(ctx, repos, entityType, entity.ID)
		if err != nil {
			return err
		}

		validator := NewValidationService(repos.Values, repos.Entities, s.metrics)
		if err := validator.ValidateUnique(ctx, entityType, entity.ID, values, ValidateOptions{LockUnique: true}); err != nil {
			return err
		}

		if entity.ExternalID != "" {
			if other, err := repos.Entities.GetByExternalID(ctx, entity.EntityTypeID, entity.ExternalID); err == nil && other.ID != entity.ID {
				return &entities.ConflictError{
					Kind:    entities.ConflictDuplicateUniqueValue,
					Message: fmt.Sprintf("external id %q was taken by entity %s", entity.ExternalID, other.ID),
				}
			} else if err != nil && !isNotFound(err) {
				return fmt.Errorf("failed to probe external id: %w", err)
			}
		}

		if err := repos.Entities.SetActive(ctx, entity.ID, true); err != nil {
			return fmt.Errorf("failed to restore entity: %w", err)
		}
		restored = true
		return nil
	})
	if err != nil {
		return err
	}

	if restored {
		s.publish(ctx, entities.NewAuditEvent(entities.AuditRestore, entity.EntityTypeID, entityID, actorID))
		s.logw("entity restored", "entity_id", entityID)
	}

	return nil
}

// Get retrieves one active entity with its values, expanding reference
// display fields up to expandDepth hops.
func (s *LifecycleService) Get(ctx context.Context, entityID string, expandDepth int) (*entities.HydratedEntity, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entity, err := s.loadActive(ctx, s.repos, entityID)
	if err != nil {
		return nil, err
	}

	entityType, err := s.registry.GetEntityTypeByID(ctx, entity.EntityTypeID)
	if err != nil {
		return nil, err
	}

	hydrated, err := hydrateEntities(ctx, s.repos, entityType, []*entities.Entity{entity})
	if err != nil {
		return nil, err
	}

	resolver := NewReferenceService(s.repos, s.cfg.MaxExpandDepth)
	if err := resolver.ExpandDisplay(ctx, entityType, hydrated, expandDepth); err != nil {
		return nil, err
	}

	return hydrated[0], nil
}

// buildProposed assembles the value map of a create: explicit values minus
// TYPE-scope entries, plus definition defaults. Writes to auto-increment
// attributes are rejected; their values are filled in by allocateAutoValues.
func (s *LifecycleService) buildProposed(
	entityType *entities.EntityType,
	explicit map[string][]entities.TypedValue,
) (map[string][]entities.TypedValue, error) {
	proposed := make(map[string][]entities.TypedValue, len(explicit))

	for name, vals := range explicit {
		attr := entityType.GetAttribute(name)
		if attr != nil && attr.Scope == entities.ScopeType {
			continue
		}
		if attr != nil && attr.IsAutoIncrement {
			return nil, &entities.ValidationError{Fields: []entities.FieldError{{
				AttributeID:   attr.ID,
				AttributeName: name,
				Kind:          entities.FieldErrorRuleViolation,
				Message:       "auto-increment values are engine-assigned",
			}}}
		}
		proposed[name] = vals
	}

	for _, attr := range entityType.Attributes {
		if attr.Scope == entities.ScopeType || attr.IsAutoIncrement {
			continue
		}
		if _, present := proposed[attr.Name]; !present && attr.DefaultValue != nil {
			proposed[attr.Name] = []entities.TypedValue{*attr.DefaultValue}
		}
	}

	return proposed, nil
}

// allocateAutoValues fills the auto-increment attributes of proposed. It runs
// against the root repositories, never a transaction-scoped set: each counter
// increment is its own committed statement, so an enclosing create that rolls
// back cannot revert the counter and cause a reissue.
func (s *LifecycleService) allocateAutoValues(
	ctx context.Context,
	entityType *entities.EntityType,
	proposed map[string][]entities.TypedValue,
) error {
	sequences := NewSequenceService(s.repos.Sequences, s.cfg.SequenceRetryAttempts, s.cfg.SequenceRetryBaseBackoff, s.metrics, s.logger)

	for _, attr := range entityType.Attributes {
		if attr.Scope == entities.ScopeType || !attr.IsAutoIncrement {
			continue
		}
		value, err := sequences.Next(ctx, attr)
		if err != nil {
			return err
		}
		proposed[attr.Name] = []entities.TypedValue{entities.NewTextValue(value)}
	}

	return nil
}

func (s *LifecycleService) loadEntity(ctx context.Context, repos *repositories.Repositories, entityID string) (*entities.Entity, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity ID is required")
	}
	entity, err := repos.Entities.GetByID(ctx, entityID)
	if err != nil {
		if isNotFound(err) {
			return nil, &entities.NotFoundError{Resource: "entity", ID: entityID}
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// loadActive loads an entity and hides soft-deleted rows behind NotFound.
func (s *LifecycleService) loadActive(ctx context.Context, repos *repositories.Repositories, entityID string) (*entities.Entity, error) {
	entity, err := s.loadEntity(ctx, repos, entityID)
	if err != nil {
		return nil, err
	}
	if !entity.IsActive {
		return nil, &entities.NotFoundError{Resource: "entity", ID: entityID}
	}
	return entity, nil
}

func (s *LifecycleService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StorageTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.StorageTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *LifecycleService) publish(ctx context.Context, event *entities.AuditEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// The mutation is already committed; losing an event must not
		// fail the operation
		s.logw("audit publish failed", "event_id", event.ID, "error", err)
	}
}

func (s *LifecycleService) logw(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Infow(msg, kv...)
	}
}

// storedValues loads the current values of an entity as an attribute-name map.
func storedValues(ctx context.Context, repos *repositories.Repositories, entityType *entities.EntityType, entityID string) (map[string][]entities.TypedValue, error) {
	rows, err := repos.Values.GetValues(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load values: %w", err)
	}
	values := make(map[string][]entities.TypedValue)
	for _, row := range rows {
		attr := entityType.GetAttributeByID(row.AttributeID)
		if attr == nil {
			continue
		}
		values[attr.Name] = append(values[attr.Name], row.Value)
	}
	return values, nil
}

// valueRows converts an attribute-name map into value rows in definition
// order, assigning sort indexes for MULTI attributes.
func valueRows(entityType *entities.EntityType, entityID string, values map[string][]entities.TypedValue) []*entities.EntityValue {
	var rows []*entities.EntityValue
	for _, attr := range entityType.Attributes {
		vals, ok := values[attr.Name]
		if !ok {
			continue
		}
		for i, v := range vals {
			rows = append(rows, &entities.EntityValue{
				EntityID:    entityID,
				AttributeID: attr.ID,
				SortIndex:   i,
				Value:       v,
			})
		}
	}
	return rows
}
