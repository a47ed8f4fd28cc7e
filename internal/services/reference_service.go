package services

import (
	"context"
	"fmt"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// ReferenceService resolves REFERENCE values: display expansion for reads
// and delete-time policy enforcement for the lifecycle manager. Construct it
// from the tx-scoped repository set when running inside a transaction.
type ReferenceService struct {
	repos          *repositories.Repositories
	maxExpandDepth int
}

// NewReferenceService creates a new ReferenceService.
func NewReferenceService(repos *repositories.Repositories, maxExpandDepth int) *ReferenceService {
	if maxExpandDepth < 1 {
		maxExpandDepth = 1
	}
	return &ReferenceService{
		repos:          repos,
		maxExpandDepth: maxExpandDepth,
	}
}

// ExpandDisplay fills the Display map of each hydrated entity: for every
// REFERENCE attribute with a stored value, the display field of the
// referenced entity is resolved up to depth hops. Traversal is iterative
// and keeps a visited set, so cyclic reference graphs terminate.
func (s *ReferenceService) ExpandDisplay(ctx context.Context, entityType *entities.EntityType, hydrated []*entities.HydratedEntity, depth int) error {
	if depth < 1 {
		depth = 1
	}
	if depth > s.maxExpandDepth {
		depth = s.maxExpandDepth
	}

	typeCache := map[string]*entities.EntityType{entityType.ID: entityType}

	for _, h := range hydrated {
		for _, attr := range entityType.Attributes {
			if attr.DataType != entities.DataTypeReference || attr.ReferenceDisplayField == "" {
				continue
			}
			vals, ok := h.Values[attr.Name]
			if !ok || len(vals) == 0 || vals[0].Reference == nil {
				continue
			}

			display, err := s.resolveDisplay(ctx, *vals[0].Reference, attr.ReferenceDisplayField, depth, typeCache)
			if err != nil {
				return err
			}
			if display != "" {
				if h.Display == nil {
					h.Display = make(map[string]string)
				}
				h.Display[attr.Name] = display
			}
		}
	}

	return nil
}

// resolveDisplay walks the display-field chain starting at targetID. Each
// hop loads the target entity and reads its display field; when that field
// is itself a REFERENCE, the walk continues with the nested target until the
// depth budget or a cycle ends it.
func (s *ReferenceService) resolveDisplay(ctx context.Context, targetID, displayField string, depth int, typeCache map[string]*entities.EntityType) (string, error) {
	visited := make(map[string]bool)

	for hop := 0; hop < depth; hop++ {
		if visited[targetID] {
			return "", nil
		}
		visited[targetID] = true

		target, err := s.repos.Entities.GetByID(ctx, targetID)
		if err != nil {
			if isNotFound(err) {
				return "", nil
			}
			return "", fmt.Errorf("failed to load referenced entity: %w", err)
		}
		if !target.IsActive {
			return "", nil
		}

		targetType, err := s.entityType(ctx, target.EntityTypeID, typeCache)
		if err != nil {
			return "", err
		}
		displayAttr := targetType.GetAttribute(displayField)
		if displayAttr == nil {
			return "", nil
		}

		rows, err := s.repos.Values.GetValues(ctx, targetID)
		if err != nil {
			return "", fmt.Errorf("failed to load referenced values: %w", err)
		}
		var value *entities.TypedValue
		for _, row := range rows {
			if row.AttributeID == displayAttr.ID {
				value = &row.Value
				break
			}
		}
		if value == nil {
			return "", nil
		}

		if value.Type == entities.DataTypeReference && value.Reference != nil {
			// Follow the chain with the nested attribute's display field
			if displayAttr.ReferenceDisplayField == "" {
				return *value.Reference, nil
			}
			targetID = *value.Reference
			displayField = displayAttr.ReferenceDisplayField
			continue
		}

		return value.String(), nil
	}

	return "", nil
}

func (s *ReferenceService) entityType(ctx context.Context, id string, typeCache map[string]*entities.EntityType) (*entities.EntityType, error) {
	if et, ok := typeCache[id]; ok {
		return et, nil
	}
	et, err := s.repos.EntityTypes.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity type: %w", err)
	}
	attrs, err := s.repos.Attributes.GetByEntityType(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load attribute definitions: %w", err)
	}
	et.Attributes = attrs
	typeCache[id] = et
	return et, nil
}

// CheckRestrict returns a ReferentialIntegrityError when active entities
// still reference the target through a RESTRICT attribute.
func (s *ReferenceService) CheckRestrict(ctx context.Context, target *entities.Entity) error {
	return s.checkRestrict(ctx, target, nil)
}

func (s *ReferenceService) checkRestrict(ctx context.Context, target *entities.Entity, ignore map[string]bool) error {
	attrs, err := s.repos.Attributes.ListReferencing(ctx, target.EntityTypeID)
	if err != nil {
		return fmt.Errorf("failed to list referencing attributes: %w", err)
	}

	var restrictIDs []string
	for _, attr := range attrs {
		if attr.DeletePolicyOrDefault() == entities.DeletePolicyRestrict {
			restrictIDs = append(restrictIDs, attr.ID)
		}
	}
	if len(restrictIDs) == 0 {
		return nil
	}

	refs, err := s.repos.Values.FindReferencing(ctx, target.ID, restrictIDs)
	if err != nil {
		return fmt.Errorf("failed to find inbound references: %w", err)
	}
	for _, ref := range refs {
		if ignore != nil && ignore[ref.EntityID] {
			continue
		}
		return &entities.ReferentialIntegrityError{
			Kind:        entities.IntegrityRestrictedDelete,
			EntityID:    target.ID,
			AttributeID: ref.AttributeID,
			Message: fmt.Sprintf("entity %s is still referenced by entity %s through a RESTRICT attribute",
				target.ID, ref.EntityID),
		}
	}

	return nil
}

// ApplyDeletePolicies enforces the per-attribute delete policies for a
// target entity being soft-deleted. RESTRICT inbound references abort the
// whole delete; SET_NULL references are cleared; CASCADE soft-deletes the
// referencing entities, recursively and cycle-safe. Returns the
// cascade-deleted entities (the target itself is not among them). Must run
// inside the delete transaction.
func (s *ReferenceService) ApplyDeletePolicies(ctx context.Context, target *entities.Entity) ([]*entities.Entity, error) {
	visited := map[string]bool{target.ID: true}
	var deleted []*entities.Entity

	worklist := []*entities.Entity{target}
	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]

		// Entities already scheduled for deletion don't block each other
		if err := s.checkRestrict(ctx, current, visited); err != nil {
			return nil, err
		}

		attrs, err := s.repos.Attributes.ListReferencing(ctx, current.EntityTypeID)
		if err != nil {
			return nil, fmt.Errorf("failed to list referencing attributes: %w", err)
		}

		var cascadeIDs []string
		for _, attr := range attrs {
			switch attr.DeletePolicyOrDefault() {
			case entities.DeletePolicySetNull:
				if err := s.repos.Values.ClearReferences(ctx, attr.ID, current.ID); err != nil {
					return nil, fmt.Errorf("failed to clear references: %w", err)
				}
			case entities.DeletePolicyCascade:
				cascadeIDs = append(cascadeIDs, attr.ID)
			}
		}

		if len(cascadeIDs) == 0 {
			continue
		}
		refs, err := s.repos.Values.FindReferencing(ctx, current.ID, cascadeIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to find inbound references: %w", err)
		}
		for _, ref := range refs {
			if visited[ref.EntityID] {
				continue
			}
			visited[ref.EntityID] = true

			referencing, err := s.repos.Entities.GetByID(ctx, ref.EntityID)
			if err != nil {
				return nil, fmt.Errorf("failed to load referencing entity: %w", err)
			}
			if !referencing.IsActive {
				continue
			}

			if err := s.repos.Entities.SetActive(ctx, referencing.ID, false); err != nil {
				return nil, fmt.Errorf("failed to cascade delete entity %s: %w", referencing.ID, err)
			}
			deleted = append(deleted, referencing)
			worklist = append(worklist, referencing)
		}
	}

	return deleted, nil
}
