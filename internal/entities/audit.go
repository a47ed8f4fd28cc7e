package entities

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the lifecycle operation behind an audit event.
type AuditAction string

const (
	AuditCreate  AuditAction = "CREATE"
	AuditUpdate  AuditAction = "UPDATE"
	AuditDelete  AuditAction = "DELETE"
	AuditRestore AuditAction = "RESTORE"
)

// AuditEvent is emitted by the lifecycle manager after each committed
// mutation. The engine does not persist audit history itself; events go to
// the audit collaborator.
type AuditEvent struct {
	ID           string
	Action       AuditAction
	EntityTypeID string
	EntityID     string
	OldValues    map[string][]TypedValue // nil for CREATE
	NewValues    map[string][]TypedValue // nil for DELETE
	ActorID      string
	OccurredAt   time.Time
}

// NewAuditEvent builds an event with a fresh id and timestamp.
func NewAuditEvent(action AuditAction, entityTypeID, entityID, actorID string) *AuditEvent {
	return &AuditEvent{
		ID:           uuid.NewString(),
		Action:       action,
		EntityTypeID: entityTypeID,
		EntityID:     entityID,
		ActorID:      actorID,
		OccurredAt:   time.Now().UTC(),
	}
}
