package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/asakaida/puroteusu/internal/entities"
)

// AuditPublisher receives the audit event of each committed mutation.
// The engine never persists audit history itself; the collaborator behind
// this interface owns retention and querying.
type AuditPublisher interface {
	Publish(ctx context.Context, event *entities.AuditEvent) error
}

// LogAuditPublisher writes audit events to the structured log. It is the
// default publisher when no external collaborator is wired.
type LogAuditPublisher struct {
	logger *zap.SugaredLogger
}

// NewLogAuditPublisher creates a new LogAuditPublisher.
func NewLogAuditPublisher(logger *zap.SugaredLogger) *LogAuditPublisher {
	return &LogAuditPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogAuditPublisher) Publish(_ context.Context, event *entities.AuditEvent) error {
	if p.logger == nil {
		return nil
	}
	p.logger.Infow("audit",
		"event_id", event.ID,
		"action", event.Action,
		"entity_type_id", event.EntityTypeID,
		"entity_id", event.EntityID,
		"actor_id", event.ActorID,
		"occurred_at", event.OccurredAt,
	)
	return nil
}
