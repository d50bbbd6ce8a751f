package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresSink appends events to the audit_log table.
type PostgresSink struct {
	db *sqlx.DB
}

func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) RecordEvent(ctx context.Context, event Event) error {
	event = Seal(event)
	query := `
		INSERT INTO audit_log (id, actor_id, action, object_type, object_id, description, changes, occurred_at, digest)
		VALUES (:id, :actor_id, :action, :object_type, :object_id, :description, :changes, :occurred_at, :digest)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// ListForObject returns the trail of one object, oldest first.
func (s *PostgresSink) ListForObject(ctx context.Context, objectType string, objectID uuid.UUID) ([]Event, error) {
	var events []Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, actor_id, action, object_type, object_id, description, changes, occurred_at, digest
		FROM audit_log WHERE object_type = $1 AND object_id = $2 ORDER BY occurred_at, id`, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}
