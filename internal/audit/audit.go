package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"controlled-docs/edms-backend/internal/models"
)

// Audit actions recorded by the workflow core.
const (
	ActionWorkflowInitiated  = "WORKFLOW_INITIATED"
	ActionWorkflowTransition = "WORKFLOW_TRANSITION"
	ActionWorkflowTerminated = "WORKFLOW_TERMINATED"
	ActionPeriodicReview     = "PERIODIC_REVIEW_COMPLETED"
	ActionDependencyAdded    = "DEPENDENCY_ADDED"
	ActionDependencyRemoved  = "DEPENDENCY_DEACTIVATED"
	ActionDocumentRegistered = "DOCUMENT_REGISTERED"
	ActionDocumentVersioned  = "DOCUMENT_VERSION_CREATED"
)

// Event is one audit-trail entry: who did what to which object, when and why.
type Event struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	ActorID     uuid.UUID    `json:"actor_id" db:"actor_id"`
	Action      string       `json:"action" db:"action"`
	ObjectType  string       `json:"object_type" db:"object_type"`
	ObjectID    uuid.UUID    `json:"object_id" db:"object_id"`
	Description string       `json:"description" db:"description"`
	Changes     models.JSONB `json:"changes,omitempty" db:"changes"`
	OccurredAt  time.Time    `json:"occurred_at" db:"occurred_at"`
	Digest      string       `json:"digest" db:"digest"`
}

// Sink records audit events.
type Sink interface {
	RecordEvent(ctx context.Context, event Event) error
}

// Seal fills in the id and digest if they are missing.
func Seal(e Event) Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Digest = Digest(e)
	return e
}

// Digest is the hex SHA3-256 of the event with the digest field cleared.
func Digest(e Event) string {
	e.Digest = ""
	e.OccurredAt = e.OccurredAt.UTC()
	payload, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	sum := sha3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the stored digest still matches the event body.
func Verify(e Event) bool {
	return e.Digest != "" && e.Digest == Digest(e)
}

// MultiSink fans an event out to every sink. Each sink is attempted; the
// joined error of the failures is returned.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

func NewMultiSink(logger *zap.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger.Named("audit")}
}

func (m *MultiSink) RecordEvent(ctx context.Context, event Event) error {
	event = Seal(event)
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordEvent(ctx, event); err != nil {
			m.logger.Error("Audit sink failed",
				zap.String("event_id", event.ID.String()),
				zap.String("action", event.Action),
				zap.String("object_id", event.ObjectID.String()),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps events in process.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) RecordEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Seal(event))
	return nil
}

// Events returns a copy of the recorded events in order.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// ForObject returns the events recorded against one object.
func (m *MemorySink) ForObject(id uuid.UUID) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.ObjectID == id {
			out = append(out, e)
		}
	}
	return out
}
