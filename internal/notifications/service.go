package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Service provides notification business logic
type Service struct {
	outbox Outbox
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new notification service
func NewService(outbox Outbox, logger *zap.Logger) *Service {
	return &Service{outbox: outbox, logger: logger.Named("notifications"), now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Key joins idempotency key parts.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// HandoffKey identifies one handoff notice: the same workflow entering the
// same state for the same recipient through the same transition.
func HandoffKey(workflowID uuid.UUID, toState string, recipientID uuid.UUID, transitionID uuid.UUID) string {
	return Key("handoff", workflowID.String(), toState, recipientID.String(), transitionID.String())
}

// Enqueue stores a notification for later delivery and returns its id.
// Requests repeating an idempotency key return the existing id.
func (s *Service) Enqueue(ctx context.Context, req Request) (uuid.UUID, error) {
	if req.RecipientID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("notification recipient is required")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = Key("adhoc", uuid.NewString())
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}

	now := s.now()
	deliverAfter := now
	if req.DeliverAfter != nil && req.DeliverAfter.After(now) {
		deliverAfter = *req.DeliverAfter
	}

	var data datatypes.JSON
	if len(req.Data) > 0 {
		raw, err := json.Marshal(req.Data)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to marshal notification data: %w", err)
		}
		data = datatypes.JSON(raw)
	}

	n := &Notification{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		RecipientID:    req.RecipientID,
		WorkflowID:     req.WorkflowID,
		Type:           req.Type,
		Priority:       req.Priority,
		Subject:        req.Subject,
		Message:        req.Message,
		Data:           data,
		Status:         StatusPending,
		DeliverAfter:   deliverAfter,
		NextAttemptAt:  deliverAfter,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, inserted, err := s.outbox.Insert(ctx, n)
	if err != nil {
		return uuid.Nil, err
	}
	if !inserted {
		s.logger.Debug("Duplicate notification suppressed",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("notification_id", stored.ID.String()))
	}
	return stored.ID, nil
}

// GetUserNotifications retrieves notifications for a user
func (s *Service) GetUserNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Notification, error) {
	return s.outbox.ListForRecipient(ctx, userID, limit, offset)
}
