package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Outbox persists notifications until a dispatcher delivers them.
type Outbox interface {
	// Insert stores n unless a row with the same idempotency key exists, in
	// which case the existing row is returned and inserted is false.
	Insert(ctx context.Context, n *Notification) (stored *Notification, inserted bool, err error)
	Due(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]Notification, error)
}

type GormOutbox struct {
	db *gorm.DB
}

// NewGormOutbox migrates the outbox table and returns the store.
func NewGormOutbox(db *gorm.DB) (*GormOutbox, error) {
	if err := db.AutoMigrate(&Notification{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GormOutbox{db: db}, nil
}

func (o *GormOutbox) Insert(ctx context.Context, n *Notification) (*Notification, bool, error) {
	result := o.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(n)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to insert notification: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return n, true, nil
	}

	var existing Notification
	if err := o.db.WithContext(ctx).Where("idempotency_key = ?", n.IdempotencyKey).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("failed to load existing notification: %w", err)
	}
	return &existing, false, nil
}

func (o *GormOutbox) Due(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	var rows []*Notification
	err := o.db.WithContext(ctx).
		Where("status = ? AND deliver_after <= ? AND next_attempt_at <= ?", StatusPending, now, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load due notifications: %w", err)
	}
	return rows, nil
}

func (o *GormOutbox) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return o.update(ctx, id, map[string]interface{}{
		"status":   StatusSent,
		"sent_at":  at,
		"attempts": gorm.Expr("attempts + 1"),
	})
}

func (o *GormOutbox) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	return o.update(ctx, id, map[string]interface{}{
		"attempts":        attempts,
		"next_attempt_at": next,
		"last_error":      lastErr,
	})
}

func (o *GormOutbox) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return o.update(ctx, id, map[string]interface{}{
		"status":     StatusFailed,
		"attempts":   attempts,
		"last_error": lastErr,
	})
}

func (o *GormOutbox) update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	result := o.db.WithContext(ctx).Model(&Notification{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (o *GormOutbox) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]Notification, error) {
	var rows []Notification
	err := o.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get user notifications: %w", err)
	}
	return rows, nil
}

// MemoryOutbox is the in-process outbox used with the memory repository.
type MemoryOutbox struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*Notification
	byKey map[string]uuid.UUID
	order []uuid.UUID
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{rows: make(map[uuid.UUID]*Notification), byKey: make(map[string]uuid.UUID)}
}

func (o *MemoryOutbox) Insert(ctx context.Context, n *Notification) (*Notification, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.byKey[n.IdempotencyKey]; ok {
		c := *o.rows[id]
		return &c, false, nil
	}
	c := *n
	o.rows[n.ID] = &c
	o.byKey[n.IdempotencyKey] = n.ID
	o.order = append(o.order, n.ID)
	return n, true, nil
}

func (o *MemoryOutbox) Due(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*Notification
	for _, n := range o.rows {
		if n.Status == StatusPending && !n.DeliverAfter.After(now) && !n.NextAttemptAt.After(now) {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *MemoryOutbox) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return o.mutate(id, func(n *Notification) {
		n.Status = StatusSent
		n.SentAt = &at
		n.Attempts++
	})
}

func (o *MemoryOutbox) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	return o.mutate(id, func(n *Notification) {
		n.Attempts = attempts
		n.NextAttemptAt = next
		n.LastError = lastErr
	})
}

func (o *MemoryOutbox) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return o.mutate(id, func(n *Notification) {
		n.Status = StatusFailed
		n.Attempts = attempts
		n.LastError = lastErr
	})
}

func (o *MemoryOutbox) mutate(id uuid.UUID, fn func(n *Notification)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, ok := o.rows[id]
	if !ok {
		return ErrNotificationNotFound
	}
	fn(n)
	return nil
}

func (o *MemoryOutbox) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]Notification, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Notification
	for _, n := range o.rows {
		if n.RecipientID == recipientID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every stored row in insertion order.
func (o *MemoryOutbox) All() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Notification, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *o.rows[id])
	}
	return out
}
