package notifications

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Outbox row status.
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// Notification types emitted by the workflow core.
const (
	TypeHandoff        = "WORKFLOW_HANDOFF"
	TypeReminder       = "WORKFLOW_REMINDER"
	TypeRejection      = "WORKFLOW_REJECTED"
	TypeOverdue        = "WORKFLOW_OVERDUE"
	TypePeriodicReview = "PERIODIC_REVIEW_DUE"
	TypeTerminated     = "WORKFLOW_TERMINATED"
	TypeStatusChange   = "DOCUMENT_STATUS_CHANGED"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Request is what callers hand to Enqueue.
type Request struct {
	RecipientID    uuid.UUID
	Subject        string
	Message        string
	Type           string
	Priority       string
	IdempotencyKey string
	WorkflowID     *uuid.UUID
	DeliverAfter   *time.Time
	Data           map[string]any
}

// Notification is a row of the delivery outbox.
type Notification struct {
	ID             uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	IdempotencyKey string         `json:"idempotency_key" gorm:"not null;uniqueIndex"`
	RecipientID    uuid.UUID      `json:"recipient_id" gorm:"type:uuid;not null;index"`
	WorkflowID     *uuid.UUID     `json:"workflow_id,omitempty" gorm:"type:uuid;index"`
	Type           string         `json:"type" gorm:"not null"`
	Priority       string         `json:"priority" gorm:"not null;default:normal"`
	Subject        string         `json:"subject" gorm:"not null"`
	Message        string         `json:"message" gorm:"type:text"`
	Data           datatypes.JSON `json:"data" gorm:"type:jsonb"`
	Status         string         `json:"status" gorm:"not null;index"`
	Attempts       int            `json:"attempts" gorm:"default:0"`
	LastError      string         `json:"last_error" gorm:""`
	DeliverAfter   time.Time      `json:"deliver_after" gorm:"not null;index"`
	NextAttemptAt  time.Time      `json:"next_attempt_at" gorm:"not null;index"`
	SentAt         *time.Time     `json:"sent_at,omitempty" gorm:""`
	CreatedAt      time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Notification) TableName() string {
	return "notification_outbox"
}
