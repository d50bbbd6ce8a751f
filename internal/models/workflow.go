package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentWorkflow is one workflow instance attached to a document.
type DocumentWorkflow struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	DocumentID        uuid.UUID        `json:"document_id" db:"document_id"`
	WorkflowType      WorkflowTypeCode `json:"workflow_type" db:"workflow_type"`
	InitialState      string           `json:"initial_state" db:"initial_state"`
	CurrentState      string           `json:"current_state" db:"current_state"`
	InitiatedBy       uuid.UUID        `json:"initiated_by" db:"initiated_by"`
	CurrentAssignee   *uuid.UUID       `json:"current_assignee,omitempty" db:"current_assignee"`
	SelectedReviewer  *uuid.UUID       `json:"selected_reviewer,omitempty" db:"selected_reviewer"`
	SelectedApprover  *uuid.UUID       `json:"selected_approver,omitempty" db:"selected_approver"`
	IsTerminated      bool             `json:"is_terminated" db:"is_terminated"`
	TerminationReason string           `json:"termination_reason,omitempty" db:"termination_reason"`
	TerminatedAt      *time.Time       `json:"terminated_at,omitempty" db:"terminated_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	DueDate           *time.Time       `json:"due_date,omitempty" db:"due_date"`
	EffectiveDate     *time.Time       `json:"effective_date,omitempty" db:"effective_date"`
	ObsoletingDate    *time.Time       `json:"obsoleting_date,omitempty" db:"obsoleting_date"`
	UpVersionReason   string           `json:"up_version_reason,omitempty" db:"up_version_reason"`
	ObsoletingReason  string           `json:"obsoleting_reason,omitempty" db:"obsoleting_reason"`
	Data              WorkflowData     `json:"workflow_data" db:"workflow_data"`
	Version           int              `json:"version" db:"version"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// IsActive is true until the workflow is terminated or reaches the
// completion state of its type.
func (w *DocumentWorkflow) IsActive() bool {
	return !w.IsTerminated && w.CompletedAt == nil
}

// Clone returns a deep copy; the in-memory repository hands these out so
// callers never share slices with stored rows.
func (w *DocumentWorkflow) Clone() *DocumentWorkflow {
	c := *w
	c.CurrentAssignee = cloneID(w.CurrentAssignee)
	c.SelectedReviewer = cloneID(w.SelectedReviewer)
	c.SelectedApprover = cloneID(w.SelectedApprover)
	c.TerminatedAt = cloneTime(w.TerminatedAt)
	c.CompletedAt = cloneTime(w.CompletedAt)
	c.DueDate = cloneTime(w.DueDate)
	c.EffectiveDate = cloneTime(w.EffectiveDate)
	c.ObsoletingDate = cloneTime(w.ObsoletingDate)
	c.Data = w.Data.Clone()
	return &c
}

type AssignmentMethod string

const (
	AssignmentManual    AssignmentMethod = "MANUAL"
	AssignmentSelected  AssignmentMethod = "SELECTED"
	AssignmentAutomatic AssignmentMethod = "AUTOMATIC"
	AssignmentReturned  AssignmentMethod = "RETURNED"
)

// ReassignmentRecord is one entry of the append-only assignee history.
type ReassignmentRecord struct {
	From   *uuid.UUID       `json:"from,omitempty"`
	To     uuid.UUID        `json:"to"`
	Method AssignmentMethod `json:"method"`
	State  string           `json:"state"`
	By     uuid.UUID        `json:"by"`
	At     time.Time        `json:"at"`
}

// RejectionRecord is kept for quality metrics; never overwritten.
type RejectionRecord struct {
	FromState  string    `json:"from_state"`
	RejectedBy uuid.UUID `json:"rejected_by"`
	Comment    string    `json:"comment"`
	At         time.Time `json:"at"`
}

type ReviewPeriodInfo struct {
	TriggeredAt    time.Time  `json:"triggered_at"`
	NextReviewDate *time.Time `json:"next_review_date,omitempty"`
	PeriodMonths   int        `json:"period_months"`
}

// WorkflowData is the typed replacement for the open key-value bag.
type WorkflowData struct {
	AssignmentMethod AssignmentMethod     `json:"assignment_method,omitempty"`
	Reassignments    []ReassignmentRecord `json:"reassignments,omitempty"`
	RejectionHistory []RejectionRecord    `json:"rejection_history,omitempty"`
	ReviewPeriod     *ReviewPeriodInfo    `json:"review_period,omitempty"`
}

func (d WorkflowData) Clone() WorkflowData {
	c := d
	c.Reassignments = append([]ReassignmentRecord(nil), d.Reassignments...)
	c.RejectionHistory = append([]RejectionRecord(nil), d.RejectionHistory...)
	if d.ReviewPeriod != nil {
		rp := *d.ReviewPeriod
		rp.NextReviewDate = cloneTime(d.ReviewPeriod.NextReviewDate)
		c.ReviewPeriod = &rp
	}
	return c
}

// Value implements driver.Valuer
func (d WorkflowData) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner
func (d *WorkflowData) Scan(value interface{}) error {
	if value == nil {
		*d = WorkflowData{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported workflow_data type %T", value)
	}
	return json.Unmarshal(raw, d)
}

// DocumentTransition is a row of the append-only compliance ledger.
type DocumentTransition struct {
	ID             uuid.UUID `json:"id" db:"id"`
	WorkflowID     uuid.UUID `json:"workflow_id" db:"workflow_id"`
	Sequence       int64     `json:"sequence" db:"sequence"`
	FromState      string    `json:"from_state" db:"from_state"`
	ToState        string    `json:"to_state" db:"to_state"`
	TransitionedBy uuid.UUID `json:"transitioned_by" db:"transitioned_by"`
	TransitionedAt time.Time `json:"transitioned_at" db:"transitioned_at"`
	Comment        string    `json:"comment,omitempty" db:"comment"`
	Data           JSONB     `json:"transition_data,omitempty" db:"transition_data"`
}

// JSONB holds free-form transition data.
type JSONB map[string]interface{}

// Value implements driver.Valuer
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported transition_data type %T", value)
	}
	return json.Unmarshal(raw, j)
}

func (j JSONB) Clone() JSONB {
	if j == nil {
		return nil
	}
	c := make(JSONB, len(j))
	for k, v := range j {
		c[k] = v
	}
	return c
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
