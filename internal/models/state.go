package models

import "time"

// State codes. Document.Status mirrors one of these.
const (
	StateDraft                    = "DRAFT"
	StatePendingReview            = "PENDING_REVIEW"
	StateUnderReview              = "UNDER_REVIEW"
	StateReviewCompleted          = "REVIEW_COMPLETED"
	StatePendingApproval          = "PENDING_APPROVAL"
	StateUnderApproval            = "UNDER_APPROVAL"
	StateApproved                 = "APPROVED"
	StateApprovedPendingEffective = "APPROVED_PENDING_EFFECTIVE"
	StateEffective                = "EFFECTIVE"
	StatePendingObsoletion        = "PENDING_OBSOLETION"
	StateScheduledForObsolescence = "SCHEDULED_FOR_OBSOLESCENCE"
	StateSuperseded               = "SUPERSEDED"
	StateObsolete                 = "OBSOLETE"
	StateTerminated               = "TERMINATED"
)

// DocumentState is a lifecycle state. Rows are seeded at setup and never
// changed once transitions reference them.
type DocumentState struct {
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	IsInitial bool      `json:"is_initial" db:"is_initial"`
	IsFinal   bool      `json:"is_final" db:"is_final"`
	Order     int       `json:"order" db:"sort_order"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DefaultStates is the state catalog installed by the initial migration.
var DefaultStates = []DocumentState{
	{Code: StateDraft, Name: "Draft", IsInitial: true, Order: 10},
	{Code: StatePendingReview, Name: "Pending Review", Order: 20},
	{Code: StateUnderReview, Name: "Under Review", Order: 30},
	{Code: StateReviewCompleted, Name: "Review Completed", Order: 40},
	{Code: StatePendingApproval, Name: "Pending Approval", Order: 50},
	{Code: StateUnderApproval, Name: "Under Approval", Order: 60},
	{Code: StateApproved, Name: "Approved", Order: 70},
	{Code: StateApprovedPendingEffective, Name: "Approved - Pending Effective", Order: 80},
	{Code: StateEffective, Name: "Effective", Order: 90},
	{Code: StatePendingObsoletion, Name: "Pending Obsoletion", Order: 100},
	{Code: StateScheduledForObsolescence, Name: "Scheduled for Obsolescence", Order: 110},
	{Code: StateSuperseded, Name: "Superseded", IsFinal: true, Order: 120},
	{Code: StateObsolete, Name: "Obsolete", IsFinal: true, Order: 130},
	{Code: StateTerminated, Name: "Terminated", IsFinal: true, Order: 140},
}

type WorkflowTypeCode string

const (
	WorkflowReview         WorkflowTypeCode = "REVIEW"
	WorkflowApproval       WorkflowTypeCode = "APPROVAL"
	WorkflowUpVersion      WorkflowTypeCode = "UP_VERSION"
	WorkflowObsolete       WorkflowTypeCode = "OBSOLETE"
	WorkflowPeriodicReview WorkflowTypeCode = "PERIODIC_REVIEW"
	WorkflowTerminate      WorkflowTypeCode = "TERMINATE"
)

// WorkflowType carries the policy defaults for a workflow purpose.
type WorkflowType struct {
	Code             WorkflowTypeCode `json:"code" db:"code"`
	Name             string           `json:"name" db:"name"`
	RequiresApproval bool             `json:"requires_approval" db:"requires_approval"`
	TimeoutDays      int              `json:"timeout_days" db:"timeout_days"`
	ReminderDays     int              `json:"reminder_days" db:"reminder_days"`
}

var DefaultWorkflowTypes = []WorkflowType{
	{Code: WorkflowReview, Name: "Document Review", RequiresApproval: true, TimeoutDays: 30, ReminderDays: 3},
	{Code: WorkflowApproval, Name: "Document Approval", RequiresApproval: true, TimeoutDays: 14, ReminderDays: 2},
	{Code: WorkflowUpVersion, Name: "Up-Version", RequiresApproval: true, TimeoutDays: 30, ReminderDays: 3},
	{Code: WorkflowObsolete, Name: "Obsolescence", RequiresApproval: true, TimeoutDays: 14, ReminderDays: 2},
	{Code: WorkflowPeriodicReview, Name: "Periodic Review", TimeoutDays: 30, ReminderDays: 7},
	{Code: WorkflowTerminate, Name: "Termination", TimeoutDays: 7},
}

// IsReviewClass reports whether the type drives a document from DRAFT to EFFECTIVE.
func (c WorkflowTypeCode) IsReviewClass() bool {
	return c == WorkflowReview || c == WorkflowApproval || c == WorkflowUpVersion
}

func (c WorkflowTypeCode) Valid() bool {
	for _, t := range DefaultWorkflowTypes {
		if t.Code == c {
			return true
		}
	}
	return false
}
