package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Role group names.
const (
	RoleAuthor         = "Document Author"
	RoleReviewer       = "Document Reviewer"
	RoleApprover       = "Document Approver"
	RoleSeniorApprover = "Senior Document Approver"
	RoleAdministrator  = "Document Administrator"
)

// Permission codenames granted outside of role membership.
const (
	PermReviewDocument          = "can_review_document"
	PermApproveDocument         = "can_approve_document"
	PermApproveCriticalDocument = "can_approve_critical_document"
	PermTerminateWorkflow       = "can_terminate_workflow"
	PermManageDependencies      = "can_manage_dependencies"
)

// SystemUserID is the actor recorded for scheduler-driven transitions.
var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type User struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Username    string         `json:"username" db:"username"`
	FullName    string         `json:"full_name" db:"full_name"`
	Email       string         `json:"email" db:"email"`
	IsActive    bool           `json:"is_active" db:"is_active"`
	IsSuperuser bool           `json:"is_superuser" db:"is_superuser"`
	Roles       pq.StringArray `json:"roles" db:"roles"`
	Permissions pq.StringArray `json:"permissions" db:"permissions"`
}

func (u *User) IsSystem() bool {
	return u != nil && u.ID == SystemUserID
}

// DisplayName falls back to the username when no full name is set.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// SystemUser is the scheduler's actor.
func SystemUser() *User {
	return &User{ID: SystemUserID, Username: "system", FullName: "EDMS Scheduler", IsActive: true}
}
