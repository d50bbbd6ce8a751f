package auth

import (
	"controlled-docs/edms-backend/internal/models"
)

// Oracle answers role and permission questions about a user. Implementations
// must be pure queries.
type Oracle interface {
	HasRole(user *models.User, role string) bool
	HasPermission(user *models.User, codename string) bool
}

// UserOracle reads role membership and permission grants straight off the
// user record.
type UserOracle struct{}

func NewUserOracle() UserOracle {
	return UserOracle{}
}

func (UserOracle) HasRole(user *models.User, role string) bool {
	if user == nil || !user.IsActive {
		return false
	}
	for _, r := range user.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission is always true for active superusers.
func (UserOracle) HasPermission(user *models.User, codename string) bool {
	if user == nil || !user.IsActive {
		return false
	}
	if user.IsSuperuser {
		return true
	}
	for _, p := range user.Permissions {
		if p == codename {
			return true
		}
	}
	return false
}

// CanAuthor gates registering documents and drafting new versions.
func CanAuthor(o Oracle, u *models.User) bool {
	return isSuperuser(u) || o.HasRole(u, models.RoleAuthor)
}

func CanReview(o Oracle, u *models.User) bool {
	return isSuperuser(u) ||
		o.HasRole(u, models.RoleReviewer) ||
		o.HasPermission(u, models.PermReviewDocument)
}

func CanApprove(o Oracle, u *models.User) bool {
	return CanApproveCritical(o, u) ||
		o.HasRole(u, models.RoleApprover) ||
		o.HasPermission(u, models.PermApproveDocument)
}

// CanApproveCritical is the senior-approver capability required for high and
// critical documents.
func CanApproveCritical(o Oracle, u *models.User) bool {
	return isSuperuser(u) ||
		o.HasRole(u, models.RoleSeniorApprover) ||
		o.HasPermission(u, models.PermApproveCriticalDocument)
}

// CanApproveDocument picks the approver capability matching the document's criticality.
func CanApproveDocument(o Oracle, u *models.User, criticality models.Criticality) bool {
	if criticality.RequiresSeniorApproval() {
		return CanApproveCritical(o, u)
	}
	return CanApprove(o, u)
}

func CanTerminate(o Oracle, u *models.User) bool {
	return isSuperuser(u) ||
		o.HasRole(u, models.RoleAdministrator) ||
		o.HasPermission(u, models.PermTerminateWorkflow)
}

func CanManageDependencies(o Oracle, u *models.User) bool {
	return isSuperuser(u) ||
		o.HasRole(u, models.RoleAdministrator) ||
		o.HasPermission(u, models.PermManageDependencies)
}

func isSuperuser(u *models.User) bool {
	return u != nil && u.IsActive && u.IsSuperuser
}
