package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"controlled-docs/edms-backend/internal/models"
)

func user(roles []string, perms []string) *models.User {
	return &models.User{ID: uuid.New(), Username: "u", IsActive: true, Roles: roles, Permissions: perms}
}

func TestCapabilities(t *testing.T) {
	o := NewUserOracle()

	author := user([]string{models.RoleAuthor}, nil)
	assert.True(t, CanAuthor(o, author))
	assert.False(t, CanReview(o, author))

	reviewer := user([]string{models.RoleReviewer}, nil)
	assert.True(t, CanReview(o, reviewer))
	assert.False(t, CanApprove(o, reviewer))
	assert.False(t, CanAuthor(o, reviewer))

	approver := user([]string{models.RoleApprover}, nil)
	assert.True(t, CanApprove(o, approver))
	assert.False(t, CanApproveCritical(o, approver))
	assert.True(t, CanApproveDocument(o, approver, models.CriticalityNormal))
	assert.False(t, CanApproveDocument(o, approver, models.CriticalityCritical))

	senior := user([]string{models.RoleSeniorApprover}, nil)
	assert.True(t, CanApprove(o, senior))
	assert.True(t, CanApproveDocument(o, senior, models.CriticalityHigh))

	granted := user(nil, []string{models.PermApproveCriticalDocument})
	assert.True(t, CanApproveCritical(o, granted))

	admin := user(nil, nil)
	admin.IsSuperuser = true
	assert.True(t, CanReview(o, admin))
	assert.True(t, CanTerminate(o, admin))
	assert.True(t, o.HasPermission(admin, "anything"))
	assert.False(t, o.HasRole(admin, models.RoleReviewer))
}

func TestInactiveUsersHaveNoCapabilities(t *testing.T) {
	o := NewUserOracle()
	u := user([]string{models.RoleReviewer}, []string{models.PermReviewDocument})
	u.IsActive = false
	assert.False(t, CanReview(o, u))

	u.IsSuperuser = true
	assert.False(t, CanApproveCritical(o, u))
	assert.False(t, CanReview(o, nil))
}
