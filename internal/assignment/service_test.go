package assignment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/models"
)

// MockReader is a mock implementation of the Reader interface
type MockReader struct {
	mock.Mock
}

func (m *MockReader) ListActiveUsers(ctx context.Context) ([]*models.User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockReader) CountActiveAssignments(ctx context.Context, states []string) (map[uuid.UUID]int, error) {
	args := m.Called(ctx, states)
	return args.Get(0).(map[uuid.UUID]int), args.Error(1)
}

func newUser(name string, roles ...string) *models.User {
	return &models.User{ID: uuid.New(), Username: name, FullName: name, IsActive: true, Roles: roles}
}

func names(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.User.FullName
	}
	return out
}

func TestEligibleReviewersRanking(t *testing.T) {
	alice := newUser("Alice", models.RoleReviewer)
	bob := newUser("Bob", models.RoleReviewer)
	carol := newUser("Carol", models.RoleReviewer)
	dave := newUser("Dave", models.RoleReviewer)
	erin := newUser("Erin", models.RoleReviewer)
	author := newUser("Author", models.RoleReviewer)
	outsider := newUser("Zed")

	repo := new(MockReader)
	repo.On("ListActiveUsers", mock.Anything).Return([]*models.User{alice, bob, carol, dave, erin, author, outsider}, nil)
	repo.On("CountActiveAssignments", mock.Anything, taskStates[TaskReview]).Return(map[uuid.UUID]int{
		alice.ID: 8,  // high, available
		bob.ID:   2,  // low
		carol.ID: 10, // at capacity
		dave.ID:  5,  // normal
		erin.ID:  2,  // low, ties with Bob
	}, nil)

	svc := NewService(repo, auth.NewUserOracle(), DefaultConfig(), zap.NewNop())
	got, err := svc.EligibleReviewers(context.Background(), Criteria{ExcludeAuthor: &author.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{"Bob", "Erin", "Dave", "Alice", "Carol"}, names(got))
	assert.Equal(t, WorkloadLow, got[0].Workload)
	assert.True(t, got[2].Recommended)
	assert.False(t, got[3].Recommended)
	assert.True(t, got[3].Available)
	assert.False(t, got[4].Available)
}

func TestCriticalApproversAreSeniorOnly(t *testing.T) {
	standard := newUser("Ann", models.RoleApprover)
	senior := newUser("Sam", models.RoleSeniorApprover)
	admin := newUser("Root")
	admin.IsSuperuser = true

	repo := new(MockReader)
	repo.On("ListActiveUsers", mock.Anything).Return([]*models.User{standard, senior, admin}, nil)
	repo.On("CountActiveAssignments", mock.Anything, taskStates[TaskApproval]).Return(map[uuid.UUID]int{
		senior.ID: 4,
		admin.ID:  4,
	}, nil)

	svc := NewService(repo, auth.NewUserOracle(), DefaultConfig(), zap.NewNop())

	critical, err := svc.EligibleApprovers(context.Background(), Criteria{Criticality: models.CriticalityCritical})
	require.NoError(t, err)
	assert.Equal(t, []string{"Root", "Sam"}, names(critical))

	normal, err := svc.EligibleApprovers(context.Background(), Criteria{Criticality: models.CriticalityNormal})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Root", "Sam"}, names(normal))
}

func TestApprovalThresholds(t *testing.T) {
	limits := DefaultConfig().Approval
	assert.Equal(t, WorkloadLow, limits.classify(2))
	assert.Equal(t, WorkloadNormal, limits.classify(4))
	assert.Equal(t, WorkloadHigh, limits.classify(5))

	review := DefaultConfig().Review
	assert.Equal(t, WorkloadLow, review.classify(3))
	assert.Equal(t, WorkloadNormal, review.classify(7))
	assert.Equal(t, WorkloadHigh, review.classify(8))
}

func TestRecommendFallsBackToAvailable(t *testing.T) {
	busy := newUser("Busy", models.RoleReviewer)
	full := newUser("Full", models.RoleReviewer)
	doc := &models.Document{ID: uuid.New(), AuthorID: uuid.New(), Criticality: models.CriticalityNormal}

	repo := new(MockReader)
	repo.On("ListActiveUsers", mock.Anything).Return([]*models.User{busy, full}, nil)
	repo.On("CountActiveAssignments", mock.Anything, mock.Anything).Return(map[uuid.UUID]int{busy.ID: 9, full.ID: 10}, nil)

	svc := NewService(repo, auth.NewUserOracle(), DefaultConfig(), zap.NewNop())
	got, err := svc.Recommend(context.Background(), TaskReview, doc)
	require.NoError(t, err)
	assert.Equal(t, busy.ID, got.ID)
}

func TestValidateAssignee(t *testing.T) {
	o := auth.NewUserOracle()
	author := newUser("Author", models.RoleApprover)
	approver := newUser("Ann", models.RoleApprover)
	reviewer := newUser("Rev", models.RoleReviewer)
	doc := &models.Document{ID: uuid.New(), AuthorID: author.ID, Criticality: models.CriticalityHigh}

	assert.ErrorIs(t, ValidateAssignee(o, author, TaskApproval, doc), ErrSelfAssignment)
	assert.ErrorIs(t, ValidateAssignee(o, approver, TaskApproval, doc), ErrNotEligible)
	assert.ErrorIs(t, ValidateAssignee(o, approver, TaskReview, doc), ErrNotEligible)
	assert.NoError(t, ValidateAssignee(o, reviewer, TaskReview, doc))

	reviewer.IsActive = false
	assert.ErrorIs(t, ValidateAssignee(o, reviewer, TaskReview, doc), ErrInactiveUser)
}
