package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/models"
)

type MockUserLookup struct {
	mock.Mock
}

func (m *MockUserLookup) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func newTestRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, NewHandler(NewUserOracle()), a)
	return r
}

func TestMiddlewareAcceptsIssuedToken(t *testing.T) {
	u := &models.User{ID: uuid.New(), Username: "rita", IsActive: true, Roles: []string{models.RoleReviewer}}
	users := new(MockUserLookup)
	users.On("GetUser", mock.Anything, u.ID).Return(u, nil)

	a := NewAuthenticator("secret", "edms", users, zap.NewNop())
	token, err := a.IssueToken(u, time.Hour, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	newTestRouter(a).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"review":true`)
	users.AssertExpectations(t)
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	u := &models.User{ID: uuid.New(), Username: "rita", IsActive: true}
	users := new(MockUserLookup)
	a := NewAuthenticator("secret", "edms", users, zap.NewNop())
	other := NewAuthenticator("other-secret", "edms", users, zap.NewNop())

	expired, err := a.IssueToken(u, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	forged, err := other.IssueToken(u, time.Hour, time.Now())
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":   "",
		"no bearer": "Token abc",
		"expired":   "Bearer " + expired,
		"forged":    "Bearer " + forged,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			newTestRouter(a).ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
	users.AssertNotCalled(t, "GetUser", mock.Anything, mock.Anything)
}

func TestMiddlewareRejectsInactiveUser(t *testing.T) {
	u := &models.User{ID: uuid.New(), Username: "gone", IsActive: false}
	users := new(MockUserLookup)
	users.On("GetUser", mock.Anything, u.ID).Return(u, nil)
	a := NewAuthenticator("secret", "edms", users, zap.NewNop())

	token, err := a.IssueToken(u, time.Hour, time.Now())
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrInactiveUser)
}
