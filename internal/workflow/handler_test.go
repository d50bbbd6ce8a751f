package workflow

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/assignment"
	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/dependencies"
	"controlled-docs/edms-backend/internal/models"
)

func newTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	oracle := auth.NewUserOracle()
	handler := NewHandler(
		f.engine,
		assignment.NewService(f.repo, oracle, assignment.DefaultConfig(), zap.NewNop()),
		dependencies.NewService(f.repo, oracle, f.sink, zap.NewNop()),
		f.repo,
		zap.NewNop(),
	)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if raw := c.GetHeader("X-Test-User"); raw != "" {
			if u, err := f.repo.GetUser(c.Request.Context(), uuid.MustParse(raw)); err == nil {
				auth.SetActor(c, u)
			}
		}
		c.Next()
	})
	handler.RegisterRoutes(api)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, actor *models.User, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("X-Test-User", actor.ID.String())
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestHandlerStartAndTransition(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	doc := f.doc(t, "SOP-0900", models.StateDraft, models.CriticalityNormal)

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/workflows", f.author, gin.H{
		"document_id":   doc.ID,
		"workflow_type": models.WorkflowReview,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	wfID := body["id"].(string)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/workflows/"+wfID+"/transitions", f.author, gin.H{
		"to_state": models.StatePendingReview,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatePendingReview, body["to_state"])

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/workflows/"+wfID+"/transitions", f.author, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["transitions"], 1)

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/workflows/"+wfID+"/available-transitions", f.reviewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{models.StateUnderReview}, body["states"])
}

func TestHandlerMapsErrorKinds(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	doc := f.doc(t, "SOP-0901", models.StateDraft, models.CriticalityNormal)
	wf := f.start(t, doc, models.WorkflowReview)
	f.move(t, wf, models.StatePendingReview, f.author, "")
	f.move(t, wf, models.StateUnderReview, f.reviewer, "")
	path := "/api/v1/workflows/" + wf.ID.String() + "/transitions"

	tests := []struct {
		name   string
		actor  *models.User
		body   gin.H
		status int
		kind   string
	}{
		{"unauthenticated", nil, gin.H{"to_state": models.StateDraft}, http.StatusUnauthorized, ""},
		{"missing target", f.reviewer, gin.H{}, http.StatusBadRequest, ""},
		{"unknown state", f.reviewer, gin.H{"to_state": "ARCHIVED"}, http.StatusNotFound, "unknown_state"},
		{"invalid edge", f.reviewer, gin.H{"to_state": models.StateApproved}, http.StatusConflict, "invalid_transition"},
		{"self review", f.author, gin.H{"to_state": models.StateReviewCompleted}, http.StatusForbidden, "permission_denied"},
		{"rejection without comment", f.reviewer, gin.H{"to_state": models.StateDraft}, http.StatusUnprocessableEntity, "missing_comment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := doJSON(t, r, http.MethodPost, path, tt.actor, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.kind != "" {
				assert.Equal(t, tt.kind, body["kind"])
				assert.NotEmpty(t, body["error"])
			}
		})
	}

	w, body := doJSON(t, r, http.MethodPost, path, f.reviewer, gin.H{"to_state": models.StateApproved})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []any{models.StateDraft, models.StateReviewCompleted}, body["allowed"])

	assert.Len(t, f.history(t, wf.ID), 2)
}

func TestHandlerTerminate(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	doc := f.doc(t, "SOP-0902", models.StateDraft, models.CriticalityNormal)
	wf := f.start(t, doc, models.WorkflowReview)
	path := "/api/v1/workflows/" + wf.ID.String() + "/terminate"

	w, _ := doJSON(t, r, http.MethodPost, path, f.author, gin.H{"reason": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body := doJSON(t, r, http.MethodPost, path, f.author, gin.H{"reason": "duplicate of SOP-0001"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["is_terminated"])

	w, body = doJSON(t, r, http.MethodPost, path, f.author, gin.H{"reason": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "workflow_terminated", body["kind"])
}

func TestHandlerDependencies(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	a := f.doc(t, "SOP-1000", models.StateEffective, models.CriticalityNormal)
	b := f.doc(t, "SOP-1001", models.StateEffective, models.CriticalityNormal)

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/dependencies", f.admin, gin.H{
		"document_id":     a.ID,
		"depends_on_id":   b.ID,
		"dependency_type": models.DependencyReference,
		"is_critical":     true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/dependencies", f.admin, gin.H{
		"document_id":     b.ID,
		"depends_on_id":   a.ID,
		"dependency_type": models.DependencyReference,
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, "dependency_cycle", body["kind"])

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/documents/"+b.ID.String()+"/obsolescence-check", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, body["valid"])

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/dependencies/cycles", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["cycles"])
}

func TestHandlerEligibleApprovers(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	doc := f.doc(t, "POL-1100", models.StateDraft, models.CriticalityCritical)

	w, body := doJSON(t, r, http.MethodGet, "/api/v1/assignment/approvers?document_id="+doc.ID.String(), f.author, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	candidates := body["candidates"].([]any)
	require.Len(t, candidates, 1)
}
