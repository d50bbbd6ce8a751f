package workflow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/assignment"
	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/dependencies"
	"controlled-docs/edms-backend/internal/models"
	"controlled-docs/edms-backend/internal/repository"
)

// Handler handles HTTP requests for workflow operations
type Handler struct {
	engine       *Engine
	assignment   *assignment.Service
	dependencies *dependencies.Service
	documents    repository.DocumentRepository
	logger       *zap.Logger
}

// NewHandler creates a new workflow handler
func NewHandler(engine *Engine, assign *assignment.Service, deps *dependencies.Service, documents repository.DocumentRepository, logger *zap.Logger) *Handler {
	return &Handler{
		engine:       engine,
		assignment:   assign,
		dependencies: deps,
		documents:    documents,
		logger:       logger.Named("workflow.http"),
	}
}

// RegisterRoutes registers workflow routes. The group must run the auth
// middleware.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	workflows := router.Group("/workflows")
	{
		workflows.POST("", h.startWorkflow)
		workflows.GET("/:id", h.getWorkflow)
		workflows.GET("/:id/transitions", h.listTransitions)
		workflows.GET("/:id/available-transitions", h.availableTransitions)
		workflows.POST("/:id/transitions", h.transition)
		workflows.POST("/:id/terminate", h.terminate)
		workflows.POST("/:id/periodic-review", h.completePeriodicReview)
	}

	documents := router.Group("/documents")
	{
		documents.GET("/:id/workflows", h.listDocumentWorkflows)
		documents.GET("/:id/obsolescence-check", h.obsolescenceCheck)
	}

	router.POST("/reviews/:id/link", h.linkNewVersion)

	candidates := router.Group("/assignment")
	{
		candidates.GET("/reviewers", h.eligibleReviewers)
		candidates.GET("/approvers", h.eligibleApprovers)
	}

	deps := router.Group("/dependencies")
	{
		deps.POST("", h.addDependency)
		deps.DELETE("/:id", h.deactivateDependency)
		deps.GET("/cycles", h.detectCycles)
	}
}

// startWorkflow handles POST /api/v1/workflows
func (h *Handler) startWorkflow(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Actor = actor

	wf, err := h.engine.Start(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

// getWorkflow handles GET /api/v1/workflows/:id
func (h *Handler) getWorkflow(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	wf, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// listTransitions handles GET /api/v1/workflows/:id/transitions
func (h *Handler) listTransitions(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	history, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": history})
}

// availableTransitions handles GET /api/v1/workflows/:id/available-transitions
func (h *Handler) availableTransitions(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	states, err := h.engine.AvailableTransitions(c.Request.Context(), id, actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": states})
}

// transition handles POST /api/v1/workflows/:id/transitions
func (h *Handler) transition(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.WorkflowID = id
	req.Actor = actor

	t, err := h.engine.Transition(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// terminate handles POST /api/v1/workflows/:id/terminate
func (h *Handler) terminate(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req TerminateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.WorkflowID = id
	req.Actor = actor

	wf, err := h.engine.Terminate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// completePeriodicReview handles POST /api/v1/workflows/:id/periodic-review
func (h *Handler) completePeriodicReview(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req CompleteReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.WorkflowID = id
	req.Actor = actor

	review, err := h.engine.CompletePeriodicReview(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

// linkNewVersion handles POST /api/v1/reviews/:id/link
func (h *Handler) linkNewVersion(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		NewVersionID uuid.UUID `json:"new_version_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.LinkNewVersion(c.Request.Context(), id, req.NewVersionID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listDocumentWorkflows handles GET /api/v1/documents/:id/workflows
func (h *Handler) listDocumentWorkflows(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	wfs, err := h.engine.ListForDocument(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": wfs})
}

// obsolescenceCheck handles GET /api/v1/documents/:id/obsolescence-check
func (h *Handler) obsolescenceCheck(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	res, err := h.dependencies.CheckObsolescence(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// eligibleReviewers handles GET /api/v1/assignment/reviewers
func (h *Handler) eligibleReviewers(c *gin.Context) {
	criteria, ok := h.criteria(c)
	if !ok {
		return
	}
	candidates, err := h.assignment.EligibleReviewers(c.Request.Context(), criteria)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// eligibleApprovers handles GET /api/v1/assignment/approvers
func (h *Handler) eligibleApprovers(c *gin.Context) {
	criteria, ok := h.criteria(c)
	if !ok {
		return
	}
	candidates, err := h.assignment.EligibleApprovers(c.Request.Context(), criteria)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// addDependency handles POST /api/v1/dependencies
func (h *Handler) addDependency(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req dependencies.AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dep, err := h.dependencies.Add(c.Request.Context(), actor, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dep)
}

// deactivateDependency handles DELETE /api/v1/dependencies/:id
func (h *Handler) deactivateDependency(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.dependencies.Deactivate(c.Request.Context(), actor, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// detectCycles handles GET /api/v1/dependencies/cycles
func (h *Handler) detectCycles(c *gin.Context) {
	cycles, err := h.dependencies.DetectAllCycles(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if cycles == nil {
		cycles = [][]string{}
	}
	c.JSON(http.StatusOK, gin.H{"cycles": cycles})
}

// criteria reads candidate filters. A document_id query parameter fills in
// criticality and excludes the author.
func (h *Handler) criteria(c *gin.Context) (assignment.Criteria, bool) {
	criteria := assignment.Criteria{
		DocumentType: c.Query("document_type"),
		Criticality:  models.Criticality(c.Query("criticality")),
	}
	if raw := c.Query("document_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document_id"})
			return criteria, false
		}
		doc, err := h.documents.GetDocument(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return criteria, false
		}
		author := doc.AuthorID
		criteria.DocumentType = doc.DocumentType
		criteria.Criticality = doc.Criticality
		criteria.ExcludeAuthor = &author
	}
	return criteria, true
}

func (h *Handler) actor(c *gin.Context) (*models.User, bool) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil, false
	}
	return actor, true
}

func (h *Handler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// fail maps error kinds to statuses. Every rejection carries its reason.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		blocked *DependencyBlockedError
		invalid *InvalidTransitionError
		cycle   *dependencies.CycleError
	)
	switch {
	case errors.As(err, &blocked):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "dependency_blocked", "blocking": blocked.Blocking})
	case errors.As(err, &invalid):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "invalid_transition", "allowed": invalid.Allowed})
	case errors.As(err, &cycle):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "dependency_cycle", "path": cycle.Path})
	case errors.Is(err, ErrWorkflowTerminated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "workflow_terminated"})
	case errors.Is(err, ErrUnknownState):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": "unknown_state"})
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, dependencies.ErrNotPermitted):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "kind": "permission_denied"})
	case errors.Is(err, ErrMissingComment):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "missing_comment"})
	case errors.Is(err, dependencies.ErrSelfDependency), errors.Is(err, dependencies.ErrInvalidType):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "invalid_dependency"})
	case errors.Is(err, ErrWorkflowNotFound), errors.Is(err, ErrDocumentNotFound),
		errors.Is(err, dependencies.ErrDocumentNotFound), errors.Is(err, dependencies.ErrDependencyNotFound),
		errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": "not_found"})
	case errors.Is(err, ErrWorkflowAlreadyActive), errors.Is(err, dependencies.ErrDuplicateEdge),
		errors.Is(err, repository.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "conflict"})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_request"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
