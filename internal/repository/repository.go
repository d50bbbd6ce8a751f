package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"controlled-docs/edms-backend/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConcurrentUpdate is returned when an optimistic version check fails.
	ErrConcurrentUpdate = errors.New("record was modified concurrently")
	ErrDuplicate        = errors.New("record already exists")
)

type StateRepository interface {
	GetState(ctx context.Context, code string) (*models.DocumentState, error)
	ListStates(ctx context.Context) ([]models.DocumentState, error)
	GetWorkflowType(ctx context.Context, code models.WorkflowTypeCode) (*models.WorkflowType, error)
}

type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	// LockDocument reads the document and holds a row lock until the
	// surrounding transaction ends.
	LockDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	// UpdateDocumentLifecycle writes status and the lifecycle date fields only.
	UpdateDocumentLifecycle(ctx context.Context, doc *models.Document) error
	ListDocumentsDueForReview(ctx context.Context, asOf time.Time) ([]*models.Document, error)
	// ListDocumentsByFamily returns every version sharing familyKey, oldest first.
	ListDocumentsByFamily(ctx context.Context, familyKey string) ([]*models.Document, error)
}

type WorkflowRepository interface {
	CreateWorkflow(ctx context.Context, wf *models.DocumentWorkflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.DocumentWorkflow, error)
	LockWorkflow(ctx context.Context, id uuid.UUID) (*models.DocumentWorkflow, error)
	// UpdateWorkflow fails with ErrConcurrentUpdate when wf.Version is stale
	// and bumps wf.Version on success.
	UpdateWorkflow(ctx context.Context, wf *models.DocumentWorkflow) error
	FindActiveWorkflow(ctx context.Context, documentID uuid.UUID, wfType models.WorkflowTypeCode) (*models.DocumentWorkflow, error)
	ListWorkflowsByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.DocumentWorkflow, error)
	ListActiveWorkflowsInStates(ctx context.Context, states []string) ([]*models.DocumentWorkflow, error)
	ListOverdueWorkflows(ctx context.Context, asOf time.Time) ([]*models.DocumentWorkflow, error)
	// CountActiveAssignments returns, per assignee, the number of active
	// workflows sitting in one of the given states.
	CountActiveAssignments(ctx context.Context, states []string) (map[uuid.UUID]int, error)
}

type TransitionRepository interface {
	AppendTransition(ctx context.Context, t *models.DocumentTransition) error
	// ListTransitions is ordered by transitioned_at, then insertion sequence.
	ListTransitions(ctx context.Context, workflowID uuid.UUID) ([]models.DocumentTransition, error)
}

type DependencyRepository interface {
	CreateDependency(ctx context.Context, dep *models.DocumentDependency) error
	GetDependency(ctx context.Context, id uuid.UUID) (*models.DocumentDependency, error)
	DeactivateDependency(ctx context.Context, id uuid.UUID) error
	ListActiveDependencyEdges(ctx context.Context) ([]models.DependencyEdge, error)
	// ListIncomingDependencyEdges returns active edges whose DependsOnID is documentID.
	ListIncomingDependencyEdges(ctx context.Context, documentID uuid.UUID) ([]models.DependencyEdge, error)
	// LockDependencyGraph serializes writers of the dependency table for the
	// rest of the transaction.
	LockDependencyGraph(ctx context.Context) error
}

type ReviewRepository interface {
	CreateReview(ctx context.Context, review *models.DocumentReview) error
	GetReview(ctx context.Context, id uuid.UUID) (*models.DocumentReview, error)
	ListReviews(ctx context.Context, documentID uuid.UUID) ([]models.DocumentReview, error)
	LinkReviewNewVersion(ctx context.Context, reviewID, newVersionID uuid.UUID) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListActiveUsers(ctx context.Context) ([]*models.User, error)
}

// Repository is the unit of work over the workflow store. Calls made on the
// Repository passed to WithTx's callback share one transaction; the
// callback's error rolls everything back.
type Repository interface {
	StateRepository
	DocumentRepository
	WorkflowRepository
	TransitionRepository
	DependencyRepository
	ReviewRepository
	UserRepository

	WithTx(ctx context.Context, fn func(tx Repository) error) error
}
