package dependencies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/audit"
	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/models"
	"controlled-docs/edms-backend/internal/repository"
)

var (
	ErrNotPermitted       = errors.New("user may not manage dependencies of this document")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrDependencyNotFound = errors.New("dependency not found")
	ErrDuplicateEdge      = errors.New("dependency already exists")
)

// AddRequest describes a new edge: DocumentID depends on DependsOnID.
type AddRequest struct {
	DocumentID     uuid.UUID             `json:"document_id" binding:"required"`
	DependsOnID    uuid.UUID             `json:"depends_on_id" binding:"required"`
	DependencyType models.DependencyType `json:"dependency_type" binding:"required"`
	IsCritical     bool                  `json:"is_critical"`
	Description    string                `json:"description"`
}

type Service struct {
	repo   repository.Repository
	oracle auth.Oracle
	audit  audit.Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo repository.Repository, oracle auth.Oracle, sink audit.Sink, logger *zap.Logger) *Service {
	return &Service{repo: repo, oracle: oracle, audit: sink, logger: logger.Named("dependencies"), now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Add validates and stores a dependency. The graph lock is held from the
// cycle check to the insert, so two concurrent adds cannot each pass the
// check and together close a cycle.
func (s *Service) Add(ctx context.Context, actor *models.User, req AddRequest) (*models.DocumentDependency, error) {
	if !req.DependencyType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.DependencyType)
	}

	var dep *models.DocumentDependency
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		if err := tx.LockDependencyGraph(ctx); err != nil {
			return err
		}
		from, err := s.document(ctx, tx, req.DocumentID)
		if err != nil {
			return err
		}
		to, err := s.document(ctx, tx, req.DependsOnID)
		if err != nil {
			return err
		}
		if !s.canManage(actor, from) {
			return ErrNotPermitted
		}
		if err := NewValidator(tx).ValidateCandidate(ctx, from, to); err != nil {
			return err
		}

		dep = &models.DocumentDependency{
			ID:             uuid.New(),
			DocumentID:     from.ID,
			DependsOnID:    to.ID,
			DependencyType: req.DependencyType,
			IsCritical:     req.IsCritical,
			IsActive:       true,
			Description:    req.Description,
			CreatedBy:      actor.ID,
			CreatedAt:      s.now(),
		}
		if err := tx.CreateDependency(ctx, dep); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateEdge
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, audit.ActionDependencyAdded, dep, fmt.Sprintf("dependency %s added", dep.DependencyType))
	return dep, nil
}

// Deactivate soft-deletes a dependency.
func (s *Service) Deactivate(ctx context.Context, actor *models.User, id uuid.UUID) error {
	var dep *models.DocumentDependency
	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		var err error
		dep, err = tx.GetDependency(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDependencyNotFound
		}
		if err != nil {
			return err
		}
		from, err := s.document(ctx, tx, dep.DocumentID)
		if err != nil {
			return err
		}
		if !s.canManage(actor, from) {
			return ErrNotPermitted
		}
		return tx.DeactivateDependency(ctx, id)
	})
	if err != nil {
		return err
	}

	s.record(ctx, actor, audit.ActionDependencyRemoved, dep, "dependency deactivated")
	return nil
}

// DetectAllCycles reports cycles in the current graph. A healthy store
// returns none; the report exists for data loaded around the validator.
func (s *Service) DetectAllCycles(ctx context.Context) ([][]string, error) {
	return NewValidator(s.repo).DetectAllCycles(ctx)
}

// CheckObsolescence previews whether doc could be obsoleted now.
func (s *Service) CheckObsolescence(ctx context.Context, documentID uuid.UUID) (*Result, error) {
	doc, err := s.document(ctx, s.repo, documentID)
	if err != nil {
		return nil, err
	}
	return NewValidator(s.repo).ValidateObsolescence(ctx, doc)
}

func (s *Service) document(ctx context.Context, repo repository.DocumentRepository, id uuid.UUID) (*models.Document, error) {
	doc, err := repo.GetDocument(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return doc, err
}

func (s *Service) canManage(actor *models.User, doc *models.Document) bool {
	if actor == nil || !actor.IsActive {
		return false
	}
	return actor.ID == doc.AuthorID || auth.CanManageDependencies(s.oracle, actor)
}

func (s *Service) record(ctx context.Context, actor *models.User, action string, dep *models.DocumentDependency, desc string) {
	event := audit.Event{
		ActorID:     actor.ID,
		Action:      action,
		ObjectType:  "DocumentDependency",
		ObjectID:    dep.ID,
		Description: desc,
		Changes: models.JSONB{
			"document_id":   dep.DocumentID.String(),
			"depends_on_id": dep.DependsOnID.String(),
			"is_critical":   dep.IsCritical,
		},
		OccurredAt: s.now(),
	}
	if err := s.audit.RecordEvent(ctx, event); err != nil {
		s.logger.Error("Failed to record audit event",
			zap.String("dependency_id", dep.ID.String()),
			zap.String("action", action),
			zap.Error(err))
	}
}
