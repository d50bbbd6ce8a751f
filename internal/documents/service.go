package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/assignment"
	"controlled-docs/edms-backend/internal/audit"
	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/models"
	"controlled-docs/edms-backend/internal/repository"
)

// Repository is the slice of the store the registry needs.
type Repository interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListDocumentsByFamily(ctx context.Context, familyKey string) ([]*models.Document, error)
	ListReviews(ctx context.Context, documentID uuid.UUID) ([]models.DocumentReview, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type Service interface {
	Register(ctx context.Context, actor *models.User, req RegisterRequest) (*models.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	NewVersion(ctx context.Context, actor *models.User, parentID uuid.UUID, req VersionRequest) (*models.Document, error)
	ListVersions(ctx context.Context, id uuid.UUID) (*Family, error)
	ListReviews(ctx context.Context, id uuid.UUID) ([]models.DocumentReview, error)
}

type documentService struct {
	repo   Repository
	oracle auth.Oracle
	audit  audit.Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, oracle auth.Oracle, sink audit.Sink, logger *zap.Logger) Service {
	return &documentService{
		repo:   repo,
		oracle: oracle,
		audit:  sink,
		logger: logger.Named("documents"),
		now:    time.Now,
	}
}

func (s *documentService) Register(ctx context.Context, actor *models.User, req RegisterRequest) (*models.Document, error) {
	if !auth.CanAuthor(s.oracle, actor) {
		return nil, ErrNotPermitted
	}
	number := strings.TrimSpace(req.DocumentNumber)
	title := strings.TrimSpace(req.Title)
	if number == "" || title == "" {
		return nil, fmt.Errorf("%w: document number and title are required", ErrInvalidRequest)
	}
	criticality := req.Criticality
	if criticality == "" {
		criticality = models.CriticalityNormal
	}
	if !validCriticality(criticality) {
		return nil, fmt.Errorf("%w: unknown criticality %q", ErrInvalidRequest, criticality)
	}
	months := req.ReviewPeriodMonths
	if months < 0 {
		return nil, fmt.Errorf("%w: review period must be positive", ErrInvalidRequest)
	}
	if months == 0 {
		months = defaultReviewPeriodMonths
	}

	family := models.FamilyKeyFor(number)
	if err := s.ensureUnique(ctx, family, number); err != nil {
		return nil, err
	}

	now := s.now()
	doc := &models.Document{
		ID:                 uuid.New(),
		DocumentNumber:     number,
		FamilyKey:          family,
		Title:              title,
		DocumentType:       strings.TrimSpace(req.DocumentType),
		Criticality:        criticality,
		Status:             models.StateDraft,
		AuthorID:           actor.ID,
		VersionMajor:       1,
		ReviewPeriodMonths: months,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var err error
	if doc.ReviewerID, err = s.preselect(ctx, doc, req.ReviewerID, assignment.TaskReview); err != nil {
		return nil, err
	}
	if doc.ApproverID, err = s.preselect(ctx, doc, req.ApproverID, assignment.TaskApproval); err != nil {
		return nil, err
	}

	if err := s.create(ctx, doc); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionDocumentRegistered, doc, "Registered "+doc.DocumentNumber, models.JSONB{
		"document_number": doc.DocumentNumber,
		"criticality":     string(doc.Criticality),
	})
	s.logger.Info("Document registered",
		zap.String("document_id", doc.ID.String()),
		zap.String("document_number", doc.DocumentNumber),
		zap.String("actor_id", actor.ID.String()))
	return doc, nil
}

func (s *documentService) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return doc, err
}

// NewVersion drafts the next major version. The draft supersedes its parent
// only when an UP_VERSION workflow later makes it effective.
func (s *documentService) NewVersion(ctx context.Context, actor *models.User, parentID uuid.UUID, req VersionRequest) (*models.Document, error) {
	if !auth.CanAuthor(s.oracle, actor) {
		return nil, ErrNotPermitted
	}
	parent, err := s.GetDocument(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Status != models.StateEffective {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotEffective, parent.DocumentNumber, parent.Status)
	}

	versions, err := s.repo.ListDocumentsByFamily(ctx, parent.FamilyKey)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.VersionMajor > parent.VersionMajor {
			return nil, fmt.Errorf("%w: %s", ErrVersionInProgress, v.DocumentNumber)
		}
	}

	major := parent.VersionMajor + 1
	number := strings.TrimSpace(req.DocumentNumber)
	if number == "" {
		number = fmt.Sprintf("%s-v%d", parent.FamilyKey, major)
	}
	if models.FamilyKeyFor(number) != parent.FamilyKey {
		return nil, fmt.Errorf("%w: %s does not belong to family %s", ErrInvalidRequest, number, parent.FamilyKey)
	}
	for _, v := range versions {
		if strings.EqualFold(v.DocumentNumber, number) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
		}
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = parent.Title
	}
	now := s.now()
	supersedes := parent.ID
	doc := &models.Document{
		ID:                 uuid.New(),
		DocumentNumber:     number,
		FamilyKey:          parent.FamilyKey,
		Title:              title,
		DocumentType:       parent.DocumentType,
		Criticality:        parent.Criticality,
		Status:             models.StateDraft,
		AuthorID:           actor.ID,
		VersionMajor:       major,
		SupersedesID:       &supersedes,
		ReviewPeriodMonths: parent.ReviewPeriodMonths,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.create(ctx, doc); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionDocumentVersioned, doc,
		fmt.Sprintf("Drafted %s from %s", doc.DocumentNumber, parent.DocumentNumber),
		models.JSONB{
			"supersedes_id": parent.ID.String(),
			"version_major": major,
		})
	return doc, nil
}

func (s *documentService) ListVersions(ctx context.Context, id uuid.UUID) (*Family, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	versions, err := s.repo.ListDocumentsByFamily(ctx, doc.FamilyKey)
	if err != nil {
		return nil, err
	}
	return &Family{FamilyKey: doc.FamilyKey, Versions: versions}, nil
}

func (s *documentService) ListReviews(ctx context.Context, id uuid.UUID) ([]models.DocumentReview, error) {
	if _, err := s.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListReviews(ctx, id)
}

func (s *documentService) ensureUnique(ctx context.Context, family, number string) error {
	existing, err := s.repo.ListDocumentsByFamily(ctx, family)
	if err != nil {
		return err
	}
	for _, d := range existing {
		if strings.EqualFold(d.DocumentNumber, number) {
			return fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
		}
	}
	return nil
}

func (s *documentService) create(ctx context.Context, doc *models.Document) error {
	err := s.repo.CreateDocument(ctx, doc)
	if errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, doc.DocumentNumber)
	}
	return err
}

// preselect validates a reviewer or approver chosen at registration.
func (s *documentService) preselect(ctx context.Context, doc *models.Document, id *uuid.UUID, task assignment.Task) (*uuid.UUID, error) {
	if id == nil || *id == uuid.Nil {
		return nil, nil
	}
	u, err := s.repo.GetUser(ctx, *id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user %s", ErrInvalidRequest, *id)
	}
	if err != nil {
		return nil, err
	}
	if err := assignment.ValidateAssignee(s.oracle, u, task, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	selected := *id
	return &selected, nil
}

func (s *documentService) record(ctx context.Context, actor *models.User, action string, doc *models.Document, desc string, changes models.JSONB) {
	event := audit.Event{
		ActorID:     actor.ID,
		Action:      action,
		ObjectType:  "Document",
		ObjectID:    doc.ID,
		Description: desc,
		Changes:     changes,
		OccurredAt:  s.now(),
	}
	if err := s.audit.RecordEvent(ctx, event); err != nil {
		s.logger.Error("Failed to record audit event",
			zap.String("document_id", doc.ID.String()),
			zap.String("action", action),
			zap.Error(err))
	}
}
