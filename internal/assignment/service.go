package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/models"
)

var (
	ErrNotEligible    = errors.New("user is not eligible for this task")
	ErrSelfAssignment = errors.New("authors cannot review or approve their own document")
	ErrInactiveUser   = errors.New("user is inactive")
)

type Task string

const (
	TaskReview   Task = "review"
	TaskApproval Task = "approval"
)

// States counts as active work for each task when measuring workload.
var taskStates = map[Task][]string{
	TaskReview:   {models.StatePendingReview, models.StateUnderReview},
	TaskApproval: {models.StatePendingApproval, models.StateUnderApproval, models.StatePendingObsoletion},
}

type Workload string

const (
	WorkloadLow    Workload = "low"
	WorkloadNormal Workload = "normal"
	WorkloadHigh   Workload = "high"
)

// Thresholds classify a candidate's active task count. Capacity is the hard
// availability cap.
type Thresholds struct {
	LowMax    int `json:"low_max"`
	NormalMax int `json:"normal_max"`
	Capacity  int `json:"capacity"`
}

func (t Thresholds) classify(active int) Workload {
	switch {
	case active <= t.LowMax:
		return WorkloadLow
	case active <= t.NormalMax:
		return WorkloadNormal
	default:
		return WorkloadHigh
	}
}

type Config struct {
	Review   Thresholds `json:"review"`
	Approval Thresholds `json:"approval"`
}

func DefaultConfig() Config {
	return Config{
		Review:   Thresholds{LowMax: 3, NormalMax: 7, Capacity: 10},
		Approval: Thresholds{LowMax: 2, NormalMax: 4, Capacity: 6},
	}
}

func (c Config) thresholds(task Task) Thresholds {
	if task == TaskApproval {
		return c.Approval
	}
	return c.Review
}

// Candidate is one ranked reviewer or approver.
type Candidate struct {
	User        *models.User `json:"user"`
	ActiveTasks int          `json:"active_tasks"`
	Workload    Workload     `json:"workload"`
	Available   bool         `json:"available"`
	Recommended bool         `json:"recommended"`
}

// Criteria narrows a candidate search.
type Criteria struct {
	DocumentType  string             `json:"document_type,omitempty"`
	Criticality   models.Criticality `json:"criticality,omitempty"`
	ExcludeAuthor *uuid.UUID         `json:"exclude_author,omitempty"`
}

// Reader is the data the service ranks from.
type Reader interface {
	ListActiveUsers(ctx context.Context) ([]*models.User, error)
	CountActiveAssignments(ctx context.Context, states []string) (map[uuid.UUID]int, error)
}

type Service struct {
	repo   Reader
	oracle auth.Oracle
	config Config
	logger *zap.Logger
}

func NewService(repo Reader, oracle auth.Oracle, config Config, logger *zap.Logger) *Service {
	return &Service{repo: repo, oracle: oracle, config: config, logger: logger.Named("assignment")}
}

// EligibleReviewers returns reviewers ranked recommended first, then
// available, then by active review count and name.
func (s *Service) EligibleReviewers(ctx context.Context, criteria Criteria) ([]Candidate, error) {
	return s.rank(ctx, TaskReview, criteria)
}

// EligibleApprovers returns ranked approvers. High and critical documents
// only admit senior approvers.
func (s *Service) EligibleApprovers(ctx context.Context, criteria Criteria) ([]Candidate, error) {
	return s.rank(ctx, TaskApproval, criteria)
}

// Recommend picks the first recommended candidate, falling back to the
// first available one. It returns nil when nobody can take the task.
func (s *Service) Recommend(ctx context.Context, task Task, doc *models.Document) (*models.User, error) {
	author := doc.AuthorID
	candidates, err := s.rank(ctx, task, Criteria{
		DocumentType:  doc.DocumentType,
		Criticality:   doc.Criticality,
		ExcludeAuthor: &author,
	})
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.Recommended {
			return c.User, nil
		}
	}
	for _, c := range candidates {
		if c.Available {
			return c.User, nil
		}
	}
	s.logger.Warn("No available candidate",
		zap.String("task", string(task)),
		zap.String("document_id", doc.ID.String()))
	return nil, nil
}

func (s *Service) rank(ctx context.Context, task Task, criteria Criteria) ([]Candidate, error) {
	users, err := s.repo.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	counts, err := s.repo.CountActiveAssignments(ctx, taskStates[task])
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}

	limits := s.config.thresholds(task)
	var out []Candidate
	for _, u := range users {
		if u.IsSystem() {
			continue
		}
		if criteria.ExcludeAuthor != nil && u.ID == *criteria.ExcludeAuthor {
			continue
		}
		if !Eligible(s.oracle, u, task, criteria.Criticality) {
			continue
		}
		active := counts[u.ID]
		workload := limits.classify(active)
		available := active < limits.Capacity
		out = append(out, Candidate{
			User:        u,
			ActiveTasks: active,
			Workload:    workload,
			Available:   available,
			Recommended: available && workload != WorkloadHigh,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Recommended != b.Recommended {
			return a.Recommended
		}
		if a.Available != b.Available {
			return a.Available
		}
		if a.ActiveTasks != b.ActiveTasks {
			return a.ActiveTasks < b.ActiveTasks
		}
		return a.User.DisplayName() < b.User.DisplayName()
	})
	return out, nil
}

// Eligible is the role gate for a task. It ignores workload.
func Eligible(o auth.Oracle, u *models.User, task Task, criticality models.Criticality) bool {
	if u == nil || !u.IsActive {
		return false
	}
	if task == TaskApproval {
		return auth.CanApproveDocument(o, u, criticality)
	}
	return auth.CanReview(o, u)
}

// ValidateAssignee checks a manually chosen user against the same gate the
// ranking uses. Manual choice skips ranking, never eligibility.
func ValidateAssignee(o auth.Oracle, u *models.User, task Task, doc *models.Document) error {
	if u == nil || !u.IsActive {
		return ErrInactiveUser
	}
	if u.ID == doc.AuthorID {
		return ErrSelfAssignment
	}
	if !Eligible(o, u, task, doc.Criticality) {
		return fmt.Errorf("%w: %s for %s", ErrNotEligible, u.DisplayName(), task)
	}
	return nil
}
