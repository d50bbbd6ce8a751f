package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"controlled-docs/edms-backend/internal/models"
)

// dependencyGraphLockKey is the advisory lock taken by writers of
// document_dependencies.
const dependencyGraphLockKey = 72110531

const documentColumns = `id, document_number, family_key, title, document_type, criticality, status,
	author_id, reviewer_id, approver_id, version_major, version_minor, supersedes_id,
	effective_date, next_review_date, review_period_months, obsolescence_date, obsolescence_reason,
	created_at, updated_at`

const workflowColumns = `id, document_id, workflow_type, initial_state, current_state, initiated_by,
	current_assignee, selected_reviewer, selected_approver, is_terminated, termination_reason,
	terminated_at, completed_at, due_date, effective_date, obsoleting_date, up_version_reason,
	obsoleting_reason, workflow_data, version, created_at, updated_at`

const edgeSelect = `
	SELECT d.id, d.document_id, d.depends_on_id, d.dependency_type, d.is_critical, d.is_active,
		   d.description, d.created_by, d.created_at,
		   src.document_number AS from_number, src.family_key AS from_family, src.status AS from_status,
		   dst.document_number AS to_number, dst.family_key AS to_family, dst.status AS to_status
	FROM document_dependencies d
	JOIN documents src ON src.id = d.document_id
	JOIN documents dst ON dst.id = d.depends_on_id
	WHERE d.is_active = true`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
	tx  *sqlx.Tx
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db, ext: db}
}

func (r *PostgresRepository) WithTx(ctx context.Context, fn func(tx Repository) error) (err error) {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&PostgresRepository{db: r.db, ext: tx, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =====================================================
// States and workflow types
// =====================================================

func (r *PostgresRepository) GetState(ctx context.Context, code string) (*models.DocumentState, error) {
	var state models.DocumentState
	err := sqlx.GetContext(ctx, r.ext, &state,
		`SELECT code, name, is_initial, is_final, sort_order, created_at FROM document_states WHERE code = $1`, code)
	if err != nil {
		return nil, notFound(err)
	}
	return &state, nil
}

func (r *PostgresRepository) ListStates(ctx context.Context) ([]models.DocumentState, error) {
	var states []models.DocumentState
	err := sqlx.SelectContext(ctx, r.ext, &states,
		`SELECT code, name, is_initial, is_final, sort_order, created_at FROM document_states ORDER BY sort_order`)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	return states, nil
}

func (r *PostgresRepository) GetWorkflowType(ctx context.Context, code models.WorkflowTypeCode) (*models.WorkflowType, error) {
	var wt models.WorkflowType
	err := sqlx.GetContext(ctx, r.ext, &wt,
		`SELECT code, name, requires_approval, timeout_days, reminder_days FROM workflow_types WHERE code = $1`, code)
	if err != nil {
		return nil, notFound(err)
	}
	return &wt, nil
}

// =====================================================
// Documents
// =====================================================

func (r *PostgresRepository) CreateDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (` + documentColumns + `) VALUES (
			:id, :document_number, :family_key, :title, :document_type, :criticality, :status,
			:author_id, :reviewer_id, :approver_id, :version_major, :version_minor, :supersedes_id,
			:effective_date, :next_review_date, :review_period_months, :obsolescence_date, :obsolescence_reason,
			:created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, doc); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	if err := sqlx.GetContext(ctx, r.ext, &doc, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (r *PostgresRepository) LockDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	if err := sqlx.GetContext(ctx, r.ext, &doc, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (r *PostgresRepository) UpdateDocumentLifecycle(ctx context.Context, doc *models.Document) error {
	query := `
		UPDATE documents SET
			status = :status,
			effective_date = :effective_date,
			next_review_date = :next_review_date,
			obsolescence_date = :obsolescence_date,
			obsolescence_reason = :obsolescence_reason,
			updated_at = :updated_at
		WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.ext, query, doc)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListDocumentsDueForReview(ctx context.Context, asOf time.Time) ([]*models.Document, error) {
	var docs []*models.Document
	err := sqlx.SelectContext(ctx, r.ext, &docs, `
		SELECT `+documentColumns+` FROM documents
		WHERE status = $1 AND next_review_date IS NOT NULL AND next_review_date <= $2
		ORDER BY next_review_date, document_number`, models.StateEffective, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents due for review: %w", err)
	}
	return docs, nil
}

func (r *PostgresRepository) ListDocumentsByFamily(ctx context.Context, familyKey string) ([]*models.Document, error) {
	var docs []*models.Document
	err := sqlx.SelectContext(ctx, r.ext, &docs, `
		SELECT `+documentColumns+` FROM documents
		WHERE family_key = $1
		ORDER BY version_major, version_minor, created_at`, familyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list document family: %w", err)
	}
	return docs, nil
}

// =====================================================
// Workflows
// =====================================================

func (r *PostgresRepository) CreateWorkflow(ctx context.Context, wf *models.DocumentWorkflow) error {
	query := `
		INSERT INTO document_workflows (` + workflowColumns + `) VALUES (
			:id, :document_id, :workflow_type, :initial_state, :current_state, :initiated_by,
			:current_assignee, :selected_reviewer, :selected_approver, :is_terminated, :termination_reason,
			:terminated_at, :completed_at, :due_date, :effective_date, :obsoleting_date, :up_version_reason,
			:obsoleting_reason, :workflow_data, :version, :created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, wf); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.DocumentWorkflow, error) {
	var wf models.DocumentWorkflow
	if err := sqlx.GetContext(ctx, r.ext, &wf, `SELECT `+workflowColumns+` FROM document_workflows WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &wf, nil
}

func (r *PostgresRepository) LockWorkflow(ctx context.Context, id uuid.UUID) (*models.DocumentWorkflow, error) {
	var wf models.DocumentWorkflow
	if err := sqlx.GetContext(ctx, r.ext, &wf, `SELECT `+workflowColumns+` FROM document_workflows WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, notFound(err)
	}
	return &wf, nil
}

func (r *PostgresRepository) UpdateWorkflow(ctx context.Context, wf *models.DocumentWorkflow) error {
	query := `
		UPDATE document_workflows SET
			current_state = :current_state,
			current_assignee = :current_assignee,
			selected_reviewer = :selected_reviewer,
			selected_approver = :selected_approver,
			is_terminated = :is_terminated,
			termination_reason = :termination_reason,
			terminated_at = :terminated_at,
			completed_at = :completed_at,
			due_date = :due_date,
			effective_date = :effective_date,
			obsoleting_date = :obsoleting_date,
			up_version_reason = :up_version_reason,
			obsoleting_reason = :obsoleting_reason,
			workflow_data = :workflow_data,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version`
	result, err := sqlx.NamedExecContext(ctx, r.ext, query, wf)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrConcurrentUpdate
	}
	wf.Version++
	return nil
}

func (r *PostgresRepository) FindActiveWorkflow(ctx context.Context, documentID uuid.UUID, wfType models.WorkflowTypeCode) (*models.DocumentWorkflow, error) {
	var wf models.DocumentWorkflow
	err := sqlx.GetContext(ctx, r.ext, &wf, `
		SELECT `+workflowColumns+` FROM document_workflows
		WHERE document_id = $1 AND workflow_type = $2 AND is_terminated = false AND completed_at IS NULL
		ORDER BY created_at DESC LIMIT 1`, documentID, wfType)
	if err != nil {
		return nil, notFound(err)
	}
	return &wf, nil
}

func (r *PostgresRepository) ListWorkflowsByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.DocumentWorkflow, error) {
	var wfs []*models.DocumentWorkflow
	err := sqlx.SelectContext(ctx, r.ext, &wfs, `
		SELECT `+workflowColumns+` FROM document_workflows
		WHERE document_id = $1 ORDER BY created_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return wfs, nil
}

func (r *PostgresRepository) ListActiveWorkflowsInStates(ctx context.Context, states []string) ([]*models.DocumentWorkflow, error) {
	var wfs []*models.DocumentWorkflow
	err := sqlx.SelectContext(ctx, r.ext, &wfs, `
		SELECT `+workflowColumns+` FROM document_workflows
		WHERE is_terminated = false AND completed_at IS NULL AND current_state = ANY($1)
		ORDER BY created_at`, pq.Array(states))
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows by state: %w", err)
	}
	return wfs, nil
}

func (r *PostgresRepository) ListOverdueWorkflows(ctx context.Context, asOf time.Time) ([]*models.DocumentWorkflow, error) {
	var wfs []*models.DocumentWorkflow
	err := sqlx.SelectContext(ctx, r.ext, &wfs, `
		SELECT `+workflowColumns+` FROM document_workflows w
		WHERE w.is_terminated = false AND w.completed_at IS NULL
		  AND w.due_date IS NOT NULL AND w.due_date < $1
		  AND NOT EXISTS (
			SELECT 1 FROM document_states s WHERE s.code = w.current_state AND s.is_final = true
		  )
		ORDER BY w.due_date`, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue workflows: %w", err)
	}
	return wfs, nil
}

func (r *PostgresRepository) CountActiveAssignments(ctx context.Context, states []string) (map[uuid.UUID]int, error) {
	var rows []struct {
		Assignee uuid.UUID `db:"current_assignee"`
		Count    int       `db:"count"`
	}
	err := sqlx.SelectContext(ctx, r.ext, &rows, `
		SELECT current_assignee, COUNT(*) AS count FROM document_workflows
		WHERE is_terminated = false AND completed_at IS NULL
		  AND current_assignee IS NOT NULL AND current_state = ANY($1)
		GROUP BY current_assignee`, pq.Array(states))
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	counts := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		counts[row.Assignee] = row.Count
	}
	return counts, nil
}

// =====================================================
// Transitions
// =====================================================

func (r *PostgresRepository) AppendTransition(ctx context.Context, t *models.DocumentTransition) error {
	rows, err := sqlx.NamedQueryContext(ctx, r.ext, `
		INSERT INTO document_transitions (
			id, workflow_id, from_state, to_state, transitioned_by, transitioned_at, comment, transition_data
		) VALUES (
			:id, :workflow_id, :from_state, :to_state, :transitioned_by, :transitioned_at, :comment, :transition_data
		) RETURNING sequence`, t)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&t.Sequence); err != nil {
			return fmt.Errorf("failed to read transition sequence: %w", err)
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) ListTransitions(ctx context.Context, workflowID uuid.UUID) ([]models.DocumentTransition, error) {
	var transitions []models.DocumentTransition
	err := sqlx.SelectContext(ctx, r.ext, &transitions, `
		SELECT id, workflow_id, sequence, from_state, to_state, transitioned_by, transitioned_at, comment, transition_data
		FROM document_transitions WHERE workflow_id = $1
		ORDER BY transitioned_at, sequence`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return transitions, nil
}

// =====================================================
// Dependencies
// =====================================================

func (r *PostgresRepository) CreateDependency(ctx context.Context, dep *models.DocumentDependency) error {
	query := `
		INSERT INTO document_dependencies (
			id, document_id, depends_on_id, dependency_type, is_critical, is_active, description, created_by, created_at
		) VALUES (
			:id, :document_id, :depends_on_id, :dependency_type, :is_critical, :is_active, :description, :created_by, :created_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, dep); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create dependency: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetDependency(ctx context.Context, id uuid.UUID) (*models.DocumentDependency, error) {
	var dep models.DocumentDependency
	err := sqlx.GetContext(ctx, r.ext, &dep, `
		SELECT id, document_id, depends_on_id, dependency_type, is_critical, is_active, description, created_by, created_at
		FROM document_dependencies WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &dep, nil
}

func (r *PostgresRepository) DeactivateDependency(ctx context.Context, id uuid.UUID) error {
	result, err := r.ext.ExecContext(ctx, `UPDATE document_dependencies SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate dependency: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListActiveDependencyEdges(ctx context.Context) ([]models.DependencyEdge, error) {
	var edges []models.DependencyEdge
	if err := sqlx.SelectContext(ctx, r.ext, &edges, edgeSelect+` ORDER BY d.created_at`); err != nil {
		return nil, fmt.Errorf("failed to list dependency edges: %w", err)
	}
	return edges, nil
}

func (r *PostgresRepository) ListIncomingDependencyEdges(ctx context.Context, documentID uuid.UUID) ([]models.DependencyEdge, error) {
	var edges []models.DependencyEdge
	if err := sqlx.SelectContext(ctx, r.ext, &edges, edgeSelect+` AND d.depends_on_id = $1 ORDER BY d.created_at`, documentID); err != nil {
		return nil, fmt.Errorf("failed to list incoming dependencies: %w", err)
	}
	return edges, nil
}

func (r *PostgresRepository) LockDependencyGraph(ctx context.Context) error {
	if r.tx == nil {
		return errors.New("dependency graph lock requires a transaction")
	}
	if _, err := r.ext.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, dependencyGraphLockKey); err != nil {
		return fmt.Errorf("failed to lock dependency graph: %w", err)
	}
	return nil
}

// =====================================================
// Periodic reviews
// =====================================================

func (r *PostgresRepository) CreateReview(ctx context.Context, review *models.DocumentReview) error {
	query := `
		INSERT INTO document_reviews (
			id, document_id, workflow_id, reviewed_by, outcome, comments, reviewed_at, next_review_date, new_version_id
		) VALUES (
			:id, :document_id, :workflow_id, :reviewed_by, :outcome, :comments, :reviewed_at, :next_review_date, :new_version_id
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, review); err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetReview(ctx context.Context, id uuid.UUID) (*models.DocumentReview, error) {
	var review models.DocumentReview
	err := sqlx.GetContext(ctx, r.ext, &review, `
		SELECT id, document_id, workflow_id, reviewed_by, outcome, comments, reviewed_at, next_review_date, new_version_id
		FROM document_reviews WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &review, nil
}

func (r *PostgresRepository) ListReviews(ctx context.Context, documentID uuid.UUID) ([]models.DocumentReview, error) {
	var reviews []models.DocumentReview
	err := sqlx.SelectContext(ctx, r.ext, &reviews, `
		SELECT id, document_id, workflow_id, reviewed_by, outcome, comments, reviewed_at, next_review_date, new_version_id
		FROM document_reviews WHERE document_id = $1 ORDER BY reviewed_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return reviews, nil
}

// LinkReviewNewVersion sets new_version_id once; the row is otherwise immutable.
func (r *PostgresRepository) LinkReviewNewVersion(ctx context.Context, reviewID, newVersionID uuid.UUID) error {
	result, err := r.ext.ExecContext(ctx,
		`UPDATE document_reviews SET new_version_id = $2 WHERE id = $1 AND new_version_id IS NULL`, reviewID, newVersionID)
	if err != nil {
		return fmt.Errorf("failed to link review: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// =====================================================
// Users
// =====================================================

func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, full_name, email, is_active, is_superuser, roles, permissions)
		VALUES (:id, :username, :full_name, :email, :is_active, :is_superuser, :roles, :permissions)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, r.ext, &user,
		`SELECT id, username, full_name, email, is_active, is_superuser, roles, permissions FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *PostgresRepository) ListActiveUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := sqlx.SelectContext(ctx, r.ext, &users, `
		SELECT id, username, full_name, email, is_active, is_superuser, roles, permissions
		FROM users WHERE is_active = true ORDER BY full_name, username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}
