package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"controlled-docs/edms-backend/internal/models"
)

type memoryData struct {
	states       map[string]models.DocumentState
	types        map[models.WorkflowTypeCode]models.WorkflowType
	documents    map[uuid.UUID]*models.Document
	workflows    map[uuid.UUID]*models.DocumentWorkflow
	transitions  []models.DocumentTransition
	dependencies []models.DocumentDependency
	reviews      []models.DocumentReview
	users        map[uuid.UUID]*models.User
	sequence     int64
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		states:       make(map[string]models.DocumentState, len(d.states)),
		types:        make(map[models.WorkflowTypeCode]models.WorkflowType, len(d.types)),
		documents:    make(map[uuid.UUID]*models.Document, len(d.documents)),
		workflows:    make(map[uuid.UUID]*models.DocumentWorkflow, len(d.workflows)),
		transitions:  make([]models.DocumentTransition, len(d.transitions)),
		dependencies: append([]models.DocumentDependency(nil), d.dependencies...),
		reviews:      append([]models.DocumentReview(nil), d.reviews...),
		users:        make(map[uuid.UUID]*models.User, len(d.users)),
		sequence:     d.sequence,
	}
	for k, v := range d.states {
		c.states[k] = v
	}
	for k, v := range d.types {
		c.types[k] = v
	}
	for k, v := range d.documents {
		c.documents[k] = v.Clone()
	}
	for k, v := range d.workflows {
		c.workflows[k] = v.Clone()
	}
	for i, t := range d.transitions {
		t.Data = t.Data.Clone()
		c.transitions[i] = t
	}
	for k, v := range d.users {
		u := *v
		c.users[k] = &u
	}
	return c
}

// MemoryRepository keeps everything in process. A transaction takes the
// store-wide lock, works on a copy and swaps it in on success, so
// transactions are fully serialized.
type MemoryRepository struct {
	mu   *sync.Mutex
	root **memoryData
	data *memoryData
	inTx bool
}

// NewMemoryRepository returns an empty store seeded with the default state
// catalog and workflow types.
func NewMemoryRepository() *MemoryRepository {
	data := &memoryData{
		states:    make(map[string]models.DocumentState),
		types:     make(map[models.WorkflowTypeCode]models.WorkflowType),
		documents: make(map[uuid.UUID]*models.Document),
		workflows: make(map[uuid.UUID]*models.DocumentWorkflow),
		users:     make(map[uuid.UUID]*models.User),
	}
	for _, s := range models.DefaultStates {
		data.states[s.Code] = s
	}
	for _, t := range models.DefaultWorkflowTypes {
		data.types[t.Code] = t
	}
	return &MemoryRepository{mu: &sync.Mutex{}, root: &data}
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	working := (*r.root).clone()
	tx := &MemoryRepository{mu: r.mu, root: r.root, data: working, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	*r.root = working
	return nil
}

// view runs fn against the committed data, or the transaction's copy.
func (r *MemoryRepository) view(fn func(d *memoryData) error) error {
	if r.inTx {
		return fn(r.data)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(*r.root)
}

func (r *MemoryRepository) GetState(ctx context.Context, code string) (*models.DocumentState, error) {
	var out *models.DocumentState
	err := r.view(func(d *memoryData) error {
		s, ok := d.states[code]
		if !ok {
			return ErrNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *MemoryRepository) ListStates(ctx context.Context) ([]models.DocumentState, error) {
	var out []models.DocumentState
	err := r.view(func(d *memoryData) error {
		for _, s := range d.states {
			out = append(out, s)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, err
}

func (r *MemoryRepository) GetWorkflowType(ctx context.Context, code models.WorkflowTypeCode) (*models.WorkflowType, error) {
	var out *models.WorkflowType
	err := r.view(func(d *memoryData) error {
		t, ok := d.types[code]
		if !ok {
			return ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *MemoryRepository) CreateDocument(ctx context.Context, doc *models.Document) error {
	return r.view(func(d *memoryData) error {
		if _, exists := d.documents[doc.ID]; exists {
			return ErrDuplicate
		}
		d.documents[doc.ID] = doc.Clone()
		return nil
	})
}

func (r *MemoryRepository) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var out *models.Document
	err := r.view(func(d *memoryData) error {
		doc, ok := d.documents[id]
		if !ok {
			return ErrNotFound
		}
		out = doc.Clone()
		return nil
	})
	return out, err
}

func (r *MemoryRepository) LockDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return r.GetDocument(ctx, id)
}

func (r *MemoryRepository) UpdateDocumentLifecycle(ctx context.Context, doc *models.Document) error {
	return r.view(func(d *memoryData) error {
		stored, ok := d.documents[doc.ID]
		if !ok {
			return ErrNotFound
		}
		updated := stored.Clone()
		updated.Status = doc.Status
		updated.EffectiveDate = doc.Clone().EffectiveDate
		updated.NextReviewDate = doc.Clone().NextReviewDate
		updated.ObsolescenceDate = doc.Clone().ObsolescenceDate
		updated.ObsolescenceReason = doc.ObsolescenceReason
		updated.UpdatedAt = doc.UpdatedAt
		d.documents[doc.ID] = updated
		return nil
	})
}

func (r *MemoryRepository) ListDocumentsDueForReview(ctx context.Context, asOf time.Time) ([]*models.Document, error) {
	var out []*models.Document
	err := r.view(func(d *memoryData) error {
		for _, doc := range d.documents {
			if doc.Status == models.StateEffective && doc.NextReviewDate != nil && !doc.NextReviewDate.After(asOf) {
				out = append(out, doc.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextReviewDate.Equal(*out[j].NextReviewDate) {
			return out[i].NextReviewDate.Before(*out[j].NextReviewDate)
		}
		return out[i].DocumentNumber < out[j].DocumentNumber
	})
	return out, err
}

func (r *MemoryRepository) ListDocumentsByFamily(ctx context.Context, familyKey string) ([]*models.Document, error) {
	var out []*models.Document
	err := r.view(func(d *memoryData) error {
		for _, doc := range d.documents {
			if doc.FamilyKey == familyKey {
				out = append(out, doc.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.VersionMajor != b.VersionMajor {
			return a.VersionMajor < b.VersionMajor
		}
		if a.VersionMinor != b.VersionMinor {
			return a.VersionMinor < b.VersionMinor
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, err
}

func (r *MemoryRepository) CreateWorkflow(ctx context.Context, wf *models.DocumentWorkflow) error {
	return r.view(func(d *memoryData) error {
		if _, exists := d.workflows[wf.ID]; exists {
			return ErrDuplicate
		}
		if wf.IsActive() {
			for _, other := range d.workflows {
				if other.DocumentID == wf.DocumentID && other.WorkflowType == wf.WorkflowType && other.IsActive() {
					return ErrDuplicate
				}
			}
		}
		d.workflows[wf.ID] = wf.Clone()
		return nil
	})
}

func (r *MemoryRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.DocumentWorkflow, error) {
	var out *models.DocumentWorkflow
	err := r.view(func(d *memoryData) error {
		wf, ok := d.workflows[id]
		if !ok {
			return ErrNotFound
		}
		out = wf.Clone()
		return nil
	})
	return out, err
}

func (r *MemoryRepository) LockWorkflow(ctx context.Context, id uuid.UUID) (*models.DocumentWorkflow, error) {
	return r.GetWorkflow(ctx, id)
}

func (r *MemoryRepository) UpdateWorkflow(ctx context.Context, wf *models.DocumentWorkflow) error {
	return r.view(func(d *memoryData) error {
		stored, ok := d.workflows[wf.ID]
		if !ok {
			return ErrNotFound
		}
		if stored.Version != wf.Version {
			return ErrConcurrentUpdate
		}
		wf.Version++
		d.workflows[wf.ID] = wf.Clone()
		return nil
	})
}

func (r *MemoryRepository) FindActiveWorkflow(ctx context.Context, documentID uuid.UUID, wfType models.WorkflowTypeCode) (*models.DocumentWorkflow, error) {
	var out *models.DocumentWorkflow
	err := r.view(func(d *memoryData) error {
		for _, wf := range d.workflows {
			if wf.DocumentID != documentID || wf.WorkflowType != wfType || !wf.IsActive() {
				continue
			}
			if out == nil || wf.CreatedAt.After(out.CreatedAt) {
				out = wf.Clone()
			}
		}
		if out == nil {
			return ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r *MemoryRepository) ListWorkflowsByDocument(ctx context.Context, documentID uuid.UUID) ([]*models.DocumentWorkflow, error) {
	return r.filterWorkflows(func(wf *models.DocumentWorkflow, _ *memoryData) bool {
		return wf.DocumentID == documentID
	})
}

func (r *MemoryRepository) ListActiveWorkflowsInStates(ctx context.Context, states []string) ([]*models.DocumentWorkflow, error) {
	return r.filterWorkflows(func(wf *models.DocumentWorkflow, _ *memoryData) bool {
		return wf.IsActive() && contains(states, wf.CurrentState)
	})
}

func (r *MemoryRepository) ListOverdueWorkflows(ctx context.Context, asOf time.Time) ([]*models.DocumentWorkflow, error) {
	return r.filterWorkflows(func(wf *models.DocumentWorkflow, d *memoryData) bool {
		if !wf.IsActive() || wf.DueDate == nil || !wf.DueDate.Before(asOf) {
			return false
		}
		return !d.states[wf.CurrentState].IsFinal
	})
}

func (r *MemoryRepository) filterWorkflows(keep func(*models.DocumentWorkflow, *memoryData) bool) ([]*models.DocumentWorkflow, error) {
	var out []*models.DocumentWorkflow
	err := r.view(func(d *memoryData) error {
		for _, wf := range d.workflows {
			if keep(wf, d) {
				out = append(out, wf.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *MemoryRepository) CountActiveAssignments(ctx context.Context, states []string) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int)
	err := r.view(func(d *memoryData) error {
		for _, wf := range d.workflows {
			if wf.IsActive() && wf.CurrentAssignee != nil && contains(states, wf.CurrentState) {
				counts[*wf.CurrentAssignee]++
			}
		}
		return nil
	})
	return counts, err
}

func (r *MemoryRepository) AppendTransition(ctx context.Context, t *models.DocumentTransition) error {
	return r.view(func(d *memoryData) error {
		d.sequence++
		t.Sequence = d.sequence
		stored := *t
		stored.Data = t.Data.Clone()
		d.transitions = append(d.transitions, stored)
		return nil
	})
}

func (r *MemoryRepository) ListTransitions(ctx context.Context, workflowID uuid.UUID) ([]models.DocumentTransition, error) {
	var out []models.DocumentTransition
	err := r.view(func(d *memoryData) error {
		for _, t := range d.transitions {
			if t.WorkflowID == workflowID {
				t.Data = t.Data.Clone()
				out = append(out, t)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TransitionedAt.Equal(out[j].TransitionedAt) {
			return out[i].TransitionedAt.Before(out[j].TransitionedAt)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, err
}

func (r *MemoryRepository) CreateDependency(ctx context.Context, dep *models.DocumentDependency) error {
	return r.view(func(d *memoryData) error {
		for _, existing := range d.dependencies {
			if existing.IsActive && existing.DocumentID == dep.DocumentID &&
				existing.DependsOnID == dep.DependsOnID && existing.DependencyType == dep.DependencyType {
				return ErrDuplicate
			}
		}
		d.dependencies = append(d.dependencies, *dep)
		return nil
	})
}

func (r *MemoryRepository) GetDependency(ctx context.Context, id uuid.UUID) (*models.DocumentDependency, error) {
	var out *models.DocumentDependency
	err := r.view(func(d *memoryData) error {
		for _, dep := range d.dependencies {
			if dep.ID == id {
				found := dep
				out = &found
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (r *MemoryRepository) DeactivateDependency(ctx context.Context, id uuid.UUID) error {
	return r.view(func(d *memoryData) error {
		for i := range d.dependencies {
			if d.dependencies[i].ID == id {
				d.dependencies[i].IsActive = false
				return nil
			}
		}
		return ErrNotFound
	})
}

func (r *MemoryRepository) ListActiveDependencyEdges(ctx context.Context) ([]models.DependencyEdge, error) {
	return r.edges(func(models.DocumentDependency) bool { return true })
}

func (r *MemoryRepository) ListIncomingDependencyEdges(ctx context.Context, documentID uuid.UUID) ([]models.DependencyEdge, error) {
	return r.edges(func(dep models.DocumentDependency) bool { return dep.DependsOnID == documentID })
}

func (r *MemoryRepository) edges(keep func(models.DocumentDependency) bool) ([]models.DependencyEdge, error) {
	var out []models.DependencyEdge
	err := r.view(func(d *memoryData) error {
		for _, dep := range d.dependencies {
			if !dep.IsActive || !keep(dep) {
				continue
			}
			src, okSrc := d.documents[dep.DocumentID]
			dst, okDst := d.documents[dep.DependsOnID]
			if !okSrc || !okDst {
				continue
			}
			out = append(out, models.DependencyEdge{
				DocumentDependency: dep,
				FromNumber:         src.DocumentNumber,
				FromFamily:         src.FamilyKey,
				FromStatus:         src.Status,
				ToNumber:           dst.DocumentNumber,
				ToFamily:           dst.FamilyKey,
				ToStatus:           dst.Status,
			})
		}
		return nil
	})
	return out, err
}

// LockDependencyGraph is a no-op: memory transactions are already serialized.
func (r *MemoryRepository) LockDependencyGraph(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) CreateReview(ctx context.Context, review *models.DocumentReview) error {
	return r.view(func(d *memoryData) error {
		d.reviews = append(d.reviews, *review)
		return nil
	})
}

func (r *MemoryRepository) GetReview(ctx context.Context, id uuid.UUID) (*models.DocumentReview, error) {
	var out *models.DocumentReview
	err := r.view(func(d *memoryData) error {
		for _, rv := range d.reviews {
			if rv.ID == id {
				found := rv
				out = &found
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (r *MemoryRepository) ListReviews(ctx context.Context, documentID uuid.UUID) ([]models.DocumentReview, error) {
	var out []models.DocumentReview
	err := r.view(func(d *memoryData) error {
		for _, rv := range d.reviews {
			if rv.DocumentID == documentID {
				out = append(out, rv)
			}
		}
		return nil
	})
	return out, err
}

func (r *MemoryRepository) LinkReviewNewVersion(ctx context.Context, reviewID, newVersionID uuid.UUID) error {
	return r.view(func(d *memoryData) error {
		for i := range d.reviews {
			if d.reviews[i].ID == reviewID && d.reviews[i].NewVersionID == nil {
				id := newVersionID
				d.reviews[i].NewVersionID = &id
				return nil
			}
		}
		return ErrNotFound
	})
}

func (r *MemoryRepository) CreateUser(ctx context.Context, user *models.User) error {
	return r.view(func(d *memoryData) error {
		u := *user
		d.users[user.ID] = &u
		return nil
	})
}

func (r *MemoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var out *models.User
	err := r.view(func(d *memoryData) error {
		u, ok := d.users[id]
		if !ok {
			return ErrNotFound
		}
		c := *u
		out = &c
		return nil
	})
	return out, err
}

func (r *MemoryRepository) ListActiveUsers(ctx context.Context) ([]*models.User, error) {
	var out []*models.User
	err := r.view(func(d *memoryData) error {
		for _, u := range d.users {
			if u.IsActive {
				c := *u
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName() < out[j].DisplayName() })
	return out, err
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
