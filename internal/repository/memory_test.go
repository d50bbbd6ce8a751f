package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlled-docs/edms-backend/internal/models"
)

func seedDocument(t *testing.T, repo *MemoryRepository, number string) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:             uuid.New(),
		DocumentNumber: number,
		FamilyKey:      models.FamilyKeyFor(number),
		Title:          number,
		Criticality:    models.CriticalityNormal,
		Status:         models.StateDraft,
		AuthorID:       uuid.New(),
		VersionMajor:   1,
	}
	require.NoError(t, repo.CreateDocument(context.Background(), doc))
	return doc
}

func TestMemoryRepositorySeedsCatalog(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	states, err := repo.ListStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, len(models.DefaultStates))
	assert.Equal(t, models.StateDraft, states[0].Code)

	wt, err := repo.GetWorkflowType(ctx, models.WorkflowPeriodicReview)
	require.NoError(t, err)
	assert.Equal(t, 30, wt.TimeoutDays)

	_, err = repo.GetState(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepositoryRollsBackOnError(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doc := seedDocument(t, repo, "SOP-0001")

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx Repository) error {
		d, err := tx.LockDocument(ctx, doc.ID)
		require.NoError(t, err)
		d.Status = models.StatePendingReview
		require.NoError(t, tx.UpdateDocumentLifecycle(ctx, d))
		require.NoError(t, tx.AppendTransition(ctx, &models.DocumentTransition{ID: uuid.New(), WorkflowID: uuid.New()}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDraft, stored.Status)
}

func TestMemoryRepositoryCommits(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doc := seedDocument(t, repo, "SOP-0002")

	err := repo.WithTx(ctx, func(tx Repository) error {
		d, err := tx.LockDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		d.Status = models.StatePendingReview
		return tx.UpdateDocumentLifecycle(ctx, d)
	})
	require.NoError(t, err)

	stored, err := repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingReview, stored.Status)
}

func TestMemoryRepositoryOptimisticVersion(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doc := seedDocument(t, repo, "SOP-0003")

	wf := &models.DocumentWorkflow{
		ID:           uuid.New(),
		DocumentID:   doc.ID,
		WorkflowType: models.WorkflowReview,
		InitialState: models.StateDraft,
		CurrentState: models.StateDraft,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, repo.CreateWorkflow(ctx, wf))

	first, err := repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	second, err := repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	first.CurrentState = models.StatePendingReview
	require.NoError(t, repo.UpdateWorkflow(ctx, first))
	assert.Equal(t, 1, first.Version)

	second.CurrentState = models.StateTerminated
	assert.ErrorIs(t, repo.UpdateWorkflow(ctx, second), ErrConcurrentUpdate)

	stored, err := repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingReview, stored.CurrentState)
}

func TestMemoryRepositoryTransitionOrdering(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	wfID := uuid.New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	steps := []struct{ from, to string }{
		{models.StateDraft, models.StatePendingReview},
		{models.StatePendingReview, models.StateUnderReview},
		{models.StateUnderReview, models.StateReviewCompleted},
	}
	for _, s := range steps {
		require.NoError(t, repo.AppendTransition(ctx, &models.DocumentTransition{
			ID: uuid.New(), WorkflowID: wfID, FromState: s.from, ToState: s.to, TransitionedAt: at,
		}))
	}
	require.NoError(t, repo.AppendTransition(ctx, &models.DocumentTransition{
		ID: uuid.New(), WorkflowID: uuid.New(), FromState: models.StateDraft, ToState: models.StatePendingReview, TransitionedAt: at,
	}))

	rows, err := repo.ListTransitions(ctx, wfID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, s := range steps {
		assert.Equal(t, s.to, rows[i].ToState)
		if i > 0 {
			assert.Equal(t, rows[i-1].ToState, rows[i].FromState)
			assert.Greater(t, rows[i].Sequence, rows[i-1].Sequence)
		}
	}
}

func TestMemoryRepositoryDependencyEdges(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	a := seedDocument(t, repo, "POL-0001")
	b := seedDocument(t, repo, "SOP-0002")

	dep := &models.DocumentDependency{
		ID: uuid.New(), DocumentID: a.ID, DependsOnID: b.ID,
		DependencyType: models.DependencyReference, IsCritical: true, IsActive: true,
	}
	require.NoError(t, repo.CreateDependency(ctx, dep))
	dup := *dep
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.CreateDependency(ctx, &dup), ErrDuplicate)

	incoming, err := repo.ListIncomingDependencyEdges(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, "POL-0001", incoming[0].FromNumber)
	assert.Equal(t, "SOP-0002", incoming[0].ToFamily)

	require.NoError(t, repo.DeactivateDependency(ctx, dep.ID))
	edges, err := repo.ListActiveDependencyEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestMemoryRepositoryListsFamilyInVersionOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	v2 := &models.Document{
		ID:             uuid.New(),
		DocumentNumber: "WI-0700-v2",
		FamilyKey:      models.FamilyKeyFor("WI-0700-v2"),
		Title:          "WI-0700",
		Status:         models.StateDraft,
		AuthorID:       uuid.New(),
		VersionMajor:   2,
	}
	require.NoError(t, repo.CreateDocument(ctx, v2))
	v1 := seedDocument(t, repo, "WI-0700")
	seedDocument(t, repo, "WI-0701")

	family, err := repo.ListDocumentsByFamily(ctx, "WI-0700")
	require.NoError(t, err)
	require.Len(t, family, 2)
	assert.Equal(t, v1.ID, family[0].ID)
	assert.Equal(t, v2.ID, family[1].ID)
}
