package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/assignment"
	"controlled-docs/edms-backend/internal/audit"
	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/config"
	"controlled-docs/edms-backend/internal/models"
	"controlled-docs/edms-backend/internal/notifications"
	"controlled-docs/edms-backend/internal/repository"
	"controlled-docs/edms-backend/internal/workflow"
)

type harness struct {
	repo     *repository.MemoryRepository
	outbox   *notifications.MemoryOutbox
	engine   *workflow.Engine
	runner   *Runner
	now      time.Time
	author   *models.User
	reviewer *models.User
	approver *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:   repository.NewMemoryRepository(),
		outbox: notifications.NewMemoryOutbox(),
		now:    time.Date(2026, 6, 1, 6, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	oracle := auth.NewUserOracle()
	h.engine = workflow.NewEngine(
		h.repo,
		oracle,
		assignment.NewService(h.repo, oracle, assignment.DefaultConfig(), zap.NewNop()),
		audit.NewMemorySink(),
		notifications.NewService(h.outbox, zap.NewNop()).WithClock(clock),
		zap.NewNop(),
	).WithClock(clock)
	h.runner = NewRunner(h.repo, h.engine, time.UTC, 4, zap.NewNop()).WithClock(clock)

	h.author = h.user(t, "Ann Author", models.RoleAuthor)
	h.reviewer = h.user(t, "Rita Reviewer", models.RoleReviewer)
	h.approver = h.user(t, "Alan Approver", models.RoleApprover)
	return h
}

func (h *harness) user(t *testing.T, name string, roles ...string) *models.User {
	t.Helper()
	u := &models.User{ID: uuid.New(), Username: name, FullName: name, IsActive: true, Roles: roles}
	require.NoError(t, h.repo.CreateUser(context.Background(), u))
	return u
}

func (h *harness) doc(t *testing.T, number, status string, opts ...func(*models.Document)) *models.Document {
	t.Helper()
	d := &models.Document{
		ID:                 uuid.New(),
		DocumentNumber:     number,
		FamilyKey:          models.FamilyKeyFor(number),
		Title:              number,
		DocumentType:       "SOP",
		Criticality:        models.CriticalityNormal,
		Status:             status,
		AuthorID:           h.author.ID,
		ReviewPeriodMonths: 12,
	}
	for _, opt := range opts {
		opt(d)
	}
	require.NoError(t, h.repo.CreateDocument(context.Background(), d))
	return d
}

func (h *harness) move(t *testing.T, wfID uuid.UUID, to string, actor *models.User, mutate ...func(*workflow.TransitionRequest)) {
	t.Helper()
	req := workflow.TransitionRequest{WorkflowID: wfID, ToState: to, Actor: actor}
	for _, m := range mutate {
		m(&req)
	}
	_, err := h.engine.Transition(context.Background(), req)
	require.NoError(t, err, "move to %s", to)
}

// pendingEffective walks a REVIEW workflow to APPROVED_PENDING_EFFECTIVE.
func (h *harness) pendingEffective(t *testing.T, doc *models.Document, effective time.Time) *models.DocumentWorkflow {
	t.Helper()
	wf, err := h.engine.Start(context.Background(), workflow.StartRequest{DocumentID: doc.ID, Type: models.WorkflowReview, Actor: h.author})
	require.NoError(t, err)
	h.move(t, wf.ID, models.StatePendingReview, h.author)
	h.move(t, wf.ID, models.StateUnderReview, h.reviewer)
	h.move(t, wf.ID, models.StateReviewCompleted, h.reviewer)
	h.move(t, wf.ID, models.StatePendingApproval, h.author)
	h.move(t, wf.ID, models.StateUnderApproval, h.approver)
	h.move(t, wf.ID, models.StateApproved, h.approver)
	h.move(t, wf.ID, models.StateApprovedPendingEffective, h.author, func(r *workflow.TransitionRequest) {
		r.EffectiveDate = &effective
	})
	return wf
}

// scheduledObsolescence walks an OBSOLETE workflow to SCHEDULED_FOR_OBSOLESCENCE.
func (h *harness) scheduledObsolescence(t *testing.T, doc *models.Document, on time.Time) *models.DocumentWorkflow {
	t.Helper()
	wf, err := h.engine.Start(context.Background(), workflow.StartRequest{
		DocumentID:       doc.ID,
		Type:             models.WorkflowObsolete,
		Actor:            h.author,
		ObsoletingReason: "replaced by electronic form",
	})
	require.NoError(t, err)
	h.move(t, wf.ID, models.StatePendingObsoletion, h.author)
	h.move(t, wf.ID, models.StateScheduledForObsolescence, h.approver, func(r *workflow.TransitionRequest) {
		r.ObsoletingDate = &on
	})
	return wf
}

func (h *harness) criticalDependent(t *testing.T, on *models.Document, number string) *models.Document {
	t.Helper()
	dependent := h.doc(t, number, models.StateEffective)
	require.NoError(t, h.repo.CreateDependency(context.Background(), &models.DocumentDependency{
		ID:             uuid.New(),
		DocumentID:     dependent.ID,
		DependsOnID:    on.ID,
		DependencyType: models.DependencyImplements,
		IsCritical:     true,
		IsActive:       true,
		CreatedBy:      h.author.ID,
		CreatedAt:      h.now,
	}))
	return dependent
}

func (h *harness) transitions(t *testing.T, wfID uuid.UUID) []models.DocumentTransition {
	t.Helper()
	rows, err := h.repo.ListTransitions(context.Background(), wfID)
	require.NoError(t, err)
	return rows
}

func TestActivateEffectiveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	today := h.doc(t, "SOP-2000", models.StateDraft)
	later := h.doc(t, "SOP-2001", models.StateDraft)
	wfToday := h.pendingEffective(t, today, h.now.Add(4*time.Hour))
	wfLater := h.pendingEffective(t, later, h.now.AddDate(0, 0, 3))

	report, err := h.runner.ActivateEffective(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)

	d, err := h.repo.GetDocument(ctx, today.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEffective, d.Status)
	rows := h.transitions(t, wfToday.ID)
	last := rows[len(rows)-1]
	assert.Equal(t, models.StateEffective, last.ToState)
	assert.Equal(t, models.SystemUserID, last.TransitionedBy)

	d, err = h.repo.GetDocument(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateApprovedPendingEffective, d.Status)

	report, err = h.runner.ActivateEffective(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Applied)
	assert.Len(t, h.transitions(t, wfToday.ID), len(rows))

	h.now = h.now.AddDate(0, 0, 3)
	report, err = h.runner.ActivateEffective(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	wf, err := h.repo.GetWorkflow(ctx, wfLater.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEffective, wf.CurrentState)
	assert.NotNil(t, wf.CompletedAt)
}

func TestActivateEffectiveSupersedesParent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.doc(t, "POL-2100-v1", models.StateEffective)
	child := h.doc(t, "POL-2100-v2", models.StateDraft, func(d *models.Document) {
		d.SupersedesID = &parent.ID
		d.VersionMajor = 2
	})

	wf, err := h.engine.Start(ctx, workflow.StartRequest{
		DocumentID:      child.ID,
		Type:            models.WorkflowUpVersion,
		Actor:           h.author,
		UpVersionReason: "annual revision",
	})
	require.NoError(t, err)
	h.move(t, wf.ID, models.StatePendingReview, h.author)
	h.move(t, wf.ID, models.StateUnderReview, h.reviewer)
	h.move(t, wf.ID, models.StateReviewCompleted, h.reviewer)
	h.move(t, wf.ID, models.StatePendingApproval, h.author)
	h.move(t, wf.ID, models.StateUnderApproval, h.approver)
	h.move(t, wf.ID, models.StateApproved, h.approver)
	eff := h.now
	h.move(t, wf.ID, models.StateApprovedPendingEffective, h.author, func(r *workflow.TransitionRequest) {
		r.EffectiveDate = &eff
	})

	report, err := h.runner.ActivateEffective(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	p, err := h.repo.GetDocument(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSuperseded, p.Status)
	assert.Nil(t, p.NextReviewDate)
	c, err := h.repo.GetDocument(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEffective, c.Status)
}

func TestActivateEffectiveStopsOnRetiredDependency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.doc(t, "POL-7100", models.StateEffective)
	form := h.doc(t, "FRM-7200", models.StateEffective)
	child := h.doc(t, "POL-7100-v2", models.StateDraft, func(d *models.Document) {
		d.SupersedesID = &parent.ID
		d.VersionMajor = 2
	})
	require.NoError(t, h.repo.CreateDependency(ctx, &models.DocumentDependency{
		ID:             uuid.New(),
		DocumentID:     child.ID,
		DependsOnID:    form.ID,
		DependencyType: models.DependencyIncorporates,
		IsCritical:     true,
		IsActive:       true,
		CreatedBy:      h.author.ID,
		CreatedAt:      h.now,
	}))

	wf, err := h.engine.Start(ctx, workflow.StartRequest{
		DocumentID:      child.ID,
		Type:            models.WorkflowUpVersion,
		Actor:           h.author,
		UpVersionReason: "new form layout",
	})
	require.NoError(t, err)
	h.move(t, wf.ID, models.StatePendingReview, h.author)
	h.move(t, wf.ID, models.StateUnderReview, h.reviewer)
	h.move(t, wf.ID, models.StateReviewCompleted, h.reviewer)
	h.move(t, wf.ID, models.StatePendingApproval, h.author)
	h.move(t, wf.ID, models.StateUnderApproval, h.approver)
	h.move(t, wf.ID, models.StateApproved, h.approver)
	tomorrow := h.now.AddDate(0, 0, 1)
	h.move(t, wf.ID, models.StateApprovedPendingEffective, h.author, func(r *workflow.TransitionRequest) {
		r.EffectiveDate = &tomorrow
	})

	h.scheduledObsolescence(t, form, h.now)
	report, err := h.runner.ActivateObsolescence(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied)

	h.now = tomorrow
	report, err = h.runner.ActivateEffective(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Zero(t, report.Failed)

	got, err := h.repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTerminated)
	assert.Contains(t, got.TerminationReason, "FRM-7200")
	for _, row := range h.transitions(t, wf.ID) {
		assert.NotEqual(t, models.StateEffective, row.ToState)
	}

	c, err := h.repo.GetDocument(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDraft, c.Status)
	p, err := h.repo.GetDocument(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEffective, p.Status)

	var alerted bool
	for _, n := range h.outbox.All() {
		if n.Type == notifications.TypeTerminated && n.RecipientID == h.author.ID {
			alerted = true
		}
	}
	assert.True(t, alerted, "initiator is alerted")
}

func TestObsolescenceTerminatedWhenCriticalDependentAppears(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.doc(t, "FRM-2200", models.StateEffective)
	wf := h.scheduledObsolescence(t, doc, h.now)
	h.criticalDependent(t, doc, "SOP-2201")

	report, err := h.runner.ActivateObsolescence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	got, err := h.repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTerminated)
	assert.NotEmpty(t, got.TerminationReason)
	assert.Contains(t, got.TerminationReason, "SOP-2201")

	d, err := h.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEffective, d.Status)
	assert.Nil(t, d.ObsolescenceDate)
	for _, row := range h.transitions(t, wf.ID) {
		assert.NotEqual(t, models.StateObsolete, row.ToState)
	}

	var alerted bool
	for _, n := range h.outbox.All() {
		if n.Type == notifications.TypeTerminated && n.RecipientID == h.author.ID {
			alerted = true
		}
	}
	assert.True(t, alerted, "initiator is alerted")

	report, err = h.runner.ActivateObsolescence(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestObsolescenceActivatesWhenClear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.doc(t, "FRM-2300", models.StateEffective)
	wf := h.scheduledObsolescence(t, doc, h.now.AddDate(0, 0, 1))

	report, err := h.runner.ActivateObsolescence(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Applied)

	h.now = h.now.AddDate(0, 0, 1)
	report, err = h.runner.ActivateObsolescence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	d, err := h.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateObsolete, d.Status)
	assert.Equal(t, "replaced by electronic form", d.ObsolescenceReason)
	got, err := h.repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CompletedAt)
}

func TestPendingObsoletionWaitsForApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.doc(t, "FRM-2400", models.StateEffective)
	on := h.now
	wf, err := h.engine.Start(ctx, workflow.StartRequest{
		DocumentID:       doc.ID,
		Type:             models.WorkflowObsolete,
		Actor:            h.author,
		ObsoletingReason: "merged into FRM-2401",
		ObsoletingDate:   &on,
	})
	require.NoError(t, err)
	h.move(t, wf.ID, models.StatePendingObsoletion, h.author)

	report, err := h.runner.ActivateObsolescence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	got, err := h.repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive())

	h.criticalDependent(t, doc, "SOP-2402")
	report, err = h.runner.ActivateObsolescence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	got, err = h.repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTerminated)
}

func TestPeriodicReviewTriggeredOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	due := h.now.AddDate(0, 0, -1)
	reviewer := h.reviewer.ID
	doc := h.doc(t, "SOP-2500", models.StateEffective, func(d *models.Document) {
		d.NextReviewDate = &due
		d.ReviewerID = &reviewer
	})
	notDue := h.now.AddDate(0, 2, 0)
	h.doc(t, "SOP-2501", models.StateEffective, func(d *models.Document) {
		d.NextReviewDate = &notDue
	})

	for i := 0; i < 2; i++ {
		_, err := h.runner.TriggerPeriodicReviews(ctx)
		require.NoError(t, err)
	}

	wfs, err := h.repo.ListWorkflowsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	wf := wfs[0]
	assert.Equal(t, models.WorkflowPeriodicReview, wf.WorkflowType)
	require.NotNil(t, wf.CurrentAssignee)
	assert.Equal(t, h.author.ID, *wf.CurrentAssignee)
	require.NotNil(t, wf.DueDate)
	assert.True(t, wf.DueDate.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, models.SystemUserID, wf.InitiatedBy)

	counts := make(map[uuid.UUID]int)
	for _, n := range h.outbox.All() {
		if n.Type == notifications.TypePeriodicReview {
			counts[n.RecipientID]++
		}
	}
	assert.Equal(t, map[uuid.UUID]int{h.author.ID: 1, h.reviewer.ID: 1}, counts)
}

func TestOverdueNotifiesOncePerDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.doc(t, "SOP-2600", models.StateDraft)
	past := h.now.AddDate(0, 0, -2)
	wf, err := h.engine.Start(ctx, workflow.StartRequest{
		DocumentID: doc.ID,
		Type:       models.WorkflowReview,
		Actor:      h.author,
		DueDate:    &past,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		report, err := h.runner.NotifyOverdue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Scanned)
	}

	overdue := 0
	for _, n := range h.outbox.All() {
		if n.Type == notifications.TypeOverdue {
			overdue++
			assert.Equal(t, h.author.ID, n.RecipientID)
		}
	}
	assert.Equal(t, 1, overdue)

	got, err := h.repo.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDraft, got.CurrentState)
	assert.True(t, got.IsActive())
}

func TestRunAllOrder(t *testing.T) {
	h := newHarness(t)
	reports, err := h.runner.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 4)
	assert.Equal(t, JobEffective, reports[0].Job)
	assert.Equal(t, JobObsolescence, reports[1].Job)
	assert.Equal(t, JobPeriodicReview, reports[2].Job)
	assert.Equal(t, JobOverdue, reports[3].Job)
}

func TestManagerRegistersConfiguredJobs(t *testing.T) {
	h := newHarness(t)
	cfg := config.SchedulerConfig{
		Timezone:           "Europe/Dublin",
		EffectiveSpec:      "5 0 * * *",
		ObsolescenceSpec:   "15 0 * * *",
		PeriodicReviewSpec: "@daily",
		MaxConcurrent:      2,
	}
	m, err := NewManager(h.runner, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, m.ActiveJobs())

	_, err = m.JobStatus(JobOverdue)
	assert.Error(t, err)
	status, err := m.JobStatus(JobEffective)
	require.NoError(t, err)
	assert.Equal(t, JobEffective, status.Job)

	_, err = m.RunNow(context.Background(), "reindex")
	assert.Error(t, err)
	report, err := m.RunNow(context.Background(), JobOverdue)
	require.NoError(t, err)
	assert.Equal(t, JobOverdue, report.Job)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx))
	cancel()
	m.Stop()
}

func TestManagerRejectsBadConfig(t *testing.T) {
	h := newHarness(t)

	_, err := NewManager(h.runner, config.SchedulerConfig{Timezone: "Mars/Olympus"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewManager(h.runner, config.SchedulerConfig{Timezone: "UTC", EffectiveSpec: "61 * * * *"}, zap.NewNop())
	assert.Error(t, err)
}

func TestValidateCronExpression(t *testing.T) {
	assert.NoError(t, ValidateCronExpression("0 9 * * 1-5"))
	assert.NoError(t, ValidateCronExpression("@hourly"))
	assert.Error(t, ValidateCronExpression("0 0 9 * * 1-5"))
}

func TestDocumentLocksRelease(t *testing.T) {
	l := newDocumentLocks()
	id := uuid.New()
	unlock := l.lock(id)
	assert.Len(t, l.locks, 1)
	unlock()
	assert.Empty(t, l.locks)

	done := make(chan struct{})
	unlock = l.lock(id)
	go func() {
		release := l.lock(id)
		release()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done
}
