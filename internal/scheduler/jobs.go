package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"controlled-docs/edms-backend/internal/dependencies"
	"controlled-docs/edms-backend/internal/models"
	"controlled-docs/edms-backend/internal/repository"
	"controlled-docs/edms-backend/internal/workflow"
)

// periodicReviewDueDays is the window a triggered periodic review gets.
const periodicReviewDueDays = 30

// Report summarises one automation pass.
type Report struct {
	Job     string `json:"job"`
	Scanned int    `json:"scanned"`
	Applied int    `json:"applied"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// Runner holds the automation jobs. Each job is idempotent: a second pass
// on the same day finds nothing left to do.
type Runner struct {
	repo          repository.Repository
	engine        *workflow.Engine
	logger        *zap.Logger
	now           func() time.Time
	loc           *time.Location
	maxConcurrent int
	locks         *documentLocks
}

func NewRunner(repo repository.Repository, engine *workflow.Engine, loc *time.Location, maxConcurrent int, logger *zap.Logger) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		repo:          repo,
		engine:        engine,
		logger:        logger.Named("scheduler.jobs"),
		now:           time.Now,
		loc:           loc,
		maxConcurrent: maxConcurrent,
		locks:         newDocumentLocks(),
	}
}

// WithClock replaces the time source.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RunAll runs every job once, in dependency order: documents become
// effective before anything checks what they supersede.
func (r *Runner) RunAll(ctx context.Context) ([]Report, error) {
	var reports []Report
	for _, job := range []func(context.Context) (Report, error){
		r.ActivateEffective,
		r.ActivateObsolescence,
		r.TriggerPeriodicReviews,
		r.NotifyOverdue,
	} {
		report, err := job(ctx)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// ActivateEffective moves every workflow whose effective date has arrived
// to EFFECTIVE. Up-version parents are superseded by the engine in the
// same transaction. A new version whose dependencies were retired in the
// meantime is terminated instead.
func (r *Runner) ActivateEffective(ctx context.Context) (Report, error) {
	cutoff := r.endOfToday()
	wfs, err := r.repo.ListActiveWorkflowsInStates(ctx, []string{models.StateApprovedPendingEffective})
	if err != nil {
		return Report{Job: JobEffective}, fmt.Errorf("failed to list pending workflows: %w", err)
	}
	var due []*models.DocumentWorkflow
	for _, wf := range wfs {
		if wf.EffectiveDate != nil && !wf.EffectiveDate.After(cutoff) {
			due = append(due, wf)
		}
	}

	return r.each(ctx, JobEffective, len(wfs), due, func(ctx context.Context, wf *models.DocumentWorkflow) (bool, error) {
		_, err := r.engine.Transition(ctx, workflow.TransitionRequest{
			WorkflowID: wf.ID,
			ToState:    models.StateEffective,
			Actor:      models.SystemUser(),
			Comment:    "Effective date reached",
		})
		var blocked *workflow.DependencyBlockedError
		if errors.As(err, &blocked) {
			return r.blockActivation(ctx, wf, blocked.Reason)
		}
		if moved(err) {
			return false, nil
		}
		return err == nil, err
	}), nil
}

// blockActivation terminates a new version that can no longer take effect.
// The initiator is told through the termination notice.
func (r *Runner) blockActivation(ctx context.Context, wf *models.DocumentWorkflow, reason string) (bool, error) {
	_, err := r.engine.Terminate(ctx, workflow.TerminateRequest{
		WorkflowID: wf.ID,
		Actor:      models.SystemUser(),
		Reason:     "Activation blocked by dependencies: " + reason,
	})
	if moved(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.logger.Warn("Activation terminated",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("document_id", wf.DocumentID.String()),
		zap.String("reason", reason))
	return true, nil
}

// ActivateObsolescence retires documents whose obsoleting date has
// arrived. The dependency check runs again first; a workflow that would
// orphan a critical dependent is terminated instead.
func (r *Runner) ActivateObsolescence(ctx context.Context) (Report, error) {
	cutoff := r.endOfToday()
	wfs, err := r.repo.ListActiveWorkflowsInStates(ctx, []string{
		models.StateScheduledForObsolescence,
		models.StatePendingObsoletion,
	})
	if err != nil {
		return Report{Job: JobObsolescence}, fmt.Errorf("failed to list obsolescence workflows: %w", err)
	}
	var due []*models.DocumentWorkflow
	for _, wf := range wfs {
		if wf.ObsoletingDate != nil && !wf.ObsoletingDate.After(cutoff) {
			due = append(due, wf)
		}
	}

	return r.each(ctx, JobObsolescence, len(wfs), due, func(ctx context.Context, wf *models.DocumentWorkflow) (bool, error) {
		if wf.CurrentState == models.StatePendingObsoletion {
			return r.recheckPendingObsolescence(ctx, wf)
		}
		_, err := r.engine.Transition(ctx, workflow.TransitionRequest{
			WorkflowID: wf.ID,
			ToState:    models.StateObsolete,
			Actor:      models.SystemUser(),
			Comment:    "Obsoleting date reached",
		})
		var blocked *workflow.DependencyBlockedError
		if errors.As(err, &blocked) {
			return r.blockObsolescence(ctx, wf, blocked.Reason)
		}
		if moved(err) {
			return false, nil
		}
		return err == nil, err
	}), nil
}

// recheckPendingObsolescence handles a workflow still awaiting approval
// when its date passes. It is only terminated when dependents now block it.
func (r *Runner) recheckPendingObsolescence(ctx context.Context, wf *models.DocumentWorkflow) (bool, error) {
	doc, err := r.repo.GetDocument(ctx, wf.DocumentID)
	if err != nil {
		return false, fmt.Errorf("failed to load document: %w", err)
	}
	res, err := dependencies.NewValidator(r.repo).ValidateObsolescence(ctx, doc)
	if err != nil {
		return false, err
	}
	if res.Valid {
		r.logger.Info("Obsolescence still awaiting approval",
			zap.String("workflow_id", wf.ID.String()),
			zap.String("document_id", wf.DocumentID.String()))
		return false, nil
	}
	return r.blockObsolescence(ctx, wf, res.Reason)
}

func (r *Runner) blockObsolescence(ctx context.Context, wf *models.DocumentWorkflow, reason string) (bool, error) {
	_, err := r.engine.Terminate(ctx, workflow.TerminateRequest{
		WorkflowID: wf.ID,
		Actor:      models.SystemUser(),
		Reason:     "Obsolescence blocked by dependencies: " + reason,
	})
	if moved(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.logger.Warn("Obsolescence terminated",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("document_id", wf.DocumentID.String()),
		zap.String("reason", reason))
	return true, nil
}

// TriggerPeriodicReviews opens a periodic review for every effective
// document whose review date has come. Documents that already have one
// open are skipped.
func (r *Runner) TriggerPeriodicReviews(ctx context.Context) (Report, error) {
	now := r.now().In(r.loc)
	docs, err := r.repo.ListDocumentsDueForReview(ctx, r.endOfToday())
	if err != nil {
		return Report{Job: JobPeriodicReview}, fmt.Errorf("failed to list documents due for review: %w", err)
	}
	due := startOfDay(now).AddDate(0, 0, periodicReviewDueDays)

	report := run(ctx, r, JobPeriodicReview, len(docs), docs,
		func(d *models.Document) uuid.UUID { return d.ID },
		func(ctx context.Context, doc *models.Document) (bool, error) {
			dueDate := due
			_, err := r.engine.Start(ctx, workflow.StartRequest{
				DocumentID: doc.ID,
				Type:       models.WorkflowPeriodicReview,
				Actor:      models.SystemUser(),
				DueDate:    &dueDate,
				Comment:    "Periodic review due",
			})
			if errors.Is(err, workflow.ErrWorkflowAlreadyActive) || errors.Is(err, workflow.ErrInvalidRequest) {
				return false, nil
			}
			return err == nil, err
		})
	return report, nil
}

// NotifyOverdue tells assignees about workflows past their due date.
// Timeouts never move a workflow.
func (r *Runner) NotifyOverdue(ctx context.Context) (Report, error) {
	now := r.now()
	wfs, err := r.repo.ListOverdueWorkflows(ctx, now)
	if err != nil {
		return Report{Job: JobOverdue}, fmt.Errorf("failed to list overdue workflows: %w", err)
	}
	return r.each(ctx, JobOverdue, len(wfs), wfs, func(ctx context.Context, wf *models.DocumentWorkflow) (bool, error) {
		return r.engine.NotifyOverdue(ctx, wf, now.In(r.loc))
	}), nil
}

func (r *Runner) each(ctx context.Context, job string, scanned int, wfs []*models.DocumentWorkflow, fn func(context.Context, *models.DocumentWorkflow) (bool, error)) Report {
	return run(ctx, r, job, scanned, wfs, func(wf *models.DocumentWorkflow) uuid.UUID { return wf.DocumentID }, fn)
}

// run applies fn to every item. Items of one document run in order under
// that document's lock; distinct documents run concurrently up to the
// configured limit. Item failures are counted and logged, never fatal.
func run[T any](ctx context.Context, r *Runner, job string, scanned int, items []T, key func(T) uuid.UUID, fn func(context.Context, T) (bool, error)) Report {
	var (
		order  []uuid.UUID
		groups = make(map[uuid.UUID][]T)
	)
	for _, item := range items {
		k := key(item)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], item)
	}

	var (
		mu     sync.Mutex
		report = Report{Job: job, Scanned: scanned, Skipped: scanned - len(items)}
	)
	record := func(applied bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			report.Failed++
		case applied:
			report.Applied++
		default:
			report.Skipped++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)
	for _, docID := range order {
		docID, batch := docID, groups[docID]
		g.Go(func() error {
			unlock := r.locks.lock(docID)
			defer unlock()
			for _, item := range batch {
				if gctx.Err() != nil {
					return nil
				}
				applied, err := fn(gctx, item)
				if err != nil {
					r.logger.Error("Automation step failed",
						zap.String("job", job),
						zap.String("document_id", docID.String()),
						zap.Error(err))
				}
				record(applied, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// moved reports errors that mean another actor got there first.
func moved(err error) bool {
	return errors.Is(err, workflow.ErrInvalidTransition) ||
		errors.Is(err, workflow.ErrWorkflowTerminated) ||
		errors.Is(err, repository.ErrConcurrentUpdate)
}

func (r *Runner) endOfToday() time.Time {
	return startOfDay(r.now().In(r.loc)).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// documentLocks serializes automation per document within the process.
type documentLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*documentLock
}

type documentLock struct {
	mu   sync.Mutex
	refs int
}

func newDocumentLocks() *documentLocks {
	return &documentLocks{locks: make(map[uuid.UUID]*documentLock)}
}

func (l *documentLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &documentLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
