package workflow

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
	"controlled-docs/edms-backend/internal/notifications"
	"controlled-docs/edms-backend/internal/repository"
)

const defaultReviewPeriodMonths = 24

// StartRequest opens a workflow of Type on a document.
type StartRequest struct {
	DocumentID       uuid.UUID               `json:"document_id" binding:"required"`
	Type             models.WorkflowTypeCode `json:"workflow_type" binding:"required"`
	Actor            *models.User            `json:"-"`
	SelectedReviewer *uuid.UUID              `json:"selected_reviewer,omitempty"`
	SelectedApprover *uuid.UUID              `json:"selected_approver,omitempty"`
	AssigneeID       *uuid.UUID              `json:"assignee_id,omitempty"`
	DueDate          *time.Time              `json:"due_date,omitempty"`
	EffectiveDate    *time.Time              `json:"effective_date,omitempty"`
	ObsoletingDate   *time.Time              `json:"obsoleting_date,omitempty"`
	UpVersionReason  string                  `json:"up_version_reason,omitempty"`
	ObsoletingReason string                  `json:"obsoleting_reason,omitempty"`
	Comment          string                  `json:"comment,omitempty"`
}

// Start creates a workflow. The document's status becomes the workflow's
// initial state; no transition row is written until the first move.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.DocumentWorkflow, error) {
	if req.Actor == nil {
		return nil, invalidRequest("actor is required")
	}
	policy, ok := PolicyFor(req.Type)
	if !ok {
		return nil, invalidRequest("unknown workflow type %q", req.Type)
	}
	switch req.Type {
	case models.WorkflowUpVersion:
		if strings.TrimSpace(req.UpVersionReason) == "" {
			return nil, invalidRequest("an up-version reason is required")
		}
	case models.WorkflowObsolete:
		if strings.TrimSpace(req.ObsoletingReason) == "" {
			return nil, invalidRequest("an obsoleting reason is required")
		}
	}

	var (
		wf     *models.DocumentWorkflow
		doc    *models.Document
		linked *uuid.UUID
	)
	now := e.now()
	err := e.repo.WithTx(ctx, func(tx repository.Repository) error {
		var err error
		doc, err = lockDocument(ctx, tx, req.DocumentID)
		if err != nil {
			return err
		}
		if !policy.CanStartFrom(doc.Status) {
			return invalidRequest("a %s workflow cannot start while %s is %s", req.Type, doc.DocumentNumber, doc.Status)
		}
		if reason, ok := e.authorize(req.Actor, policy.StartGate, nil, doc); !ok {
			return &PermissionDeniedError{
				UserID: req.Actor.ID,
				Action: fmt.Sprintf("start %s on %s", req.Type, doc.DocumentNumber),
				Reason: reason,
			}
		}
		if err := e.ensureNoConflict(ctx, tx, doc, req.Type); err != nil {
			return err
		}
		if req.Type == models.WorkflowUpVersion {
			if linked, err = e.checkUpVersionParent(ctx, tx, doc); err != nil {
				return err
			}
		}
		for _, sel := range []struct {
			id   *uuid.UUID
			task assignment.Task
		}{{req.SelectedReviewer, assignment.TaskReview}, {req.SelectedApprover, assignment.TaskApproval}} {
			if sel.id == nil {
				continue
			}
			if _, err := e.manualAssignee(ctx, tx, *sel.id, taskState(sel.task), doc); err != nil {
				return err
			}
		}

		wfType, err := tx.GetWorkflowType(ctx, req.Type)
		if err != nil {
			return fmt.Errorf("failed to load workflow type: %w", err)
		}
		wf = &models.DocumentWorkflow{
			ID:               uuid.New(),
			DocumentID:       doc.ID,
			WorkflowType:     req.Type,
			InitialState:     doc.Status,
			CurrentState:     doc.Status,
			InitiatedBy:      req.Actor.ID,
			SelectedReviewer: req.SelectedReviewer,
			SelectedApprover: req.SelectedApprover,
			DueDate:          req.DueDate,
			EffectiveDate:    req.EffectiveDate,
			ObsoletingDate:   req.ObsoletingDate,
			UpVersionReason:  req.UpVersionReason,
			ObsoletingReason: req.ObsoletingReason,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if wf.DueDate == nil && wfType.TimeoutDays > 0 {
			due := now.AddDate(0, 0, wfType.TimeoutDays)
			wf.DueDate = &due
		}

		assignee, method := doc.AuthorID, models.AssignmentAutomatic
		if req.AssigneeID != nil {
			user, err := e.manualAssignee(ctx, tx, *req.AssigneeID, doc.Status, doc)
			if err != nil {
				return err
			}
			assignee, method = user.ID, models.AssignmentManual
		}
		reassign(wf, assignee, method, req.Actor.ID, now)

		if req.Type == models.WorkflowPeriodicReview {
			months := doc.ReviewPeriodMonths
			if months <= 0 {
				months = defaultReviewPeriodMonths
			}
			wf.Data.ReviewPeriod = &models.ReviewPeriodInfo{
				TriggeredAt:    now,
				NextReviewDate: doc.NextReviewDate,
				PeriodMonths:   months,
			}
		}

		if err := tx.CreateWorkflow(ctx, wf); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrWorkflowAlreadyActive
			}
			return fmt.Errorf("failed to create workflow: %w", err)
		}
		if linked != nil {
			if err := tx.LinkReviewNewVersion(ctx, *linked, doc.ID); err != nil {
				return fmt.Errorf("failed to link periodic review: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		e.observeFailure(req.Actor, uuid.Nil, err)
		return nil, err
	}

	changes := models.JSONB{
		"document_id":   doc.ID.String(),
		"workflow_type": string(wf.WorkflowType),
		"initial_state": wf.InitialState,
	}
	if req.Comment != "" {
		changes["comment"] = req.Comment
	}
	if linked != nil {
		changes["periodic_review_id"] = linked.String()
	}
	c := &change{event: audit.Event{
		ActorID:     req.Actor.ID,
		Action:      audit.ActionWorkflowInitiated,
		ObjectType:  "DocumentWorkflow",
		ObjectID:    wf.ID,
		Description: fmt.Sprintf("%s workflow started on %s", wf.WorkflowType, doc.DocumentNumber),
		Changes:     changes,
		OccurredAt:  now,
	}}
	if wf.WorkflowType == models.WorkflowPeriodicReview {
		c.notices = periodicReviewNotices(wf, doc)
	}
	e.publish(ctx, []*change{c})

	e.logger.Info("Workflow started",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("document_id", doc.ID.String()),
		zap.String("workflow_type", string(wf.WorkflowType)),
		zap.String("actor_id", req.Actor.ID.String()))
	return wf, nil
}

// ensureNoConflict enforces one active workflow per purpose. Review-class
// types share one purpose: they all drive the document's status.
func (e *Engine) ensureNoConflict(ctx context.Context, tx repository.Repository, doc *models.Document, t models.WorkflowTypeCode) error {
	types := []models.WorkflowTypeCode{t}
	if t.IsReviewClass() {
		types = []models.WorkflowTypeCode{models.WorkflowReview, models.WorkflowApproval, models.WorkflowUpVersion}
	}
	for _, code := range types {
		_, err := tx.FindActiveWorkflow(ctx, doc.ID, code)
		if err == nil {
			return ErrWorkflowAlreadyActive
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}
	return nil
}

// checkUpVersionParent validates the version being replaced and returns the
// pending periodic review that asked for this up-version, if any.
func (e *Engine) checkUpVersionParent(ctx context.Context, tx repository.Repository, doc *models.Document) (*uuid.UUID, error) {
	if doc.SupersedesID == nil {
		return nil, invalidRequest("%s does not replace an earlier version", doc.DocumentNumber)
	}
	parent, err := tx.GetDocument(ctx, *doc.SupersedesID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, *doc.SupersedesID)
	}
	if err != nil {
		return nil, err
	}
	if parent.Status != models.StateEffective {
		return nil, invalidRequest("%s is %s; only effective documents can be up-versioned", parent.DocumentNumber, parent.Status)
	}
	reviews, err := tx.ListReviews(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	var pending *models.DocumentReview
	for i := range reviews {
		rv := &reviews[i]
		if rv.Outcome != models.ReviewUpversionRequired || rv.NewVersionID != nil {
			continue
		}
		if pending == nil || rv.ReviewedAt.After(pending.ReviewedAt) {
			pending = rv
		}
	}
	if pending == nil {
		return nil, nil
	}
	id := pending.ID
	return &id, nil
}

// TerminateRequest closes a workflow for good.
type TerminateRequest struct {
	WorkflowID uuid.UUID    `json:"-"`
	Actor      *models.User `json:"-"`
	Reason     string       `json:"reason"`
}

// Terminate ends an active workflow and returns the document to the stable
// status its type falls back to.
func (e *Engine) Terminate(ctx context.Context, req TerminateRequest) (*models.DocumentWorkflow, error) {
	if req.Actor == nil {
		return nil, invalidRequest("actor is required")
	}
	var (
		wf *models.DocumentWorkflow
		c  *change
	)
	err := e.repo.WithTx(ctx, func(tx repository.Repository) error {
		var err error
		if wf, err = lockWorkflow(ctx, tx, req.WorkflowID); err != nil {
			return err
		}
		c, err = e.terminate(ctx, tx, wf, req.Actor, req.Reason, e.now())
		return err
	})
	if err != nil {
		e.observeFailure(req.Actor, req.WorkflowID, err)
		return nil, err
	}
	e.publish(ctx, []*change{c})
	e.logger.Info("Workflow terminated",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("actor_id", req.Actor.ID.String()),
		zap.String("reason", req.Reason))
	return wf, nil
}

func (e *Engine) terminate(ctx context.Context, tx repository.Repository, wf *models.DocumentWorkflow, actor *models.User, reason string, now time.Time) (*change, error) {
	if wf.IsTerminated {
		return nil, &WorkflowTerminatedError{WorkflowID: wf.ID, Reason: wf.TerminationReason}
	}
	state, err := tx.GetState(ctx, wf.CurrentState)
	if err != nil {
		return nil, fmt.Errorf("failed to load state %s: %w", wf.CurrentState, err)
	}
	if state.IsFinal || wf.CompletedAt != nil {
		return nil, &InvalidTransitionError{WorkflowType: wf.WorkflowType, From: wf.CurrentState, To: models.StateTerminated}
	}
	doc, err := lockDocument(ctx, tx, wf.DocumentID)
	if err != nil {
		return nil, err
	}
	if !e.canTerminate(actor, wf) {
		return nil, &PermissionDeniedError{
			UserID: actor.ID,
			Action: "terminate workflow " + wf.ID.String(),
			Reason: "only the initiator or an administrator may terminate a workflow",
		}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &MissingCommentError{From: wf.CurrentState, To: models.StateTerminated}
	}

	policy, _ := PolicyFor(wf.WorkflowType)
	from := wf.CurrentState
	fallback := from
	if policy != nil {
		fallback = policy.Fallback(from)
	}

	wf.CurrentState = fallback
	wf.IsTerminated = true
	wf.TerminationReason = reason
	wf.TerminatedAt = &now
	wf.CurrentAssignee = nil
	wf.UpdatedAt = now

	if fallback != from {
		doc.Status = fallback
		doc.UpdatedAt = now
		if err := tx.UpdateDocumentLifecycle(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to update document status: %w", err)
		}
	}
	t := &models.DocumentTransition{
		ID:             uuid.New(),
		WorkflowID:     wf.ID,
		FromState:      from,
		ToState:        fallback,
		TransitionedBy: actor.ID,
		TransitionedAt: now,
		Comment:        reason,
		Data: models.JSONB{
			"event":              "TERMINATED",
			"termination_reason": reason,
		},
	}
	if err := tx.AppendTransition(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to append transition: %w", err)
	}
	if err := tx.UpdateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	wfID := wf.ID
	c := &change{
		transition: t,
		event: audit.Event{
			ActorID:     actor.ID,
			Action:      audit.ActionWorkflowTerminated,
			ObjectType:  "DocumentWorkflow",
			ObjectID:    wf.ID,
			Description: fmt.Sprintf("%s workflow on %s terminated: %s", wf.WorkflowType, doc.DocumentNumber, reason),
			Changes: models.JSONB{
				"document_id":        doc.ID.String(),
				"from_state":         from,
				"to_state":           fallback,
				"termination_reason": reason,
				"transition_id":      t.ID.String(),
			},
			OccurredAt: now,
		},
	}
	if wf.InitiatedBy != actor.ID && wf.InitiatedBy != models.SystemUserID {
		c.notices = append(c.notices, notifications.Request{
			RecipientID:    wf.InitiatedBy,
			Subject:        fmt.Sprintf("%s workflow on %s was terminated", wf.WorkflowType, doc.DocumentNumber),
			Message:        reason,
			Type:           notifications.TypeTerminated,
			Priority:       notifications.PriorityHigh,
			IdempotencyKey: notifications.Key("terminated", wf.ID.String(), wf.InitiatedBy.String()),
			WorkflowID:     &wfID,
			Data: map[string]any{
				"document_id": doc.ID.String(),
				"from_state":  from,
				"to_state":    fallback,
			},
		})
	}
	return c, nil
}

func (e *Engine) canTerminate(actor *models.User, wf *models.DocumentWorkflow) bool {
	if actor == nil || !actor.IsActive {
		return false
	}
	return actor.IsSystem() || actor.ID == wf.InitiatedBy || auth.CanTerminate(e.oracle, actor)
}

// CompleteReviewRequest closes a periodic review with an outcome.
type CompleteReviewRequest struct {
	WorkflowID uuid.UUID            `json:"-"`
	Actor      *models.User         `json:"-"`
	Outcome    models.ReviewOutcome `json:"outcome" binding:"required"`
	Comments   string               `json:"comments"`
}

// CompletePeriodicReview records the review outcome. The document keeps its
// status; a confirmed document gets a new review date, one that needs an
// up-version loses it until the new version takes over.
func (e *Engine) CompletePeriodicReview(ctx context.Context, req CompleteReviewRequest) (*models.DocumentReview, error) {
	if req.Actor == nil {
		return nil, invalidRequest("actor is required")
	}
	switch req.Outcome {
	case models.ReviewConfirmed:
	case models.ReviewUpversionRequired:
		if strings.TrimSpace(req.Comments) == "" {
			return nil, &MissingCommentError{From: models.StateEffective, To: string(req.Outcome)}
		}
	default:
		return nil, invalidRequest("unknown review outcome %q", req.Outcome)
	}

	var (
		review  *models.DocumentReview
		changes []*change
	)
	err := e.repo.WithTx(ctx, func(tx repository.Repository) error {
		wf, err := lockWorkflow(ctx, tx, req.WorkflowID)
		if err != nil {
			return err
		}
		if wf.WorkflowType != models.WorkflowPeriodicReview {
			return invalidRequest("workflow %s is not a periodic review", wf.ID)
		}
		if wf.CompletedAt != nil && !wf.IsTerminated {
			return invalidRequest("periodic review %s is already completed", wf.ID)
		}

		now := e.now()
		review = &models.DocumentReview{
			ID:         uuid.New(),
			DocumentID: wf.DocumentID,
			WorkflowID: wf.ID,
			ReviewedBy: req.Actor.ID,
			Outcome:    req.Outcome,
			Comments:   req.Comments,
			ReviewedAt: now,
		}
		hook := func(wf *models.DocumentWorkflow, doc *models.Document, data models.JSONB) error {
			if req.Outcome == models.ReviewConfirmed {
				months := doc.ReviewPeriodMonths
				if months <= 0 {
					months = defaultReviewPeriodMonths
				}
				next := startOfDay(now).AddDate(0, months, 0)
				doc.NextReviewDate = &next
				review.NextReviewDate = &next
			} else {
				doc.NextReviewDate = nil
			}
			if wf.Data.ReviewPeriod != nil {
				wf.Data.ReviewPeriod.NextReviewDate = review.NextReviewDate
			}
			wf.CompletedAt = &now
			wf.CurrentAssignee = nil
			data["event"] = "PERIODIC_REVIEW_COMPLETED"
			data["outcome"] = string(req.Outcome)
			data["review_id"] = review.ID.String()
			return nil
		}

		changes, err = e.apply(ctx, tx, wf, TransitionRequest{
			WorkflowID: wf.ID,
			ToState:    models.StateEffective,
			Actor:      req.Actor,
			Comment:    req.Comments,
		}, nil, hook)
		if err != nil {
			return err
		}
		if err := tx.CreateReview(ctx, review); err != nil {
			return fmt.Errorf("failed to record review: %w", err)
		}
		return nil
	})
	if err != nil {
		e.observeFailure(req.Actor, req.WorkflowID, err)
		return nil, err
	}

	last := changes[len(changes)-1]
	last.event.Action = audit.ActionPeriodicReview
	last.event.Description = fmt.Sprintf("periodic review completed: %s", req.Outcome)
	last.event.Changes["outcome"] = string(req.Outcome)
	last.event.Changes["review_id"] = review.ID.String()
	e.publish(ctx, changes)
	return review, nil
}

// LinkNewVersion records the version created in answer to a review.
func (e *Engine) LinkNewVersion(ctx context.Context, reviewID, newVersionID uuid.UUID) error {
	return e.repo.WithTx(ctx, func(tx repository.Repository) error {
		review, err := tx.GetReview(ctx, reviewID)
		if errors.Is(err, repository.ErrNotFound) {
			return invalidRequest("review %s does not exist", reviewID)
		}
		if err != nil {
			return err
		}
		if review.Outcome != models.ReviewUpversionRequired {
			return invalidRequest("review %s did not request a new version", reviewID)
		}
		if review.NewVersionID != nil {
			return invalidRequest("review %s is already linked to %s", reviewID, *review.NewVersionID)
		}
		if _, err := tx.GetDocument(ctx, newVersionID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrDocumentNotFound, newVersionID)
			}
			return err
		}
		return tx.LinkReviewNewVersion(ctx, reviewID, newVersionID)
	})
}

// NotifyOverdue tells the assignee of an overdue workflow. Each workflow is
// reported at most once per day.
func (e *Engine) NotifyOverdue(ctx context.Context, wf *models.DocumentWorkflow, asOf time.Time) (bool, error) {
	if wf.CurrentAssignee == nil || wf.DueDate == nil || !wf.IsActive() {
		return false, nil
	}
	doc, err := e.repo.GetDocument(ctx, wf.DocumentID)
	if err != nil {
		return false, fmt.Errorf("failed to load document: %w", err)
	}
	days := int(asOf.Sub(*wf.DueDate).Hours() / 24)
	wfID := wf.ID
	_, err = e.notifier.Enqueue(ctx, notifications.Request{
		RecipientID:    *wf.CurrentAssignee,
		Subject:        fmt.Sprintf("Overdue: %s has been %s since %s", doc.DocumentNumber, wf.CurrentState, wf.DueDate.Format("2006-01-02")),
		Message:        fmt.Sprintf("The %s workflow on %s is %d day(s) past its due date.", wf.WorkflowType, doc.DocumentNumber, days),
		Type:           notifications.TypeOverdue,
		Priority:       notifications.PriorityHigh,
		IdempotencyKey: notifications.Key("overdue", wf.ID.String(), wf.CurrentAssignee.String(), asOf.Format("2006-01-02")),
		WorkflowID:     &wfID,
		Data: map[string]any{
			"document_id":   doc.ID.String(),
			"current_state": wf.CurrentState,
			"days_overdue":  days,
		},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns a workflow.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.DocumentWorkflow, error) {
	wf, err := e.repo.GetWorkflow(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, err
}

// History returns the ledger of a workflow in order.
func (e *Engine) History(ctx context.Context, id uuid.UUID) ([]models.DocumentTransition, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.repo.ListTransitions(ctx, id)
}

// ListForDocument returns every workflow of a document.
func (e *Engine) ListForDocument(ctx context.Context, documentID uuid.UUID) ([]*models.DocumentWorkflow, error) {
	return e.repo.ListWorkflowsByDocument(ctx, documentID)
}

// AvailableTransitions lists the targets the actor could move the workflow to now.
func (e *Engine) AvailableTransitions(ctx context.Context, id uuid.UUID, actor *models.User) ([]string, error) {
	wf, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.IsTerminated {
		return []string{}, nil
	}
	policy, ok := PolicyFor(wf.WorkflowType)
	if !ok {
		return []string{}, nil
	}
	doc, err := e.repo.GetDocument(ctx, wf.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	out := []string{}
	for _, to := range policy.Allowed(wf.CurrentState) {
		edge, _ := policy.Edge(wf.CurrentState, to)
		if _, ok := e.authorize(actor, edge.Gate, wf, doc); ok {
			out = append(out, to)
		}
	}
	return out, nil
}

func periodicReviewNotices(wf *models.DocumentWorkflow, doc *models.Document) []notifications.Request {
	var out []notifications.Request
	wfID := wf.ID
	for _, id := range doc.Stakeholders().IDs() {
		if id == models.SystemUserID {
			continue
		}
		due := ""
		if wf.DueDate != nil {
			due = wf.DueDate.Format("2006-01-02")
		}
		out = append(out, notifications.Request{
			RecipientID:    id,
			Subject:        fmt.Sprintf("Periodic review due for %s", doc.DocumentNumber),
			Message:        fmt.Sprintf("%s (%s) is due for its periodic review. Complete it by %s.", doc.DocumentNumber, doc.Title, due),
			Type:           notifications.TypePeriodicReview,
			Priority:       notifications.PriorityNormal,
			IdempotencyKey: notifications.Key("periodic", wf.ID.String(), id.String()),
			WorkflowID:     &wfID,
			Data: map[string]any{
				"document_id": doc.ID.String(),
				"due_date":    due,
			},
		})
	}
	return out
}

func taskState(task assignment.Task) string {
	if task == assignment.TaskApproval {
		return models.StatePendingApproval
	}
	return models.StatePendingReview
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
