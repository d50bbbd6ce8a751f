package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/assignment"
	"controlled-docs/edms-backend/internal/audit"
	"controlled-docs/edms-backend/internal/auth"
	"controlled-docs/edms-backend/internal/dependencies"
	"controlled-docs/edms-backend/internal/models"
	"controlled-docs/edms-backend/internal/notifications"
	"controlled-docs/edms-backend/internal/repository"
)

// Notifier accepts notifications for asynchronous delivery.
type Notifier interface {
	Enqueue(ctx context.Context, req notifications.Request) (uuid.UUID, error)
}

// Assigner recommends a reviewer or approver for a handoff.
type Assigner interface {
	Recommend(ctx context.Context, task assignment.Task, doc *models.Document) (*models.User, error)
}

// TransitionRequest moves a workflow to ToState. Optional fields override
// the defaults the engine would otherwise apply.
type TransitionRequest struct {
	WorkflowID     uuid.UUID    `json:"-"`
	ToState        string       `json:"to_state" binding:"required"`
	Actor          *models.User `json:"-"`
	Comment        string       `json:"comment"`
	AssigneeID     *uuid.UUID   `json:"assignee_id,omitempty"`
	DueDate        *time.Time   `json:"due_date,omitempty"`
	EffectiveDate  *time.Time   `json:"effective_date,omitempty"`
	ObsoletingDate *time.Time   `json:"obsoleting_date,omitempty"`
	Data           models.JSONB `json:"transition_data,omitempty"`
}

// Engine applies workflow transitions. Each call is one transaction; audit
// and notification side effects run after commit and never undo it.
type Engine struct {
	repo     repository.Repository
	oracle   auth.Oracle
	assigner Assigner
	audit    audit.Sink
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	denials map[uuid.UUID]int
}

func NewEngine(repo repository.Repository, oracle auth.Oracle, assigner Assigner, sink audit.Sink, notifier Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		repo:     repo,
		oracle:   oracle,
		assigner: assigner,
		audit:    sink,
		notifier: notifier,
		logger:   logger.Named("workflow"),
		now:      time.Now,
		denials:  make(map[uuid.UUID]int),
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// change is one committed state change and the side effects it owes.
type change struct {
	transition *models.DocumentTransition
	event      audit.Event
	notices    []notifications.Request
}

// completionHook lets lifecycle operations add fields to a transition
// before it is written.
type completionHook func(wf *models.DocumentWorkflow, doc *models.Document, data models.JSONB) error

// Transition moves a workflow to req.ToState and returns the ledger row.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (*models.DocumentTransition, error) {
	if req.Actor == nil {
		return nil, invalidRequest("actor is required")
	}
	req.ToState = strings.TrimSpace(req.ToState)
	recommended := e.recommend(ctx, req)

	var changes []*change
	err := e.repo.WithTx(ctx, func(tx repository.Repository) error {
		wf, err := lockWorkflow(ctx, tx, req.WorkflowID)
		if err != nil {
			return err
		}
		changes, err = e.apply(ctx, tx, wf, req, recommended, nil)
		return err
	})
	if err != nil {
		e.observeFailure(req.Actor, req.WorkflowID, err)
		return nil, err
	}

	e.publish(ctx, changes)
	return changes[len(changes)-1].transition, nil
}

// apply checks the preconditions in order and writes the transition. It
// runs inside tx; the returned changes are published after commit.
func (e *Engine) apply(ctx context.Context, tx repository.Repository, wf *models.DocumentWorkflow, req TransitionRequest, recommended *models.User, hook completionHook) ([]*change, error) {
	now := e.now()
	from := wf.CurrentState
	to := req.ToState

	if wf.IsTerminated {
		return nil, &WorkflowTerminatedError{WorkflowID: wf.ID, Reason: wf.TerminationReason}
	}
	state, err := tx.GetState(ctx, to)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &UnknownStateError{State: to}
	}
	if err != nil {
		return nil, err
	}
	policy, ok := PolicyFor(wf.WorkflowType)
	if !ok {
		return nil, &InvalidTransitionError{WorkflowType: wf.WorkflowType, From: from, To: to}
	}
	edge, ok := policy.Edge(from, to)
	if !ok {
		return nil, &InvalidTransitionError{WorkflowType: wf.WorkflowType, From: from, To: to, Allowed: policy.Allowed(from)}
	}
	doc, err := lockDocument(ctx, tx, wf.DocumentID)
	if err != nil {
		return nil, err
	}
	if reason, ok := e.authorize(req.Actor, edge.Gate, wf, doc); !ok {
		return nil, &PermissionDeniedError{
			UserID: req.Actor.ID,
			Action: fmt.Sprintf("move %s from %s to %s", doc.DocumentNumber, from, to),
			Reason: reason,
		}
	}
	if edge.NeedsComment() && strings.TrimSpace(req.Comment) == "" {
		return nil, &MissingCommentError{From: from, To: to}
	}
	var warnings []models.DependencyEdge
	if edge.DependencyCheck != CheckNone {
		res, err := checkDependencies(ctx, tx, edge.DependencyCheck, doc)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			return nil, &DependencyBlockedError{DocumentID: doc.ID, Reason: res.Reason, Blocking: res.Blocking}
		}
		warnings = res.Warnings
	}

	var manual *models.User
	if req.AssigneeID != nil && edge.Reject {
		return nil, invalidRequest("a rejection always returns %s to its author", doc.DocumentNumber)
	}
	if req.AssigneeID != nil {
		if manual, err = e.manualAssignee(ctx, tx, *req.AssigneeID, to, doc); err != nil {
			return nil, err
		}
	}
	if req.EffectiveDate != nil {
		wf.EffectiveDate = req.EffectiveDate
	}
	if req.ObsoletingDate != nil {
		wf.ObsoletingDate = req.ObsoletingDate
	}
	if to == models.StateApprovedPendingEffective && wf.EffectiveDate == nil {
		return nil, invalidRequest("an effective date is required to schedule activation")
	}
	if to == models.StateScheduledForObsolescence && wf.ObsoletingDate == nil {
		return nil, invalidRequest("an obsoleting date is required to schedule obsolescence")
	}

	wfType, err := tx.GetWorkflowType(ctx, wf.WorkflowType)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow type: %w", err)
	}

	var changes []*change
	if to == models.StateEffective && from != models.StateEffective &&
		wf.WorkflowType == models.WorkflowUpVersion && doc.SupersedesID != nil {
		parent, err := e.supersedeParent(ctx, tx, doc, now)
		if err != nil {
			return nil, err
		}
		changes = append(changes, parent...)
	}
	if to == models.StateObsolete && from != models.StateObsolete {
		others, err := tx.ListWorkflowsByDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list document workflows: %w", err)
		}
		retired, err := e.terminateActive(ctx, tx, others, wf.ID, fmt.Sprintf("Document %s is obsolete", doc.DocumentNumber), now)
		if err != nil {
			return nil, err
		}
		changes = append(changes, retired...)
	}

	wf.CurrentState = to
	data := req.Data.Clone()
	if data == nil {
		data = models.JSONB{}
	}

	switch {
	case edge.Reject:
		reassign(wf, doc.AuthorID, models.AssignmentReturned, req.Actor.ID, now)
		wf.Data.RejectionHistory = append(wf.Data.RejectionHistory, models.RejectionRecord{
			FromState:  from,
			RejectedBy: req.Actor.ID,
			Comment:    req.Comment,
			At:         now,
		})
		data["rejection"] = true
	case manual != nil:
		reassign(wf, manual.ID, models.AssignmentManual, req.Actor.ID, now)
	case edge.Handoff == HandoffReviewer || edge.Handoff == HandoffApprover:
		id, method, err := e.handoffAssignee(ctx, tx, wf, doc, edge.Handoff, recommended)
		if err != nil {
			return nil, err
		}
		if id != nil {
			reassign(wf, *id, method, req.Actor.ID, now)
		} else {
			wf.CurrentAssignee = nil
			e.logger.Warn("No assignee for handoff",
				zap.String("workflow_id", wf.ID.String()),
				zap.String("to_state", to))
		}
	case edge.Handoff == HandoffAuthor:
		reassign(wf, doc.AuthorID, models.AssignmentReturned, req.Actor.ID, now)
	}
	if policy.IsCompletion(to) || state.IsFinal {
		wf.CurrentAssignee = nil
	}
	if wf.CurrentAssignee != nil {
		data["assignee_id"] = wf.CurrentAssignee.String()
		data["assignment_method"] = string(wf.Data.AssignmentMethod)
	}

	switch {
	case req.DueDate != nil:
		wf.DueDate = req.DueDate
	case edge.Handoff != HandoffNone || edge.Reject:
		due := now.AddDate(0, 0, wfType.TimeoutDays)
		wf.DueDate = &due
	}

	if from != to {
		doc.Status = to
	}
	switch {
	case to == models.StateEffective && from != models.StateEffective && wf.WorkflowType.IsReviewClass():
		eff := now
		if wf.EffectiveDate != nil && !wf.EffectiveDate.After(now) {
			eff = *wf.EffectiveDate
		}
		wf.EffectiveDate = &eff
		doc.EffectiveDate = &eff
		if doc.ReviewPeriodMonths > 0 {
			next := eff.AddDate(0, doc.ReviewPeriodMonths, 0)
			doc.NextReviewDate = &next
		}
	case to == models.StateObsolete:
		doc.ObsolescenceDate = &now
		doc.ObsolescenceReason = wf.ObsoletingReason
		doc.NextReviewDate = nil
	case to == models.StateSuperseded:
		doc.NextReviewDate = nil
	}
	if len(warnings) > 0 {
		data["dependency_warnings"] = edgeNumbers(warnings)
	}
	if policy.IsCompletion(to) {
		wf.CompletedAt = &now
	}
	if hook != nil {
		if err := hook(wf, doc, data); err != nil {
			return nil, err
		}
	}
	doc.UpdatedAt = now
	wf.UpdatedAt = now

	if err := tx.UpdateDocumentLifecycle(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document status: %w", err)
	}
	t := &models.DocumentTransition{
		ID:             uuid.New(),
		WorkflowID:     wf.ID,
		FromState:      from,
		ToState:        to,
		TransitionedBy: req.Actor.ID,
		TransitionedAt: now,
		Comment:        req.Comment,
		Data:           data,
	}
	if err := tx.AppendTransition(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to append transition: %w", err)
	}
	if err := tx.UpdateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	c := &change{
		transition: t,
		event: audit.Event{
			ActorID:     req.Actor.ID,
			Action:      audit.ActionWorkflowTransition,
			ObjectType:  "DocumentWorkflow",
			ObjectID:    wf.ID,
			Description: fmt.Sprintf("%s: %s -> %s", doc.DocumentNumber, from, to),
			Changes: models.JSONB{
				"document_id":   doc.ID.String(),
				"workflow_type": string(wf.WorkflowType),
				"from_state":    from,
				"to_state":      to,
				"comment":       req.Comment,
				"transition_id": t.ID.String(),
			},
			OccurredAt: now,
		},
	}
	c.notices = e.notices(wf, doc, wfType, edge, t, now)
	return append(changes, c), nil
}

// supersedeParent retires the version doc replaces. Other active workflows
// of the parent are terminated first so the parent's lifecycle workflow is
// the last to move its status.
func (e *Engine) supersedeParent(ctx context.Context, tx repository.Repository, doc *models.Document, now time.Time) ([]*change, error) {
	parent, err := lockDocument(ctx, tx, *doc.SupersedesID)
	if err != nil {
		return nil, err
	}
	wfs, err := tx.ListWorkflowsByDocument(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parent workflows: %w", err)
	}

	var lifecycle *models.DocumentWorkflow
	for _, w := range wfs {
		if !w.IsTerminated && w.WorkflowType.IsReviewClass() && w.CurrentState == models.StateEffective {
			if lifecycle == nil || w.CreatedAt.After(lifecycle.CreatedAt) {
				lifecycle = w
			}
		}
	}

	system := models.SystemUser()
	reason := fmt.Sprintf("Document superseded by %s", doc.DocumentNumber)
	keep := uuid.Nil
	if lifecycle != nil {
		keep = lifecycle.ID
	}
	changes, err := e.terminateActive(ctx, tx, wfs, keep, reason, now)
	if err != nil {
		return nil, err
	}

	if lifecycle == nil {
		// Documents loaded without workflow history still get retired.
		if parent, err = lockDocument(ctx, tx, parent.ID); err != nil {
			return nil, err
		}
		if parent.Status == models.StateEffective {
			parent.Status = models.StateSuperseded
			parent.NextReviewDate = nil
			parent.UpdatedAt = now
			if err := tx.UpdateDocumentLifecycle(ctx, parent); err != nil {
				return nil, fmt.Errorf("failed to supersede parent document: %w", err)
			}
		}
		return changes, nil
	}

	lw, err := lockWorkflow(ctx, tx, lifecycle.ID)
	if err != nil {
		return nil, err
	}
	superseded, err := e.apply(ctx, tx, lw, TransitionRequest{
		WorkflowID: lw.ID,
		ToState:    models.StateSuperseded,
		Actor:      system,
		Comment:    reason,
		Data: models.JSONB{
			"superseded_by": doc.ID.String(),
			"superseded_at": now.UTC().Format(time.RFC3339),
		},
	}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede %s: %w", parent.DocumentNumber, err)
	}
	return append(changes, superseded...), nil
}

// terminateActive ends every active workflow in wfs except keep, acting as
// the system user.
func (e *Engine) terminateActive(ctx context.Context, tx repository.Repository, wfs []*models.DocumentWorkflow, keep uuid.UUID, reason string, now time.Time) ([]*change, error) {
	system := models.SystemUser()
	var changes []*change
	for _, w := range wfs {
		if !w.IsActive() || w.ID == keep {
			continue
		}
		locked, err := lockWorkflow(ctx, tx, w.ID)
		if err != nil {
			return nil, err
		}
		c, err := e.terminate(ctx, tx, locked, system, reason, now)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// authorize evaluates a gate. The self-review prohibition is checked before
// any role grant, so no role lets an author review their own document.
func (e *Engine) authorize(actor *models.User, gate Gate, wf *models.DocumentWorkflow, doc *models.Document) (string, bool) {
	if actor == nil || !actor.IsActive {
		return "user is inactive", false
	}
	if actor.IsSystem() {
		if gate.Has(GateSystem) {
			return "", true
		}
		return "the scheduler may only perform automated transitions", false
	}

	isAuthor := actor.ID == doc.AuthorID
	initiator := wf != nil && actor.ID == wf.InitiatedBy
	if gate.Has(GateAuthor) && (isAuthor || initiator || actor.IsSuperuser) {
		return "", true
	}
	if isAuthor && (gate.Has(GateReviewer) || gate.Has(GateApprover)) {
		return "authors cannot review or approve their own document", false
	}
	if gate.Has(GateSystem) && actor.IsSuperuser {
		return "", true
	}
	if gate.Has(GateReviewer) && auth.CanReview(e.oracle, actor) {
		return "", true
	}
	if gate.Has(GateApprover) && auth.CanApproveDocument(e.oracle, actor, doc.Criticality) {
		return "", true
	}
	if gate.Has(GateAssignee) {
		assigned := wf != nil && wf.CurrentAssignee != nil && *wf.CurrentAssignee == actor.ID
		if assigned || actor.IsSuperuser || auth.CanApprove(e.oracle, actor) {
			return "", true
		}
	}
	if gate.Has(GateApprover) && doc.Criticality.RequiresSeniorApproval() && auth.CanApprove(e.oracle, actor) {
		return fmt.Sprintf("%s documents need a senior approver", doc.Criticality), false
	}
	return "requires " + gate.String(), false
}

// manualAssignee validates an explicitly chosen assignee against the role
// the target state needs. Manual choice skips ranking, never eligibility.
func (e *Engine) manualAssignee(ctx context.Context, tx repository.Repository, id uuid.UUID, to string, doc *models.Document) (*models.User, error) {
	user, err := tx.GetUser(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalidRequest("assignee %s does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	deny := func(err error) error {
		return &PermissionDeniedError{UserID: id, Action: "be assigned " + to, Reason: err.Error()}
	}
	if task, ok := stateTask(to); ok {
		if err := assignment.ValidateAssignee(e.oracle, user, task, doc); err != nil {
			return nil, deny(err)
		}
		return user, nil
	}
	if !user.IsActive || user.IsSystem() {
		return nil, deny(assignment.ErrInactiveUser)
	}
	return user, nil
}

// recommend asks the assigner before the transaction opens, so ranking
// reads never hold row locks. The pick is re-validated inside the
// transaction.
func (e *Engine) recommend(ctx context.Context, req TransitionRequest) *models.User {
	if e.assigner == nil || req.AssigneeID != nil {
		return nil
	}
	wf, err := e.repo.GetWorkflow(ctx, req.WorkflowID)
	if err != nil || wf.IsTerminated {
		return nil
	}
	policy, ok := PolicyFor(wf.WorkflowType)
	if !ok {
		return nil
	}
	edge, ok := policy.Edge(wf.CurrentState, req.ToState)
	if !ok {
		return nil
	}
	task, ok := handoffTask(edge.Handoff)
	if !ok {
		return nil
	}
	doc, err := e.repo.GetDocument(ctx, wf.DocumentID)
	if err != nil || preselected(wf, doc, edge.Handoff) != nil {
		return nil
	}
	user, err := e.assigner.Recommend(ctx, task, doc)
	if err != nil {
		e.logger.Warn("Assignment recommendation failed",
			zap.String("workflow_id", wf.ID.String()),
			zap.Error(err))
		return nil
	}
	return user
}

func (e *Engine) handoffAssignee(ctx context.Context, tx repository.Repository, wf *models.DocumentWorkflow, doc *models.Document, h Handoff, recommended *models.User) (*uuid.UUID, models.AssignmentMethod, error) {
	task, _ := handoffTask(h)
	if id := preselected(wf, doc, h); id != nil {
		ok, err := e.eligible(ctx, tx, *id, task, doc)
		if err != nil {
			return nil, "", err
		}
		if ok {
			return id, models.AssignmentSelected, nil
		}
		e.logger.Warn("Selected assignee is no longer eligible",
			zap.String("workflow_id", wf.ID.String()),
			zap.String("user_id", id.String()))
	}
	if recommended != nil {
		ok, err := e.eligible(ctx, tx, recommended.ID, task, doc)
		if err != nil {
			return nil, "", err
		}
		if ok {
			id := recommended.ID
			return &id, models.AssignmentAutomatic, nil
		}
	}
	return nil, "", nil
}

func (e *Engine) eligible(ctx context.Context, tx repository.Repository, id uuid.UUID, task assignment.Task, doc *models.Document) (bool, error) {
	user, err := tx.GetUser(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return assignment.ValidateAssignee(e.oracle, user, task, doc) == nil, nil
}

func (e *Engine) observeFailure(actor *models.User, workflowID uuid.UUID, err error) {
	var denied *PermissionDeniedError
	if !errors.As(err, &denied) || actor == nil {
		return
	}
	e.mu.Lock()
	e.denials[actor.ID]++
	count := e.denials[actor.ID]
	e.mu.Unlock()

	e.logger.Warn("Permission denied",
		zap.String("actor_id", actor.ID.String()),
		zap.String("workflow_id", workflowID.String()),
		zap.String("reason", denied.Reason),
		zap.Int("denials", count))
}

// publish delivers the side effects of committed changes. Failures are
// logged; the transitions stay committed.
func (e *Engine) publish(ctx context.Context, changes []*change) {
	for _, c := range changes {
		if err := e.audit.RecordEvent(ctx, c.event); err != nil {
			e.logger.Error("Failed to record audit event",
				zap.String("action", c.event.Action),
				zap.String("object_id", c.event.ObjectID.String()),
				zap.Error(err))
		}
		for _, n := range c.notices {
			if _, err := e.notifier.Enqueue(ctx, n); err != nil {
				e.logger.Error("Failed to enqueue notification",
					zap.String("type", n.Type),
					zap.String("recipient_id", n.RecipientID.String()),
					zap.String("idempotency_key", n.IdempotencyKey),
					zap.Error(err))
			}
		}
	}
}

var handoffActions = map[string]string{
	models.StatePendingReview:     "review",
	models.StateReviewCompleted:   "submission for approval",
	models.StatePendingApproval:   "approval",
	models.StateApproved:          "activation",
	models.StatePendingObsoletion: "obsolescence approval",
}

func (e *Engine) notices(wf *models.DocumentWorkflow, doc *models.Document, wfType *models.WorkflowType, edge Edge, t *models.DocumentTransition, now time.Time) []notifications.Request {
	var out []notifications.Request
	wfID := wf.ID
	data := map[string]any{
		"document_id":   doc.ID.String(),
		"workflow_id":   wf.ID.String(),
		"from_state":    t.FromState,
		"to_state":      t.ToState,
		"transition_id": t.ID.String(),
	}

	switch {
	case edge.Reject:
		out = append(out, notifications.Request{
			RecipientID:    doc.AuthorID,
			Subject:        fmt.Sprintf("%s was returned to %s", doc.DocumentNumber, t.ToState),
			Message:        t.Comment,
			Type:           notifications.TypeRejection,
			Priority:       notifications.PriorityHigh,
			IdempotencyKey: notifications.Key("rejection", wf.ID.String(), t.ID.String()),
			WorkflowID:     &wfID,
			Data:           data,
		})
	case edge.Handoff != HandoffNone && wf.CurrentAssignee != nil:
		recipient := *wf.CurrentAssignee
		action := handoffActions[t.ToState]
		if action == "" {
			action = "action"
		}
		out = append(out, notifications.Request{
			RecipientID:    recipient,
			Subject:        fmt.Sprintf("%s awaits your %s", doc.DocumentNumber, action),
			Message:        fmt.Sprintf("%s (%s) moved to %s.", doc.DocumentNumber, doc.Title, t.ToState),
			Type:           notifications.TypeHandoff,
			Priority:       notifications.PriorityNormal,
			IdempotencyKey: notifications.HandoffKey(wf.ID, t.ToState, recipient, t.ID),
			WorkflowID:     &wfID,
			Data:           data,
		})
		if wf.DueDate != nil && wfType.ReminderDays > 0 {
			at := wf.DueDate.AddDate(0, 0, -wfType.ReminderDays)
			if at.After(now) {
				out = append(out, notifications.Request{
					RecipientID:    recipient,
					Subject:        fmt.Sprintf("Reminder: %s is due %s", doc.DocumentNumber, wf.DueDate.Format("2006-01-02")),
					Message:        fmt.Sprintf("%s still awaits your %s.", doc.DocumentNumber, action),
					Type:           notifications.TypeReminder,
					Priority:       notifications.PriorityNormal,
					IdempotencyKey: notifications.Key("reminder", wf.ID.String(), t.ToState, recipient.String(), t.ID.String()),
					WorkflowID:     &wfID,
					DeliverAfter:   &at,
					Data:           data,
				})
			}
		}
	}

	switch t.ToState {
	case models.StateEffective, models.StateObsolete, models.StateSuperseded:
		if t.FromState == t.ToState {
			break
		}
		for _, id := range doc.Stakeholders().IDs() {
			if id == models.SystemUserID {
				continue
			}
			out = append(out, notifications.Request{
				RecipientID:    id,
				Subject:        fmt.Sprintf("%s is now %s", doc.DocumentNumber, t.ToState),
				Message:        fmt.Sprintf("%s (%s) moved from %s to %s.", doc.DocumentNumber, doc.Title, t.FromState, t.ToState),
				Type:           notifications.TypeStatusChange,
				Priority:       notifications.PriorityNormal,
				IdempotencyKey: notifications.Key("status", wf.ID.String(), t.ToState, id.String(), t.ID.String()),
				WorkflowID:     &wfID,
				Data:           data,
			})
		}
	}
	return out
}

func reassign(wf *models.DocumentWorkflow, to uuid.UUID, method models.AssignmentMethod, by uuid.UUID, now time.Time) {
	var from *uuid.UUID
	if wf.CurrentAssignee != nil {
		prev := *wf.CurrentAssignee
		from = &prev
	}
	wf.CurrentAssignee = &to
	wf.Data.AssignmentMethod = method
	wf.Data.Reassignments = append(wf.Data.Reassignments, models.ReassignmentRecord{
		From:   from,
		To:     to,
		Method: method,
		State:  wf.CurrentState,
		By:     by,
		At:     now,
	})
}

func preselected(wf *models.DocumentWorkflow, doc *models.Document, h Handoff) *uuid.UUID {
	switch h {
	case HandoffReviewer:
		if wf.SelectedReviewer != nil {
			return wf.SelectedReviewer
		}
		return doc.ReviewerID
	case HandoffApprover:
		if wf.SelectedApprover != nil {
			return wf.SelectedApprover
		}
		return doc.ApproverID
	}
	return nil
}

func handoffTask(h Handoff) (assignment.Task, bool) {
	switch h {
	case HandoffReviewer:
		return assignment.TaskReview, true
	case HandoffApprover:
		return assignment.TaskApproval, true
	}
	return "", false
}

// stateTask is the role a user must hold to be assigned a state.
func stateTask(state string) (assignment.Task, bool) {
	switch state {
	case models.StatePendingReview, models.StateUnderReview:
		return assignment.TaskReview, true
	case models.StatePendingApproval, models.StateUnderApproval, models.StatePendingObsoletion:
		return assignment.TaskApproval, true
	}
	return "", false
}

func checkDependencies(ctx context.Context, tx repository.Repository, check DependencyCheck, doc *models.Document) (*dependencies.Result, error) {
	v := dependencies.NewValidator(tx)
	if check == CheckActivation {
		return v.ValidateActivation(ctx, doc)
	}
	return v.ValidateObsolescence(ctx, doc)
}

func edgeNumbers(edges []models.DependencyEdge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.FromNumber + " -> " + e.ToNumber
	}
	return out
}

func lockWorkflow(ctx context.Context, tx repository.Repository, id uuid.UUID) (*models.DocumentWorkflow, error) {
	wf, err := tx.LockWorkflow(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, err
}

func lockDocument(ctx context.Context, tx repository.Repository, id uuid.UUID) (*models.Document, error) {
	doc, err := tx.LockDocument(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return doc, err
}
