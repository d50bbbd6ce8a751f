package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"controlled-docs/edms-backend/internal/models"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrWorkflowTerminated = errors.New("workflow is terminated")
	ErrUnknownState       = errors.New("unknown state")
	ErrInvalidTransition  = errors.New("transition not allowed")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrMissingComment     = errors.New("comment is required")
	ErrDependencyBlocked  = errors.New("blocked by document dependencies")

	ErrWorkflowNotFound      = errors.New("workflow not found")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrWorkflowAlreadyActive = errors.New("an active workflow of this type already exists for the document")
	ErrInvalidRequest        = errors.New("invalid request")
)

type WorkflowTerminatedError struct {
	WorkflowID uuid.UUID
	Reason     string
}

func (e *WorkflowTerminatedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("workflow %s is terminated", e.WorkflowID)
	}
	return fmt.Sprintf("workflow %s is terminated: %s", e.WorkflowID, e.Reason)
}

func (e *WorkflowTerminatedError) Is(target error) bool { return target == ErrWorkflowTerminated }

type UnknownStateError struct {
	State string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown state %q", e.State)
}

func (e *UnknownStateError) Is(target error) bool { return target == ErrUnknownState }

type InvalidTransitionError struct {
	WorkflowType models.WorkflowTypeCode
	From         string
	To           string
	Allowed      []string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("%s workflow cannot move from %s to %s", e.WorkflowType, e.From, e.To)
	if len(e.Allowed) > 0 {
		msg += fmt.Sprintf(" (allowed: %s)", strings.Join(e.Allowed, ", "))
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type PermissionDeniedError struct {
	UserID uuid.UUID
	Action string
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("user %s may not %s: %s", e.UserID, e.Action, e.Reason)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

type MissingCommentError struct {
	From string
	To   string
}

func (e *MissingCommentError) Error() string {
	return fmt.Sprintf("a comment explaining the move from %s to %s is required", e.From, e.To)
}

func (e *MissingCommentError) Is(target error) bool { return target == ErrMissingComment }

// DependencyBlockedError carries the edges the initiator has to resolve.
type DependencyBlockedError struct {
	DocumentID uuid.UUID
	Reason     string
	Blocking   []models.DependencyEdge
}

func (e *DependencyBlockedError) Error() string {
	return fmt.Sprintf("document %s is blocked by its dependencies: %s", e.DocumentID, e.Reason)
}

func (e *DependencyBlockedError) Is(target error) bool { return target == ErrDependencyBlocked }

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
