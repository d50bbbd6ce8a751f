package documents

import (
	"errors"

	"github.com/google/uuid"

	"controlled-docs/edms-backend/internal/models"
)

const defaultReviewPeriodMonths = 24

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidRequest    = errors.New("invalid document request")
	ErrNotPermitted      = errors.New("actor may not author controlled documents")
	ErrDuplicateNumber   = errors.New("document number already registered")
	ErrNotEffective      = errors.New("only effective documents can be up-versioned")
	ErrVersionInProgress = errors.New("a newer version of this document already exists")
)

// RegisterRequest creates a new controlled document in DRAFT. The reviewer
// and approver, when given, are pre-selected for its first review.
type RegisterRequest struct {
	DocumentNumber     string             `json:"document_number" binding:"required"`
	Title              string             `json:"title" binding:"required"`
	DocumentType       string             `json:"document_type"`
	Criticality        models.Criticality `json:"criticality"`
	ReviewPeriodMonths int                `json:"review_period_months"`
	ReviewerID         *uuid.UUID         `json:"reviewer_id"`
	ApproverID         *uuid.UUID         `json:"approver_id"`
}

// VersionRequest drafts the next major version of an effective document.
// An empty number derives "<family>-v<major>".
type VersionRequest struct {
	DocumentNumber string `json:"document_number"`
	Title          string `json:"title"`
}

// Family is every version of one document, oldest first.
type Family struct {
	FamilyKey string             `json:"family_key"`
	Versions  []*models.Document `json:"versions"`
}

func validCriticality(c models.Criticality) bool {
	switch c {
	case models.CriticalityLow, models.CriticalityNormal, models.CriticalityHigh, models.CriticalityCritical:
		return true
	}
	return false
}
