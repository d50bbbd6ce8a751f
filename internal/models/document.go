package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityNormal   Criticality = "normal"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// RequiresSeniorApproval is true for high and critical documents.
func (c Criticality) RequiresSeniorApproval() bool {
	return c == CriticalityHigh || c == CriticalityCritical
}

// Document is owned by the document-management side; the workflow core
// only writes Status and the lifecycle date fields.
type Document struct {
	ID                 uuid.UUID   `json:"id" db:"id"`
	DocumentNumber     string      `json:"document_number" db:"document_number"`
	FamilyKey          string      `json:"family_key" db:"family_key"`
	Title              string      `json:"title" db:"title"`
	DocumentType       string      `json:"document_type" db:"document_type"`
	Criticality        Criticality `json:"criticality" db:"criticality"`
	Status             string      `json:"status" db:"status"`
	AuthorID           uuid.UUID   `json:"author_id" db:"author_id"`
	ReviewerID         *uuid.UUID  `json:"reviewer_id,omitempty" db:"reviewer_id"`
	ApproverID         *uuid.UUID  `json:"approver_id,omitempty" db:"approver_id"`
	VersionMajor       int         `json:"version_major" db:"version_major"`
	VersionMinor       int         `json:"version_minor" db:"version_minor"`
	SupersedesID       *uuid.UUID  `json:"supersedes_id,omitempty" db:"supersedes_id"`
	EffectiveDate      *time.Time  `json:"effective_date,omitempty" db:"effective_date"`
	NextReviewDate     *time.Time  `json:"next_review_date,omitempty" db:"next_review_date"`
	ReviewPeriodMonths int         `json:"review_period_months" db:"review_period_months"`
	ObsolescenceDate   *time.Time  `json:"obsolescence_date,omitempty" db:"obsolescence_date"`
	ObsolescenceReason string      `json:"obsolescence_reason,omitempty" db:"obsolescence_reason"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
}

func (d *Document) Clone() *Document {
	c := *d
	c.ReviewerID = cloneID(d.ReviewerID)
	c.ApproverID = cloneID(d.ApproverID)
	c.SupersedesID = cloneID(d.SupersedesID)
	c.EffectiveDate = cloneTime(d.EffectiveDate)
	c.NextReviewDate = cloneTime(d.NextReviewDate)
	c.ObsolescenceDate = cloneTime(d.ObsolescenceDate)
	return &c
}

// Stakeholders returns author, reviewer and approver.
func (d *Document) Stakeholders() Stakeholders {
	return Stakeholders{Author: d.AuthorID, Reviewer: cloneID(d.ReviewerID), Approver: cloneID(d.ApproverID)}
}

type Stakeholders struct {
	Author   uuid.UUID  `json:"author"`
	Reviewer *uuid.UUID `json:"reviewer,omitempty"`
	Approver *uuid.UUID `json:"approver,omitempty"`
}

// IDs returns the distinct stakeholder ids, author first.
func (s Stakeholders) IDs() []uuid.UUID {
	ids := []uuid.UUID{s.Author}
	for _, id := range []*uuid.UUID{s.Reviewer, s.Approver} {
		if id == nil || *id == uuid.Nil {
			continue
		}
		dup := false
		for _, existing := range ids {
			if existing == *id {
				dup = true
				break
			}
		}
		if !dup {
			ids = append(ids, *id)
		}
	}
	return ids
}

var versionSuffix = regexp.MustCompile(`(?i)[-_ .](v|rev)\.?\d+(\.\d+)*$`)

// FamilyKeyFor derives the base document number used to group every
// version of a document into one family. It is computed once, when the
// document is created, and copied onto up-versions.
func FamilyKeyFor(documentNumber string) string {
	n := strings.TrimSpace(documentNumber)
	n = versionSuffix.ReplaceAllString(n, "")
	return strings.ToUpper(n)
}

type DependencyType string

const (
	DependencyReference    DependencyType = "REFERENCE"
	DependencyTemplate     DependencyType = "TEMPLATE"
	DependencySupersedes   DependencyType = "SUPERSEDES"
	DependencyIncorporates DependencyType = "INCORPORATES"
	DependencySupports     DependencyType = "SUPPORTS"
	DependencyImplements   DependencyType = "IMPLEMENTS"
)

func (t DependencyType) Valid() bool {
	switch t {
	case DependencyReference, DependencyTemplate, DependencySupersedes,
		DependencyIncorporates, DependencySupports, DependencyImplements:
		return true
	}
	return false
}

// DocumentDependency is a directed edge: DocumentID depends on DependsOnID.
type DocumentDependency struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	DocumentID     uuid.UUID      `json:"document_id" db:"document_id"`
	DependsOnID    uuid.UUID      `json:"depends_on_id" db:"depends_on_id"`
	DependencyType DependencyType `json:"dependency_type" db:"dependency_type"`
	IsCritical     bool           `json:"is_critical" db:"is_critical"`
	IsActive       bool           `json:"is_active" db:"is_active"`
	Description    string         `json:"description,omitempty" db:"description"`
	CreatedBy      uuid.UUID      `json:"created_by" db:"created_by"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

type ReviewOutcome string

const (
	ReviewConfirmed         ReviewOutcome = "CONFIRMED"
	ReviewUpversionRequired ReviewOutcome = "UPVERSION_REQUIRED"
)

// DocumentReview records one completed periodic-review cycle.
type DocumentReview struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	DocumentID     uuid.UUID     `json:"document_id" db:"document_id"`
	WorkflowID     uuid.UUID     `json:"workflow_id" db:"workflow_id"`
	ReviewedBy     uuid.UUID     `json:"reviewed_by" db:"reviewed_by"`
	Outcome        ReviewOutcome `json:"outcome" db:"outcome"`
	Comments       string        `json:"comments" db:"comments"`
	ReviewedAt     time.Time     `json:"reviewed_at" db:"reviewed_at"`
	NextReviewDate *time.Time    `json:"next_review_date,omitempty" db:"next_review_date"`
	NewVersionID   *uuid.UUID    `json:"new_version_id,omitempty" db:"new_version_id"`
}

// DependencyEdge is an active dependency joined with both endpoint documents.
type DependencyEdge struct {
	DocumentDependency
	FromNumber string `json:"from_number" db:"from_number"`
	FromFamily string `json:"from_family" db:"from_family"`
	FromStatus string `json:"from_status" db:"from_status"`
	ToNumber   string `json:"to_number" db:"to_number"`
	ToFamily   string `json:"to_family" db:"to_family"`
	ToStatus   string `json:"to_status" db:"to_status"`
}
