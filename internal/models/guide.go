package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	// GuideStatusGenerating marks a version whose content is being drafted by an LLM.
	GuideStatusGenerating = "generating"
	// GuideStatusDraft marks an editable, unapproved version.
	GuideStatusDraft = "draft"
	// GuideStatusApproved marks a frozen version that may be activated.
	GuideStatusApproved = "approved"
	// GuideStatusActive marks the single version jobs are graded against.
	GuideStatusActive = "active"
	// GuideStatusFailed marks a version whose LLM draft generation failed.
	GuideStatusFailed = "failed"
	// GuideStatusCancelled marks a generation that was cancelled before finishing.
	GuideStatusCancelled = "cancelled"
)

const (
	// GuideSourceManual marks a version authored by an operator.
	GuideSourceManual = "manual"
	// GuideSourceLLM marks a version drafted by a language model.
	GuideSourceLLM = "llm"
)

// GuideVersion is one version of the grading guide for an assignment.
// Content is immutable once approved; edits require a new draft version.
type GuideVersion struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	AssignmentID      uint           `gorm:"not null;index" json:"assignment_id"`
	Rubric            datatypes.JSON `json:"rubric"`
	ReferenceSolution string         `gorm:"type:text" json:"reference_solution"`
	Status            string         `gorm:"size:20;not null;default:draft" json:"status"`
	Source            string         `gorm:"size:20;not null;default:manual" json:"source"`
	Provider          string         `gorm:"size:64" json:"provider"`
	Model             string         `gorm:"size:128" json:"model"`
	ErrorMessage      string         `gorm:"type:text" json:"error_message"`
	RawResponse       string         `gorm:"type:text" json:"-"`
	PromptTokens      int            `json:"prompt_tokens"`
	CompletionTokens  int            `json:"completion_tokens"`
	TotalTokens       int            `json:"total_tokens"`
	PriceEstimate     *float64       `json:"price_estimate"`
	CreatedAt         time.Time      `json:"created_at"`
	ApprovedAt        *time.Time     `json:"approved_at"`
	ActivatedAt       *time.Time     `json:"activated_at"`
	FinishedAt        *time.Time     `json:"finished_at"`

	Assignment Assignment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// IsFrozen reports whether the version content may no longer be edited.
func (g GuideVersion) IsFrozen() bool {
	return g.Status == GuideStatusApproved || g.Status == GuideStatusActive
}
