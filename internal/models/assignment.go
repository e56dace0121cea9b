package models

import "time"

const (
	// AssignmentStatusGenerating marks an assignment being drafted by an LLM.
	AssignmentStatusGenerating = "generating"
	// AssignmentStatusReady marks an assignment accepting guides and submissions.
	AssignmentStatusReady = "ready"
	// AssignmentStatusFailed marks an assignment whose LLM draft failed.
	AssignmentStatusFailed = "failed"
)

const (
	// AssignmentSourceManual marks an operator-written assignment.
	AssignmentSourceManual = "manual"
	// AssignmentSourceLLM marks an LLM-drafted assignment.
	AssignmentSourceLLM = "llm"
)

// Assignment represents one gradable task students submit work for.
// LLM-drafted assignments carry the brief they were generated from plus the
// usual generation accounting.
type Assignment struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Title            string     `gorm:"size:255" json:"title"`
	AssignmentText   string     `gorm:"type:text" json:"assignment_text"`
	FolderName       string     `gorm:"size:255" json:"folder_name"`
	Status           string     `gorm:"size:20;not null;default:ready" json:"status"`
	Source           string     `gorm:"size:20;not null;default:manual" json:"source"`
	Brief            string     `gorm:"type:text" json:"brief,omitempty"`
	Provider         string     `gorm:"size:64" json:"provider,omitempty"`
	Model            string     `gorm:"size:128" json:"model,omitempty"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message,omitempty"`
	RawResponse      string     `gorm:"type:text" json:"-"`
	PromptTokens     int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int        `json:"completion_tokens,omitempty"`
	TotalTokens      int        `json:"total_tokens,omitempty"`
	PriceEstimate    *float64   `json:"price_estimate,omitempty"`
	ArchivedAt       *time.Time `json:"archived_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Guides      []GuideVersion `json:"guides,omitempty"`
	Submissions []Submission   `json:"submissions,omitempty"`
}

// IsArchived reports whether the assignment has been archived.
func (a Assignment) IsArchived() bool {
	return a.ArchivedAt != nil
}

// IsGenerating reports whether an LLM draft is still pending.
func (a Assignment) IsGenerating() bool {
	return a.Status == AssignmentStatusGenerating
}
