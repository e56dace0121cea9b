package models

import "time"

const (
	// JobStatusQueued means the job is waiting for a worker.
	JobStatusQueued = "queued"
	// JobStatusRunning means a worker is executing the job.
	JobStatusRunning = "running"
	// JobStatusCompleted means grading finished and a result was persisted.
	JobStatusCompleted = "completed"
	// JobStatusFailed means the job terminated with a typed error.
	JobStatusFailed = "failed"
	// JobStatusCancelled means an operator stopped the job before completion.
	JobStatusCancelled = "cancelled"
)

// Typed error kinds recorded on failed jobs. Kept as an explicit enumeration
// so operators and the retry path never have to string-match messages.
const (
	JobErrorPreconditionChanged = "precondition_changed"
	JobErrorRender              = "render_error"
	JobErrorProviderTimeout     = "provider_timeout"
	JobErrorProviderAuth        = "provider_auth_failure"
	JobErrorProviderRateLimited = "provider_rate_limited"
	JobErrorProviderUnknown     = "provider_unknown"
	JobErrorMalformedJSON       = "malformed_json"
	JobErrorIncompleteRubric    = "incomplete_rubric_coverage"
	JobErrorStorage             = "storage_error"
)

// GradingJob is one grading attempt for one submission against one guide
// version. At most one non-terminal job may exist per submission; a failed
// job is immutable and retrying creates a fresh job.
type GradingJob struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	AssignmentID     uint       `gorm:"not null;index" json:"assignment_id"`
	SubmissionID     uint       `gorm:"not null;index" json:"submission_id"`
	GuideVersionID   uint       `gorm:"not null" json:"guide_version_id"`
	Status           string     `gorm:"size:20;not null;default:queued" json:"status"`
	ErrorKind        string     `gorm:"size:40" json:"error_kind"`
	Message          string     `gorm:"type:text" json:"message"`
	RawResponse      string     `gorm:"type:text" json:"-"`
	QueueMessageID   string     `gorm:"size:128" json:"queue_message_id"`
	Provider         string     `gorm:"size:64" json:"provider"`
	Model            string     `gorm:"size:128" json:"model"`
	Attempts         int        `gorm:"not null;default:0" json:"attempts"`
	Fingerprint      string     `gorm:"size:64" json:"fingerprint"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	PriceEstimate    *float64   `json:"price_estimate"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`

	Submission   Submission   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	GuideVersion GuideVersion `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Result       *GradeResult `gorm:"foreignKey:JobID" json:"result,omitempty"`
}

// IsTerminal reports whether the job has reached a final state.
func (j GradingJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
