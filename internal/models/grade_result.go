package models

import (
	"time"

	"gorm.io/datatypes"
)

// GradeResult holds the validated grading output for one completed job.
// Immutable once written; the raw model response is kept for audit.
type GradeResult struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	JobID          uint           `gorm:"not null;uniqueIndex" json:"job_id"`
	SubmissionID   uint           `gorm:"not null;index" json:"submission_id"`
	GuideVersionID uint           `gorm:"not null" json:"guide_version_id"`
	TotalPoints    *float64       `json:"total_points"`
	Grade          datatypes.JSON `json:"grade"`
	RenderedText   string         `gorm:"type:text" json:"rendered_text"`
	RawResponse    string         `gorm:"type:text" json:"-"`
	Warnings       datatypes.JSON `json:"warnings"`
	CreatedAt      time.Time      `json:"created_at"`
}
