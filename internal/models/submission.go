package models

import "time"

const (
	// ArtifactTypePDF marks an uploaded PDF document.
	ArtifactTypePDF = "pdf"
	// ArtifactTypeImage marks an uploaded raster image.
	ArtifactTypeImage = "image"
	// ArtifactTypeText marks an uploaded plain-text file.
	ArtifactTypeText = "text"
	// ArtifactTypeOther marks a file the renderer cannot process.
	ArtifactTypeOther = "other"
)

// Submission is one student's uploaded work for an assignment.
type Submission struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	AssignmentID      uint      `gorm:"not null;index" json:"assignment_id"`
	StudentIdentifier string    `gorm:"size:255;not null" json:"student_identifier"`
	SubmittedText     string    `gorm:"type:text" json:"submitted_text"`
	Fingerprint       string    `gorm:"size:64" json:"fingerprint"`
	CreatedAt         time.Time `json:"created_at"`

	Assignment Assignment           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Artifacts  []SubmissionArtifact `json:"artifacts,omitempty"`
	Jobs       []GradingJob         `json:"jobs,omitempty"`
}

// SubmissionArtifact is one raw uploaded file owned by a submission.
// Artifacts are never mutated after creation; re-grading reuses them.
// FilePath is relative to the configured data directory.
type SubmissionArtifact struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	SubmissionID     uint      `gorm:"not null;index" json:"submission_id"`
	FilePath         string    `gorm:"type:text;not null" json:"file_path"`
	FileType         string    `gorm:"size:20;not null" json:"file_type"`
	OriginalFilename string    `gorm:"size:255;not null" json:"original_filename"`
	Checksum         string    `gorm:"size:64" json:"checksum"`
	CreatedAt        time.Time `json:"created_at"`
}
