package dto

import (
	"time"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// ArtifactResponse is the serialized representation of one uploaded file.
type ArtifactResponse struct {
	ID               uint   `json:"id"`
	FileType         string `json:"file_type"`
	OriginalFilename string `json:"original_filename"`
	Checksum         string `json:"checksum"`
}

// SubmissionResponse is the serialized representation of a submission.
type SubmissionResponse struct {
	ID                uint               `json:"id"`
	AssignmentID      uint               `json:"assignment_id"`
	StudentIdentifier string             `json:"student_identifier"`
	SubmittedText     string             `json:"submitted_text,omitempty"`
	Fingerprint       string             `json:"fingerprint"`
	Artifacts         []ArtifactResponse `json:"artifacts,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// NewSubmissionResponse converts a model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:                model.ID,
		AssignmentID:      model.AssignmentID,
		StudentIdentifier: model.StudentIdentifier,
		SubmittedText:     model.SubmittedText,
		Fingerprint:       model.Fingerprint,
		CreatedAt:         model.CreatedAt,
	}
	for _, artifact := range model.Artifacts {
		response.Artifacts = append(response.Artifacts, ArtifactResponse{
			ID:               artifact.ID,
			FileType:         artifact.FileType,
			OriginalFilename: artifact.OriginalFilename,
			Checksum:         artifact.Checksum,
		})
	}

	return response
}

// NewSubmissionResponseSlice converts a slice of models into DTOs.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}
