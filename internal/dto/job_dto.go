package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// JobCreateRequest describes the payload for enqueueing a grading job.
type JobCreateRequest struct {
	SubmissionID uint   `json:"submission_id" validate:"required,min=1"`
	Provider     string `json:"provider" validate:"omitempty,max=64"`
	Model        string `json:"model" validate:"omitempty,max=128"`
}

// GradeResultResponse is the serialized grading outcome of a completed job.
type GradeResultResponse struct {
	TotalPoints  *float64        `json:"total_points"`
	Grade        json.RawMessage `json:"grade,omitempty"`
	RenderedText string          `json:"rendered_text,omitempty"`
	Warnings     json.RawMessage `json:"warnings,omitempty"`
}

// JobResponse is the serialized representation of a grading job.
type JobResponse struct {
	ID             uint                 `json:"id"`
	AssignmentID   uint                 `json:"assignment_id"`
	SubmissionID   uint                 `json:"submission_id"`
	GuideVersionID uint                 `json:"guide_version_id"`
	Status         string               `json:"status"`
	ErrorKind      string               `json:"error_kind,omitempty"`
	Message        string               `json:"message,omitempty"`
	Provider       string               `json:"provider"`
	Model          string               `json:"model"`
	Attempts       int                  `json:"attempts"`
	PromptTokens   int                  `json:"prompt_tokens,omitempty"`
	TotalTokens    int                  `json:"total_tokens,omitempty"`
	PriceEstimate  *float64             `json:"price_estimate,omitempty"`
	Result         *GradeResultResponse `json:"result,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	FinishedAt     *time.Time           `json:"finished_at,omitempty"`
}

// NewJobResponse converts a model into a DTO.
func NewJobResponse(model models.GradingJob) JobResponse {
	response := JobResponse{
		ID:             model.ID,
		AssignmentID:   model.AssignmentID,
		SubmissionID:   model.SubmissionID,
		GuideVersionID: model.GuideVersionID,
		Status:         model.Status,
		ErrorKind:      model.ErrorKind,
		Message:        model.Message,
		Provider:       model.Provider,
		Model:          model.Model,
		Attempts:       model.Attempts,
		PromptTokens:   model.PromptTokens,
		TotalTokens:    model.TotalTokens,
		PriceEstimate:  model.PriceEstimate,
		CreatedAt:      model.CreatedAt,
		StartedAt:      model.StartedAt,
		FinishedAt:     model.FinishedAt,
	}
	if model.Result != nil {
		response.Result = &GradeResultResponse{
			TotalPoints:  model.Result.TotalPoints,
			Grade:        json.RawMessage(model.Result.Grade),
			RenderedText: model.Result.RenderedText,
			Warnings:     json.RawMessage(model.Result.Warnings),
		}
	}

	return response
}

// NewJobResponseSlice converts a slice of models into DTOs.
func NewJobResponseSlice(jobs []models.GradingJob) []JobResponse {
	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, NewJobResponse(job))
	}

	return responses
}
