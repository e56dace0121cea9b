package dto

import (
	"time"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// AssignmentCreateRequest describes the payload for creating a new assignment.
type AssignmentCreateRequest struct {
	Title          string `json:"title" validate:"required,min=3"`
	AssignmentText string `json:"assignment_text" validate:"required,min=10"`
	FolderName     string `json:"folder_name" validate:"omitempty,max=255"`
}

// AssignmentGenerateRequest asks the system to draft an assignment with an LLM.
type AssignmentGenerateRequest struct {
	Brief    string `json:"brief" validate:"required,min=10"`
	Provider string `json:"provider" validate:"omitempty,max=64"`
	Model    string `json:"model" validate:"omitempty,max=128"`
}

// AssignmentResponse is the serialized representation returned to API clients.
type AssignmentResponse struct {
	ID             uint       `json:"id"`
	Title          string     `json:"title"`
	AssignmentText string     `json:"assignment_text"`
	FolderName     string     `json:"folder_name,omitempty"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	Provider       string     `json:"provider,omitempty"`
	Model          string     `json:"model,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	TotalTokens    int        `json:"total_tokens,omitempty"`
	PriceEstimate  *float64   `json:"price_estimate,omitempty"`
	Archived       bool       `json:"archived"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewAssignmentResponse converts a model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:             model.ID,
		Title:          model.Title,
		AssignmentText: model.AssignmentText,
		FolderName:     model.FolderName,
		Status:         model.Status,
		Source:         model.Source,
		Provider:       model.Provider,
		Model:          model.Model,
		ErrorMessage:   model.ErrorMessage,
		TotalTokens:    model.TotalTokens,
		PriceEstimate:  model.PriceEstimate,
		Archived:       model.IsArchived(),
		ArchivedAt:     model.ArchivedAt,
		FinishedAt:     model.FinishedAt,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

// NewAssignmentResponseSlice converts a slice of models into DTOs.
func NewAssignmentResponseSlice(assignments []models.Assignment) []AssignmentResponse {
	responses := make([]AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, NewAssignmentResponse(assignment))
	}

	return responses
}
