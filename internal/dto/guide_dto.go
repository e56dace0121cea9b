package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// GuideDraftRequest describes a manually authored guide draft.
type GuideDraftRequest struct {
	Rubric            json.RawMessage `json:"rubric" validate:"required"`
	ReferenceSolution string          `json:"reference_solution"`
}

// GuideGenerateRequest asks the system to draft a guide with an LLM.
type GuideGenerateRequest struct {
	Provider string `json:"provider" validate:"omitempty,max=64"`
	Model    string `json:"model" validate:"omitempty,max=128"`
}

// GuideResponse is the serialized representation of a guide version.
type GuideResponse struct {
	ID                uint            `json:"id"`
	AssignmentID      uint            `json:"assignment_id"`
	Rubric            json.RawMessage `json:"rubric,omitempty"`
	ReferenceSolution string          `json:"reference_solution,omitempty"`
	Status            string          `json:"status"`
	Source            string          `json:"source"`
	Provider          string          `json:"provider,omitempty"`
	Model             string          `json:"model,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	TotalTokens       int             `json:"total_tokens,omitempty"`
	PriceEstimate     *float64        `json:"price_estimate,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	ActivatedAt       *time.Time      `json:"activated_at,omitempty"`
}

// NewGuideResponse converts a model into a DTO.
func NewGuideResponse(model models.GuideVersion) GuideResponse {
	return GuideResponse{
		ID:                model.ID,
		AssignmentID:      model.AssignmentID,
		Rubric:            json.RawMessage(model.Rubric),
		ReferenceSolution: model.ReferenceSolution,
		Status:            model.Status,
		Source:            model.Source,
		Provider:          model.Provider,
		Model:             model.Model,
		ErrorMessage:      model.ErrorMessage,
		TotalTokens:       model.TotalTokens,
		PriceEstimate:     model.PriceEstimate,
		CreatedAt:         model.CreatedAt,
		ApprovedAt:        model.ApprovedAt,
		ActivatedAt:       model.ActivatedAt,
	}
}

// NewGuideResponseSlice converts a slice of models into DTOs.
func NewGuideResponseSlice(guides []models.GuideVersion) []GuideResponse {
	responses := make([]GuideResponse, 0, len(guides))
	for _, guide := range guides {
		responses = append(responses, NewGuideResponse(guide))
	}

	return responses
}
