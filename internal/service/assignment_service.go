package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/config"
	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/grading"
	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/queue"
	"github.com/noah-isme/gradeflow-api/internal/repository"
	"github.com/noah-isme/gradeflow-api/pkg/llm"
)

var (
	// ErrAssignmentArchived rejects writes against an archived assignment.
	ErrAssignmentArchived = errors.New("assignment is archived")
	// ErrAssignmentNotReady rejects writes while an assignment draft is still
	// generating or has failed to generate.
	ErrAssignmentNotReady = errors.New("assignment is not ready")
	// ErrEmptyAssignmentText rejects assignments with no gradable content.
	ErrEmptyAssignmentText = errors.New("assignment text must not be empty")
	// ErrEmptyBrief rejects generation requests with no brief to draft from.
	ErrEmptyBrief = errors.New("assignment brief must not be empty")
)

// AssignmentService manages gradable assignments.
type AssignmentService interface {
	Create(ctx context.Context, title, text, folderName string) (models.Assignment, error)
	Generate(ctx context.Context, brief, providerKey, model string) (models.Assignment, error)
	ProcessGeneration(ctx context.Context, assignmentID uint) error
	List(ctx context.Context) ([]models.Assignment, error)
	Get(ctx context.Context, id uint) (models.Assignment, error)
}

type assignmentService struct {
	repo      repository.AssignmentRepository
	queue     queue.Queue
	registry  *llm.Registry
	prices    llm.PriceTable
	cfg       config.Config
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewAssignmentService instantiates the service.
func NewAssignmentService(
	repo repository.AssignmentRepository,
	q queue.Queue,
	registry *llm.Registry,
	prices llm.PriceTable,
	cfg config.Config,
	publisher events.Publisher,
	logger zerolog.Logger,
) AssignmentService {
	return &assignmentService{
		repo:      repo,
		queue:     q,
		registry:  registry,
		prices:    prices,
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With().Str("component", "assignment_service").Logger(),
	}
}

func (s *assignmentService) Create(ctx context.Context, title, text, folderName string) (models.Assignment, error) {
	if strings.TrimSpace(text) == "" {
		return models.Assignment{}, ErrEmptyAssignmentText
	}

	assignment := models.Assignment{
		Title:          strings.TrimSpace(title),
		AssignmentText: text,
		FolderName:     strings.TrimSpace(folderName),
		Status:         models.AssignmentStatusReady,
		Source:         models.AssignmentSourceManual,
	}
	if err := s.repo.Create(ctx, &assignment); err != nil {
		return models.Assignment{}, err
	}

	s.logger.Info().Uint("assignment_id", assignment.ID).Str("title", assignment.Title).Msg("assignment created")

	return assignment, nil
}

// Generate creates a generating placeholder assignment and enqueues the LLM
// draft work on the shared task queue.
func (s *assignmentService) Generate(ctx context.Context, brief, providerKey, model string) (models.Assignment, error) {
	if strings.TrimSpace(brief) == "" {
		return models.Assignment{}, ErrEmptyBrief
	}

	provider, model, err := resolveProvider(s.cfg, providerKey, model)
	if err != nil {
		return models.Assignment{}, err
	}

	assignment := models.Assignment{
		Status:   models.AssignmentStatusGenerating,
		Source:   models.AssignmentSourceLLM,
		Brief:    strings.TrimSpace(brief),
		Provider: provider,
		Model:    model,
	}
	if err := s.repo.Create(ctx, &assignment); err != nil {
		return models.Assignment{}, err
	}

	if _, err := s.queue.Submit(ctx, queue.Task{Kind: queue.TaskAssignment, ID: assignment.ID}); err != nil {
		assignment.Status = models.AssignmentStatusFailed
		assignment.ErrorMessage = fmt.Sprintf("enqueue failed: %v", err)
		if updateErr := s.repo.Update(ctx, &assignment); updateErr != nil {
			s.logger.Error().Err(updateErr).Uint("assignment_id", assignment.ID).Msg("failed to mark assignment generation as failed")
		}
		return models.Assignment{}, err
	}

	s.logger.Info().
		Uint("assignment_id", assignment.ID).
		Str("provider", provider).
		Str("model", model).
		Msg("assignment draft generation enqueued")

	return assignment, nil
}

// assignmentDraft is the JSON shape the drafting prompt asks the model for.
type assignmentDraft struct {
	Title          string `json:"title"`
	AssignmentText string `json:"assignment_text"`
}

// ProcessGeneration executes one queued assignment-draft task. It is
// idempotent: assignments that already left the generating state are skipped.
func (s *assignmentService) ProcessGeneration(ctx context.Context, assignmentID uint) error {
	assignment, err := s.repo.GetByID(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("load assignment %d: %w", assignmentID, err)
	}
	if assignment.Status != models.AssignmentStatusGenerating {
		s.logger.Debug().Uint("assignment_id", assignmentID).Str("status", assignment.Status).Msg("skipping non-generating assignment task")
		return nil
	}

	client, err := s.registry.Get(assignment.Provider)
	if err != nil {
		return s.failGeneration(ctx, assignment, err.Error())
	}

	completion, err := client.Complete(ctx, llm.Request{
		Model:        assignment.Model,
		SystemPrompt: grading.AssignmentSystemPrompt(),
		UserText:     grading.BuildAssignmentPrompt(assignment.Brief),
		JSONMode:     true,
		MaxTokens:    s.cfg.MaxOutputTokens,
	})
	if err != nil {
		return s.failGeneration(ctx, assignment, err.Error())
	}

	assignment.RawResponse = completion.Text
	assignment.PromptTokens = completion.Usage.PromptTokens
	assignment.CompletionTokens = completion.Usage.CompletionTokens
	assignment.TotalTokens = completion.Usage.TotalTokens
	assignment.PriceEstimate = s.prices.Estimate(assignment.Model, completion.Usage, 0)

	doc, ok := grading.ExtractJSON(completion.Text)
	if !ok {
		return s.failGeneration(ctx, assignment, "draft response contains no parseable JSON object")
	}
	var draft assignmentDraft
	if err := json.Unmarshal(doc, &draft); err != nil {
		return s.failGeneration(ctx, assignment, fmt.Sprintf("draft is not valid JSON: %v", err))
	}
	if strings.TrimSpace(draft.AssignmentText) == "" {
		return s.failGeneration(ctx, assignment, "draft contains no assignment text")
	}

	now := time.Now().UTC()
	assignment.Title = strings.TrimSpace(draft.Title)
	assignment.AssignmentText = draft.AssignmentText
	assignment.Status = models.AssignmentStatusReady
	assignment.FinishedAt = &now
	if err := s.repo.Update(ctx, &assignment); err != nil {
		return err
	}

	s.logger.Info().
		Uint("assignment_id", assignment.ID).
		Int("total_tokens", assignment.TotalTokens).
		Msg("assignment draft generated")

	s.publisher.Publish(ctx, events.Event{
		Type:         events.TypeAssignmentDrafted,
		AssignmentID: assignment.ID,
	})

	return nil
}

func (s *assignmentService) failGeneration(ctx context.Context, assignment models.Assignment, message string) error {
	now := time.Now().UTC()
	assignment.Status = models.AssignmentStatusFailed
	assignment.ErrorMessage = message
	assignment.FinishedAt = &now

	s.logger.Error().
		Uint("assignment_id", assignment.ID).
		Str("message", message).
		Msg("assignment draft generation failed")

	return s.repo.Update(ctx, &assignment)
}

func (s *assignmentService) List(ctx context.Context) ([]models.Assignment, error) {
	return s.repo.List(ctx)
}

func (s *assignmentService) Get(ctx context.Context, id uint) (models.Assignment, error) {
	return s.repo.GetByID(ctx, id)
}

// guardWritable is shared by services that mutate assignment-scoped data.
// Assignments still drafting, or whose draft failed, accept no dependent
// writes; rows created before the status column existed pass through.
func guardWritable(assignment models.Assignment) error {
	if assignment.IsArchived() {
		return ErrAssignmentArchived
	}
	switch assignment.Status {
	case models.AssignmentStatusGenerating, models.AssignmentStatusFailed:
		return ErrAssignmentNotReady
	}
	return nil
}
