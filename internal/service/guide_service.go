package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gradeflow-api/internal/config"
	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/grading"
	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/queue"
	"github.com/noah-isme/gradeflow-api/internal/repository"
	"github.com/noah-isme/gradeflow-api/pkg/llm"
)

var (
	// ErrGuideFrozen rejects edits of approved or active versions.
	ErrGuideFrozen = errors.New("guide version is frozen and cannot be edited")
	// ErrGuideNotDraft rejects approval of versions outside the draft state.
	ErrGuideNotDraft = errors.New("only draft guide versions can be approved")
	// ErrInvalidRubric rejects rubrics that do not parse or have no parts.
	ErrInvalidRubric = errors.New("rubric is invalid")
)

// GuideService manages grading guide versions and their lifecycle.
type GuideService interface {
	CreateDraft(ctx context.Context, assignmentID uint, rubric json.RawMessage, referenceSolution string) (models.GuideVersion, error)
	Generate(ctx context.Context, assignmentID uint, providerKey, model string) (models.GuideVersion, error)
	ProcessGeneration(ctx context.Context, guideID uint) error
	UpdateDraft(ctx context.Context, guideID uint, rubric json.RawMessage, referenceSolution string) (models.GuideVersion, error)
	Approve(ctx context.Context, guideID uint) (models.GuideVersion, error)
	Activate(ctx context.Context, guideID uint) (models.GuideVersion, error)
	Get(ctx context.Context, guideID uint) (models.GuideVersion, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GuideVersion, error)
}

type guideService struct {
	guides      repository.GuideRepository
	assignments repository.AssignmentRepository
	queue       queue.Queue
	registry    *llm.Registry
	prices      llm.PriceTable
	cfg         config.Config
	publisher   events.Publisher
	logger      zerolog.Logger
}

// NewGuideService instantiates the service.
func NewGuideService(
	guides repository.GuideRepository,
	assignments repository.AssignmentRepository,
	q queue.Queue,
	registry *llm.Registry,
	prices llm.PriceTable,
	cfg config.Config,
	publisher events.Publisher,
	logger zerolog.Logger,
) GuideService {
	return &guideService{
		guides:      guides,
		assignments: assignments,
		queue:       q,
		registry:    registry,
		prices:      prices,
		cfg:         cfg,
		publisher:   publisher,
		logger:      logger.With().Str("component", "guide_service").Logger(),
	}
}

func (s *guideService) CreateDraft(ctx context.Context, assignmentID uint, rubric json.RawMessage, referenceSolution string) (models.GuideVersion, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return models.GuideVersion{}, err
	}
	if err := guardWritable(assignment); err != nil {
		return models.GuideVersion{}, err
	}

	if _, err := grading.ParseRubric(rubric); err != nil {
		return models.GuideVersion{}, fmt.Errorf("%w: %v", ErrInvalidRubric, err)
	}

	guide := models.GuideVersion{
		AssignmentID:      assignmentID,
		Rubric:            datatypes.JSON(rubric),
		ReferenceSolution: referenceSolution,
		Status:            models.GuideStatusDraft,
		Source:            models.GuideSourceManual,
	}
	if err := s.guides.Create(ctx, &guide); err != nil {
		return models.GuideVersion{}, err
	}

	s.logger.Info().Uint("guide_id", guide.ID).Uint("assignment_id", assignmentID).Msg("manual guide draft created")

	return guide, nil
}

// Generate creates a generating placeholder version and enqueues the LLM
// draft work on the shared task queue.
func (s *guideService) Generate(ctx context.Context, assignmentID uint, providerKey, model string) (models.GuideVersion, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return models.GuideVersion{}, err
	}
	if err := guardWritable(assignment); err != nil {
		return models.GuideVersion{}, err
	}

	provider, model, err := s.resolveProvider(providerKey, model)
	if err != nil {
		return models.GuideVersion{}, err
	}

	guide := models.GuideVersion{
		AssignmentID: assignmentID,
		Status:       models.GuideStatusGenerating,
		Source:       models.GuideSourceLLM,
		Provider:     provider,
		Model:        model,
	}
	if err := s.guides.Create(ctx, &guide); err != nil {
		return models.GuideVersion{}, err
	}

	if _, err := s.queue.Submit(ctx, queue.Task{Kind: queue.TaskGuide, ID: guide.ID}); err != nil {
		guide.Status = models.GuideStatusFailed
		guide.ErrorMessage = fmt.Sprintf("enqueue failed: %v", err)
		if updateErr := s.guides.Update(ctx, &guide); updateErr != nil {
			s.logger.Error().Err(updateErr).Uint("guide_id", guide.ID).Msg("failed to mark guide generation as failed")
		}
		return models.GuideVersion{}, err
	}

	s.logger.Info().
		Uint("guide_id", guide.ID).
		Uint("assignment_id", assignmentID).
		Str("provider", provider).
		Str("model", model).
		Msg("guide draft generation enqueued")

	return guide, nil
}

// guideDraft is the JSON shape the drafting prompt asks the model for.
type guideDraft struct {
	Parts             []grading.RubricPart `json:"parts"`
	ReferenceSolution string               `json:"reference_solution"`
}

// ProcessGeneration executes one queued guide-draft task. It is idempotent:
// versions that already left the generating state are skipped.
func (s *guideService) ProcessGeneration(ctx context.Context, guideID uint) error {
	guide, err := s.guides.GetByID(ctx, guideID)
	if err != nil {
		return fmt.Errorf("load guide version %d: %w", guideID, err)
	}
	if guide.Status != models.GuideStatusGenerating {
		s.logger.Debug().Uint("guide_id", guideID).Str("status", guide.Status).Msg("skipping non-generating guide task")
		return nil
	}

	assignment, err := s.assignments.GetByID(ctx, guide.AssignmentID)
	if err != nil {
		return s.failGeneration(ctx, guide, fmt.Sprintf("load assignment: %v", err))
	}

	client, err := s.registry.Get(guide.Provider)
	if err != nil {
		return s.failGeneration(ctx, guide, err.Error())
	}

	completion, err := client.Complete(ctx, llm.Request{
		Model:        guide.Model,
		SystemPrompt: grading.GuideSystemPrompt(),
		UserText:     grading.BuildGuidePrompt(assignment.AssignmentText),
		JSONMode:     true,
		MaxTokens:    s.cfg.MaxOutputTokens,
	})
	if err != nil {
		return s.failGeneration(ctx, guide, err.Error())
	}

	guide.RawResponse = completion.Text
	guide.PromptTokens = completion.Usage.PromptTokens
	guide.CompletionTokens = completion.Usage.CompletionTokens
	guide.TotalTokens = completion.Usage.TotalTokens
	guide.PriceEstimate = s.prices.Estimate(guide.Model, completion.Usage, 0)

	doc, ok := grading.ExtractJSON(completion.Text)
	if !ok {
		return s.failGeneration(ctx, guide, "draft response contains no parseable JSON object")
	}
	var draft guideDraft
	if err := json.Unmarshal(doc, &draft); err != nil {
		return s.failGeneration(ctx, guide, fmt.Sprintf("draft is not valid JSON: %v", err))
	}
	rubricJSON, err := json.Marshal(grading.Rubric{Parts: draft.Parts})
	if err != nil {
		return s.failGeneration(ctx, guide, err.Error())
	}
	if _, err := grading.ParseRubric(rubricJSON); err != nil {
		return s.failGeneration(ctx, guide, fmt.Sprintf("draft rubric is unusable: %v", err))
	}

	now := time.Now().UTC()
	guide.Rubric = datatypes.JSON(rubricJSON)
	guide.ReferenceSolution = draft.ReferenceSolution
	guide.Status = models.GuideStatusDraft
	guide.FinishedAt = &now
	if err := s.guides.Update(ctx, &guide); err != nil {
		return err
	}

	s.logger.Info().
		Uint("guide_id", guide.ID).
		Int("total_tokens", guide.TotalTokens).
		Msg("guide draft generated")

	s.publisher.Publish(ctx, events.Event{
		Type:         events.TypeGuideDrafted,
		AssignmentID: guide.AssignmentID,
		GuideID:      guide.ID,
	})

	return nil
}

func (s *guideService) failGeneration(ctx context.Context, guide models.GuideVersion, message string) error {
	now := time.Now().UTC()
	guide.Status = models.GuideStatusFailed
	guide.ErrorMessage = message
	guide.FinishedAt = &now

	s.logger.Error().
		Uint("guide_id", guide.ID).
		Str("message", message).
		Msg("guide draft generation failed")

	return s.guides.Update(ctx, &guide)
}

func (s *guideService) UpdateDraft(ctx context.Context, guideID uint, rubric json.RawMessage, referenceSolution string) (models.GuideVersion, error) {
	guide, err := s.guides.GetByID(ctx, guideID)
	if err != nil {
		return models.GuideVersion{}, err
	}
	if guide.IsFrozen() {
		return models.GuideVersion{}, ErrGuideFrozen
	}
	if guide.Status != models.GuideStatusDraft {
		return models.GuideVersion{}, ErrGuideNotDraft
	}

	if _, err := grading.ParseRubric(rubric); err != nil {
		return models.GuideVersion{}, fmt.Errorf("%w: %v", ErrInvalidRubric, err)
	}

	guide.Rubric = datatypes.JSON(rubric)
	guide.ReferenceSolution = referenceSolution
	if err := s.guides.Update(ctx, &guide); err != nil {
		return models.GuideVersion{}, err
	}

	return guide, nil
}

func (s *guideService) Approve(ctx context.Context, guideID uint) (models.GuideVersion, error) {
	guide, err := s.guides.GetByID(ctx, guideID)
	if err != nil {
		return models.GuideVersion{}, err
	}
	if guide.Status != models.GuideStatusDraft {
		return models.GuideVersion{}, ErrGuideNotDraft
	}
	if _, err := grading.ParseRubric(guide.Rubric); err != nil {
		return models.GuideVersion{}, fmt.Errorf("%w: %v", ErrInvalidRubric, err)
	}

	now := time.Now().UTC()
	guide.Status = models.GuideStatusApproved
	guide.ApprovedAt = &now
	if err := s.guides.Update(ctx, &guide); err != nil {
		return models.GuideVersion{}, err
	}

	s.logger.Info().Uint("guide_id", guide.ID).Msg("guide version approved")

	return guide, nil
}

func (s *guideService) Activate(ctx context.Context, guideID uint) (models.GuideVersion, error) {
	guide, err := s.guides.Activate(ctx, guideID, time.Now().UTC())
	if err != nil {
		return models.GuideVersion{}, err
	}

	s.logger.Info().
		Uint("guide_id", guide.ID).
		Uint("assignment_id", guide.AssignmentID).
		Msg("guide version activated")

	s.publisher.Publish(ctx, events.Event{
		Type:         events.TypeGuideActivated,
		AssignmentID: guide.AssignmentID,
		GuideID:      guide.ID,
	})

	return guide, nil
}

func (s *guideService) Get(ctx context.Context, guideID uint) (models.GuideVersion, error) {
	return s.guides.GetByID(ctx, guideID)
}

func (s *guideService) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GuideVersion, error) {
	return s.guides.ListByAssignment(ctx, assignmentID)
}

// resolveProvider validates a provider key and model selection against the
// configured endpoints, applying defaults when either is empty.
func (s *guideService) resolveProvider(providerKey, model string) (string, string, error) {
	return resolveProvider(s.cfg, providerKey, model)
}
