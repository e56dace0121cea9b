package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/queue"
	"github.com/noah-isme/gradeflow-api/pkg/llm"
)

type guideFixture struct {
	service     GuideService
	guides      *memGuideRepo
	assignments *memAssignmentRepo
	queue       *recordingQueue
	client      *stubDraftClient
}

type stubDraftClient struct {
	text  string
	err   error
	calls int
}

func (c *stubDraftClient) Complete(_ context.Context, _ llm.Request) (llm.Completion, error) {
	c.calls++
	if c.err != nil {
		return llm.Completion{}, c.err
	}
	return llm.Completion{Text: c.text, Usage: llm.Usage{PromptTokens: 80, CompletionTokens: 60, TotalTokens: 140}}, nil
}

func (c *stubDraftClient) DefaultModel() string { return "gpt-4o-mini" }
func (c *stubDraftClient) ProviderName() string { return "openai" }

func newGuideFixture(t *testing.T) guideFixture {
	t.Helper()

	guides := newMemGuideRepo()
	assignments := newMemAssignmentRepo()
	q := &recordingQueue{}
	client := &stubDraftClient{}

	require.NoError(t, assignments.Create(context.Background(), &models.Assignment{
		Title:          "Basics",
		AssignmentText: "Compute 2+2 and show your work.",
	}))

	registry, err := llm.NewRegistry(map[string]llm.Client{"openai": client}, "openai")
	require.NoError(t, err)

	svc := NewGuideService(guides, assignments, q, registry, llm.PriceTable{},
		testConfig(), events.NewPublisher(nil, nil, zerolog.Nop()), zerolog.Nop())

	return guideFixture{service: svc, guides: guides, assignments: assignments, queue: q, client: client}
}

var validRubric = json.RawMessage(`{"parts": [
	{"part_id": "arithmetic", "description": "Arithmetic", "points_possible": 10}
]}`)

func TestGuideLifecycleDraftApproveActivate(t *testing.T) {
	fx := newGuideFixture(t)
	ctx := context.Background()

	draft, err := fx.service.CreateDraft(ctx, 1, validRubric, "4")
	require.NoError(t, err)
	require.Equal(t, models.GuideStatusDraft, draft.Status)
	require.Equal(t, models.GuideSourceManual, draft.Source)

	approved, err := fx.service.Approve(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, models.GuideStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	_, err = fx.service.UpdateDraft(ctx, draft.ID, validRubric, "5")
	require.ErrorIs(t, err, ErrGuideFrozen)

	active, err := fx.service.Activate(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, models.GuideStatusActive, active.Status)
}

func TestGuideCreateDraftRejectsEmptyRubric(t *testing.T) {
	fx := newGuideFixture(t)

	_, err := fx.service.CreateDraft(context.Background(), 1, json.RawMessage(`{"parts": []}`), "")
	require.ErrorIs(t, err, ErrInvalidRubric)
}

func TestGuideApproveRejectsNonDraft(t *testing.T) {
	fx := newGuideFixture(t)

	generating := models.GuideVersion{AssignmentID: 1, Status: models.GuideStatusGenerating}
	require.NoError(t, fx.guides.Create(context.Background(), &generating))

	_, err := fx.service.Approve(context.Background(), generating.ID)
	require.ErrorIs(t, err, ErrGuideNotDraft)
}

func TestGuideGenerateEnqueuesDraftTask(t *testing.T) {
	fx := newGuideFixture(t)

	guide, err := fx.service.Generate(context.Background(), 1, "", "")
	require.NoError(t, err)
	require.Equal(t, models.GuideStatusGenerating, guide.Status)
	require.Equal(t, models.GuideSourceLLM, guide.Source)

	submitted := fx.queue.submitted()
	require.Len(t, submitted, 1)
	require.Equal(t, queue.TaskGuide, submitted[0].Kind)
	require.Equal(t, guide.ID, submitted[0].ID)
}

func TestGuideProcessGenerationProducesDraft(t *testing.T) {
	fx := newGuideFixture(t)
	fx.client.text = `{"parts": [
		{"part_id": "arithmetic", "description": "Arithmetic", "points_possible": 10}
	], "reference_solution": "2+2=4"}`

	guide, err := fx.service.Generate(context.Background(), 1, "", "")
	require.NoError(t, err)

	require.NoError(t, fx.service.ProcessGeneration(context.Background(), guide.ID))

	updated, err := fx.guides.GetByID(context.Background(), guide.ID)
	require.NoError(t, err)
	require.Equal(t, models.GuideStatusDraft, updated.Status)
	require.Equal(t, "2+2=4", updated.ReferenceSolution)
	require.Equal(t, 140, updated.TotalTokens)
	require.NotNil(t, updated.FinishedAt)

	// Redelivery of the same task is a no-op.
	require.NoError(t, fx.service.ProcessGeneration(context.Background(), guide.ID))
	require.Equal(t, 1, fx.client.calls)
}

func TestGuideProcessGenerationRecordsFailure(t *testing.T) {
	fx := newGuideFixture(t)
	fx.client.text = "I could not come up with a rubric, sorry."

	guide, err := fx.service.Generate(context.Background(), 1, "", "")
	require.NoError(t, err)

	require.NoError(t, fx.service.ProcessGeneration(context.Background(), guide.ID))

	updated, err := fx.guides.GetByID(context.Background(), guide.ID)
	require.NoError(t, err)
	require.Equal(t, models.GuideStatusFailed, updated.Status)
	require.NotEmpty(t, updated.ErrorMessage)
}
