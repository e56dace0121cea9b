package grading

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/render"
	"github.com/noah-isme/gradeflow-api/pkg/llm"
)

type stubJobRepo struct {
	mu   sync.Mutex
	jobs map[uint]models.GradingJob
}

func newStubJobRepo(jobs ...models.GradingJob) *stubJobRepo {
	r := &stubJobRepo{jobs: make(map[uint]models.GradingJob)}
	for _, job := range jobs {
		r.jobs[job.ID] = job
	}
	return r
}

func (r *stubJobRepo) CreateExclusive(_ context.Context, job *models.GradingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = uint(len(r.jobs) + 1)
	r.jobs[job.ID] = *job
	return nil
}

func (r *stubJobRepo) GetByID(_ context.Context, id uint) (models.GradingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.GradingJob{}, errors.New("job not found")
	}
	return job, nil
}

func (r *stubJobRepo) ListByAssignment(_ context.Context, _ uint) ([]models.GradingJob, error) {
	return nil, nil
}

func (r *stubJobRepo) ListBySubmission(_ context.Context, _ uint) ([]models.GradingJob, error) {
	return nil, nil
}

func (r *stubJobRepo) Update(_ context.Context, job *models.GradingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *stubJobRepo) RecordQueueMessage(_ context.Context, id uint, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.QueueMessageID = messageID
	r.jobs[id] = job
	return nil
}

func (r *stubJobRepo) Transition(_ context.Context, id uint, from, to string, fields map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	for key, value := range fields {
		switch key {
		case "error_kind":
			job.ErrorKind = value.(string)
		case "message":
			job.Message = value.(string)
		case "raw_response":
			job.RawResponse = value.(string)
		case "attempts":
			job.Attempts = value.(int)
		case "started_at":
			at := value.(time.Time)
			job.StartedAt = &at
		case "finished_at":
			at := value.(time.Time)
			job.FinishedAt = &at
		case "prompt_tokens":
			job.PromptTokens = value.(int)
		case "completion_tokens":
			job.CompletionTokens = value.(int)
		case "total_tokens":
			job.TotalTokens = value.(int)
		case "price_estimate":
			if estimate, ok := value.(*float64); ok {
				job.PriceEstimate = estimate
			}
		}
	}
	r.jobs[id] = job
	return true, nil
}

func (r *stubJobRepo) Status(_ context.Context, id uint) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return "", errors.New("job not found")
	}
	return job.Status, nil
}

type stubGuideRepo struct {
	guides map[uint]models.GuideVersion
}

func (r *stubGuideRepo) Create(_ context.Context, guide *models.GuideVersion) error {
	r.guides[guide.ID] = *guide
	return nil
}

func (r *stubGuideRepo) GetByID(_ context.Context, id uint) (models.GuideVersion, error) {
	guide, ok := r.guides[id]
	if !ok {
		return models.GuideVersion{}, errors.New("guide not found")
	}
	return guide, nil
}

func (r *stubGuideRepo) ListByAssignment(_ context.Context, _ uint) ([]models.GuideVersion, error) {
	return nil, nil
}

func (r *stubGuideRepo) Update(_ context.Context, guide *models.GuideVersion) error {
	r.guides[guide.ID] = *guide
	return nil
}

func (r *stubGuideRepo) ActiveForAssignment(_ context.Context, assignmentID uint) (models.GuideVersion, error) {
	for _, guide := range r.guides {
		if guide.AssignmentID == assignmentID && guide.Status == models.GuideStatusActive {
			return guide, nil
		}
	}
	return models.GuideVersion{}, errors.New("no active guide")
}

func (r *stubGuideRepo) Activate(_ context.Context, id uint, at time.Time) (models.GuideVersion, error) {
	guide := r.guides[id]
	guide.Status = models.GuideStatusActive
	guide.ActivatedAt = &at
	r.guides[id] = guide
	return guide, nil
}

func (r *stubGuideRepo) Status(_ context.Context, id uint) (string, error) {
	guide, ok := r.guides[id]
	if !ok {
		return "", errors.New("guide not found")
	}
	return guide.Status, nil
}

type stubAssignmentRepo struct {
	assignments map[uint]models.Assignment
}

func (r *stubAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	r.assignments[assignment.ID] = *assignment
	return nil
}

func (r *stubAssignmentRepo) Update(_ context.Context, assignment *models.Assignment) error {
	r.assignments[assignment.ID] = *assignment
	return nil
}

func (r *stubAssignmentRepo) List(_ context.Context) ([]models.Assignment, error) {
	return nil, nil
}

func (r *stubAssignmentRepo) GetByID(_ context.Context, id uint) (models.Assignment, error) {
	assignment, ok := r.assignments[id]
	if !ok {
		return models.Assignment{}, errors.New("assignment not found")
	}
	return assignment, nil
}

type stubSubmissionRepo struct {
	submissions map[uint]models.Submission
}

func (r *stubSubmissionRepo) Create(_ context.Context, submission *models.Submission) error {
	r.submissions[submission.ID] = *submission
	return nil
}

func (r *stubSubmissionRepo) GetByID(_ context.Context, id uint) (models.Submission, error) {
	submission, ok := r.submissions[id]
	if !ok {
		return models.Submission{}, errors.New("submission not found")
	}
	return submission, nil
}

func (r *stubSubmissionRepo) ListByAssignment(_ context.Context, _ uint) ([]models.Submission, error) {
	return nil, nil
}

func (r *stubSubmissionRepo) GetByAssignmentAndStudent(_ context.Context, _ uint, _ string) (models.Submission, error) {
	return models.Submission{}, errors.New("not found")
}

type stubResultRepo struct {
	mu        sync.Mutex
	results   []models.GradeResult
	createErr error
}

func (r *stubResultRepo) Create(_ context.Context, result *models.GradeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	result.ID = uint(len(r.results) + 1)
	r.results = append(r.results, *result)
	return nil
}

func (r *stubResultRepo) GetByJob(_ context.Context, jobID uint) (models.GradeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, result := range r.results {
		if result.JobID == jobID {
			return result, nil
		}
	}
	return models.GradeResult{}, errors.New("result not found")
}

type stubClient struct {
	mu        sync.Mutex
	responses []stubResponse
	calls     int
}

type stubResponse struct {
	text string
	err  error
}

func (c *stubClient) Complete(_ context.Context, _ llm.Request) (llm.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	resp := c.responses[idx]
	if resp.err != nil {
		return llm.Completion{}, resp.err
	}
	return llm.Completion{
		Text:  resp.text,
		Usage: llm.Usage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
	}, nil
}

func (c *stubClient) DefaultModel() string { return "gpt-4o-mini" }
func (c *stubClient) ProviderName() string { return "openai" }

type noopRenderer struct{}

func (noopRenderer) Render(_ context.Context, _ models.SubmissionArtifact) ([]render.Payload, error) {
	return nil, nil
}

type engineFixture struct {
	engine  *Engine
	jobs    *stubJobRepo
	results *stubResultRepo
	client  *stubClient
}

func newEngineFixture(t *testing.T, guideStatus string, responses ...stubResponse) engineFixture {
	t.Helper()

	rubric := Rubric{Parts: []RubricPart{
		{PartID: "arithmetic", Description: "Arithmetic", PointsPossible: 10},
	}}
	rubricJSON, err := json.Marshal(rubric)
	require.NoError(t, err)

	guides := &stubGuideRepo{guides: map[uint]models.GuideVersion{
		1: {ID: 1, AssignmentID: 1, Status: guideStatus, Rubric: datatypes.JSON(rubricJSON)},
	}}
	assignments := &stubAssignmentRepo{assignments: map[uint]models.Assignment{
		1: {ID: 1, Title: "Basics", AssignmentText: "Compute 2+2 and show your work."},
	}}
	submissions := &stubSubmissionRepo{submissions: map[uint]models.Submission{
		1: {ID: 1, AssignmentID: 1, StudentIdentifier: "alice", SubmittedText: "2+2=4", Fingerprint: "fp-1"},
	}}
	jobs := newStubJobRepo(models.GradingJob{
		ID:             1,
		AssignmentID:   1,
		SubmissionID:   1,
		GuideVersionID: 1,
		Status:         models.JobStatusQueued,
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		Fingerprint:    "fp-1",
	})
	results := &stubResultRepo{}
	client := &stubClient{responses: responses}

	registry, err := llm.NewRegistry(map[string]llm.Client{"openai": client}, "openai")
	require.NoError(t, err)

	engine := NewEngine(
		jobs, guides, assignments, submissions, results,
		render.NewCache(noopRenderer{}),
		registry,
		llm.PriceTable{FallbackInputPer1K: 0.001, FallbackOutputPer1K: 0.002, ImageTokensPerImage: 1000},
		events.NewPublisher(nil, nil, zerolog.Nop()),
		RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: 4 * time.Millisecond},
		2048,
		zerolog.Nop(),
	)

	return engineFixture{engine: engine, jobs: jobs, results: results, client: client}
}

const fullMarksResponse = `{"total_points": 10, "parts": [
	{"part_id": "arithmetic", "points_awarded": 10, "points_possible": 10, "notes": "correct"}
], "final_feedback": "Correct."}`

func TestEngineGradesSubmission(t *testing.T) {
	fx := newEngineFixture(t, models.GuideStatusActive, stubResponse{text: fullMarksResponse})

	require.NoError(t, fx.engine.Execute(context.Background(), 1))

	job, err := fx.jobs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.Equal(t, 160, job.TotalTokens)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
	require.Contains(t, job.Message, "graded 10 / 10 points")

	result, err := fx.results.GetByJob(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, result.TotalPoints)
	require.Equal(t, 10.0, *result.TotalPoints)
	require.Contains(t, result.RenderedText, "arithmetic: 10 / 10")
	require.Equal(t, 1, fx.client.calls)
}

func TestEngineRetriesRateLimitThenSucceeds(t *testing.T) {
	rateLimited := &llm.ProviderError{Kind: llm.ErrorRateLimited, Provider: "openai", Message: "429"}
	fx := newEngineFixture(t, models.GuideStatusActive,
		stubResponse{err: rateLimited},
		stubResponse{err: rateLimited},
		stubResponse{text: fullMarksResponse},
	)

	require.NoError(t, fx.engine.Execute(context.Background(), 1))

	job, err := fx.jobs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Attempts)
	require.Equal(t, 3, fx.client.calls)
}

func TestEngineFailsFastOnAuthFailure(t *testing.T) {
	fx := newEngineFixture(t, models.GuideStatusActive,
		stubResponse{err: &llm.ProviderError{Kind: llm.ErrorAuthFailure, Provider: "openai", Message: "401"}},
	)

	require.NoError(t, fx.engine.Execute(context.Background(), 1))

	job, err := fx.jobs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Equal(t, models.JobErrorProviderAuth, job.ErrorKind)
	require.Equal(t, 1, fx.client.calls, "auth failures must not be retried")
}

func TestEngineExhaustsRetriesOnTimeout(t *testing.T) {
	fx := newEngineFixture(t, models.GuideStatusActive,
		stubResponse{err: &llm.ProviderError{Kind: llm.ErrorTimeout, Provider: "openai", Message: "deadline"}},
	)

	require.NoError(t, fx.engine.Execute(context.Background(), 1))

	job, err := fx.jobs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Equal(t, models.JobErrorProviderTimeout, job.ErrorKind)
	require.Equal(t, 3, fx.client.calls)
}

func TestEngineFailsWhenGuideNoLongerActive(t *testing.T) {
	fx := newEngineFixture(t, models.GuideStatusDraft, stubResponse{text: fullMarksResponse})

	require.NoError(t, fx.engine.Execute(context.Background(), 1))

	job, err := fx.jobs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Equal(t, models.JobErrorPreconditionChanged, job.ErrorKind)
	require.Zero(t, fx.client.calls, "provider must not be called when preflight fails")
}

func TestEngineFailsOnMalformedResponse(t *testing.T) {
	fx := newEngineFixture(t, models.GuideStatusActive,
		stubResponse{text: "full marks, great job"},
	)

	require.NoError(t, fx.engine.Execute(context.Background(), 1))

	job, err := fx.jobs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Equal(t, models.JobErrorMalformedJSON, job.ErrorKind)
	require.Equal(t, "full marks, great job", job.RawResponse,
		"provider text must survive on the failed record")
	require.Empty(t, fx.results.results, "no result row for failed jobs")
}

func TestEngineFailsWithStorageKindWhenResultWriteFails(t *testing.T) {
	fx := newEngineFixture(t, models.GuideStatusActive, stubResponse{text: fullMarksResponse})
	fx.results.createErr = errors.New("disk full")

	require.NoError(t, fx.engine.Execute(context.Background(), 1))

	job, err := fx.jobs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Equal(t, models.JobErrorStorage, job.ErrorKind)
}

func TestEngineSkipsTerminalJob(t *testing.T) {
	fx := newEngineFixture(t, models.GuideStatusActive, stubResponse{text: fullMarksResponse})
	_, err := fx.jobs.Transition(context.Background(), 1, models.JobStatusQueued, models.JobStatusCompleted, nil)
	require.NoError(t, err)

	require.NoError(t, fx.engine.Execute(context.Background(), 1))
	require.Zero(t, fx.client.calls)
}
