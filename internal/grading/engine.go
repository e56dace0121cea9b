package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"

	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/render"
	"github.com/noah-isme/gradeflow-api/internal/repository"
	"github.com/noah-isme/gradeflow-api/pkg/llm"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gradeflow_grading_jobs_total",
		Help: "Grading jobs processed, labeled by terminal status.",
	}, []string{"status"})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gradeflow_grading_job_duration_seconds",
		Help:    "Wall time from claim to terminal state.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})
	jobRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gradeflow_grading_retries_total",
		Help: "Provider call retries across all grading jobs.",
	})
)

// RetryPolicy controls how provider failures are retried within a job.
// Only timeouts and rate limits are retried; everything else fails fast.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Delay computes the exponential backoff before the given attempt number
// (1-based). The first attempt has no delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := p.BackoffBase << (attempt - 2)
	if delay > p.BackoffCap || delay <= 0 {
		delay = p.BackoffCap
	}

	return delay
}

// Engine executes grading jobs. It is the single execution path shared by
// the broker-driven worker and the in-process fallback queue, so semantics
// never depend on which backend delivered the job.
type Engine struct {
	jobs        repository.GradingJobRepository
	guides      repository.GuideRepository
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	results     repository.GradeResultRepository
	renders     *render.Cache
	registry    *llm.Registry
	prices      llm.PriceTable
	validator   *Validator
	publisher   events.Publisher
	policy      RetryPolicy
	maxTokens   int
	logger      zerolog.Logger
}

// NewEngine wires an engine from its collaborators.
func NewEngine(
	jobs repository.GradingJobRepository,
	guides repository.GuideRepository,
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	results repository.GradeResultRepository,
	renders *render.Cache,
	registry *llm.Registry,
	prices llm.PriceTable,
	publisher events.Publisher,
	policy RetryPolicy,
	maxTokens int,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		jobs:        jobs,
		guides:      guides,
		assignments: assignments,
		submissions: submissions,
		results:     results,
		renders:     renders,
		registry:    registry,
		prices:      prices,
		validator:   NewValidator(),
		publisher:   publisher,
		policy:      policy,
		maxTokens:   maxTokens,
		logger:      logger.With().Str("component", "grading_engine").Logger(),
	}
}

// Execute runs one grading job to a terminal state. Redelivered or already
// terminal jobs are skipped, so the method is safe to call more than once
// for the same job.
func (e *Engine) Execute(ctx context.Context, jobID uint) error {
	ctx, span := otel.Tracer("grading").Start(ctx, "engine.execute")
	defer span.End()
	span.SetAttributes(attribute.Int("job.id", int(jobID)))

	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}
	if job.IsTerminal() {
		e.logger.Debug().Uint("job_id", jobID).Str("status", job.Status).Msg("skipping terminal job")
		return nil
	}

	now := time.Now().UTC()
	claimed, err := e.jobs.Transition(ctx, jobID, models.JobStatusQueued, models.JobStatusRunning, map[string]interface{}{
		"started_at": now,
	})
	if err != nil {
		return fmt.Errorf("claim job %d: %w", jobID, err)
	}
	if !claimed {
		e.logger.Debug().Uint("job_id", jobID).Msg("job claimed elsewhere, skipping")
		return nil
	}
	job.Status = models.JobStatusRunning
	job.StartedAt = &now

	e.publisher.Publish(ctx, events.Event{
		Type:         events.TypeJobStarted,
		JobID:        job.ID,
		AssignmentID: job.AssignmentID,
		SubmissionID: job.SubmissionID,
		GuideID:      job.GuideVersionID,
	})

	start := time.Now()
	status := e.run(ctx, &job)
	jobDuration.Observe(time.Since(start).Seconds())
	jobsProcessed.WithLabelValues(status).Inc()

	return nil
}

// run drives a claimed job to a terminal state and returns that state.
func (e *Engine) run(ctx context.Context, job *models.GradingJob) string {
	log := e.logger.With().
		Uint("job_id", job.ID).
		Uint("submission_id", job.SubmissionID).
		Uint("guide_version_id", job.GuideVersionID).
		Logger()

	jc, err := e.preflight(ctx, job)
	if err != nil {
		return e.fail(ctx, job, models.JobErrorPreconditionChanged, err.Error(), log)
	}

	payloads, err := e.renders.Payloads(ctx, jc.submission)
	if err != nil {
		return e.fail(ctx, job, models.JobErrorRender, err.Error(), log)
	}

	client, err := e.registry.Get(job.Provider)
	if err != nil {
		return e.fail(ctx, job, models.JobErrorProviderUnknown, err.Error(), log)
	}

	req := e.buildRequest(*job, jc, payloads)

	completion, kind, err := e.complete(ctx, job, client, req, log)
	if err != nil {
		if errors.Is(err, errCancelled) {
			return models.JobStatusCancelled
		}
		return e.fail(ctx, job, kind, err.Error(), log)
	}

	job.RawResponse = completion.Text
	job.PromptTokens = completion.Usage.PromptTokens
	job.CompletionTokens = completion.Usage.CompletionTokens
	job.TotalTokens = completion.Usage.TotalTokens
	job.PriceEstimate = e.prices.Estimate(req.Model, completion.Usage, len(req.Images))

	grade, warnings, err := e.validator.Validate(completion.Text, jc.rubric)
	if err != nil {
		var verr *ValidationError
		kind := models.JobErrorMalformedJSON
		if errors.As(err, &verr) && verr.Kind == ValidationIncompleteRubric {
			kind = models.JobErrorIncompleteRubric
		}
		return e.fail(ctx, job, kind, err.Error(), log)
	}

	if err := e.persistResult(ctx, job, grade, warnings, completion.Text); err != nil {
		return e.fail(ctx, job, models.JobErrorStorage, err.Error(), log)
	}

	summary := fmt.Sprintf("graded %s / %s points in %d attempt(s)",
		formatPoints(grade.TotalPoints), formatPoints(jc.rubric.TotalPossible()), job.Attempts)
	finished, err := e.finish(ctx, job, models.JobStatusCompleted, map[string]interface{}{
		"message":           summary,
		"prompt_tokens":     job.PromptTokens,
		"completion_tokens": job.CompletionTokens,
		"total_tokens":      job.TotalTokens,
		"price_estimate":    job.PriceEstimate,
	})
	if err != nil || !finished {
		log.Warn().Err(err).Msg("job was cancelled before completion could be recorded")
		return models.JobStatusCancelled
	}

	log.Info().
		Float64("total_points", grade.TotalPoints).
		Int("total_tokens", job.TotalTokens).
		Int("attempts", job.Attempts).
		Strs("warnings", warnings).
		Msg("grading job completed")

	e.publisher.Publish(ctx, events.Event{
		Type:         events.TypeJobCompleted,
		JobID:        job.ID,
		AssignmentID: job.AssignmentID,
		SubmissionID: job.SubmissionID,
		GuideID:      job.GuideVersionID,
	})

	return models.JobStatusCompleted
}

// jobContext bundles the re-verified inputs for one grading attempt.
type jobContext struct {
	assignment models.Assignment
	guide      models.GuideVersion
	rubric     Rubric
	submission models.Submission
}

// preflight re-verifies the conditions the job was created under: the guide
// version must still be active and the submission content unchanged.
func (e *Engine) preflight(ctx context.Context, job *models.GradingJob) (jobContext, error) {
	guide, err := e.guides.GetByID(ctx, job.GuideVersionID)
	if err != nil {
		return jobContext{}, fmt.Errorf("load guide version: %w", err)
	}
	if guide.Status != models.GuideStatusActive {
		return jobContext{}, fmt.Errorf("guide version %d is %s, no longer active", guide.ID, guide.Status)
	}

	rubric, err := ParseRubric(guide.Rubric)
	if err != nil {
		return jobContext{}, err
	}

	assignment, err := e.assignments.GetByID(ctx, job.AssignmentID)
	if err != nil {
		return jobContext{}, fmt.Errorf("load assignment: %w", err)
	}

	submission, err := e.submissions.GetByID(ctx, job.SubmissionID)
	if err != nil {
		return jobContext{}, fmt.Errorf("load submission: %w", err)
	}
	if job.Fingerprint != "" && submission.Fingerprint != job.Fingerprint {
		return jobContext{}, fmt.Errorf("submission %d changed since the job was enqueued", submission.ID)
	}

	return jobContext{assignment: assignment, guide: guide, rubric: rubric, submission: submission}, nil
}

func (e *Engine) buildRequest(job models.GradingJob, jc jobContext, payloads []render.Payload) llm.Request {
	var textParts []string
	if strings.TrimSpace(jc.submission.SubmittedText) != "" {
		textParts = append(textParts, jc.submission.SubmittedText)
	}

	var images []llm.ImagePayload
	for _, payload := range payloads {
		switch payload.Kind {
		case render.PayloadText:
			if strings.TrimSpace(payload.Text) != "" {
				textParts = append(textParts, payload.Text)
			}
		case render.PayloadImage:
			images = append(images, llm.ImagePayload{MIME: payload.MIME, Data: payload.Data})
		}
	}

	return llm.Request{
		Model:        job.Model,
		SystemPrompt: GradingSystemPrompt(),
		UserText: BuildGradingPrompt(
			jc.assignment.AssignmentText,
			jc.rubric,
			jc.guide.ReferenceSolution,
			strings.Join(textParts, "\n\n"),
		),
		Images:    images,
		JSONMode:  true,
		MaxTokens: e.maxTokens,
	}
}

// errCancelled signals that the job was cancelled between attempts.
var errCancelled = errors.New("job cancelled")

// complete calls the provider, retrying timeouts and rate limits with
// exponential backoff. It returns the terminal error kind on failure.
func (e *Engine) complete(ctx context.Context, job *models.GradingJob, client llm.Client, req llm.Request, log zerolog.Logger) (llm.Completion, string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if delay := e.policy.Delay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return llm.Completion{}, models.JobErrorProviderTimeout, ctx.Err()
			}
		}

		if cancelled, err := e.isCancelled(ctx, job.ID); err == nil && cancelled {
			log.Info().Int("attempt", attempt).Msg("job cancelled, abandoning provider calls")
			return llm.Completion{}, "", errCancelled
		}

		job.Attempts = attempt
		if _, err := e.jobs.Transition(ctx, job.ID, models.JobStatusRunning, models.JobStatusRunning, map[string]interface{}{
			"attempts": attempt,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to record attempt count")
		}

		completion, err := client.Complete(ctx, req)
		if err == nil {
			return completion, "", nil
		}
		lastErr = err

		var perr *llm.ProviderError
		if !errors.As(err, &perr) || !perr.Retryable() || attempt == e.policy.MaxAttempts {
			break
		}

		jobRetries.Inc()
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("next_delay", e.policy.Delay(attempt+1)).
			Msg("provider call failed, will retry")

		e.publisher.Publish(ctx, events.Event{
			Type:         events.TypeJobRetrying,
			JobID:        job.ID,
			AssignmentID: job.AssignmentID,
			SubmissionID: job.SubmissionID,
			ErrorKind:    providerErrorKind(perr),
			Attempt:      attempt,
		})
	}

	var perr *llm.ProviderError
	if errors.As(lastErr, &perr) {
		return llm.Completion{}, providerErrorKind(perr), lastErr
	}

	return llm.Completion{}, models.JobErrorProviderUnknown, lastErr
}

func (e *Engine) isCancelled(ctx context.Context, jobID uint) (bool, error) {
	status, err := e.jobs.Status(ctx, jobID)
	if err != nil {
		return false, err
	}

	return status == models.JobStatusCancelled, nil
}

func (e *Engine) persistResult(ctx context.Context, job *models.GradingJob, grade Grade, warnings []string, rawResponse string) error {
	gradeJSON, err := json.Marshal(grade)
	if err != nil {
		return fmt.Errorf("encode grade: %w", err)
	}

	result := models.GradeResult{
		JobID:          job.ID,
		SubmissionID:   job.SubmissionID,
		GuideVersionID: job.GuideVersionID,
		TotalPoints:    &grade.TotalPoints,
		Grade:          datatypes.JSON(gradeJSON),
		RenderedText:   grade.RenderText(),
		RawResponse:    rawResponse,
	}
	if len(warnings) > 0 {
		warningsJSON, err := json.Marshal(warnings)
		if err != nil {
			return fmt.Errorf("encode warnings: %w", err)
		}
		result.Warnings = datatypes.JSON(warningsJSON)
	}

	return e.results.Create(ctx, &result)
}

// fail moves the job to failed with its typed error kind. If the job was
// cancelled in the meantime the cancellation wins and the failure is only
// logged.
func (e *Engine) fail(ctx context.Context, job *models.GradingJob, kind, message string, log zerolog.Logger) string {
	// The raw provider text, when one was received, stays on the failed
	// record for operator inspection.
	moved, err := e.finish(ctx, job, models.JobStatusFailed, map[string]interface{}{
		"error_kind":        kind,
		"message":           message,
		"raw_response":      job.RawResponse,
		"attempts":          job.Attempts,
		"prompt_tokens":     job.PromptTokens,
		"completion_tokens": job.CompletionTokens,
		"total_tokens":      job.TotalTokens,
		"price_estimate":    job.PriceEstimate,
	})
	if err != nil || !moved {
		log.Warn().Err(err).Str("error_kind", kind).Msg("job reached another terminal state before failure could be recorded")
		return models.JobStatusCancelled
	}

	log.Error().
		Str("error_kind", kind).
		Str("message", message).
		Int("attempts", job.Attempts).
		Msg("grading job failed")

	e.publisher.Publish(ctx, events.Event{
		Type:         events.TypeJobFailed,
		JobID:        job.ID,
		AssignmentID: job.AssignmentID,
		SubmissionID: job.SubmissionID,
		GuideID:      job.GuideVersionID,
		ErrorKind:    kind,
	})

	return models.JobStatusFailed
}

func (e *Engine) finish(ctx context.Context, job *models.GradingJob, status string, fields map[string]interface{}) (bool, error) {
	finishedAt := time.Now().UTC()
	fields["finished_at"] = finishedAt

	moved, err := e.jobs.Transition(ctx, job.ID, models.JobStatusRunning, status, fields)
	if err != nil {
		return false, err
	}
	if moved {
		job.Status = status
		job.FinishedAt = &finishedAt
	}

	return moved, nil
}

func providerErrorKind(perr *llm.ProviderError) string {
	switch perr.Kind {
	case llm.ErrorTimeout:
		return models.JobErrorProviderTimeout
	case llm.ErrorAuthFailure:
		return models.JobErrorProviderAuth
	case llm.ErrorRateLimited:
		return models.JobErrorProviderRateLimited
	default:
		return models.JobErrorProviderUnknown
	}
}
