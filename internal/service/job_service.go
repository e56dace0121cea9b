package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/config"
	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/queue"
	"github.com/noah-isme/gradeflow-api/internal/repository"
)

var (
	// ErrNoActiveGuide rejects grading when the assignment has no active guide.
	ErrNoActiveGuide = errors.New("assignment has no active guide version")
	// ErrJobNotRetryable rejects retries of jobs that did not fail.
	ErrJobNotRetryable = errors.New("only failed jobs can be retried")
	// ErrJobNotCancellable rejects cancellation of jobs already terminal.
	ErrJobNotCancellable = errors.New("job is already in a terminal state")
)

// JobService manages the grading job lifecycle from the API side: creation,
// manual retry, cancellation and reads. Execution belongs to the engine.
type JobService interface {
	Create(ctx context.Context, submissionID uint, providerKey, model string) (models.GradingJob, error)
	Retry(ctx context.Context, jobID uint) (models.GradingJob, error)
	Cancel(ctx context.Context, jobID uint) (models.GradingJob, error)
	Get(ctx context.Context, jobID uint) (models.GradingJob, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GradingJob, error)
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradingJob, error)
}

type jobService struct {
	jobs        repository.GradingJobRepository
	guides      repository.GuideRepository
	submissions repository.SubmissionRepository
	queue       queue.Queue
	cfg         config.Config
	publisher   events.Publisher
	logger      zerolog.Logger
}

// NewJobService instantiates the service.
func NewJobService(
	jobs repository.GradingJobRepository,
	guides repository.GuideRepository,
	submissions repository.SubmissionRepository,
	q queue.Queue,
	cfg config.Config,
	publisher events.Publisher,
	logger zerolog.Logger,
) JobService {
	return &jobService{
		jobs:        jobs,
		guides:      guides,
		submissions: submissions,
		queue:       q,
		cfg:         cfg,
		publisher:   publisher,
		logger:      logger.With().Str("component", "job_service").Logger(),
	}
}

// Create enqueues a grading job for a submission against the assignment's
// currently active guide version. The active-guide and single-active-job
// checks fail synchronously; everything downstream is the engine's problem.
func (s *jobService) Create(ctx context.Context, submissionID uint, providerKey, model string) (models.GradingJob, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return models.GradingJob{}, err
	}

	guide, err := s.guides.ActiveForAssignment(ctx, submission.AssignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingJob{}, ErrNoActiveGuide
		}
		return models.GradingJob{}, err
	}

	providerKey, model, err = resolveProvider(s.cfg, providerKey, model)
	if err != nil {
		return models.GradingJob{}, err
	}

	job := models.GradingJob{
		AssignmentID:   submission.AssignmentID,
		SubmissionID:   submission.ID,
		GuideVersionID: guide.ID,
		Status:         models.JobStatusQueued,
		Provider:       providerKey,
		Model:          model,
		Fingerprint:    submission.Fingerprint,
	}
	if err := s.jobs.CreateExclusive(ctx, &job); err != nil {
		return models.GradingJob{}, err
	}

	messageID, err := s.queue.Submit(ctx, queue.Task{Kind: queue.TaskGrade, ID: job.ID})
	if err != nil {
		// The job row exists but never reached the queue; fail it so the
		// submission is not blocked by a phantom active job.
		now := time.Now().UTC()
		if _, terr := s.jobs.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusFailed, map[string]interface{}{
			"error_kind":  models.JobErrorProviderUnknown,
			"message":     fmt.Sprintf("enqueue failed: %v", err),
			"finished_at": now,
		}); terr != nil {
			s.logger.Error().Err(terr).Uint("job_id", job.ID).Msg("failed to fail unqueued job")
		}
		return models.GradingJob{}, fmt.Errorf("enqueue grading job: %w", err)
	}

	job.QueueMessageID = messageID
	if err := s.jobs.RecordQueueMessage(ctx, job.ID, messageID); err != nil {
		s.logger.Warn().Err(err).Uint("job_id", job.ID).Msg("failed to record queue message id")
	}

	s.logger.Info().
		Uint("job_id", job.ID).
		Uint("submission_id", submission.ID).
		Uint("guide_version_id", guide.ID).
		Str("provider", providerKey).
		Str("model", model).
		Msg("grading job enqueued")

	s.publisher.Publish(ctx, events.Event{
		Type:         events.TypeJobQueued,
		JobID:        job.ID,
		AssignmentID: job.AssignmentID,
		SubmissionID: job.SubmissionID,
		GuideID:      job.GuideVersionID,
	})

	return job, nil
}

// Retry creates a fresh job for the submission of a failed job. The failed
// record stays untouched; the new job grades against the currently active
// guide version, which may differ from the original one.
func (s *jobService) Retry(ctx context.Context, jobID uint) (models.GradingJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return models.GradingJob{}, err
	}
	if job.Status != models.JobStatusFailed {
		return models.GradingJob{}, ErrJobNotRetryable
	}

	return s.Create(ctx, job.SubmissionID, job.Provider, job.Model)
}

// Cancel moves a queued or running job to cancelled. A running job stops at
// its next cancellation checkpoint; the status flip here is what that
// checkpoint observes.
func (s *jobService) Cancel(ctx context.Context, jobID uint) (models.GradingJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return models.GradingJob{}, err
	}

	now := time.Now().UTC()
	for _, from := range []string{models.JobStatusQueued, models.JobStatusRunning} {
		moved, err := s.jobs.Transition(ctx, jobID, from, models.JobStatusCancelled, map[string]interface{}{
			"finished_at": now,
			"message":     "cancelled by operator",
		})
		if err != nil {
			return models.GradingJob{}, err
		}
		if moved {
			s.logger.Info().Uint("job_id", jobID).Str("was", from).Msg("grading job cancelled")
			s.publisher.Publish(ctx, events.Event{
				Type:         events.TypeJobCancelled,
				JobID:        jobID,
				AssignmentID: job.AssignmentID,
				SubmissionID: job.SubmissionID,
			})
			return s.jobs.GetByID(ctx, jobID)
		}
	}

	return models.GradingJob{}, ErrJobNotCancellable
}

func (s *jobService) Get(ctx context.Context, jobID uint) (models.GradingJob, error) {
	return s.jobs.GetByID(ctx, jobID)
}

func (s *jobService) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GradingJob, error) {
	return s.jobs.ListByAssignment(ctx, assignmentID)
}

func (s *jobService) ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradingJob, error) {
	return s.jobs.ListBySubmission(ctx, submissionID)
}
