package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// ErrActiveJobExists indicates the submission already has a queued or
// running job; a second one is rejected, never queued twice.
var ErrActiveJobExists = errors.New("submission already has an active grading job")

// GradingJobRepository defines data operations for grading jobs.
type GradingJobRepository interface {
	// CreateExclusive atomically checks that the submission has no
	// non-terminal job and creates the new one.
	CreateExclusive(ctx context.Context, job *models.GradingJob) error
	GetByID(ctx context.Context, id uint) (models.GradingJob, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GradingJob, error)
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradingJob, error)
	Update(ctx context.Context, job *models.GradingJob) error
	// RecordQueueMessage writes only the queue message id, so it cannot
	// clobber a status change made by a worker in the meantime.
	RecordQueueMessage(ctx context.Context, id uint, messageID string) error
	// Transition performs a compare-and-swap status update; it reports
	// whether the job actually moved from the expected state.
	Transition(ctx context.Context, id uint, from, to string, fields map[string]interface{}) (bool, error)
	Status(ctx context.Context, id uint) (string, error)
}

type gradingJobRepository struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewGradingJobRepository instantiates the repository.
func NewGradingJobRepository(db *gorm.DB) GradingJobRepository {
	return &gradingJobRepository{db: db, locks: newKeyedMutex()}
}

func (r *gradingJobRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.GradingJob{}).
		Preload("Submission").
		Preload("GuideVersion").
		Preload("Result")
}

func (r *gradingJobRepository) CreateExclusive(ctx context.Context, job *models.GradingJob) error {
	unlock := r.locks.Lock(fmt.Sprintf("submission:%d", job.SubmissionID))
	defer unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.GradingJob{}).
			Where("submission_id = ?", job.SubmissionID).
			Where("status IN ?", []string{models.JobStatusQueued, models.JobStatusRunning}).
			Count(&active).Error; err != nil {
			return err
		}

		if active > 0 {
			return ErrActiveJobExists
		}

		return tx.Create(job).Error
	})
}

func (r *gradingJobRepository) GetByID(ctx context.Context, id uint) (models.GradingJob, error) {
	var job models.GradingJob
	if err := r.baseQuery(ctx).First(&job, id).Error; err != nil {
		return models.GradingJob{}, err
	}

	return job, nil
}

func (r *gradingJobRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GradingJob, error) {
	var jobs []models.GradingJob
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}

	return jobs, nil
}

func (r *gradingJobRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradingJob, error) {
	var jobs []models.GradingJob
	if err := r.baseQuery(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}

	return jobs, nil
}

func (r *gradingJobRepository) Update(ctx context.Context, job *models.GradingJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

func (r *gradingJobRepository) RecordQueueMessage(ctx context.Context, id uint, messageID string) error {
	return r.db.WithContext(ctx).Model(&models.GradingJob{}).
		Where("id = ?", id).
		Update("queue_message_id", messageID).Error
}

func (r *gradingJobRepository) Transition(ctx context.Context, id uint, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for key, value := range fields {
		updates[key] = value
	}

	result := r.db.WithContext(ctx).Model(&models.GradingJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *gradingJobRepository) Status(ctx context.Context, id uint) (string, error) {
	var job models.GradingJob
	if err := r.db.WithContext(ctx).Select("status").First(&job, id).Error; err != nil {
		return "", err
	}

	return job.Status, nil
}
