package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error)
	GetByAssignmentAndStudent(ctx context.Context, assignmentID uint, student string) (models.Submission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{}).Preload("Artifacts")
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("student_identifier ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) GetByAssignmentAndStudent(ctx context.Context, assignmentID uint, student string) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("student_identifier = ?", student).
		Order("created_at DESC").
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}
