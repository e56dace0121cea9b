package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// GradeResultRepository defines data operations for grade results.
type GradeResultRepository interface {
	Create(ctx context.Context, result *models.GradeResult) error
	GetByJob(ctx context.Context, jobID uint) (models.GradeResult, error)
}

type gradeResultRepository struct {
	db *gorm.DB
}

// NewGradeResultRepository instantiates the repository.
func NewGradeResultRepository(db *gorm.DB) GradeResultRepository {
	return &gradeResultRepository{db: db}
}

func (r *gradeResultRepository) Create(ctx context.Context, result *models.GradeResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

func (r *gradeResultRepository) GetByJob(ctx context.Context, jobID uint) (models.GradeResult, error) {
	var result models.GradeResult
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		First(&result).Error; err != nil {
		return models.GradeResult{}, err
	}

	return result, nil
}
