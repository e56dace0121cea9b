package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// AssignmentRepository defines data operations for assignments.
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
	List(ctx context.Context) ([]models.Assignment, error)
	GetByID(ctx context.Context, id uint) (models.Assignment, error)
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository instantiates the repository.
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *assignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Save(assignment).Error
}

func (r *assignmentRepository) List(ctx context.Context) ([]models.Assignment, error) {
	var assignments []models.Assignment
	if err := r.db.WithContext(ctx).
		Where("archived_at IS NULL").
		Order("created_at DESC").
		Find(&assignments).Error; err != nil {
		return nil, err
	}

	return assignments, nil
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).First(&assignment, id).Error; err != nil {
		return models.Assignment{}, err
	}

	return assignment, nil
}
