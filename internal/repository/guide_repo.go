package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// ErrGuideNotApproved indicates an activation attempt on a version that is
// not in the approved state.
var ErrGuideNotApproved = errors.New("guide version is not approved")

// GuideRepository defines data operations for grading guide versions.
type GuideRepository interface {
	Create(ctx context.Context, guide *models.GuideVersion) error
	GetByID(ctx context.Context, id uint) (models.GuideVersion, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GuideVersion, error)
	Update(ctx context.Context, guide *models.GuideVersion) error
	ActiveForAssignment(ctx context.Context, assignmentID uint) (models.GuideVersion, error)
	Activate(ctx context.Context, id uint, at time.Time) (models.GuideVersion, error)
	Status(ctx context.Context, id uint) (string, error)
}

type guideRepository struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewGuideRepository instantiates the repository.
func NewGuideRepository(db *gorm.DB) GuideRepository {
	return &guideRepository{db: db, locks: newKeyedMutex()}
}

func (r *guideRepository) Create(ctx context.Context, guide *models.GuideVersion) error {
	return r.db.WithContext(ctx).Create(guide).Error
}

func (r *guideRepository) GetByID(ctx context.Context, id uint) (models.GuideVersion, error) {
	var guide models.GuideVersion
	if err := r.db.WithContext(ctx).First(&guide, id).Error; err != nil {
		return models.GuideVersion{}, err
	}

	return guide, nil
}

func (r *guideRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GuideVersion, error) {
	var guides []models.GuideVersion
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at DESC").
		Find(&guides).Error; err != nil {
		return nil, err
	}

	return guides, nil
}

func (r *guideRepository) Update(ctx context.Context, guide *models.GuideVersion) error {
	return r.db.WithContext(ctx).Save(guide).Error
}

func (r *guideRepository) ActiveForAssignment(ctx context.Context, assignmentID uint) (models.GuideVersion, error) {
	var guide models.GuideVersion
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND status = ?", assignmentID, models.GuideStatusActive).
		First(&guide).Error; err != nil {
		return models.GuideVersion{}, err
	}

	return guide, nil
}

// Activate promotes an approved version to active and demotes the previous
// active version in the same transaction, serialized per assignment so no
// observer can see zero or two active versions for an assignment.
func (r *guideRepository) Activate(ctx context.Context, id uint, at time.Time) (models.GuideVersion, error) {
	var guide models.GuideVersion
	if err := r.db.WithContext(ctx).First(&guide, id).Error; err != nil {
		return models.GuideVersion{}, err
	}

	unlock := r.locks.Lock(fmt.Sprintf("assignment:%d", guide.AssignmentID))
	defer unlock()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&guide, id).Error; err != nil {
			return err
		}

		if guide.Status == models.GuideStatusActive {
			return nil
		}

		if guide.Status != models.GuideStatusApproved {
			return ErrGuideNotApproved
		}

		if err := tx.Model(&models.GuideVersion{}).
			Where("assignment_id = ? AND status = ?", guide.AssignmentID, models.GuideStatusActive).
			Update("status", models.GuideStatusApproved).Error; err != nil {
			return err
		}

		result := tx.Model(&models.GuideVersion{}).
			Where("id = ? AND status = ?", guide.ID, models.GuideStatusApproved).
			Updates(map[string]interface{}{
				"status":       models.GuideStatusActive,
				"activated_at": at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrGuideNotApproved
		}

		guide.Status = models.GuideStatusActive
		guide.ActivatedAt = &at
		return nil
	})
	if err != nil {
		return models.GuideVersion{}, err
	}

	return guide, nil
}

func (r *guideRepository) Status(ctx context.Context, id uint) (string, error) {
	var guide models.GuideVersion
	if err := r.db.WithContext(ctx).Select("status").First(&guide, id).Error; err != nil {
		return "", err
	}

	return guide.Status, nil
}
