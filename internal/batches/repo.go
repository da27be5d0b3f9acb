package batches

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles batch and enrollment persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, batch *models.Batch) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	ListByOwner(ctx context.Context, teacherID uuid.UUID) ([]models.Batch, error)
	Enroll(ctx context.Context, enrollment *models.BatchStudent) error
	FindEnrollment(ctx context.Context, batchID, studentID uuid.UUID) (*models.BatchStudent, error)
	SetMaterialAccessBlocked(ctx context.Context, batchID, studentID uuid.UUID, blocked bool, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a batches repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, batch *models.Batch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	var batch models.Batch
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

func (r *repository) ListByOwner(ctx context.Context, teacherID uuid.UUID) ([]models.Batch, error) {
	var rows []models.Batch
	if err := r.db.WithContext(ctx).
		Where("owner_teacher_id = ?", teacherID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Enroll adds the student to the batch; an existing enrollment is left unchanged.
func (r *repository) Enroll(ctx context.Context, enrollment *models.BatchStudent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(enrollment).Error
}

func (r *repository) FindEnrollment(ctx context.Context, batchID, studentID uuid.UUID) (*models.BatchStudent, error) {
	var row models.BatchStudent
	if err := r.db.WithContext(ctx).
		Where("batch_id = ? AND student_id = ?", batchID, studentID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// SetMaterialAccessBlocked reports false when no enrollment matched.
func (r *repository) SetMaterialAccessBlocked(ctx context.Context, batchID, studentID uuid.UUID, blocked bool, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.BatchStudent{}).
		Where("batch_id = ? AND student_id = ?", batchID, studentID).
		Updates(map[string]any{
			"material_access_blocked": blocked,
			"updated_at":              at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
