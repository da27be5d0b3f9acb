package dues

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles billing period persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertPeriods(ctx context.Context, periods []models.BillingPeriod) (int64, error)
	ListStarts(ctx context.Context, accountID, batchID uuid.UUID) ([]time.Time, error)
	ListPending(ctx context.Context, accountID uuid.UUID, batchID *uuid.UUID) ([]models.BillingPeriod, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.BillingPeriod, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.BillingPeriod, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing period repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertPeriods writes new periods, ignoring any (account, batch, start) already present.
func (r *repository) InsertPeriods(ctx context.Context, periods []models.BillingPeriod) (int64, error) {
	if len(periods) == 0 {
		return 0, nil
	}
	for i := range periods {
		if periods[i].ID == uuid.Nil {
			periods[i].ID = uuid.New()
		}
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_account_id"}, {Name: "batch_id"}, {Name: "period_start"}},
			DoNothing: true,
		}).
		Create(&periods)
	return res.RowsAffected, res.Error
}

func (r *repository) ListStarts(ctx context.Context, accountID, batchID uuid.UUID) ([]time.Time, error) {
	var rows []models.BillingPeriod
	if err := r.db.WithContext(ctx).
		Select("period_start").
		Where("subscription_account_id = ? AND batch_id = ?", accountID, batchID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	starts := make([]time.Time, 0, len(rows))
	for _, row := range rows {
		starts = append(starts, row.PeriodStart)
	}
	return starts, nil
}

// ListPending returns unsettled periods oldest first. A nil batchID spans every batch.
func (r *repository) ListPending(ctx context.Context, accountID uuid.UUID, batchID *uuid.UUID) ([]models.BillingPeriod, error) {
	query := r.db.WithContext(ctx).
		Where("subscription_account_id = ? AND status = ?", accountID, enums.BillingPeriodStatusPending)
	if batchID != nil {
		query = query.Where("batch_id = ?", *batchID)
	}

	var rows []models.BillingPeriod
	if err := query.
		Order("period_start ASC").
		Order("batch_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.BillingPeriod, error) {
	var row models.BillingPeriod
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.BillingPeriod, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.BillingPeriod
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("period_start ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
