package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles subscription account and platform settings persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionAccount, error)
	FindActiveByTeacher(ctx context.Context, teacherID uuid.UUID) (*models.SubscriptionAccount, error)
	Create(ctx context.Context, account *models.SubscriptionAccount) error
	ListActive(ctx context.Context, afterID uuid.UUID, limit int) ([]models.SubscriptionAccount, error)
	UpdateAccessState(ctx context.Context, id uuid.UUID, from, to enums.AccessState, at time.Time) (bool, error)
	InsertTransition(ctx context.Context, transition *models.SubscriptionStateTransition) error
	ListTransitions(ctx context.Context, accountID uuid.UUID) ([]models.SubscriptionStateTransition, error)
	GetSettings(ctx context.Context) (*models.PlatformSettings, error)
	SetBetaEnabled(ctx context.Context, enabled bool, at time.Time) (bool, error)
	ListBetaWindows(ctx context.Context) ([]models.BetaWindow, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an accounts repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionAccount, error) {
	var account models.SubscriptionAccount
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindActiveByTeacher(ctx context.Context, teacherID uuid.UUID) (*models.SubscriptionAccount, error) {
	var account models.SubscriptionAccount
	if err := r.db.WithContext(ctx).
		Where("teacher_id = ? AND superseded_at IS NULL", teacherID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) Create(ctx context.Context, account *models.SubscriptionAccount) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(account).Error
}

// ListActive pages non-superseded accounts ordered by id, starting after afterID.
func (r *repository) ListActive(ctx context.Context, afterID uuid.UUID, limit int) ([]models.SubscriptionAccount, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Where("superseded_at IS NULL").
		Order("id ASC").
		Limit(limit)
	if afterID != uuid.Nil {
		query = query.Where("id > ?", afterID)
	}

	var accounts []models.SubscriptionAccount
	if err := query.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateAccessState moves the account from one state to another only if it is still in from.
func (r *repository) UpdateAccessState(ctx context.Context, id uuid.UUID, from, to enums.AccessState, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubscriptionAccount{}).
		Where("id = ? AND access_state = ?", id, from).
		Updates(map[string]any{
			"access_state":     to,
			"state_changed_at": at,
			"updated_at":       at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertTransition(ctx context.Context, transition *models.SubscriptionStateTransition) error {
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(transition).Error
}

func (r *repository) ListTransitions(ctx context.Context, accountID uuid.UUID) ([]models.SubscriptionStateTransition, error) {
	var rows []models.SubscriptionStateTransition
	if err := r.db.WithContext(ctx).
		Where("subscription_account_id = ?", accountID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) GetSettings(ctx context.Context) (*models.PlatformSettings, error) {
	var settings models.PlatformSettings
	if err := r.db.WithContext(ctx).
		Where("id = ?", models.PlatformSettingsID).
		First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.PlatformSettings{ID: models.PlatformSettingsID}, nil
		}
		return nil, err
	}
	return &settings, nil
}

// SetBetaEnabled flips the singleton flag and opens or closes the matching beta window.
// It reports false when the flag already had the requested value.
func (r *repository) SetBetaEnabled(ctx context.Context, enabled bool, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PlatformSettings{}).
		Where("id = ? AND beta_testing_enabled <> ?", models.PlatformSettingsID, enabled).
		Updates(map[string]any{
			"beta_testing_enabled": enabled,
			"updated_at":           at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if enabled {
		window := models.BetaWindow{StartedAt: at}
		if err := r.db.WithContext(ctx).Create(&window).Error; err != nil {
			return false, err
		}
		return true, nil
	}

	if err := r.db.WithContext(ctx).
		Model(&models.BetaWindow{}).
		Where("ended_at IS NULL").
		Update("ended_at", at).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) ListBetaWindows(ctx context.Context) ([]models.BetaWindow, error) {
	var windows []models.BetaWindow
	if err := r.db.WithContext(ctx).
		Order("started_at ASC").
		Find(&windows).Error; err != nil {
		return nil, err
	}
	return windows, nil
}
