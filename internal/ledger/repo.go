package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages persistence for payment attempts, their ledger events and period settlement.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateEvent(ctx context.Context, event *models.LedgerEvent) error
	ListEventsByAccount(ctx context.Context, accountID uuid.UUID) ([]models.LedgerEvent, error)
	ListEventsByAttempt(ctx context.Context, attemptID uuid.UUID) ([]models.LedgerEvent, error)
	CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
	FindAttempt(ctx context.Context, id uuid.UUID) (*models.PaymentAttempt, error)
	FindAttemptByReference(ctx context.Context, gateway enums.Gateway, reference string) (*models.PaymentAttempt, error)
	FindLiveAttemptByKey(ctx context.Context, idempotencyKey string) (*models.PaymentAttempt, error)
	TransitionAttempt(ctx context.Context, id uuid.UUID, from []enums.PaymentAttemptStatus, to enums.PaymentAttemptStatus, fields map[string]any) (bool, error)
	UpdateAttemptLink(ctx context.Context, id uuid.UUID, link AttemptLink) error
	FindPeriod(ctx context.Context, id uuid.UUID) (*models.BillingPeriod, error)
	SettlePeriod(ctx context.Context, id uuid.UUID, status enums.BillingPeriodStatus, at time.Time) (bool, error)
}

// AttemptLink is the provider-side handle persisted once a link exists.
type AttemptLink struct {
	Reference   string
	RedirectURL string
	ExpiresAt   *time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateEvent(ctx context.Context, event *models.LedgerEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEventsByAccount(ctx context.Context, accountID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	if err := r.db.WithContext(ctx).
		Where("subscription_account_id = ?", accountID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) ListEventsByAttempt(ctx context.Context, attemptID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	if err := r.db.WithContext(ctx).
		Where("payment_attempt_id = ?", attemptID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) FindAttempt(ctx context.Context, id uuid.UUID) (*models.PaymentAttempt, error) {
	return r.firstAttempt(ctx, r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindAttemptByReference(ctx context.Context, gateway enums.Gateway, reference string) (*models.PaymentAttempt, error) {
	return r.firstAttempt(ctx, r.db.WithContext(ctx).
		Where("gateway = ? AND gateway_reference = ?", gateway, reference))
}

// FindLiveAttemptByKey returns the one attempt for the key that has not failed.
func (r *repository) FindLiveAttemptByKey(ctx context.Context, idempotencyKey string) (*models.PaymentAttempt, error) {
	return r.firstAttempt(ctx, r.db.WithContext(ctx).
		Where("idempotency_key = ? AND status <> ?", idempotencyKey, enums.PaymentAttemptStatusFailed))
}

func (r *repository) firstAttempt(_ context.Context, query *gorm.DB) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := query.First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

// TransitionAttempt sets status to `to` only while the row is in one of `from`.
func (r *repository) TransitionAttempt(ctx context.Context, id uuid.UUID, from []enums.PaymentAttemptStatus, to enums.PaymentAttemptStatus, fields map[string]any) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateAttemptLink(ctx context.Context, id uuid.UUID, link AttemptLink) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"gateway_reference": link.Reference,
			"redirect_url":      link.RedirectURL,
			"expires_at":        link.ExpiresAt,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (r *repository) FindPeriod(ctx context.Context, id uuid.UUID) (*models.BillingPeriod, error) {
	var period models.BillingPeriod
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&period).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &period, nil
}

// SettlePeriod moves a pending period to status. It reports false if the period was not pending.
func (r *repository) SettlePeriod(ctx context.Context, id uuid.UUID, status enums.BillingPeriodStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.BillingPeriod{}).
		Where("id = ? AND status = ?", id, enums.BillingPeriodStatusPending).
		Updates(map[string]any{
			"status":     status,
			"settled_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
