package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

const maxErrorLength = 1024

// Repository persists inbound gateway events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.WebhookEvent) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	FindByGatewayEventID(ctx context.Context, gatewayEventID string) (*models.WebhookEvent, error)
	MarkStatus(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, lastError string, at time.Time) error
	ListRetryable(ctx context.Context, receivedBefore, reviewSince time.Time, maxAttempts, limit int) ([]models.WebhookEvent, error)
	ListExhausted(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error)
	ListByStatus(ctx context.Context, status enums.WebhookEventStatus, offset, limit int) ([]models.WebhookEvent, int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a webhook event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Insert stores the event unless its gateway_event_id is already known. It reports
// whether a new row was written.
func (r *repository) Insert(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByGatewayEventID(ctx context.Context, gatewayEventID string) (*models.WebhookEvent, error) {
	return r.first(r.db.WithContext(ctx).Where("gateway_event_id = ?", gatewayEventID))
}

func (r *repository) first(query *gorm.DB) (*models.WebhookEvent, error) {
	var row models.WebhookEvent
	if err := query.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// MarkStatus records one application attempt. Processed rows are never moved back.
func (r *repository) MarkStatus(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, lastError string, at time.Time) error {
	fields := map[string]any{
		"status":        status,
		"attempt_count": gorm.Expr("attempt_count + 1"),
	}
	if lastError != "" {
		if len(lastError) > maxErrorLength {
			lastError = lastError[:maxErrorLength]
		}
		fields["last_error"] = lastError
	}
	if status == enums.WebhookEventStatusProcessed {
		fields["processed_at"] = at
		fields["last_error"] = nil
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ? AND status <> ?", id, enums.WebhookEventStatusProcessed).
		Updates(fields).Error
}

var pendingStatuses = []enums.WebhookEventStatus{enums.WebhookEventStatusReceived, enums.WebhookEventStatusFailed}

// ListRetryable returns received or failed events older than receivedBefore with
// fewer than maxAttempts tries, plus review events received since reviewSince.
// Rows tried least come first.
func (r *repository) ListRetryable(ctx context.Context, receivedBefore, reviewSince time.Time, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("(status IN ? AND received_at <= ? AND attempt_count < ?) OR (status = ? AND received_at >= ?)",
			pendingStatuses,
			receivedBefore,
			maxAttempts,
			enums.WebhookEventStatusReview,
			reviewSince,
		).
		Order("attempt_count ASC").
		Order("received_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListExhausted returns received or failed events that used up their attempts.
func (r *repository) ListExhausted(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND attempt_count >= ?", pendingStatuses, maxAttempts).
		Order("received_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.WebhookEventStatus, offset, limit int) ([]models.WebhookEvent, int64, error) {
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.WebhookEvent{})
		if status != "" {
			query = query.Where("status = ?", status)
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.WebhookEvent
	if err := scoped().
		Order("received_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
