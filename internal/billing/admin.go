package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tutorbill-backend/internal/ledger"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/pagination"
)

// BetaView reports the platform flag after an admin change.
type BetaView struct {
	BetaTestingEnabled bool `json:"beta_testing_enabled"`
}

// SetBeta flips the platform-wide beta flag. Accounts pick it up on their next evaluation.
func (s *Service) SetBeta(ctx context.Context, adminID uuid.UUID, enabled bool) (*BetaView, error) {
	settings, err := s.accounts.SetBeta(ctx, enabled)
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, "beta testing flag updated", map[string]any{
		"admin_id": adminID.String(),
		"enabled":  settings.BetaTestingEnabled,
	})
	return &BetaView{BetaTestingEnabled: settings.BetaTestingEnabled}, nil
}

// WebhookEventPage is one page of recorded gateway events.
type WebhookEventPage struct {
	Items []models.WebhookEvent `json:"items"`
	Total int64                 `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

// WebhookEvents lists recorded events by status, review by default.
func (s *Service) WebhookEvents(ctx context.Context, status string, page, limit int) (*WebhookEventPage, error) {
	filter := enums.WebhookEventStatusReview
	if raw := strings.ToLower(strings.TrimSpace(status)); raw != "" {
		parsed, err := enums.ParseWebhookEventStatus(raw)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", status))
		}
		filter = parsed
	}
	if page < 1 {
		page = 1
	}
	limit = pagination.NormalizeLimit(limit)

	rows, total, err := s.reconciler.ListForReview(ctx, filter, pagination.Offset(page, limit), limit)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.WebhookEvent{}
	}
	return &WebhookEventPage{Items: rows, Total: total, Page: page, Limit: limit}, nil
}

// WaiveView is the period after an admin waiver.
type WaiveView struct {
	PeriodID    uuid.UUID                 `json:"period_id"`
	Status      enums.BillingPeriodStatus `json:"status"`
	AccessState enums.AccessState         `json:"access_state"`
}

// WaivePeriod forgives one pending period and re-evaluates the owning account.
func (s *Service) WaivePeriod(ctx context.Context, adminID, periodID uuid.UUID, reason string) (*WaiveView, error) {
	if periodID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period id required")
	}
	var view *WaiveView
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		period, err := s.ledger.WaivePeriod(ctx, tx, ledger.WaiveInput{
			PeriodID: periodID,
			ActorID:  adminID,
			Reason:   strings.TrimSpace(reason),
		})
		if err != nil {
			return err
		}
		status, err := s.subscriptions.Refresh(ctx, tx, period.AccountID, s.now().UTC())
		if err != nil {
			return err
		}
		view = &WaiveView{PeriodID: period.ID, Status: period.Status, AccessState: status.State}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, "billing period waived", map[string]any{
		"admin_id":  adminID.String(),
		"period_id": periodID.String(),
	})
	return view, nil
}
