package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

// SubscriptionStateChangedEvent is emitted whenever an account's derived access state moves.
type SubscriptionStateChangedEvent struct {
	AccountID       uuid.UUID         `json:"account_id" validate:"required"`
	TeacherID       uuid.UUID         `json:"teacher_id"`
	FromState       enums.AccessState `json:"from_state"`
	ToState         enums.AccessState `json:"to_state" validate:"required"`
	Reason          string            `json:"reason"`
	MaterialsLocked bool              `json:"materials_locked"`
	ChangedAt       time.Time         `json:"changed_at" validate:"required"`
}

// PaymentSettledEvent reports the billing periods paid by one online attempt.
type PaymentSettledEvent struct {
	AccountID        uuid.UUID       `json:"account_id" validate:"required"`
	PaymentAttemptID uuid.UUID       `json:"payment_attempt_id" validate:"required"`
	Gateway          enums.Gateway   `json:"gateway" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency" validate:"required,len=3"`
	BillingPeriodIDs []uuid.UUID     `json:"billing_period_ids"`
	SettledAt        time.Time       `json:"settled_at"`
}

// CashCollectedEvent mirrors a teacher marking a period as paid in cash.
type CashCollectedEvent struct {
	AccountID        uuid.UUID       `json:"account_id" validate:"required"`
	PaymentAttemptID uuid.UUID       `json:"payment_attempt_id" validate:"required"`
	BillingPeriodID  uuid.UUID       `json:"billing_period_id" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
	CollectedAt      time.Time       `json:"collected_at"`
}

// PaymentReviewRequiredEvent flags a gateway event that reconciliation could not apply.
type PaymentReviewRequiredEvent struct {
	WebhookEventID   uuid.UUID     `json:"webhook_event_id" validate:"required"`
	Gateway          enums.Gateway `json:"gateway" validate:"required"`
	GatewayEventID   string        `json:"gateway_event_id"`
	GatewayReference string        `json:"gateway_reference"`
	Reason           string        `json:"reason" validate:"required"`
}
