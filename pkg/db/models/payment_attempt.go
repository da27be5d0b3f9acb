package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/angelmondragon/tutorbill-backend/pkg/db/types"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

// PaymentAttempt covers one or more billing periods and is finalized by reconciliation.
type PaymentAttempt struct {
	ID               uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID        uuid.UUID                  `gorm:"column:subscription_account_id;type:uuid;not null"`
	BatchID          *uuid.UUID                 `gorm:"column:batch_id;type:uuid"`
	BillingPeriodIDs dbtypes.UUIDArray          `gorm:"column:billing_period_ids;type:uuid[];not null"`
	Amount           decimal.Decimal            `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string                     `gorm:"column:currency;not null"`
	Gateway          enums.Gateway              `gorm:"column:gateway;type:gateway_enum;not null"`
	GatewayReference *string                    `gorm:"column:gateway_reference"`
	RedirectURL      *string                    `gorm:"column:redirect_url"`
	ExpiresAt        *time.Time                 `gorm:"column:expires_at"`
	Mode             enums.PaymentMode          `gorm:"column:mode;type:payment_mode_enum;not null"`
	Status           enums.PaymentAttemptStatus `gorm:"column:status;type:payment_attempt_status_enum;not null;default:'created'"`
	IdempotencyKey   string                     `gorm:"column:idempotency_key;not null"`
	FailureReason    *string                    `gorm:"column:failure_reason"`
	FinalizedAt      *time.Time                 `gorm:"column:finalized_at"`
	CreatedAt        time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

// Redeemable reports whether the attempt still carries a usable payment link at now.
func (a PaymentAttempt) Redeemable(now time.Time) bool {
	if a.Status.IsTerminal() {
		return false
	}
	if a.RedirectURL == nil || *a.RedirectURL == "" {
		return false
	}
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}
