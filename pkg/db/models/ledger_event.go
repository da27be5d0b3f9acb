package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

// LedgerEvent records an immutable money lifecycle event for a subscription account.
type LedgerEvent struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID        uuid.UUID             `gorm:"column:subscription_account_id;type:uuid;not null"`
	PaymentAttemptID *uuid.UUID            `gorm:"column:payment_attempt_id;type:uuid"`
	BillingPeriodID  *uuid.UUID            `gorm:"column:billing_period_id;type:uuid"`
	Type             enums.LedgerEventType `gorm:"column:type;type:ledger_event_type_enum;not null"`
	Amount           decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Metadata         json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
}
