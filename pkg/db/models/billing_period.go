package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

// BillingPeriod is one due month for a batch. Amounts are snapshots taken at generation.
type BillingPeriod struct {
	ID                    uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID             uuid.UUID                 `gorm:"column:subscription_account_id;type:uuid;not null"`
	BatchID               uuid.UUID                 `gorm:"column:batch_id;type:uuid;not null"`
	PeriodStart           time.Time                 `gorm:"column:period_start;not null"`
	PeriodEnd             time.Time                 `gorm:"column:period_end;not null"`
	AmountDue             decimal.Decimal           `gorm:"column:amount_due;type:numeric(12,2);not null"`
	CommissionPerStudent  decimal.Decimal           `gorm:"column:commission_per_student;type:numeric(12,2);not null"`
	EffectiveStudentCount int                       `gorm:"column:effective_student_count;not null"`
	Status                enums.BillingPeriodStatus `gorm:"column:status;type:billing_period_status_enum;not null;default:'pending'"`
	SettledAt             *time.Time                `gorm:"column:settled_at"`
	CreatedAt             time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

// DueDate is the day the period becomes payable.
func (p BillingPeriod) DueDate() time.Time {
	return p.PeriodEnd
}
