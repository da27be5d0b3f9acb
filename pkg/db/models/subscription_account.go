package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

// SubscriptionAccount is the billing identity of a teacher.
type SubscriptionAccount struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TeacherID       uuid.UUID         `gorm:"column:teacher_id;type:uuid;not null"`
	GracePeriodDays int               `gorm:"column:grace_period_days;not null"`
	AccessState     enums.AccessState `gorm:"column:access_state;type:access_state_enum;not null;default:'active'"`
	StateChangedAt  *time.Time        `gorm:"column:state_changed_at"`
	SupersededAt    *time.Time        `gorm:"column:superseded_at"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// SubscriptionStateTransition is an append-only history row for access state changes.
type SubscriptionStateTransition struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID         `gorm:"column:subscription_account_id;type:uuid;not null"`
	FromState enums.AccessState `gorm:"column:from_state;type:access_state_enum;not null"`
	ToState   enums.AccessState `gorm:"column:to_state;type:access_state_enum;not null"`
	Reason    string            `gorm:"column:reason;not null"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}
