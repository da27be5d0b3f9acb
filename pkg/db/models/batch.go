package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Batch is a teacher-run class. Only the billing-relevant fields live here.
type Batch struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerTeacherID uuid.UUID           `gorm:"column:owner_teacher_id;type:uuid;not null;index"`
	Name           string              `gorm:"column:name;not null"`
	Fees           decimal.NullDecimal `gorm:"column:fees;type:numeric(12,2)"`
	StudentLimit   int                 `gorm:"column:student_limit;not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// BatchStudent is an enrollment with the teacher-controlled material block.
type BatchStudent struct {
	BatchID               uuid.UUID `gorm:"column:batch_id;type:uuid;primaryKey"`
	StudentID             uuid.UUID `gorm:"column:student_id;type:uuid;primaryKey"`
	MaterialAccessBlocked bool      `gorm:"column:material_access_blocked;not null;default:false"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
