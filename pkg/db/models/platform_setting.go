package models

import "time"

// PlatformSettingsID is the primary key of the singleton settings row.
const PlatformSettingsID = 1

// PlatformSettings holds process-wide switches flipped by administrators.
type PlatformSettings struct {
	ID                 int       `gorm:"column:id;primaryKey"`
	BetaTestingEnabled bool      `gorm:"column:beta_testing_enabled;not null;default:false"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BetaWindow records an interval during which beta mode was enabled.
type BetaWindow struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement"`
	StartedAt time.Time  `gorm:"column:started_at;not null"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
}
