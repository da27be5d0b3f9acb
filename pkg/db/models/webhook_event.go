package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

// WebhookEvent is the durable dedup record for inbound gateway events.
type WebhookEvent struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Gateway          enums.Gateway            `gorm:"column:gateway;type:gateway_enum;not null"`
	GatewayEventID   string                   `gorm:"column:gateway_event_id;not null"`
	GatewayReference string                   `gorm:"column:gateway_reference;not null"`
	Outcome          enums.PaymentOutcome     `gorm:"column:outcome;type:payment_outcome_enum;not null"`
	Source           enums.WebhookEventSource `gorm:"column:source;not null"`
	Status           enums.WebhookEventStatus `gorm:"column:status;type:webhook_event_status_enum;not null;default:'received'"`
	AttemptCount     int                      `gorm:"column:attempt_count;not null;default:0"`
	LastError        *string                  `gorm:"column:last_error"`
	Payload          json.RawMessage          `gorm:"column:payload;type:jsonb"`
	ReceivedAt       time.Time                `gorm:"column:received_at;not null"`
	ProcessedAt      *time.Time               `gorm:"column:processed_at"`
}
