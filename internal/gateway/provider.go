// Package gateway hides the payment providers behind one link and event contract.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
)

// ErrEventIgnored is returned by ParseEvent for verified events that carry no payment outcome.
var ErrEventIgnored = errors.New("gateway event ignored")

// Provider is implemented once per payment processor.
type Provider interface {
	Name() enums.Gateway
	CreateLink(ctx context.Context, req LinkRequest) (*Link, error)
	ParseEvent(payload []byte, headers http.Header) (*Event, error)
	LookupOutcome(ctx context.Context, reference string) (*Event, error)
}

// LinkRequest is what a provider needs to open a hosted payment page.
type LinkRequest struct {
	AttemptID      uuid.UUID
	AccountID      uuid.UUID
	BatchID        *uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
	ExpiresAt      time.Time
}

// AmountMinor converts the amount into the smallest currency unit.
func (r LinkRequest) AmountMinor() int64 {
	return r.Amount.Shift(2).Round(0).IntPart()
}

// Link is the provider-side handle for a hosted payment page.
type Link struct {
	Reference   string
	RedirectURL string
	ExpiresAt   *time.Time
}

// Event is a verified, normalized gateway notification.
type Event struct {
	Gateway          enums.Gateway
	GatewayEventID   string
	GatewayReference string
	Outcome          enums.PaymentOutcome
	OccurredAt       time.Time
	Raw              json.RawMessage
}

// CallbackEventID builds the synthetic event id used by the redirect flow so a
// repeated callback with the same result dedups like a webhook redelivery.
func CallbackEventID(reference string, outcome enums.PaymentOutcome) string {
	return "callback:" + reference + ":" + string(outcome)
}
