// Package squaregw adapts Square quick-pay payment links to the gateway provider contract.
package squaregw

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/tutorbill-backend/internal/gateway"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/square"
)

const signatureHeader = "X-Square-Hmacsha256-Signature"

type linkClient interface {
	CreatePaymentLink(ctx context.Context, params square.PaymentLinkParams) (*sq.PaymentLink, error)
	GetOrder(ctx context.Context, orderID string) (*sq.Order, error)
	VerifySignature(payload []byte, header string) bool
}

type Options struct {
	RedirectURL string
}

// Provider creates quick-pay links. The order id behind a link is the gateway
// reference, since payment webhooks only carry the order.
type Provider struct {
	client linkClient
	opts   Options
}

func New(client linkClient, opts Options) (*Provider, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	return &Provider{client: client, opts: opts}, nil
}

func (p *Provider) Name() enums.Gateway {
	return enums.GatewaySquare
}

func (p *Provider) CreateLink(ctx context.Context, req gateway.LinkRequest) (*gateway.Link, error) {
	link, err := p.client.CreatePaymentLink(ctx, square.PaymentLinkParams{
		Name:           req.Description,
		AmountMinor:    req.AmountMinor(),
		Currency:       req.Currency,
		RedirectURL:    redirectURL(p.opts.RedirectURL),
		Note:           "attempt " + req.AttemptID.String(),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	orderID := deref(link.GetOrderID())
	url := deref(link.GetURL())
	if orderID == "" || url == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square payment link missing order or url")
	}
	return &gateway.Link{Reference: orderID, RedirectURL: url}, nil
}

// webhookEvent is the subset of the Square notification envelope used here.
type webhookEvent struct {
	EventID   string      `json:"event_id"`
	Type      string      `json:"type"`
	CreatedAt string      `json:"created_at"`
	Data      webhookData `json:"data"`
}

type webhookData struct {
	Type   string        `json:"type"`
	ID     string        `json:"id"`
	Object webhookObject `json:"object"`
}

type webhookObject struct {
	Payment      *webhookPayment      `json:"payment"`
	OrderUpdated *webhookOrderUpdated `json:"order_updated"`
}

type webhookOrderUpdated struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`
}

type webhookPayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (p *Provider) ParseEvent(payload []byte, headers http.Header) (*gateway.Event, error) {
	sig := headers.Get(signatureHeader)
	if sig == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "square signature missing")
	}
	if !p.client.VerifySignature(payload, sig) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid square signature")
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}
	var (
		orderID  string
		outcome  enums.PaymentOutcome
		fallback string
		ok       bool
	)
	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
		payment := event.Data.Object.Payment
		if payment == nil || payment.OrderID == "" {
			return nil, gateway.ErrEventIgnored
		}
		outcome, ok = outcomeForPaymentStatus(payment.Status)
		orderID, fallback = payment.OrderID, payment.ID+":"+strings.ToLower(payment.Status)
	case "order.updated":
		order := event.Data.Object.OrderUpdated
		if order == nil || order.OrderID == "" {
			return nil, gateway.ErrEventIgnored
		}
		outcome, ok = outcomeForFinalOrderState(order.State)
		orderID, fallback = order.OrderID, order.OrderID+":"+strings.ToLower(order.State)
	default:
		return nil, gateway.ErrEventIgnored
	}
	if !ok {
		return nil, gateway.ErrEventIgnored
	}

	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		eventID = fallback
	}
	occurred, err := time.Parse(time.RFC3339, event.CreatedAt)
	if err != nil {
		occurred = time.Time{}
	}
	return &gateway.Event{
		Gateway:          enums.GatewaySquare,
		GatewayEventID:   eventID,
		GatewayReference: orderID,
		Outcome:          outcome,
		OccurredAt:       occurred.UTC(),
		Raw:              json.RawMessage(payload),
	}, nil
}

func (p *Provider) LookupOutcome(ctx context.Context, reference string) (*gateway.Event, error) {
	order, err := p.client.GetOrder(ctx, reference)
	if err != nil {
		return nil, err
	}
	state := ""
	if order.GetState() != nil {
		state = string(*order.GetState())
	}
	raw, err := json.Marshal(map[string]any{"order_id": reference, "state": state})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode order snapshot")
	}
	return &gateway.Event{
		Gateway:          enums.GatewaySquare,
		GatewayReference: reference,
		Outcome:          outcomeForOrderState(state),
		Raw:              raw,
	}, nil
}

// outcomeForPaymentStatus maps one payment on the link's order. A declined or
// canceled payment leaves the order open for another try, so only the order
// itself can fail the attempt.
func outcomeForPaymentStatus(status string) (enums.PaymentOutcome, bool) {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return enums.PaymentOutcomeSucceeded, true
	case "APPROVED", "PENDING", "FAILED", "CANCELED":
		return enums.PaymentOutcomePending, true
	default:
		return "", false
	}
}

func outcomeForFinalOrderState(state string) (enums.PaymentOutcome, bool) {
	switch strings.ToUpper(state) {
	case string(sq.OrderStateCompleted):
		return enums.PaymentOutcomeSucceeded, true
	case string(sq.OrderStateCanceled):
		return enums.PaymentOutcomeFailed, true
	default:
		return "", false
	}
}

func outcomeForOrderState(state string) enums.PaymentOutcome {
	switch strings.ToUpper(state) {
	case string(sq.OrderStateCompleted):
		return enums.PaymentOutcomeSucceeded
	case string(sq.OrderStateCanceled):
		return enums.PaymentOutcomeFailed
	default:
		return enums.PaymentOutcomePending
	}
}

func redirectURL(base string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "gateway=square"
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
