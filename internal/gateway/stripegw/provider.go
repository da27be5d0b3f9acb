// Package stripegw adapts Stripe Checkout Sessions to the gateway provider contract.
package stripegw

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/tutorbill-backend/internal/gateway"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	stripeclient "github.com/angelmondragon/tutorbill-backend/pkg/stripe"
)

const signatureHeader = "Stripe-Signature"

type checkoutClient interface {
	CreateCheckoutSession(ctx context.Context, params stripeclient.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	SigningSecret() string
}

type Options struct {
	SuccessURL string
	CancelURL  string
}

// Provider creates payment-mode checkout sessions. The session id is the gateway reference.
type Provider struct {
	client checkoutClient
	opts   Options
}

func New(client checkoutClient, opts Options) (*Provider, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	return &Provider{client: client, opts: opts}, nil
}

func (p *Provider) Name() enums.Gateway {
	return enums.GatewayStripe
}

func (p *Provider) CreateLink(ctx context.Context, req gateway.LinkRequest) (*gateway.Link, error) {
	metadata := map[string]string{
		"attempt_id": req.AttemptID.String(),
		"account_id": req.AccountID.String(),
	}
	if req.BatchID != nil {
		metadata["batch_id"] = req.BatchID.String()
	}
	params := stripeclient.CheckoutSessionParams{
		Name:              req.Description,
		AmountMinor:       req.AmountMinor(),
		Currency:          req.Currency,
		SuccessURL:        callbackURL(p.opts.SuccessURL),
		CancelURL:         p.opts.CancelURL,
		ClientReferenceID: req.AttemptID.String(),
		Metadata:          metadata,
		IdempotencyKey:    req.IdempotencyKey,
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = req.ExpiresAt.Unix()
	}

	sess, err := p.client.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}
	link := &gateway.Link{
		Reference:   sess.ID,
		RedirectURL: sess.URL,
	}
	if sess.ExpiresAt > 0 {
		expires := time.Unix(sess.ExpiresAt, 0).UTC()
		link.ExpiresAt = &expires
	}
	return link, nil
}

func (p *Provider) ParseEvent(payload []byte, headers http.Header) (*gateway.Event, error) {
	sig := headers.Get(signatureHeader)
	if sig == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "stripe signature missing")
	}
	event, err := webhook.ConstructEvent(payload, sig, p.client.SigningSecret())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "verify stripe signature")
	}

	outcome, ok := outcomeForEvent(event.Type)
	if !ok || event.Data == nil {
		return nil, gateway.ErrEventIgnored
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	if event.Type == stripe.EventTypeCheckoutSessionCompleted {
		outcome = outcomeForSession(&sess)
	}
	return &gateway.Event{
		Gateway:          enums.GatewayStripe,
		GatewayEventID:   event.ID,
		GatewayReference: sess.ID,
		Outcome:          outcome,
		OccurredAt:       time.Unix(event.Created, 0).UTC(),
		Raw:              json.RawMessage(payload),
	}, nil
}

func (p *Provider) LookupOutcome(ctx context.Context, reference string) (*gateway.Event, error) {
	sess, err := p.client.GetCheckoutSession(ctx, reference)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(map[string]any{
		"id":             sess.ID,
		"status":         sess.Status,
		"payment_status": sess.PaymentStatus,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode checkout session snapshot")
	}
	return &gateway.Event{
		Gateway:          enums.GatewayStripe,
		GatewayReference: sess.ID,
		Outcome:          outcomeForSession(sess),
		Raw:              raw,
	}, nil
}

func outcomeForEvent(eventType stripe.EventType) (enums.PaymentOutcome, bool) {
	switch eventType {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return enums.PaymentOutcomeSucceeded, true
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		return enums.PaymentOutcomeFailed, true
	default:
		return "", false
	}
}

// outcomeForSession maps a session snapshot. A completed session with delayed
// payment methods stays pending until the async events arrive.
func outcomeForSession(sess *stripe.CheckoutSession) enums.PaymentOutcome {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return enums.PaymentOutcomeSucceeded
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return enums.PaymentOutcomeFailed
	default:
		return enums.PaymentOutcomePending
	}
}

func callbackURL(base string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "gateway=stripe&reference={CHECKOUT_SESSION_ID}"
}
