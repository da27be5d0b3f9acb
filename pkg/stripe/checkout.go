package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"

	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
)

// CheckoutSessionParams describes a one-off payment-mode checkout session.
type CheckoutSessionParams struct {
	Name              string
	AmountMinor       int64
	Currency          string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	ExpiresAt         int64
	Metadata          map[string]string
	IdempotencyKey    string
}

func (p CheckoutSessionParams) toStripeParams(ctx context.Context) *stripe.CheckoutSessionParams {
	name := p.Name
	if name == "" {
		name = "Platform commission"
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(normalizeCurrency(p.Currency)),
					UnitAmount: stripe.Int64(p.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.ClientReferenceID),
	}
	if p.ExpiresAt > 0 {
		params.ExpiresAt = stripe.Int64(p.ExpiresAt)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.Context = ctx
	return params
}

// CreateCheckoutSession opens a hosted checkout session for a fixed amount.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if c == nil {
		return nil, errAPIKeyRequired
	}
	sess, err := session.New(params.toStripeParams(ctx))
	if err != nil {
		return nil, MapError(err, "create checkout session")
	}
	return sess, nil
}

// GetCheckoutSession loads a checkout session by id.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	if c == nil {
		return nil, errAPIKeyRequired
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := session.Get(id, params)
	if err != nil {
		return nil, MapError(err, "get checkout session")
	}
	return sess, nil
}

// MapError converts Stripe failures into domain error codes.
func MapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(codeForStripeError(stripeErr), err, fmt.Sprintf("stripe %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
}

func codeForStripeError(e *stripe.Error) pkgerrors.Code {
	if e.Type == stripe.ErrorTypeIdempotency {
		return pkgerrors.CodeIdempotency
	}
	switch e.HTTPStatusCode {
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	}
	if e.HTTPStatusCode >= 400 && e.HTTPStatusCode < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}

func normalizeCurrency(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "inr"
	}
	return code
}
