package squaregw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tutorbill-backend/internal/gateway"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/square"
)

func TestCreateLinkUsesOrderAsReference(t *testing.T) {
	orderID := "order-1"
	url := "https://square.link/u/abc"
	client := &fakeLinkClient{link: &sq.PaymentLink{OrderID: &orderID, URL: &url}}
	provider, err := New(client, Options{RedirectURL: "https://app.test/return"})
	require.NoError(t, err)

	attemptID := uuid.New()
	link, err := provider.CreateLink(context.Background(), gateway.LinkRequest{
		AttemptID:      attemptID,
		Amount:         decimal.RequireFromString("700"),
		Currency:       "INR",
		IdempotencyKey: attemptID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, orderID, link.Reference)
	assert.Equal(t, url, link.RedirectURL)
	assert.Equal(t, int64(70000), client.params.AmountMinor)
	assert.Equal(t, attemptID.String(), client.params.IdempotencyKey)
	assert.Equal(t, "https://app.test/return?gateway=square", client.params.RedirectURL)
}

func TestCreateLinkRejectsIncompleteLink(t *testing.T) {
	provider, _ := New(&fakeLinkClient{link: &sq.PaymentLink{}}, Options{})
	_, err := provider.CreateLink(context.Background(), gateway.LinkRequest{AttemptID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestParseEventMapsPaymentStatus(t *testing.T) {
	provider, _ := New(&fakeLinkClient{valid: true}, Options{})
	cases := map[string]enums.PaymentOutcome{
		"COMPLETED": enums.PaymentOutcomeSucceeded,
		"FAILED":    enums.PaymentOutcomePending,
		"CANCELED":  enums.PaymentOutcomePending,
		"APPROVED":  enums.PaymentOutcomePending,
		"PENDING":   enums.PaymentOutcomePending,
	}
	for status, want := range cases {
		event, err := provider.ParseEvent(paymentPayload("payment.updated", status), signedHeaders())
		require.NoError(t, err, status)
		assert.Equal(t, want, event.Outcome, status)
		assert.Equal(t, "order-9", event.GatewayReference)
		assert.Equal(t, "evt-"+status, event.GatewayEventID)
		assert.False(t, event.OccurredAt.IsZero())
	}
}

func TestParseEventOrderStateDecidesFailure(t *testing.T) {
	provider, _ := New(&fakeLinkClient{valid: true}, Options{})
	cases := map[string]enums.PaymentOutcome{
		"CANCELED":  enums.PaymentOutcomeFailed,
		"COMPLETED": enums.PaymentOutcomeSucceeded,
	}
	for state, want := range cases {
		event, err := provider.ParseEvent(orderPayload(state), signedHeaders())
		require.NoError(t, err, state)
		assert.Equal(t, want, event.Outcome, state)
		assert.Equal(t, "order-9", event.GatewayReference)
	}

	_, err := provider.ParseEvent(orderPayload("OPEN"), signedHeaders())
	assert.True(t, errors.Is(err, gateway.ErrEventIgnored))
}

func TestParseEventSignatureFailures(t *testing.T) {
	provider, _ := New(&fakeLinkClient{valid: false}, Options{})
	_, err := provider.ParseEvent(paymentPayload("payment.updated", "COMPLETED"), signedHeaders())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature))

	_, err = provider.ParseEvent(paymentPayload("payment.updated", "COMPLETED"), http.Header{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature))
}

func TestParseEventIgnoresOtherTypes(t *testing.T) {
	provider, _ := New(&fakeLinkClient{valid: true}, Options{})
	_, err := provider.ParseEvent(paymentPayload("refund.updated", "COMPLETED"), signedHeaders())
	assert.True(t, errors.Is(err, gateway.ErrEventIgnored))
}

func TestLookupOutcomeFromOrderState(t *testing.T) {
	states := map[sq.OrderState]enums.PaymentOutcome{
		sq.OrderStateCompleted: enums.PaymentOutcomeSucceeded,
		sq.OrderStateCanceled:  enums.PaymentOutcomeFailed,
		sq.OrderStateOpen:      enums.PaymentOutcomePending,
	}
	for state, want := range states {
		state := state
		provider, _ := New(&fakeLinkClient{order: &sq.Order{State: &state}}, Options{})
		event, err := provider.LookupOutcome(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, want, event.Outcome, string(state))
		assert.Equal(t, "order-1", event.GatewayReference)
	}
}

func paymentPayload(eventType, status string) []byte {
	return []byte(fmt.Sprintf(`{"merchant_id":"M1","type":%q,"event_id":"evt-%s","created_at":"2026-03-01T10:00:00Z","data":{"type":"payment","id":"pay-1","object":{"payment":{"id":"pay-1","order_id":"order-9","status":%q}}}}`, eventType, status, status))
}

func orderPayload(state string) []byte {
	return []byte(fmt.Sprintf(`{"merchant_id":"M1","type":"order.updated","event_id":"evt-order-%s","created_at":"2026-03-01T10:05:00Z","data":{"type":"order_updated","id":"order-9","object":{"order_updated":{"order_id":"order-9","state":%q,"version":3}}}}`, state, state))
}

func signedHeaders() http.Header {
	h := http.Header{}
	h.Set(signatureHeader, "sig")
	return h
}

type fakeLinkClient struct {
	params square.PaymentLinkParams
	link   *sq.PaymentLink
	order  *sq.Order
	valid  bool
}

func (f *fakeLinkClient) CreatePaymentLink(ctx context.Context, params square.PaymentLinkParams) (*sq.PaymentLink, error) {
	f.params = params
	return f.link, nil
}

func (f *fakeLinkClient) GetOrder(ctx context.Context, orderID string) (*sq.Order, error) {
	return f.order, nil
}

func (f *fakeLinkClient) VerifySignature(payload []byte, header string) bool {
	return f.valid
}
