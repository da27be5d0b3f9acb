package stripegw

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/tutorbill-backend/internal/gateway"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	stripeclient "github.com/angelmondragon/tutorbill-backend/pkg/stripe"
)

const testSecret = "whsec_test"

func TestCreateLinkBuildsSessionParams(t *testing.T) {
	client := &fakeCheckoutClient{
		created: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1", ExpiresAt: 1700000000},
	}
	provider, err := New(client, Options{SuccessURL: "https://app.test/return", CancelURL: "https://app.test/cancel"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	attemptID := uuid.New()
	link, err := provider.CreateLink(context.Background(), gateway.LinkRequest{
		AttemptID:      attemptID,
		AccountID:      uuid.New(),
		Amount:         decimal.RequireFromString("1400.00"),
		Currency:       "INR",
		IdempotencyKey: attemptID.String(),
		ExpiresAt:      time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if link.Reference != "cs_test_1" || link.RedirectURL == "" {
		t.Fatalf("unexpected link %+v", link)
	}
	if link.ExpiresAt == nil || link.ExpiresAt.Unix() != 1700000000 {
		t.Fatalf("expected expiry from session, got %v", link.ExpiresAt)
	}
	got := client.params
	if got.AmountMinor != 140000 {
		t.Fatalf("expected 140000 minor units, got %d", got.AmountMinor)
	}
	if got.IdempotencyKey != attemptID.String() || got.ClientReferenceID != attemptID.String() {
		t.Fatalf("attempt id must be the provider idempotency key, got %+v", got)
	}
	if !strings.Contains(got.SuccessURL, "reference={CHECKOUT_SESSION_ID}") {
		t.Fatalf("success url should carry the session placeholder, got %s", got.SuccessURL)
	}
}

func TestParseEventMapsOutcomes(t *testing.T) {
	provider, _ := New(&fakeCheckoutClient{}, Options{})
	cases := []struct {
		eventType stripe.EventType
		payment   stripe.CheckoutSessionPaymentStatus
		want      enums.PaymentOutcome
	}{
		{stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSessionPaymentStatusPaid, enums.PaymentOutcomeSucceeded},
		{stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSessionPaymentStatusUnpaid, enums.PaymentOutcomePending},
		{stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded, stripe.CheckoutSessionPaymentStatusPaid, enums.PaymentOutcomeSucceeded},
		{stripe.EventTypeCheckoutSessionAsyncPaymentFailed, stripe.CheckoutSessionPaymentStatusUnpaid, enums.PaymentOutcomeFailed},
		{stripe.EventTypeCheckoutSessionExpired, stripe.CheckoutSessionPaymentStatusUnpaid, enums.PaymentOutcomeFailed},
	}
	for _, tc := range cases {
		payload, header := buildSignedSessionEvent(t, tc.eventType, tc.payment)
		event, err := provider.ParseEvent(payload, http.Header{signatureHeader: []string{header}})
		if err != nil {
			t.Fatalf("%s: parse: %v", tc.eventType, err)
		}
		if event.Outcome != tc.want {
			t.Fatalf("%s/%s: expected %s, got %s", tc.eventType, tc.payment, tc.want, event.Outcome)
		}
		if event.GatewayReference != "cs_test_ref" || event.GatewayEventID == "" {
			t.Fatalf("unexpected identifiers %+v", event)
		}
	}
}

func TestParseEventRejectsBadSignature(t *testing.T) {
	provider, _ := New(&fakeCheckoutClient{}, Options{})
	payload, _ := buildSignedSessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSessionPaymentStatusPaid)

	_, err := provider.ParseEvent(payload, http.Header{signatureHeader: []string{"t=1,v1=invalid"}})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	_, err = provider.ParseEvent(payload, http.Header{})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature) {
		t.Fatalf("expected invalid signature for missing header, got %v", err)
	}
}

func TestParseEventIgnoresUnrelatedTypes(t *testing.T) {
	provider, _ := New(&fakeCheckoutClient{}, Options{})
	payload, header := buildSignedSessionEvent(t, stripe.EventTypeCustomerCreated, stripe.CheckoutSessionPaymentStatusPaid)
	if _, err := provider.ParseEvent(payload, http.Header{signatureHeader: []string{header}}); !errors.Is(err, gateway.ErrEventIgnored) {
		t.Fatalf("expected ignored event, got %v", err)
	}
}

func TestLookupOutcomeFromSession(t *testing.T) {
	client := &fakeCheckoutClient{
		fetched: &stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusExpired, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid},
	}
	provider, _ := New(client, Options{})
	event, err := provider.LookupOutcome(context.Background(), "cs_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if event.Outcome != enums.PaymentOutcomeFailed || event.GatewayReference != "cs_1" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func buildSignedSessionEvent(t *testing.T, eventType stripe.EventType, paymentStatus stripe.CheckoutSessionPaymentStatus) ([]byte, string) {
	t.Helper()
	rawSession, err := json.Marshal(&stripe.CheckoutSession{
		ID:            "cs_test_ref",
		Object:        "checkout.session",
		Status:        stripe.CheckoutSessionStatusComplete,
		PaymentStatus: paymentStatus,
	})
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       eventType,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Created:    time.Now().Unix(),
		Data: &stripe.EventData{
			Raw: rawSession,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeCheckoutClient struct {
	params  stripeclient.CheckoutSessionParams
	created *stripe.CheckoutSession
	fetched *stripe.CheckoutSession
}

func (f *fakeCheckoutClient) CreateCheckoutSession(ctx context.Context, params stripeclient.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.created, nil
}

func (f *fakeCheckoutClient) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	return f.fetched, nil
}

func (f *fakeCheckoutClient) SigningSecret() string {
	return testSecret
}
