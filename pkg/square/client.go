// Package square wraps the Square SDK calls used for online billing payments:
// quick-pay links, order lookups and webhook signature checks.
package square

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	defaultTimeout = 10 * time.Second
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errWebhookSecretRequired = errors.New("square webhook secret is required")
	errLoggerRequired        = errors.New("square logger is required")
)

type Client struct {
	sdk         *sqclient.Client
	environment string
	locationID  string
	signer      signer
	logg        *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errWebhookSecretRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		sdk: sqclient.NewClient(
			sqoption.WithBaseURL(baseURLs[env]),
			sqoption.WithToken(token),
			sqoption.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		environment: env,
		locationID:  strings.TrimSpace(cfg.LocationID),
		signer:      signer{secret: secret, notificationURL: strings.TrimSpace(cfg.WebhookURL)},
		logg:        logg,
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"square_env":  env,
		"location_id": c.locationID,
	}), "square client ready")
	return c, nil
}

// Environment is sandbox or production.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// LocationID is the default location payment links are created for.
func (c *Client) LocationID() string {
	if c == nil {
		return ""
	}
	return c.locationID
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signer.secret
}

// VerifySignature checks the x-square-hmacsha256-signature header of a webhook.
func (c *Client) VerifySignature(payload []byte, header string) bool {
	if c == nil {
		return false
	}
	return c.signer.valid(payload, header)
}

// CreatePaymentLink creates a quick-pay checkout link. The order behind the
// link is the reference later carried by payment webhooks.
func (c *Client) CreatePaymentLink(ctx context.Context, params PaymentLinkParams) (*sq.PaymentLink, error) {
	if params.LocationID == "" {
		params.LocationID = c.locationID
	}
	key := params.IdempotencyKey
	if strings.TrimSpace(key) == "" {
		key = newIdempotencyKey("payment_link")
	}
	ctx = c.logg.WithFields(ctx, map[string]any{
		"square_op":   "create_payment_link",
		"location_id": params.LocationID,
		"amount":      params.AmountMinor,
		"currency":    params.Currency,
	})

	resp, err := c.sdk.Checkout.PaymentLinks.Create(ctx, params.toSquareRequest(key))
	if err != nil {
		return nil, c.fail(ctx, "create payment link", err)
	}
	link := resp.GetPaymentLink()
	if link == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned no payment link")
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"payment_link_id": deref(link.GetID()),
		"order_id":        deref(link.GetOrderID()),
	}), "square payment link created")
	return link, nil
}

// GetOrder fetches the order behind a payment link.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*sq.Order, error) {
	ctx = c.logg.WithFields(ctx, map[string]any{"square_op": "get_order", "order_id": orderID})

	resp, err := c.sdk.Orders.Get(ctx, &sq.GetOrdersRequest{OrderID: orderID})
	if err != nil {
		return nil, c.fail(ctx, "get order", err)
	}
	order := resp.GetOrder()
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "square order not found")
	}
	state := ""
	if s := order.GetState(); s != nil {
		state = string(*s)
	}
	c.logg.Debug(c.logg.WithField(ctx, "order_state", state), "square order loaded")
	return order, nil
}

func (c *Client) fail(ctx context.Context, op string, err error) error {
	mapped := mapSquareError(err, op)
	c.logg.Error(ctx, "square "+op+" failed", mapped)
	return mapped
}

func newIdempotencyKey(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func normalizeEnv(raw string) (string, error) {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return sandboxEnv, nil
	}
	if _, ok := baseURLs[env]; !ok {
		return "", fmt.Errorf("square environment must be %q or %q, got %q", sandboxEnv, productionEnv, raw)
	}
	return env, nil
}
