package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/tutorbill-backend/internal/ledger"
	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/tutorbill-backend/pkg/db/types"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
	"github.com/angelmondragon/tutorbill-backend/pkg/metrics"
)

const (
	linkLockScope = "payment_link"
	expiredReason = "expired"
)

// locker is satisfied by pkg/redis.Client.
type locker interface {
	LockKey(scope, id string) string
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// LinkScope identifies who is paying and through which processor.
type LinkScope struct {
	AccountID uuid.UUID
	BatchID   *uuid.UUID
	Gateway   enums.Gateway
	Currency  string
}

// LinkResult is the normalized answer of GetOrCreatePaymentLink.
type LinkResult struct {
	AttemptID   uuid.UUID
	RedirectURL string
	Reference   string
	ExpiresAt   *time.Time
	Reused      bool
}

type AdapterParams struct {
	Ledger    ledger.Service
	Providers []Provider
	Locker    locker
	Config    config.GatewayConfig
	Logger    *logger.Logger
	Metrics   *metrics.GatewayMetrics
	Now       func() time.Time
}

// Adapter owns the idempotent payment link flow and event verification.
type Adapter struct {
	ledger    ledger.Service
	providers map[enums.Gateway]Provider
	locker    locker
	cfg       config.GatewayConfig
	logg      *logger.Logger
	metrics   *metrics.GatewayMetrics
	now       func() time.Time
	flights   singleflight.Group
}

func NewAdapter(params AdapterParams) (*Adapter, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if len(params.Providers) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "at least one payment provider required")
	}
	providers := make(map[enums.Gateway]Provider, len(params.Providers))
	for _, p := range params.Providers {
		if p == nil {
			continue
		}
		providers[p.Name()] = p
	}
	cfg := params.Config
	if cfg.RetryMaxAttempts < 1 {
		cfg.RetryMaxAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 23 * time.Hour
	}
	if cfg.LinkLockTTL <= 0 {
		cfg.LinkLockTTL = 30 * time.Second
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		ledger:    params.Ledger,
		providers: providers,
		locker:    params.Locker,
		cfg:       cfg,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       now,
	}, nil
}

// Provider returns the registered provider for gateway.
func (a *Adapter) Provider(gateway enums.Gateway) (Provider, error) {
	p, ok := a.providers[gateway]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("gateway %q is not enabled", gateway))
	}
	return p, nil
}

// GetOrCreatePaymentLink returns the live link for idempotencyKey, creating the
// attempt and the hosted page when none is usable. Concurrent callers with the
// same key share one provider call.
func (a *Adapter) GetOrCreatePaymentLink(ctx context.Context, scope LinkScope, periods []models.BillingPeriod, idempotencyKey string) (*LinkResult, error) {
	if scope.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if len(periods) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one billing period required")
	}
	if idempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	provider, err := a.Provider(scope.Gateway)
	if err != nil {
		return nil, err
	}

	flight := a.flights.DoChan(idempotencyKey, func() (any, error) {
		// Every waiter on the key shares this call; the lock TTL bounds it.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.LinkLockTTL)
		defer cancel()
		release, err := a.lock(flightCtx, idempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()
		return a.getOrCreate(flightCtx, provider, scope, periods, idempotencyKey)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		result := *res.Val.(*LinkResult)
		return &result, nil
	}
}

func (a *Adapter) getOrCreate(ctx context.Context, provider Provider, scope LinkScope, periods []models.BillingPeriod, key string) (*LinkResult, error) {
	// A lost insert race re-reads once and picks up the winner.
	for pass := 0; pass < 2; pass++ {
		existing, err := a.ledger.LiveAttempt(ctx, nil, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			now := a.now().UTC()
			switch {
			case existing.Redeemable(now):
				return resultFromAttempt(existing, true), nil
			case existing.Status == enums.PaymentAttemptStatusSucceeded:
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "billing periods already paid").
					WithDetails(map[string]any{"attempt_id": existing.ID.String()})
			case existing.RedirectURL == nil || *existing.RedirectURL == "":
				return a.createLink(ctx, provider, existing, true)
			default:
				if _, err := a.ledger.Finalize(ctx, nil, existing.ID, enums.PaymentOutcomeFailed, expiredReason); err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
					return nil, err
				}
				a.logInfo(ctx, existing, "expired payment link released")
			}
		}

		attempt, err := a.ledger.AppendAttempt(ctx, nil, newAttempt(scope, provider.Name(), periods, key))
		if pkgerrors.IsCode(err, pkgerrors.CodeIdempotency) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return a.createLink(ctx, provider, attempt, false)
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment link is being created concurrently")
}

func newAttempt(scope LinkScope, gateway enums.Gateway, periods []models.BillingPeriod, key string) *models.PaymentAttempt {
	ids := make(dbtypes.UUIDArray, 0, len(periods))
	amount := decimal.Zero
	for _, p := range periods {
		ids = append(ids, p.ID)
		amount = amount.Add(p.AmountDue)
	}
	return &models.PaymentAttempt{
		AccountID:        scope.AccountID,
		BatchID:          scope.BatchID,
		BillingPeriodIDs: ids,
		Amount:           amount,
		Currency:         scope.Currency,
		Gateway:          gateway,
		Mode:             enums.PaymentModeOnline,
		IdempotencyKey:   key,
	}
}

// createLink calls the provider for a reserved attempt. The attempt id doubles
// as the provider idempotency key, so resuming an interrupted call reuses any
// page the provider already created. On failure the reserved row stays created.
func (a *Adapter) createLink(ctx context.Context, provider Provider, attempt *models.PaymentAttempt, reused bool) (*LinkResult, error) {
	expiresAt := a.now().UTC().Add(a.cfg.LinkTTL)
	req := LinkRequest{
		AttemptID:      attempt.ID,
		AccountID:      attempt.AccountID,
		BatchID:        attempt.BatchID,
		Amount:         attempt.Amount,
		Currency:       attempt.Currency,
		Description:    fmt.Sprintf("Platform commission (%d month(s))", len(attempt.BillingPeriodIDs)),
		IdempotencyKey: attempt.ID.String(),
		ExpiresAt:      expiresAt,
	}

	var link *Link
	err := a.call(ctx, provider.Name(), "create_link", func(callCtx context.Context) error {
		created, err := provider.CreateLink(callCtx, req)
		if err != nil {
			return err
		}
		link = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	if link == nil || link.Reference == "" || link.RedirectURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "payment provider returned an empty link")
	}
	if link.ExpiresAt == nil {
		link.ExpiresAt = &expiresAt
	}

	if err := a.ledger.AttachLink(ctx, nil, attempt.ID, ledger.AttemptLink{
		Reference:   link.Reference,
		RedirectURL: link.RedirectURL,
		ExpiresAt:   link.ExpiresAt,
	}); err != nil {
		return nil, err
	}
	a.logInfo(ctx, attempt, "payment link created")

	return &LinkResult{
		AttemptID:   attempt.ID,
		RedirectURL: link.RedirectURL,
		Reference:   link.Reference,
		ExpiresAt:   link.ExpiresAt,
		Reused:      reused,
	}, nil
}

// ParseEvent verifies and normalizes a webhook delivery for gateway.
func (a *Adapter) ParseEvent(gateway enums.Gateway, payload []byte, headers http.Header) (*Event, error) {
	provider, err := a.Provider(gateway)
	if err != nil {
		return nil, err
	}
	event, err := provider.ParseEvent(payload, headers)
	if err != nil {
		if errors.Is(err, ErrEventIgnored) || pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "verify gateway event")
	}
	event.Gateway = gateway
	return event, nil
}

// LookupOutcome asks the provider for the current result of reference.
func (a *Adapter) LookupOutcome(ctx context.Context, gateway enums.Gateway, reference string) (*Event, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}
	provider, err := a.Provider(gateway)
	if err != nil {
		return nil, err
	}
	var event *Event
	err = a.call(ctx, gateway, "lookup_outcome", func(callCtx context.Context) error {
		found, err := provider.LookupOutcome(callCtx, reference)
		if err != nil {
			return err
		}
		event = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	event.Gateway = gateway
	if event.GatewayReference == "" {
		event.GatewayReference = reference
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now().UTC()
	}
	event.GatewayEventID = CallbackEventID(event.GatewayReference, event.Outcome)
	return event, nil
}

// call runs fn under a per-call timeout with bounded exponential backoff.
// Only transient failures are retried; exhaustion surfaces as GatewayUnavailable.
func (a *Adapter) call(ctx context.Context, gateway enums.Gateway, op string, fn func(context.Context) error) error {
	backoff := retry.NewExponential(a.cfg.RetryBaseDelay)
	if a.cfg.RetryMaxDelay > 0 {
		backoff = retry.WithCappedDuration(a.cfg.RetryMaxDelay, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(a.cfg.RetryMaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			a.metrics.IncCall(gateway.String(), op, "retry")
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		a.metrics.IncCall(gateway.String(), op, "ok")
		return nil
	}
	a.metrics.IncCall(gateway.String(), op, "error")
	if isTransient(err) {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "payment gateway unavailable").
			WithDetails(map[string]any{"gateway": gateway, "op": op})
	}
	return err
}

func isTransient(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || pkgerrors.IsRetryable(err)
}

// lock takes the cross-process lock for key when a locker is configured.
func (a *Adapter) lock(ctx context.Context, key string) (func(), error) {
	if a.locker == nil {
		return func() {}, nil
	}
	lockKey := a.locker.LockKey(linkLockScope, key)
	owner := uuid.NewString()
	ok, err := a.locker.TryLock(ctx, lockKey, owner, a.cfg.LinkLockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire payment link lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment link is being created, retry shortly")
	}
	return func() {
		if err := a.locker.Unlock(context.WithoutCancel(ctx), lockKey, owner); err != nil && a.logg != nil {
			a.logg.Error(ctx, "release payment link lock", err)
		}
	}, nil
}

func resultFromAttempt(attempt *models.PaymentAttempt, reused bool) *LinkResult {
	result := &LinkResult{
		AttemptID: attempt.ID,
		ExpiresAt: attempt.ExpiresAt,
		Reused:    reused,
	}
	if attempt.RedirectURL != nil {
		result.RedirectURL = *attempt.RedirectURL
	}
	if attempt.GatewayReference != nil {
		result.Reference = *attempt.GatewayReference
	}
	return result
}

func (a *Adapter) logInfo(ctx context.Context, attempt *models.PaymentAttempt, msg string) {
	if a.logg == nil {
		return
	}
	ctx = a.logg.WithFields(ctx, map[string]any{
		"attempt_id": attempt.ID.String(),
		"account_id": attempt.AccountID.String(),
		"gateway":    attempt.Gateway,
	})
	a.logg.Info(ctx, msg)
}
