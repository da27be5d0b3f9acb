package gateway

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tutorbill-backend/internal/ledger"
	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
)

type adapterFixture struct {
	adapter  *Adapter
	ledger   ledger.Service
	provider *fakeProvider
	scope    LinkScope
	periods  []models.BillingPeriod
	now      time.Time
}

func newAdapterFixture(t *testing.T, provider *fakeProvider, lock locker) *adapterFixture {
	t.Helper()
	conn := dbtest.Open(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)

	f := &adapterFixture{
		ledger:   ledgerSvc,
		provider: provider,
		now:      time.Now().UTC(),
	}
	batchID := uuid.New()
	f.scope = LinkScope{AccountID: uuid.New(), BatchID: &batchID, Gateway: enums.GatewayStripe, Currency: "INR"}
	f.periods = []models.BillingPeriod{
		{ID: uuid.New(), AmountDue: decimal.NewFromInt(700)},
		{ID: uuid.New(), AmountDue: decimal.NewFromInt(700)},
	}
	f.adapter, err = NewAdapter(AdapterParams{
		Ledger:    ledgerSvc,
		Providers: []Provider{provider},
		Locker:    lock,
		Config: config.GatewayConfig{
			RetryMaxAttempts: 3,
			RetryBaseDelay:   time.Millisecond,
			RetryMaxDelay:    5 * time.Millisecond,
			CallTimeout:      time.Second,
			LinkTTL:          time.Hour,
			LinkLockTTL:      time.Minute,
		},
		Now: func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func (f *adapterFixture) link(t *testing.T, key string) (*LinkResult, error) {
	t.Helper()
	return f.adapter.GetOrCreatePaymentLink(context.Background(), f.scope, f.periods, key)
}

func TestGetOrCreatePaymentLinkReusesLiveLink(t *testing.T) {
	f := newAdapterFixture(t, &fakeProvider{}, nil)

	first, err := f.link(t, "key-1")
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.NotEmpty(t, first.RedirectURL)
	require.NotNil(t, first.ExpiresAt)

	second, err := f.link(t, "key-1")
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.AttemptID, second.AttemptID)
	assert.Equal(t, first.RedirectURL, second.RedirectURL)
	assert.Equal(t, 1, f.provider.createCalls())

	attempt, err := f.ledger.Attempt(context.Background(), nil, first.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, "1400", attempt.Amount.String())
	assert.Len(t, attempt.BillingPeriodIDs, 2)
	assert.Equal(t, first.AttemptID.String(), f.provider.lastKey())
}

func TestGetOrCreatePaymentLinkConcurrentSameKey(t *testing.T) {
	f := newAdapterFixture(t, &fakeProvider{delay: 20 * time.Millisecond}, nil)

	const callers = 8
	results := make([]*LinkResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.adapter.GetOrCreatePaymentLink(context.Background(), f.scope, f.periods, "key-concurrent")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].AttemptID, results[i].AttemptID)
		assert.Equal(t, results[0].RedirectURL, results[i].RedirectURL)
	}
	assert.Equal(t, 1, f.provider.createCalls())
}

func TestGetOrCreatePaymentLinkSurvivesFirstCallerCancel(t *testing.T) {
	f := newAdapterFixture(t, &fakeProvider{delay: 80 * time.Millisecond}, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.adapter.GetOrCreatePaymentLink(firstCtx, f.scope, f.periods, "key-shared")
		firstErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	second := make(chan *LinkResult, 1)
	secondErr := make(chan error, 1)
	go func() {
		res, err := f.adapter.GetOrCreatePaymentLink(context.Background(), f.scope, f.periods, "key-shared")
		second <- res
		secondErr <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	require.NoError(t, <-secondErr)
	res := <-second
	require.NotNil(t, res)
	assert.NotEmpty(t, res.RedirectURL)
	assert.Equal(t, 1, f.provider.createCalls())
}

func TestGetOrCreatePaymentLinkReplacesExpiredLink(t *testing.T) {
	f := newAdapterFixture(t, &fakeProvider{}, nil)

	first, err := f.link(t, "key-expiry")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	second, err := f.link(t, "key-expiry")
	require.NoError(t, err)
	assert.NotEqual(t, first.AttemptID, second.AttemptID)
	assert.False(t, second.Reused)
	assert.Equal(t, 2, f.provider.createCalls())

	old, err := f.ledger.Attempt(context.Background(), nil, first.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentAttemptStatusFailed, old.Status)
	require.NotNil(t, old.FailureReason)
	assert.Equal(t, "expired", *old.FailureReason)
}

func TestGetOrCreatePaymentLinkGatewayUnavailableThenResume(t *testing.T) {
	provider := &fakeProvider{failWith: pkgerrors.New(pkgerrors.CodeDependency, "stripe timeout")}
	f := newAdapterFixture(t, provider, nil)

	_, err := f.link(t, "key-flaky")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	assert.Equal(t, 3, provider.createCalls())

	reserved, err := f.ledger.LiveAttempt(context.Background(), nil, "key-flaky")
	require.NoError(t, err)
	require.NotNil(t, reserved)
	assert.Equal(t, enums.PaymentAttemptStatusCreated, reserved.Status)
	assert.Nil(t, reserved.RedirectURL)

	provider.heal()
	resumed, err := f.link(t, "key-flaky")
	require.NoError(t, err)
	assert.Equal(t, reserved.ID, resumed.AttemptID)
	assert.True(t, resumed.Reused)
	assert.Equal(t, reserved.ID.String(), provider.lastKey())
}

func TestGetOrCreatePaymentLinkDoesNotRetryPermanentErrors(t *testing.T) {
	provider := &fakeProvider{failWith: pkgerrors.New(pkgerrors.CodeValidation, "bad currency")}
	f := newAdapterFixture(t, provider, nil)

	_, err := f.link(t, "key-bad")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 1, provider.createCalls())
}

func TestGetOrCreatePaymentLinkRespectsDistributedLock(t *testing.T) {
	lock := &fakeLocker{held: map[string]string{}}
	f := newAdapterFixture(t, &fakeProvider{}, lock)
	lock.held[lock.LockKey(linkLockScope, "key-locked")] = "someone-else"

	_, err := f.link(t, "key-locked")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, 0, f.provider.createCalls())

	delete(lock.held, lock.LockKey(linkLockScope, "key-locked"))
	_, err = f.link(t, "key-locked")
	require.NoError(t, err)
	assert.Empty(t, lock.held, "lock must be released after the call")
}

func TestGetOrCreatePaymentLinkValidatesInput(t *testing.T) {
	f := newAdapterFixture(t, &fakeProvider{}, nil)

	_, err := f.adapter.GetOrCreatePaymentLink(context.Background(), f.scope, nil, "k")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	scope := f.scope
	scope.Gateway = enums.GatewaySquare
	_, err = f.adapter.GetOrCreatePaymentLink(context.Background(), scope, f.periods, "k")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestLookupOutcomeSynthesizesCallbackEventID(t *testing.T) {
	f := newAdapterFixture(t, &fakeProvider{outcome: enums.PaymentOutcomeSucceeded}, nil)

	event, err := f.adapter.LookupOutcome(context.Background(), enums.GatewayStripe, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "callback:cs_1:succeeded", event.GatewayEventID)
	assert.Equal(t, enums.GatewayStripe, event.Gateway)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestParseEventWrapsVerificationFailure(t *testing.T) {
	f := newAdapterFixture(t, &fakeProvider{parseErr: assert.AnError}, nil)

	_, err := f.adapter.ParseEvent(enums.GatewayStripe, []byte(`{}`), http.Header{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature))
}

func TestLinkRequestAmountMinor(t *testing.T) {
	req := LinkRequest{Amount: decimal.RequireFromString("1234.565")}
	assert.Equal(t, int64(123457), req.AmountMinor())
}

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	keys     []string
	delay    time.Duration
	failWith error
	parseErr error
	outcome  enums.PaymentOutcome
}

func (p *fakeProvider) Name() enums.Gateway {
	return enums.GatewayStripe
}

func (p *fakeProvider) CreateLink(ctx context.Context, req LinkRequest) (*Link, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.keys = append(p.keys, req.IdempotencyKey)
	if p.failWith != nil {
		return nil, p.failWith
	}
	return &Link{
		Reference:   "ref_" + req.IdempotencyKey,
		RedirectURL: "https://pay.test/" + req.IdempotencyKey,
	}, nil
}

func (p *fakeProvider) ParseEvent(payload []byte, headers http.Header) (*Event, error) {
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return &Event{}, nil
}

func (p *fakeProvider) LookupOutcome(ctx context.Context, reference string) (*Event, error) {
	return &Event{GatewayReference: reference, Outcome: p.outcome}, nil
}

func (p *fakeProvider) createCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) lastKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	return p.keys[len(p.keys)-1]
}

func (p *fakeProvider) heal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func (l *fakeLocker) LockKey(scope, id string) string {
	return "tb:lock:" + scope + ":" + id
}

func (l *fakeLocker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = owner
	return true, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == owner {
		delete(l.held, key)
	}
	return nil
}
