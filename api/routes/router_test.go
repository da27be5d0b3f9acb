package routes

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tutorbill-backend/internal/access"
	"github.com/angelmondragon/tutorbill-backend/internal/batches"
	billingsvc "github.com/angelmondragon/tutorbill-backend/internal/billing"
	webhooksvc "github.com/angelmondragon/tutorbill-backend/internal/webhooks"
	pkgAuth "github.com/angelmondragon/tutorbill-backend/pkg/auth"
	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memoryStore struct {
	data   map[string]string
	counts map[string]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "test:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Ping(context.Context) error {
	return nil
}

func (m *memoryStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}

type stubBilling struct {
	cashCalls int
}

func (s *stubBilling) Status(ctx context.Context, teacherID uuid.UUID) (*billingsvc.StatusView, error) {
	return &billingsvc.StatusView{SubscriptionActive: true, AccessState: enums.AccessStateActive}, nil
}

func (s *stubBilling) DuePayments(ctx context.Context, teacherID, batchID uuid.UUID) (*billingsvc.DueView, error) {
	return &billingsvc.DueView{}, nil
}

func (s *stubBilling) InitiateOnline(ctx context.Context, teacherID uuid.UUID, input billingsvc.InitiateInput) (*billingsvc.InitiateView, error) {
	return &billingsvc.InitiateView{AttemptID: uuid.New()}, nil
}

func (s *stubBilling) Callback(ctx context.Context, teacherID uuid.UUID, gateway, reference string) (*billingsvc.CallbackView, error) {
	return &billingsvc.CallbackView{Status: enums.PaymentAttemptStatusPending}, nil
}

func (s *stubBilling) RecordCash(ctx context.Context, teacherID, periodID uuid.UUID) (*billingsvc.CashView, error) {
	s.cashCalls++
	return &billingsvc.CashView{AttemptID: uuid.New(), PeriodID: periodID, Status: enums.PaymentAttemptStatusSucceeded}, nil
}

func (s *stubBilling) CreateBatch(ctx context.Context, teacherID uuid.UUID, input batches.CreateInput) (*models.Batch, error) {
	return &models.Batch{ID: uuid.New(), OwnerTeacherID: teacherID, Name: input.Name}, nil
}

func (s *stubBilling) UploadAccess(ctx context.Context, teacherID, batchID uuid.UUID) (access.Decision, error) {
	return access.Decision{Allowed: true, Reason: access.ReasonNone}, nil
}

func (s *stubBilling) MaterialAccess(ctx context.Context, teacherID, batchID, studentID uuid.UUID) (access.Decision, error) {
	return access.Decision{Allowed: true, Reason: access.ReasonNone}, nil
}

func (s *stubBilling) EnrollStudent(ctx context.Context, teacherID, batchID, studentID uuid.UUID) (*models.BatchStudent, error) {
	return &models.BatchStudent{BatchID: batchID, StudentID: studentID}, nil
}

func (s *stubBilling) SetMaterialBlock(ctx context.Context, teacherID, batchID, studentID uuid.UUID, blocked bool) (*models.BatchStudent, error) {
	return &models.BatchStudent{BatchID: batchID, StudentID: studentID, MaterialAccessBlocked: blocked}, nil
}

func (s *stubBilling) SetBeta(ctx context.Context, adminID uuid.UUID, enabled bool) (*billingsvc.BetaView, error) {
	return &billingsvc.BetaView{BetaTestingEnabled: enabled}, nil
}

func (s *stubBilling) WebhookEvents(ctx context.Context, status string, page, limit int) (*billingsvc.WebhookEventPage, error) {
	return &billingsvc.WebhookEventPage{Page: page, Limit: limit}, nil
}

func (s *stubBilling) WaivePeriod(ctx context.Context, adminID, periodID uuid.UUID, reason string) (*billingsvc.WaiveView, error) {
	return &billingsvc.WaiveView{PeriodID: periodID}, nil
}

type stubReceiver struct{}

func (stubReceiver) Receive(ctx context.Context, gw enums.Gateway, payload []byte, headers http.Header) (*webhooksvc.Receipt, error) {
	return &webhooksvc.Receipt{Disposition: webhooksvc.DispositionDeferred, GatewayEventID: "evt_1"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Env:                "test",
			CORSOrigins:        []string{"http://localhost:3000"},
			CallbackPollLimit:  2,
			CallbackPollWindow: time.Minute,
		},
		JWT:      config.JWTConfig{Secret: "test-secret", Issuer: "tutorbill", ExpirationMinutes: 60},
		Webhooks: config.WebhooksConfig{MaxBodyBytes: 1024},
	}
}

func newTestRouter(t *testing.T, billing *stubBilling) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	router := NewRouter(RouterParams{
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		DB:       stubPinger{},
		Store:    newMemoryStore(),
		Billing:  billing,
		Webhooks: stubReceiver{},
		Gatherer: prometheus.NewRegistry(),
	})
	return router, cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.Role) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{SubjectID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router, _ := newTestRouter(t, &stubBilling{})
	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestWebhookRouteIsUnauthenticated(t *testing.T) {
	router, _ := newTestRouter(t, &stubBilling{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`))))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for a deferred event, got %d", rec.Code)
	}
}

func TestTeacherRoutesRequireTeacherToken(t *testing.T) {
	router, cfg := newTestRouter(t, &stubBilling{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/subscription/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscription/status", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.RoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/subscription/status", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.RoleTeacher))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for teacher, got %d", rec.Code)
	}
}

func TestAdminRoutesRejectTeacher(t *testing.T) {
	router, cfg := newTestRouter(t, &stubBilling{})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/beta", bytes.NewReader([]byte(`{"enabled":true}`)))
	req.Header.Set("Authorization", bearer(t, cfg, enums.RoleTeacher))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCashPaymentIsIdempotent(t *testing.T) {
	billing := &stubBilling{}
	router, cfg := newTestRouter(t, billing)
	token := bearer(t, cfg, enums.RoleTeacher)
	body := []byte(`{"period_id":"` + uuid.NewString() + `"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/cash", bytes.NewReader(body))
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key, got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/cash", bytes.NewReader(body))
		req.Header.Set("Authorization", token)
		req.Header.Set("Idempotency-Key", "cash-1")
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, rec.Code)
		}
	}
	if billing.cashCalls != 1 {
		t.Fatalf("expected replayed response, service ran %d times", billing.cashCalls)
	}
}

func TestCallbackPollingIsRateLimited(t *testing.T) {
	router, cfg := newTestRouter(t, &stubBilling{})
	token := bearer(t, cfg, enums.RoleTeacher)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/online/callback?gateway=stripe&reference=cs_1", nil)
		req.Header.Set("Authorization", token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the poll limit, got %d", last)
	}
}
