package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tutorbill-backend/api/controllers"
	billingcontrollers "github.com/angelmondragon/tutorbill-backend/api/controllers/billing"
	webhookcontrollers "github.com/angelmondragon/tutorbill-backend/api/controllers/webhooks"
	"github.com/angelmondragon/tutorbill-backend/api/middleware"
	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
	"github.com/angelmondragon/tutorbill-backend/pkg/redis"
)

// BillingService is everything the billing controllers call. *billing.Service satisfies it.
type BillingService interface {
	billingcontrollers.TeacherService
	billingcontrollers.BatchService
	billingcontrollers.AdminService
}

// KeyValueStore backs idempotent replays and rate limiting. *redis.Client satisfies it.
type KeyValueStore interface {
	redis.IdempotencyStore
	redis.Pinger
	middleware.RateLimiter
}

type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Store    KeyValueStore
	Billing  BillingService
	Webhooks webhookcontrollers.Receiver
	Gatherer prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    params.DB,
			"redis": pingerOrNil(params.Store),
		}, logg))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	svc := params.Billing
	store := idempotencyStore(params.Store)
	idempotent := middleware.Idempotency(store, cfg.App.IdempotencyTTL, logg)
	moneyIdempotent := middleware.Idempotency(store, cfg.App.MoneyIdempotencyTTL, logg)
	callbackLimit := middleware.RateLimit(limiter(params.Store), "payment-callback", cfg.App.CallbackPollLimit, cfg.App.CallbackPollWindow, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/{gateway}", webhookcontrollers.GatewayWebhook(params.Webhooks, cfg.Webhooks.MaxBodyBytes, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(logg, enums.RoleTeacher))

			r.Get("/subscription/status", billingcontrollers.SubscriptionStatus(svc, logg))

			r.With(idempotent).Post("/payments/online/initiate", billingcontrollers.InitiateOnlinePayment(svc, logg))
			r.With(callbackLimit).Get("/payments/online/callback", billingcontrollers.PaymentCallback(svc, logg))
			r.With(moneyIdempotent).Post("/payments/cash", billingcontrollers.RecordCashPayment(svc, logg))

			r.With(idempotent).Post("/batches", billingcontrollers.CreateBatch(svc, logg))
			r.Get("/batches/{batchId}/due-payments", billingcontrollers.DuePayments(svc, logg))
			r.Get("/batches/{batchId}/materials/upload-access", billingcontrollers.UploadAccess(svc, logg))
			r.Post("/batches/{batchId}/students", billingcontrollers.EnrollStudent(svc, logg))
			r.Get("/batches/{batchId}/students/{studentId}/material-access", billingcontrollers.MaterialAccess(svc, logg))
			r.Put("/batches/{batchId}/students/{studentId}/material-block", billingcontrollers.SetMaterialBlock(svc, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))

			r.Put("/admin/beta", billingcontrollers.AdminSetBeta(svc, logg))
			r.Get("/admin/webhook-events", billingcontrollers.AdminWebhookEvents(svc, logg))
			r.With(moneyIdempotent).Post("/admin/billing-periods/{periodId}/waive", billingcontrollers.AdminWaivePeriod(svc, logg))
		})
	})

	return r
}

// Typed nils must not leak into the middleware nil checks.
func idempotencyStore(store KeyValueStore) redis.IdempotencyStore {
	if store == nil {
		return nil
	}
	return store
}

func limiter(store KeyValueStore) middleware.RateLimiter {
	if store == nil {
		return nil
	}
	return store
}

func pingerOrNil(store KeyValueStore) controllers.Pinger {
	if store == nil {
		return nil
	}
	return store
}
