package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tutorbill-backend/api/routes"
	"github.com/angelmondragon/tutorbill-backend/internal/accounts"
	"github.com/angelmondragon/tutorbill-backend/internal/batches"
	"github.com/angelmondragon/tutorbill-backend/internal/billing"
	"github.com/angelmondragon/tutorbill-backend/internal/dues"
	"github.com/angelmondragon/tutorbill-backend/internal/gateway"
	"github.com/angelmondragon/tutorbill-backend/internal/gateway/squaregw"
	"github.com/angelmondragon/tutorbill-backend/internal/gateway/stripegw"
	"github.com/angelmondragon/tutorbill-backend/internal/ledger"
	"github.com/angelmondragon/tutorbill-backend/internal/reconciler"
	"github.com/angelmondragon/tutorbill-backend/internal/subscriptions"
	"github.com/angelmondragon/tutorbill-backend/internal/webhooks"
	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/db"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
	"github.com/angelmondragon/tutorbill-backend/pkg/metrics"
	"github.com/angelmondragon/tutorbill-backend/pkg/migrate"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox"
	"github.com/angelmondragon/tutorbill-backend/pkg/redis"
	"github.com/angelmondragon/tutorbill-backend/pkg/square"
	"github.com/angelmondragon/tutorbill-backend/pkg/stripe"
)

const (
	webhookGuardScope = "webhook"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "load config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "bootstrap database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "run dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "bootstrap redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	accountRepo := accounts.NewRepository(conn)
	accountService, err := accounts.NewService(accounts.ServiceParams{
		Repo:              accountRepo,
		TransactionRunner: dbClient,
		GracePeriodDays:   cfg.Billing.GracePeriodDays,
	})
	requireResource(ctx, logg, "create accounts service", err)

	batchRepo := batches.NewRepository(conn)
	batchService, err := batches.NewService(batchRepo, nil)
	requireResource(ctx, logg, "create batches service", err)

	periodRepo := dues.NewRepository(conn)
	duesService, err := dues.NewService(dues.ServiceParams{
		Periods:  periodRepo,
		Accounts: accountRepo,
		Batches:  batchRepo,
		Logger:   logg,
	})
	requireResource(ctx, logg, "create dues service", err)

	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	requireResource(ctx, logg, "create ledger service", err)

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Accounts:          accountRepo,
		Periods:           periodRepo,
		Outbox:            emitter,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	requireResource(ctx, logg, "create subscription service", err)

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		Repo:              reconciler.NewRepository(conn),
		Ledger:            ledgerService,
		Subscriptions:     subscriptionService,
		Outbox:            emitter,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           metrics.NewReconcilerMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "create reconciler", err)

	providers, err := buildProviders(ctx, cfg, logg)
	requireResource(ctx, logg, "create payment providers", err)

	adapter, err := gateway.NewAdapter(gateway.AdapterParams{
		Ledger:    ledgerService,
		Providers: providers,
		Locker:    redisClient,
		Config:    cfg.Gateway,
		Logger:    logg,
		Metrics:   metrics.NewGatewayMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "create gateway adapter", err)

	guard, err := webhooks.NewGuard(redisClient, cfg.Webhooks.GuardTTL, webhookGuardScope)
	requireResource(ctx, logg, "create webhook guard", err)

	webhookService, err := webhooks.NewService(webhooks.ServiceParams{
		Parser:     adapter,
		Guard:      guard,
		Reconciler: reconcilerService,
		Logger:     logg,
	})
	requireResource(ctx, logg, "create webhook service", err)

	billingService, err := billing.NewService(billing.ServiceParams{
		Accounts:          accountService,
		Batches:           batchService,
		Dues:              duesService,
		Ledger:            ledgerService,
		Subscriptions:     subscriptionService,
		Links:             adapter,
		Reconciler:        reconcilerService,
		Outbox:            emitter,
		TransactionRunner: dbClient,
		Config:            cfg.Billing,
		Logger:            logg,
	})
	requireResource(ctx, logg, "create billing service", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Store:    redisClient,
			Billing:  billingService,
			Webhooks: webhookService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "api server stopped")
}

// buildProviders always registers Stripe. Square joins when the feature flag is on.
func buildProviders(ctx context.Context, cfg *config.Config, logg *logger.Logger) ([]gateway.Provider, error) {
	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, err
	}
	stripeProvider, err := stripegw.New(stripeClient, stripegw.Options{
		SuccessURL: cfg.Gateway.SuccessURL,
		CancelURL:  cfg.Gateway.CancelURL,
	})
	if err != nil {
		return nil, err
	}
	providers := []gateway.Provider{stripeProvider}

	if !cfg.FeatureFlags.EnableSquare {
		return providers, nil
	}
	squareClient, err := square.NewClient(ctx, cfg.Square, logg)
	if err != nil {
		return nil, err
	}
	squareProvider, err := squaregw.New(squareClient, squaregw.Options{RedirectURL: cfg.Gateway.SuccessURL})
	if err != nil {
		return nil, err
	}
	return append(providers, squareProvider), nil
}

func requireResource(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to "+step, err)
	os.Exit(1)
}
