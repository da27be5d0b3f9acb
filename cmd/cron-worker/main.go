package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tutorbill-backend/internal/accounts"
	"github.com/angelmondragon/tutorbill-backend/internal/batches"
	"github.com/angelmondragon/tutorbill-backend/internal/cron"
	"github.com/angelmondragon/tutorbill-backend/internal/dues"
	"github.com/angelmondragon/tutorbill-backend/internal/ledger"
	"github.com/angelmondragon/tutorbill-backend/internal/reconciler"
	"github.com/angelmondragon/tutorbill-backend/internal/subscriptions"
	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/db"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
	"github.com/angelmondragon/tutorbill-backend/pkg/metrics"
	"github.com/angelmondragon/tutorbill-backend/pkg/migrate"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox"
	"github.com/angelmondragon/tutorbill-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		os.Exit(1)
	}

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := cron.NewRedisLock(redisClient, "cycle-"+env, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildRegistry wires period generation, access refresh, webhook retry and outbox
// retention against the same services the api uses.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	accountRepo := accounts.NewRepository(conn)
	periodRepo := dues.NewRepository(conn)
	duesService, err := dues.NewService(dues.ServiceParams{
		Periods:  periodRepo,
		Accounts: accountRepo,
		Batches:  batches.NewRepository(conn),
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Accounts:          accountRepo,
		Periods:           periodRepo,
		Outbox:            emitter,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return nil, err
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
	}

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		Repo:              reconciler.NewRepository(conn),
		Ledger:            ledgerService,
		Subscriptions:     subscriptionService,
		Outbox:            emitter,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           metrics.NewReconcilerMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return nil, err
	}

	accountParams := cron.AccountJobParams{
		Logger:        logg,
		Accounts:      accountRepo,
		Dues:          duesService,
		Subscriptions: subscriptionService,
	}
	periodJob, err := cron.NewBillingPeriodJob(accountParams)
	if err != nil {
		return nil, err
	}
	accessJob, err := cron.NewAccessRefreshJob(accountParams)
	if err != nil {
		return nil, err
	}
	retryJob, err := cron.NewWebhookRetryJob(cron.WebhookRetryJobParams{
		Logger:       logg,
		Reconciler:   reconcilerService,
		Batch:        cfg.Webhooks.RetryBatch,
		MinAge:       cfg.Webhooks.RetryMinAge,
		ReviewWindow: cfg.Webhooks.ReviewWindow,
		MaxAttempts:  cfg.Webhooks.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		Events:       outbox.NewRepository(conn),
		DLQ:          outbox.NewDLQRepository(conn),
		Retention:    cfg.Outbox.Retention,
		DLQRetention: cfg.Outbox.DLQRetention,
		DeadAttempts: cfg.Outbox.MaxAttempts,
		BatchSize:    cfg.Outbox.PruneBatch,
	})
	if err != nil {
		return nil, err
	}

	// Periods must exist before the access refresh reads them.
	return cron.NewRegistry(periodJob, accessJob, retryJob, retentionJob), nil
}
