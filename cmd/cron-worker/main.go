package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/marketledger-backend/internal/cron"
	"github.com/angelmondragon/marketledger-backend/internal/platform"
	"github.com/angelmondragon/marketledger-backend/pkg/config"
	"github.com/angelmondragon/marketledger-backend/pkg/db"
	"github.com/angelmondragon/marketledger-backend/pkg/instance"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/metrics"
	"github.com/angelmondragon/marketledger-backend/pkg/migrate"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind
	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(reg)

	dbClient, err := db.New(ctx, cfg.DB, logg,
		db.WithRetryPolicy(db.RetryPolicy{MaxAttempts: cfg.Ledger.MaxTxAttempts, Base: cfg.Ledger.RetryBase}),
		db.WithRetryObserver(ledgerMetrics),
	)
	requireResource(ctx, logg, "database", err)
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	requireResource(ctx, logg, "cron lock", err)

	services, err := platform.Build(platform.Params{
		Config:  cfg,
		DB:      dbClient,
		Logger:  logg,
		Metrics: ledgerMetrics,
	})
	requireResource(ctx, logg, "services", err)

	registry, err := buildRegistry(cfg, logg, dbClient, services)
	requireResource(ctx, logg, "job registry", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Cron.Interval,
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.ID(),
	})

	stopMetrics := metrics.Serve(runCtx, cfg.Cron.MetricsAddr, reg, logg)
	defer stopMetrics()

	logg.Info(logg.WithField(runCtx, "jobs", len(registry.Jobs())), "cron worker ready")
	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "cron worker stopped")
}

// buildRegistry wires every scheduled job; a construction error names the job.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *platform.Services) (*cron.Registry, error) {
	builders := []struct {
		name  string
		build func() (cron.Job, error)
	}{
		{"payment timeout", func() (cron.Job, error) {
			return cron.NewPaymentTimeoutJob(cron.PaymentTimeoutJobParams{
				Logger:  logg,
				Orders:  services.Orders,
				Timeout: cfg.Cron.PaymentTimeout,
				Limit:   cfg.Cron.SettlementBatch,
			})
		}},
		{"pending settlement", func() (cron.Job, error) {
			return cron.NewPendingSettlementJob(cron.PendingSettlementJobParams{
				Logger:  logg,
				Payouts: services.Payouts,
				Limit:   cfg.Cron.SettlementBatch,
			})
		}},
		{"notification cleanup", func() (cron.Job, error) {
			return cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
				Logger:        logg,
				Notifications: services.Notifications,
				MaxAge:        cfg.Cron.NotificationMaxAge,
			})
		}},
		{"outbox retention", func() (cron.Job, error) {
			return cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
				Logger:              logg,
				DB:                  dbClient,
				Outbox:              outbox.NewRepository(dbClient.DB()),
				DeadLetters:         outbox.NewDLQRepository(dbClient.DB()),
				Retention:           cfg.Outbox.Retention,
				DeadLetterRetention: cfg.Outbox.DeadLetterRetention,
				TerminalAttempts:    cfg.Outbox.MaxAttempts,
			})
		}},
	}

	registry := cron.NewRegistry()
	for _, b := range builders {
		job, err := b.build()
		if err != nil {
			return nil, fmt.Errorf("%s job: %w", b.name, err)
		}
		registry.Register(job)
	}
	return registry, nil
}

// lockName scopes the cron lock to one environment.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return serviceKind + ":" + env
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "resource not working: "+resource, err)
	os.Exit(1)
}

func closeQuietly(ctx context.Context, logg *logger.Logger, resource string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "closing "+resource, err)
	}
}
