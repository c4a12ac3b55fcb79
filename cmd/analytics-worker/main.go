package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketledger-backend/internal/consumers/analytics"
	"github.com/angelmondragon/marketledger-backend/pkg/bigquery"
	"github.com/angelmondragon/marketledger-backend/pkg/config"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/registry"
	"github.com/angelmondragon/marketledger-backend/pkg/pubsub"
	"github.com/angelmondragon/marketledger-backend/pkg/redis"
)

const serviceKind = "analytics-worker"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer closeQuietly(ctx, logg, "pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, analytics.LedgerFactsTable(cfg.BigQuery.LedgerFactTable))
	requireResource(ctx, logg, "bigquery client", err)
	defer closeQuietly(ctx, logg, "bigquery", bqClient.Close)

	subscription := pubsubClient.LedgerSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "ledger subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, analytics.ConsumerName, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	consumer, err := analytics.NewConsumer(bqClient, cfg.BigQuery.LedgerFactTable, registry.NewLedgerDecoderRegistry(), logg)
	requireResource(ctx, logg, "ledger facts consumer", err)

	worker, err := analytics.NewWorker(subscription, consumer, manager, logg)
	requireResource(ctx, logg, "analytics worker", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"table":       cfg.BigQuery.LedgerFactTable,
	})
	logg.Info(runCtx, "analytics worker ready")

	if err := worker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", err)
		os.Exit(1)
	}
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
