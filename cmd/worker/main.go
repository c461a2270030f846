package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bytefrontng/bytefront-backend/internal/analytics"
	"github.com/bytefrontng/bytefront-backend/internal/notifications"
	"github.com/bytefrontng/bytefront-backend/internal/users"
	"github.com/bytefrontng/bytefront-backend/pkg/bigquery"
	"github.com/bytefrontng/bytefront-backend/pkg/config"
	"github.com/bytefrontng/bytefront-backend/pkg/db"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/mailer"
	"github.com/bytefrontng/bytefront-backend/pkg/metrics"
	"github.com/bytefrontng/bytefront-backend/pkg/migrate"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox/idempotency"
	"github.com/bytefrontng/bytefront-backend/pkg/pubsub"
	"github.com/bytefrontng/bytefront-backend/pkg/redis"
)

const idempotencyTTL = 72 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
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
			logg.Error(ctx, "error closing redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub client", err)
		}
	}()

	bigqueryClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bigqueryClient.Close(); err != nil {
			logg.Error(ctx, "error closing bigquery client", err)
		}
	}()

	idempotencyManager, err := idempotency.NewManager(redisClient, idempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}

	workerMetrics := metrics.NewWorkerMetrics(prometheus.DefaultRegisterer)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	publisherFor := func(topic string) publisher {
		switch topic {
		case topicOrders:
			return gcpPublisher{pub: pubsubClient.OrdersPublisher()}
		case topicAnalytics:
			return gcpPublisher{pub: pubsubClient.AnalyticsPublisher()}
		default:
			return nil
		}
	}
	outboxPublisher, err := NewPublisher(cfg.Outbox, logg, outboxRepo, publisherFor, workerMetrics)
	if err != nil {
		logg.Error(ctx, "failed to create outbox publisher", err)
		os.Exit(1)
	}

	notificationConsumer, err := notifications.NewConsumer(
		notifications.NewRepository(dbClient.DB()),
		users.NewRepository(dbClient.DB()),
		mailer.NewSendgrid(cfg.Sendgrid, logg),
		pubsubClient.OrdersSubscription(),
		idempotencyManager,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create notification consumer", err)
		os.Exit(1)
	}

	analyticsConsumer, err := analytics.NewConsumer(
		bigqueryClient,
		cfg.BigQuery.StorefrontEventsTable,
		idempotencyManager,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create analytics consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:               cfg,
		Logger:               logg,
		DB:                   dbClient,
		Redis:                redisClient,
		PubSub:               pubsubClient,
		BigQuery:             bigqueryClient,
		Publisher:            outboxPublisher,
		NotificationConsumer: notificationConsumer,
		AnalyticsConsumer:    analyticsConsumer,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instanceID(),
	})
	logg.Info(runCtx, "starting worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "worker shutting down gracefully")
}

func instanceID() string {
	if dyno := os.Getenv("DYNO"); dyno != "" {
		return dyno
	}
	host, err := os.Hostname()
	if err != nil {
		return "worker-0"
	}
	return host
}
