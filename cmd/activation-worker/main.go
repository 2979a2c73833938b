package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sdelgadillo/membercore-backend/internal/activation"
	"github.com/sdelgadillo/membercore-backend/internal/audit"
	"github.com/sdelgadillo/membercore-backend/internal/memberships"
	"github.com/sdelgadillo/membercore-backend/internal/notifications"
	"github.com/sdelgadillo/membercore-backend/internal/profiles"
	"github.com/sdelgadillo/membercore-backend/pkg/bigquery"
	"github.com/sdelgadillo/membercore-backend/pkg/config"
	"github.com/sdelgadillo/membercore-backend/pkg/db"
	"github.com/sdelgadillo/membercore-backend/pkg/instance"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox/idempotency"
	"github.com/sdelgadillo/membercore-backend/pkg/pubsub"
	"github.com/sdelgadillo/membercore-backend/pkg/redis"
)

type runnable interface {
	Run(ctx context.Context) error
}

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "activation-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "activation-worker"

	logg = logger.New(logger.Options{
		ServiceName: "activation-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub client", err)
		}
	}()

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	retrySubscription := pubsubClient.MembershipSubscription()
	if retrySubscription == nil {
		requireResource(ctx, logg, "membership subscription", errors.New("subscription not configured"))
	}

	retryConsumer, err := activation.NewRetryConsumer(activation.RetryConsumerParams{
		Memberships:  memberships.NewRepository(dbClient.DB()),
		Profiles:     profiles.NewRepository(dbClient.DB()),
		Subscription: retrySubscription,
		Idempotency:  manager,
		Logger:       logg,
	})
	requireResource(ctx, logg, "activation retry consumer", err)

	consumers := []runnable{retryConsumer}

	if strings.TrimSpace(cfg.PubSub.NotificationSubscription) != "" {
		var mailer notifications.Mailer
		if strings.TrimSpace(cfg.Sendgrid.APIKey) != "" {
			sendgridMailer, err := notifications.NewSendgridMailer(cfg.Sendgrid, logg)
			requireResource(ctx, logg, "sendgrid mailer", err)
			mailer = sendgridMailer
		}

		notificationsService, err := notifications.NewService(notifications.ServiceParams{
			Repo:       notifications.NewRepository(dbClient.DB()),
			Mailer:     mailer,
			AdminEmail: cfg.Sendgrid.AdminEmail,
			Logger:     logg,
		})
		requireResource(ctx, logg, "notifications service", err)

		notificationConsumer, err := notifications.NewConsumer(
			notificationsService,
			pubsubClient.NotificationSubscription(),
			manager,
			logg,
		)
		requireResource(ctx, logg, "notification consumer", err)
		consumers = append(consumers, notificationConsumer)
	} else {
		logg.Warn(ctx, "notification subscription not configured, delivery consumer disabled")
	}

	if strings.TrimSpace(cfg.PubSub.AuditSubscription) != "" {
		bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		requireResource(ctx, logg, "bigquery client", err)
		defer func() {
			if err := bqClient.Close(); err != nil {
				logg.Error(ctx, "error closing bigquery client", err)
			}
		}()

		exporter, err := audit.NewExporter(audit.ExporterParams{
			Subscription: pubsubClient.AuditSubscription(),
			Warehouse:    bqClient,
			Table:        cfg.BigQuery.AuditLogsTable,
			Manager:      manager,
			Logger:       logg,
		})
		requireResource(ctx, logg, "audit exporter", err)
		consumers = append(consumers, exporter)
	} else {
		logg.Warn(ctx, "audit subscription not configured, warehouse export disabled")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"consumers":   len(consumers),
	})
	logg.Info(runCtx, "activation worker ready")

	group, groupCtx := errgroup.WithContext(runCtx)
	for _, consumer := range consumers {
		consumer := consumer
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "activation worker failed", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "activation worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
