package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sdelgadillo/membercore-backend/internal/activation"
	"github.com/sdelgadillo/membercore-backend/internal/audit"
	"github.com/sdelgadillo/membercore-backend/internal/cron"
	"github.com/sdelgadillo/membercore-backend/internal/intents"
	"github.com/sdelgadillo/membercore-backend/internal/memberships"
	"github.com/sdelgadillo/membercore-backend/internal/notifications"
	"github.com/sdelgadillo/membercore-backend/internal/profiles"
	"github.com/sdelgadillo/membercore-backend/internal/reconciliation"
	"github.com/sdelgadillo/membercore-backend/pkg/config"
	"github.com/sdelgadillo/membercore-backend/pkg/db"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/metrics"
	"github.com/sdelgadillo/membercore-backend/pkg/migrate"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox"
	"github.com/sdelgadillo/membercore-backend/pkg/redis"
	"github.com/sdelgadillo/membercore-backend/pkg/square"
)

const lockKeyFormat = "mc:reconcile-worker:lock:%s"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "reconcile-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "reconcile-worker"

	logg = logger.New(logger.Options{
		ServiceName: "reconcile-worker",
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

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	squareClient, err := square.NewClient(ctx, cfg.Square, logg)
	requireResource(ctx, logg, "square client", err)

	intentsRepo := intents.NewRepository(dbClient.DB())
	profilesRepo := profiles.NewRepository(dbClient.DB())
	membershipsRepo := memberships.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	auditRecorder, err := audit.NewRecorder(audit.RecorderParams{
		DB:     dbClient,
		Outbox: outboxService,
		Logger: logg,
	})
	requireResource(ctx, logg, "audit recorder", err)

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

	orchestrator, err := activation.NewOrchestrator(activation.OrchestratorParams{
		DB:          dbClient,
		Intents:     intentsRepo,
		Profiles:    profilesRepo,
		Memberships: membershipsRepo,
		Outbox:      outboxService,
		Notifier:    notificationsService,
		Audit:       auditRecorder,
		AdminEmail:  cfg.Sendgrid.AdminEmail,
		Logger:      logg,
	})
	requireResource(ctx, logg, "activation orchestrator", err)

	reconcileMetrics := metrics.NewReconcileMetrics(prometheus.DefaultRegisterer)
	reconciliationService, err := reconciliation.NewService(reconciliation.ServiceParams{
		Intents:      intentsRepo,
		Profiles:     profilesRepo,
		Memberships:  membershipsRepo,
		Orchestrator: orchestrator,
		Square:       squareClient,
		Metrics:      reconcileMetrics,
		Config:       cfg.Reconcile,
		Logger:       logg,
	})
	requireResource(ctx, logg, "reconciliation service", err)

	reconcileJob, err := cron.NewReconcileJob(cron.ReconcileJobParams{
		Logger:  logg,
		Sweeper: reconciliationService,
	})
	requireResource(ctx, logg, "reconcile job", err)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	requireResource(ctx, logg, "outbox retention job", err)

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	requireResource(ctx, logg, "reconcile lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(reconcileJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Reconcile.SweepInterval,
	})
	requireResource(ctx, logg, "reconcile worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "starting reconcile worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "reconcile worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "reconcile worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
