package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sdelgadillo/membercore-backend/api/routes"
	"github.com/sdelgadillo/membercore-backend/internal/activation"
	"github.com/sdelgadillo/membercore-backend/internal/audit"
	"github.com/sdelgadillo/membercore-backend/internal/fraud"
	"github.com/sdelgadillo/membercore-backend/internal/intents"
	"github.com/sdelgadillo/membercore-backend/internal/memberships"
	"github.com/sdelgadillo/membercore-backend/internal/notifications"
	"github.com/sdelgadillo/membercore-backend/internal/profiles"
	"github.com/sdelgadillo/membercore-backend/internal/reconciliation"
	squarewebhook "github.com/sdelgadillo/membercore-backend/internal/webhooks/square"
	"github.com/sdelgadillo/membercore-backend/pkg/auth/session"
	"github.com/sdelgadillo/membercore-backend/pkg/config"
	"github.com/sdelgadillo/membercore-backend/pkg/db"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/migrate"
	"github.com/sdelgadillo/membercore-backend/pkg/outbox"
	"github.com/sdelgadillo/membercore-backend/pkg/redis"
	"github.com/sdelgadillo/membercore-backend/pkg/square"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(ctx, "failed to create session manager", err)
		os.Exit(1)
	}

	squareClient, err := square.NewClient(ctx, cfg.Square, logg)
	if err != nil {
		logg.Error(ctx, "failed to create square client", err)
		os.Exit(1)
	}

	intentsRepo := intents.NewRepository(dbClient.DB())
	profilesRepo := profiles.NewRepository(dbClient.DB())
	membershipsRepo := memberships.NewRepository(dbClient.DB())
	notificationsRepo := notifications.NewRepository(dbClient.DB())
	fraudRepo := fraud.NewRepository(dbClient.DB())

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	auditRecorder, err := audit.NewRecorder(audit.RecorderParams{
		DB:     dbClient,
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create audit recorder", err)
		os.Exit(1)
	}

	var mailer notifications.Mailer
	if strings.TrimSpace(cfg.Sendgrid.APIKey) != "" {
		sendgridMailer, err := notifications.NewSendgridMailer(cfg.Sendgrid, logg)
		if err != nil {
			logg.Error(ctx, "failed to create sendgrid mailer", err)
			os.Exit(1)
		}
		mailer = sendgridMailer
	} else {
		logg.Warn(ctx, "sendgrid api key not configured, email delivery disabled")
	}

	notificationsService, err := notifications.NewService(notifications.ServiceParams{
		Repo:       notificationsRepo,
		Mailer:     mailer,
		AdminEmail: cfg.Sendgrid.AdminEmail,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create notifications service", err)
		os.Exit(1)
	}

	fraudService, err := fraud.NewService(fraud.ServiceParams{
		Memberships: membershipsRepo,
		Intents:     intentsRepo,
		Profiles:    profilesRepo,
		Repo:        fraudRepo,
		Config:      cfg.Fraud,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create fraud service", err)
		os.Exit(1)
	}

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
	if err != nil {
		logg.Error(ctx, "failed to create activation orchestrator", err)
		os.Exit(1)
	}

	webhookService, err := squarewebhook.NewService(squarewebhook.ServiceParams{
		DB:           dbClient,
		Intents:      intentsRepo,
		Memberships:  membershipsRepo,
		Profiles:     profilesRepo,
		Fraud:        fraudService,
		Orchestrator: orchestrator,
		Outbox:       outboxService,
		Notifier:     notificationsService,
		Square:       squareClient,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create square webhook service", err)
		os.Exit(1)
	}

	replayGuard, err := squarewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookReplayTTL, "square-webhook")
	if err != nil {
		logg.Error(ctx, "failed to create webhook replay guard", err)
		os.Exit(1)
	}

	intentsService, err := intents.NewService(intents.ServiceParams{
		Repo:   intentsRepo,
		Logger: logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create intents service", err)
		os.Exit(1)
	}

	reconciliationService, err := reconciliation.NewService(reconciliation.ServiceParams{
		Intents:      intentsRepo,
		Profiles:     profilesRepo,
		Memberships:  membershipsRepo,
		Orchestrator: orchestrator,
		Square:       squareClient,
		Config:       cfg.Reconcile,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reconciliation service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(runCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:          cfg,
			Logger:          logg,
			Redis:           redisClient,
			Sessions:        sessionManager,
			Intents:         intentsService,
			Reconciliation:  reconciliationService,
			Notifications:   notificationsService,
			Square:          squareClient,
			SquareWebhooks:  webhookService,
			SquareReplayGrd: replayGuard,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(runCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
