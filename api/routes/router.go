package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sdelgadillo/membercore-backend/api/controllers"
	webhookcontrollers "github.com/sdelgadillo/membercore-backend/api/controllers/webhooks"
	"github.com/sdelgadillo/membercore-backend/api/middleware"
	"github.com/sdelgadillo/membercore-backend/internal/intents"
	"github.com/sdelgadillo/membercore-backend/internal/notifications"
	"github.com/sdelgadillo/membercore-backend/internal/reconciliation"
	squarewebhook "github.com/sdelgadillo/membercore-backend/internal/webhooks/square"
	"github.com/sdelgadillo/membercore-backend/pkg/auth/session"
	"github.com/sdelgadillo/membercore-backend/pkg/config"
	"github.com/sdelgadillo/membercore-backend/pkg/logger"
	"github.com/sdelgadillo/membercore-backend/pkg/redis"
	"github.com/sdelgadillo/membercore-backend/pkg/square"
)

type RouterParams struct {
	Config          *config.Config
	Logger          *logger.Logger
	Redis           *redis.Client
	Sessions        session.AccessSessionChecker
	Intents         intents.Service
	Reconciliation  reconciliation.Service
	Notifications   notifications.Service
	Square          *square.Client
	SquareWebhooks  *squarewebhook.Service
	SquareReplayGrd *squarewebhook.IdempotencyGuard
}

// NewRouter wires the HTTP surface: health probes, the webhook ingress, and
// the authenticated membership endpoints.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(params.SquareWebhooks, params.Square, params.SquareReplayGrd, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, params.Sessions, logg))
		if params.Redis != nil {
			r.Use(middleware.Idempotency(params.Redis, logg))
		}

		r.Route("/intents", func(r chi.Router) {
			r.Post("/", controllers.CreateIntent(params.Intents, logg))
			r.Get("/current", controllers.CurrentIntent(params.Intents, logg))
			r.Post("/{intentID}/cancel", controllers.CancelIntent(params.Intents, logg))
		})

		r.Route("/memberships", func(r chi.Router) {
			r.Post("/intents/{intentID}/reconcile", controllers.ReconcileIntent(params.Reconciliation, logg))
			r.Post("/recover", controllers.RecoverMembership(params.Reconciliation, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(params.Notifications, logg))
			r.Post("/{notificationID}/read", controllers.MarkNotificationRead(params.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(params.Notifications, logg))
		})
	})

	return r
}
