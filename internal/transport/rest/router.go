package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/ticket-payments/api"
	"github.com/frahmantamala/ticket-payments/internal"
	"github.com/frahmantamala/ticket-payments/internal/auth"
	"github.com/frahmantamala/ticket-payments/internal/payment"
	"github.com/frahmantamala/ticket-payments/internal/transport/middleware"
	"github.com/frahmantamala/ticket-payments/internal/transport/swagger"
	"github.com/frahmantamala/ticket-payments/internal/user"
)

// Routes collects the handlers mounted by RegisterAllRoutes. Nil handlers are
// left unmounted.
type Routes struct {
	Health         *HealthHandler
	Auth           *auth.Handler
	User           *user.Handler
	Payment        *payment.Handler
	Webhook        *payment.WebhookHandler
	Metrics        http.Handler
	MetricsPath    string
	AllowedOrigins string
	RequestLogging bool
}

func RegisterAllRoutes(router *chi.Mux, routes Routes, logger *slog.Logger) {
	router.Use(middleware.CORS(routes.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	metricsPath := routes.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if routes.RequestLogging {
		router.Use(middleware.LoggingMiddleware(logger, metricsPath, "/api/v1/health", "/api/v1/ping"))
	}

	router.Method(http.MethodGet, "/openapi.yml", api.Handler())
	router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))

	if routes.Metrics != nil {
		router.Method(http.MethodGet, metricsPath, routes.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		if routes.Health != nil {
			r.Get("/health", routes.Health.healthCheckHandler)
			r.Get("/ping", routes.Health.pingHandler)
		}

		// Gateway-facing routes carry no bearer token.
		if routes.Payment != nil {
			r.Get("/payments/callback", routes.Payment.Callback)
		}
		if routes.Webhook != nil {
			r.Post("/payments/webhook", routes.Webhook.HandleWebhook)
		}

		if routes.Auth == nil {
			return
		}

		r.Route("/auth", func(sr chi.Router) {
			sr.Post("/login", routes.Auth.Login)
			sr.Post("/refresh", routes.Auth.RefreshToken)
			sr.Post("/logout", routes.Auth.Logout)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(routes.Auth.AuthMiddleware)
			pr.Use(middleware.UserContext)

			if routes.User != nil {
				pr.Get("/users/me", routes.User.GetCurrentUser)
			}

			if routes.Payment == nil {
				return
			}

			pr.Route("/payments", func(pmr chi.Router) {
				pmr.Get("/", routes.Payment.List)
				pmr.Get("/mine", routes.Payment.Mine)
				pmr.Post("/initialize", routes.Payment.Initialize)
				pmr.Post("/verify", routes.Payment.Verify)
				pmr.Get("/{id}", routes.Payment.Get)
				pmr.Post("/{id}/cancel", routes.Payment.Cancel)

				pmr.Group(func(ar chi.Router) {
					ar.Use(middleware.RequireRoles(internal.RoleAdmin))
					ar.Get("/dashboard", routes.Payment.Dashboard)
					ar.Get("/{id}/logs", routes.Payment.Logs)
					ar.Post("/{id}/refund", routes.Payment.Refund)
				})
			})
		})
	})
}
