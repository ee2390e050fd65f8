package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/incident-sync/internal/api/http/handlers"
	"github.com/spec-kit/incident-sync/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Incidents      *handlers.IncidentsHandler
	Webhook        *handlers.WebhookHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/users/register", cfg.Users.Register)
	authGroup.Post("/users/login", cfg.Users.Login)

	// webhook callers authenticate with an HMAC signature, not a bearer token
	app.Post("/webhooks/ticket", cfg.Webhook.Handle)

	incidents := app.Group("/incidents", cfg.AuthMiddleware.Handle)
	incidents.Post("/", cfg.Incidents.Declare)
	incidents.Get("/", cfg.Incidents.List)
	incidents.Get("/:id", cfg.Incidents.Get)
	incidents.Patch("/:id", cfg.Incidents.Update)
	incidents.Post("/:id/close", cfg.Incidents.Close)
	incidents.Get("/:id/can-close", cfg.Incidents.CanClose)
	incidents.Post("/:id/roles", cfg.Incidents.AssignRole)
	incidents.Post("/:id/resync", cfg.Incidents.Resync)
}
