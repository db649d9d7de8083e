// Package api is the control REST API: interview creation and lookup plus the
// tokens that let clients and workers reach the relay and the backend.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/prepwise/voice-interview/internal/auth"
	"github.com/prepwise/voice-interview/internal/observability"
	"github.com/prepwise/voice-interview/internal/store"
)

const serviceName = "interview-api"

type Options struct {
	WorkerURL       string
	WorkerTokenTTL  time.Duration
	SessionTokenTTL time.Duration
	// Checks are reported by /ready.
	Checks []observability.DependencyCheck
}

func (o Options) withDefaults() Options {
	if o.WorkerTokenTTL <= 0 {
		o.WorkerTokenTTL = time.Hour
	}
	if o.SessionTokenTTL <= 0 {
		o.SessionTokenTTL = 15 * time.Minute
	}
	return o
}

// New builds the fiber app with all routes registered.
func New(st store.Store, issuer *auth.Issuer, opts Options) *fiber.App {
	opts = opts.withDefaults()

	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
	})
	app.Use(recover.New())
	app.Use(RequestLogger())

	app.Get("/health", adaptor.HTTPHandlerFunc(observability.HealthCheckHandler(serviceName)))
	app.Get("/ready", adaptor.HTTPHandlerFunc(observability.ReadinessHandler(serviceName, opts.Checks...)))

	v1 := app.Group("/api/v1")
	newInterviewController(st, issuer, opts).RegisterRoutes(v1)

	return app
}
