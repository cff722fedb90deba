package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/design-quality-api/internal/config"
	"github.com/noah-isme/design-quality-api/internal/handler"
	"github.com/noah-isme/design-quality-api/internal/middleware"
	"github.com/noah-isme/design-quality-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ExecutionHandler    *handler.ExecutionHandler
	PromptHandler       *handler.PromptHandler
	DatasetHandler      *handler.DatasetHandler
	OptimizationHandler *handler.OptimizationHandler
	JWTMiddleware       fiber.Handler
	// AdminGuards run before every mutating prompt, dataset and optimization route.
	AdminGuards []fiber.Handler
	// OptimizeLimiter additionally throttles optimization runs and applies.
	OptimizeLimiter fiber.Handler
	Logger          zerolog.Logger
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get(observability.MetricsPath, observability.MetricsHandler(deps.Logger))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	quality := app.Group(middleware.QualityPathPrefix, jwtMiddleware)

	if deps.ExecutionHandler != nil {
		deps.ExecutionHandler.Register(quality)
	}

	if deps.PromptHandler != nil {
		deps.PromptHandler.Register(quality.Group("/prompts"), deps.AdminGuards...)
	}

	if deps.DatasetHandler != nil {
		deps.DatasetHandler.Register(quality.Group("/datasets"), deps.AdminGuards...)
	}

	if deps.OptimizationHandler != nil {
		guards := append([]fiber.Handler{}, deps.AdminGuards...)
		if deps.OptimizeLimiter != nil {
			guards = append(guards, deps.OptimizeLimiter)
		}
		deps.OptimizationHandler.Register(quality.Group("/optimizations"), guards...)
	}
}
