package server

import (
	"github.com/gofiber/fiber/v2"

	"discovery/internal/core/capture"
	"discovery/internal/core/run"
	"discovery/internal/core/seed"
	"discovery/internal/health"
	"discovery/internal/platform/redis"
)

type Dependencies struct {
	Runs     *run.Service
	Seeds    *seed.Store
	Captures *capture.Store
	Redis    *redis.Service
	LLM      health.LLM
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Redis, d.LLM)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	runHandler := run.NewHandler(d.Runs)
	api.Post("/runs", runHandler.HandleCreate)
	api.Get("/runs", runHandler.HandleList)
	api.Get("/runs/:id", runHandler.HandleGet)
	api.Post("/runs/:id/cancel", runHandler.HandleCancel)
	api.Post("/queries/preview", runHandler.HandlePreview)

	seedHandler := seed.NewHandler(d.Seeds)
	api.Get("/runs/:id/seeds", seedHandler.HandleListByRun)
	api.Get("/seeds", seedHandler.HandleList)
	api.Get("/seeds/:id", seedHandler.HandleGet)
	api.Post("/seeds/:id/review", seedHandler.HandleReview)

	captureHandler := capture.NewHandler(d.Captures)
	api.Get("/captures/:hash", captureHandler.HandleGet)
	api.Get("/captures/:hash/markdown", captureHandler.HandleMarkdown)

	return healthHandler
}
