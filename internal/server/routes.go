package server

import (
	"github.com/gofiber/fiber/v2"

	"ratingsync/internal/core/ingest"
	"ratingsync/internal/health"
)

type Dependencies struct {
	Ingest *ingest.Handler
	// Checks are run by the health endpoint, keyed by component name.
	Checks map[string]health.Check
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(d.Checks)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	users := api.Group("/users/:username")
	users.Get("/:kind", d.Ingest.HandleRun)
	users.Get("/:kind/stream", d.Ingest.HandleStream)

	api.Post("/ingest", d.Ingest.HandleEnqueue)
	api.Get("/ingest/:jobId", d.Ingest.HandleStatus)
	api.Get("/ingest/:jobId/events", d.Ingest.HandleJobEvents)

	return healthHandler
}
