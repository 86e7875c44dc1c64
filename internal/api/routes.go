package api

import (
	"github.com/citynews/pulse/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

// Register mounts all routes on the app. The trigger endpoint sits behind
// bearer auth; the read endpoints are public.
func Register(app *fiber.App, h *Handlers, triggerSecret string) {
	v1 := app.Group("/api/v1")

	v1.Get("/health", h.Health)
	v1.Get("/stats", h.GetStats)
	v1.Get("/clusters", h.ListClusters)
	v1.Get("/clusters/:slug", h.GetCluster)

	v1.Post("/pipeline/run", middleware.BearerAuth(triggerSecret), h.TriggerRun)
}
