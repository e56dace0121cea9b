package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gradeflow-api/internal/config"
	"github.com/noah-isme/gradeflow-api/internal/handler"
	"github.com/noah-isme/gradeflow-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssignmentHandler *handler.AssignmentHandler
	GuideHandler      *handler.GuideHandler
	SubmissionHandler *handler.SubmissionHandler
	JobHandler        *handler.JobHandler
	ExportHandler     *handler.ExportHandler
	JWTMiddleware     fiber.Handler
	QueueMode         string
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.QueueMode))
	api.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	assignments := api.Group("/assignments", jwtMiddleware)
	guides := api.Group("/guides", jwtMiddleware)
	submissions := api.Group("/submissions", jwtMiddleware)
	jobs := api.Group("/jobs", jwtMiddleware)

	if deps.AssignmentHandler != nil {
		deps.AssignmentHandler.Register(assignments)
	}
	if deps.GuideHandler != nil {
		deps.GuideHandler.Register(assignments, guides)
	}
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(assignments, submissions)
	}
	if deps.JobHandler != nil {
		deps.JobHandler.Register(jobs, assignments, submissions)
	}
	if deps.ExportHandler != nil {
		deps.ExportHandler.Register(assignments)
	}
}
