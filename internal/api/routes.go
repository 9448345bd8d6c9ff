package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRoutes(app *fiber.App, h *Handler) {
	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Documentation
	docs := app.Group("/api-docs")
	docs.Get("/json", h.GetDocJSON)
	docs.Get("/html", h.GetDocHTML)
	docs.Get("/status", h.Status)
	docs.Get("/endpoints", h.ListEndpoints)
	docs.Post("/refresh", h.Refresh)
	docs.Get("/:repo/*", h.GetDocByPath)

	// Working copies
	app.Post("/clone", h.Clone)
	app.Post("/git/clone", h.Clone)
}

// AccessLog logs method, path, status code and duration for every request.
func AccessLog(logger *zap.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		logger.Info("http",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.String("remote", c.IP()),
			zap.Duration("duration", time.Since(start)))
		return err
	}
}
