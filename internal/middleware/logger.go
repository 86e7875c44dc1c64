package middleware

import (
	"time"

	"github.com/citynews/pulse/internal/logger"
	"github.com/gofiber/fiber/v2"
)

// RequestLogger logs every request through the global zerolog logger
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		event := logger.Get().Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Str("ip", c.IP()).
			Dur("latency", time.Since(start))
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("request")

		return err
	}
}

// ErrorHandler is the fiber app-level error handler
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	logger.Get().Error().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", code).
		Err(err).
		Msg("Request failed")

	return c.Status(code).JSON(fiber.Map{
		"error": "request failed",
	})
}
