package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/citynews/pulse/internal/logger"
	"github.com/gofiber/fiber/v2"
)

// BearerAuth guards the trigger endpoint with a shared secret. Every
// mismatch gets the same generic response; no detail leaks to the caller.
func BearerAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if authHeader == "" || token == authHeader ||
			subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.Get().Warn().
				Str("method", c.Method()).
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Msg("Unauthorized trigger attempt")

			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		return c.Next()
	}
}
