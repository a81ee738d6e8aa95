package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/theteta-ops/controltower-backend/internal/utils"
)

// ValidateWebhookToken validates the shared webhook token, accepted either
// as the X-Webhook-Token header or a token query parameter. An empty
// expected token means the webhook surface is not configured at all.
func ValidateWebhookToken(expected string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if expected == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Webhook token is not configured",
			})
		}

		provided := c.Get("X-Webhook-Token")
		if provided == "" {
			provided = c.Query("token")
		}
		if provided == "" || !utils.SecureCompare(provided, expected) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid webhook token",
			})
		}

		return c.Next()
	}
}
