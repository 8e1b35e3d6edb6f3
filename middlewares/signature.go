package middlewares

import (
	"crypto/hmac"

	"backoffice/providers"

	"github.com/gofiber/fiber/v2"
)

// WebhookSignature checks X-Signature against the hex HMAC-SHA256 of the raw
// request body.
func WebhookSignature(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		signature := c.Get("X-Signature")
		if secret == "" || signature == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "SIGNATURE_REQUIRED",
			})
		}

		expected := providers.Sign(secret, c.Body())
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "INVALID_SIGNATURE",
			})
		}

		return c.Next()
	}
}
