package middlewares

import (
	"strings"

	"backoffice/helpers"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
)

func AdminAuth(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			return helpers.JSONFail(c, &services.Error{Kind: services.KindUnauthorized, Reason: "BEARER_TOKEN_REQUIRED"})
		}
		claims, err := auth.ParseToken(token)
		if err != nil {
			return helpers.JSONFail(c, err)
		}
		c.Locals("admin_id", claims.AdminID)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}

func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(string)
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return helpers.JSONFail(c, &services.Error{Kind: services.KindForbidden, Reason: "INSUFFICIENT_ROLE"})
	}
}

func AdminID(c *fiber.Ctx) uint {
	id, _ := c.Locals("admin_id").(uint)
	return id
}
