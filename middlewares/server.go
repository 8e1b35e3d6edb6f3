package middlewares

import (
	"backoffice/helpers"
	"backoffice/models"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
)

// ServerAuth admits game servers by their X-Server-Code / X-Secret-Key pair.
func ServerAuth(servers *services.ServerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		server, err := servers.Authenticate(c.UserContext(), c.Get("X-Server-Code"), c.Get("X-Secret-Key"))
		if err != nil {
			return helpers.JSONFail(c, err)
		}
		c.Locals("server", server)
		return c.Next()
	}
}

func CurrentServer(c *fiber.Ctx) *models.GameServer {
	server, _ := c.Locals("server").(*models.GameServer)
	return server
}
