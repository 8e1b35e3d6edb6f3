package admin

import (
	"log"

	"backoffice/helpers"

	"github.com/gofiber/fiber/v2"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	if req.Username == "" || req.Password == "" {
		return helpers.JSONError(c, "USERNAME_AND_PASSWORD_REQUIRED")
	}

	result, err := h.Auth.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		log.Printf("⚠️ admin login failed for %s from %s", req.Username, c.IP())
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Login successful", result)
}
