package admin

import (
	"backoffice/helpers"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RegisterServerRequest struct {
	Name                    string           `json:"name"`
	ServerCode              string           `json:"server_code"`
	ContributionRatePercent *decimal.Decimal `json:"contribution_rate_percent"`
}

func (h *Handler) RegisterServer(c *fiber.Ctx) error {
	var req RegisterServerRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	if req.Name == "" {
		return helpers.JSONError(c, "NAME_REQUIRED")
	}
	if req.ServerCode == "" {
		req.ServerCode = helpers.GenerateServerCode()
	}

	server, setting, err := h.Servers.Register(c.UserContext(), services.ServerInput{
		Name:                    req.Name,
		ServerCode:              req.ServerCode,
		SecretKey:               uuid.New().String(),
		ContributionRatePercent: req.ContributionRatePercent,
	})
	if err != nil {
		return helpers.JSONFail(c, err)
	}

	// the secret is only ever shown here
	return helpers.JSONCreated(c, "Server registered successfully", fiber.Map{
		"id":           server.ID,
		"name":         server.Name,
		"server_code":  server.ServerCode,
		"secret_key":   server.SecretKey,
		"prize_config": setting,
	})
}

func (h *Handler) ListServers(c *fiber.Ctx) error {
	servers, err := h.Servers.List(c.UserContext())
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Servers retrieved successfully", servers)
}
