package player

import (
	"backoffice/helpers"
	"backoffice/middlewares"

	"github.com/gofiber/fiber/v2"
)

type RedeemRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id"`
}

func (h *Handler) RedeemGiftCode(c *fiber.Ctx) error {
	var req RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	if req.Code == "" || req.UserID == "" {
		return helpers.JSONError(c, "CODE_AND_USER_ID_REQUIRED")
	}

	server := middlewares.CurrentServer(c)
	result, err := h.Redemption.Redeem(c.UserContext(), req.Code, req.UserID, server.ID)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Gift code redeemed successfully", result)
}
