package player

import (
	"backoffice/helpers"
	"backoffice/middlewares"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) PrizeSummary(c *fiber.Ctx) error {
	summary, err := h.Prize.ComputeSummary(c.UserContext(), middlewares.CurrentServer(c).ID)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Prize summary retrieved successfully", summary)
}
