package player

import (
	"backoffice/helpers"
	"backoffice/middlewares"

	"github.com/gofiber/fiber/v2"
)

type CreateOrderRequest struct {
	UserID      string `json:"user_id"`
	PackageCode string `json:"package_code"`
}

func (h *Handler) ListPaymentPackages(c *fiber.Ctx) error {
	pkgs, err := h.Payments.ListPackages(c.UserContext(), true)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Payment packages retrieved successfully", pkgs)
}

func (h *Handler) CreatePaymentOrder(c *fiber.Ctx) error {
	var req CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	if req.UserID == "" || req.PackageCode == "" {
		return helpers.JSONError(c, "USER_ID_AND_PACKAGE_CODE_REQUIRED")
	}
	order, err := h.Payments.CreateOrder(c.UserContext(), req.UserID, middlewares.CurrentServer(c).ID, req.PackageCode)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONCreated(c, "Payment order created successfully", order)
}
