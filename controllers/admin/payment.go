package admin

import (
	"backoffice/helpers"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) CreatePaymentPackage(c *fiber.Ctx) error {
	var req services.PackageInput
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	pkg, err := h.Payments.CreatePackage(c.UserContext(), req)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONCreated(c, "Payment package created successfully", pkg)
}

func (h *Handler) ListPaymentPackages(c *fiber.Ctx) error {
	pkgs, err := h.Payments.ListPackages(c.UserContext(), false)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Payment packages retrieved successfully", pkgs)
}
