package admin

import (
	"strconv"

	"backoffice/helpers"
	"backoffice/middlewares"
	"backoffice/models"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) CreateShopItem(c *fiber.Ctx) error {
	var req services.ShopItemInput
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	item, err := h.Shop.CreateItem(c.UserContext(), req)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONCreated(c, "Shop item created successfully", item)
}

func (h *Handler) ListShopItems(c *fiber.Ctx) error {
	items, err := h.Shop.ListItems(c.UserContext(), c.QueryBool("active_only", false))
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Shop items retrieved successfully", items)
}

func (h *Handler) UpdateShopItem(c *fiber.Ctx) error {
	id, ok := helpers.ParamUint(c, "id")
	if !ok {
		return helpers.JSONError(c, "INVALID_ITEM_ID")
	}
	var req services.ShopItemPatch
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	item, err := h.Shop.UpdateItem(c.UserContext(), id, req)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Shop item updated successfully", item)
}

func (h *Handler) DeactivateShopItem(c *fiber.Ctx) error {
	id, ok := helpers.ParamUint(c, "id")
	if !ok {
		return helpers.JSONError(c, "INVALID_ITEM_ID")
	}
	item, err := h.Shop.DeactivateItem(c.UserContext(), id)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Shop item deactivated successfully", item)
}

func (h *Handler) ListPurchases(c *fiber.Ctx) error {
	limit, offset, ok := helpers.Pagination(c)
	if !ok {
		return helpers.JSONError(c, "INVALID_PAGINATION")
	}
	filter := services.PurchaseFilter{
		UserID: c.Query("user_id"),
		Status: models.PurchaseStatus(c.Query("status")),
	}
	if v := c.Query("needs_reconciliation"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return helpers.JSONError(c, "INVALID_NEEDS_RECONCILIATION_FILTER")
		}
		filter.NeedsReconciliation = &b
	}
	purchases, total, err := h.Purchases.ListPurchases(c.UserContext(), filter, limit, offset)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONPage(c, "Purchases retrieved successfully", purchases, total, limit, offset)
}

func (h *Handler) RefundPurchase(c *fiber.Ctx) error {
	purchase, err := h.Purchases.Refund(c.UserContext(), c.Params("ref"), middlewares.AdminID(c))
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Purchase refunded successfully", purchase)
}

func (h *Handler) ReconcilePurchase(c *fiber.Ctx) error {
	purchase, err := h.Purchases.Reconcile(c.UserContext(), c.Params("ref"))
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Purchase reconciled as "+string(purchase.Status), purchase)
}
