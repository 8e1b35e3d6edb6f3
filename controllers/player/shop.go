package player

import (
	"backoffice/helpers"
	"backoffice/middlewares"
	"backoffice/models"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type ShopItemView struct {
	ItemRef     string          `json:"item_ref"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	PriceTokens decimal.Decimal `json:"price_tokens"`
	Reward      models.Reward   `json:"reward"`
	MaxTotal    *int            `json:"max_total"`
	DailyMax    *int            `json:"daily_max"`
}

type PurchaseRequest struct {
	UserID         string `json:"user_id"`
	ItemRef        string `json:"item_ref"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) ListShopItems(c *fiber.Ctx) error {
	items, err := h.Shop.ListItems(c.UserContext(), true)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	views := lo.Map(items, func(i models.ShopItem, _ int) ShopItemView {
		return ShopItemView{
			ItemRef:     i.ItemRef,
			Name:        i.Name,
			Kind:        i.Kind,
			PriceTokens: i.PriceTokens,
			Reward:      i.Reward.Data(),
			MaxTotal:    i.MaxTotal,
			DailyMax:    i.DailyMax,
		}
	})
	return helpers.JSONSuccess(c, "Shop items retrieved successfully", views)
}

func (h *Handler) Purchase(c *fiber.Ctx) error {
	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Get("Idempotency-Key")
	}
	if req.UserID == "" || req.ItemRef == "" || req.IdempotencyKey == "" {
		return helpers.JSONError(c, "USER_ID_ITEM_REF_AND_IDEMPOTENCY_KEY_REQUIRED")
	}

	server := middlewares.CurrentServer(c)
	purchase, err := h.Purchases.Purchase(c.UserContext(), services.PurchaseRequest{
		UserID:         req.UserID,
		ServerID:       server.ID,
		ItemRef:        req.ItemRef,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Purchase delivered successfully", purchase)
}

func (h *Handler) ListPurchases(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return helpers.JSONError(c, "USER_ID_REQUIRED")
	}
	limit, offset, ok := helpers.Pagination(c)
	if !ok {
		return helpers.JSONError(c, "INVALID_PAGINATION")
	}
	purchases, total, err := h.Purchases.ListPurchases(c.UserContext(), services.PurchaseFilter{UserID: userID}, limit, offset)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONPage(c, "Purchases retrieved successfully", purchases, total, limit, offset)
}
