package player

import (
	"backoffice/helpers"
	"backoffice/models"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

func (h *Handler) Balance(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return helpers.JSONError(c, "USER_ID_REQUIRED")
	}

	wallets, err := h.Wallet.Balances(c.UserContext(), userID)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	items, err := h.Wallet.Inventory(c.UserContext(), userID)
	if err != nil {
		return helpers.JSONFail(c, err)
	}

	balances := lo.SliceToMap(wallets, func(w models.Wallet) (string, decimal.Decimal) {
		return w.Currency, w.Balance
	})
	if _, ok := balances[models.TokenCurrency]; !ok {
		balances[models.TokenCurrency] = decimal.Zero
	}
	inventory := lo.SliceToMap(items, func(i models.InventoryItem) (string, int64) {
		return i.ItemID, i.Quantity
	})

	return helpers.JSONSuccess(c, "Balance retrieved successfully", fiber.Map{
		"user_id":   userID,
		"balances":  balances,
		"inventory": inventory,
	})
}
