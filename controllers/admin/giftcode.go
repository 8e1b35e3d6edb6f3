package admin

import (
	"strconv"
	"time"

	"backoffice/helpers"
	"backoffice/middlewares"
	"backoffice/models"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

type GiftCodeView struct {
	ID           uint          `json:"id"`
	Code         string        `json:"code"`
	Reward       models.Reward `json:"reward"`
	UsageLimit   *int          `json:"usage_limit"`
	UsageCount   int           `json:"usage_count"`
	PerUserLimit int           `json:"per_user_limit"`
	Active       bool          `json:"active"`
	ValidFrom    *time.Time    `json:"valid_from"`
	ValidUntil   *time.Time    `json:"valid_until"`
	Redeemable   bool          `json:"redeemable"`
	CreatedAt    time.Time     `json:"created_at"`
}

func toGiftCodeView(rc models.RedeemableCode, _ int) GiftCodeView {
	return GiftCodeView{
		ID:           rc.ID,
		Code:         rc.Code,
		Reward:       rc.Reward.Data(),
		UsageLimit:   rc.UsageLimit,
		UsageCount:   rc.UsageCount,
		PerUserLimit: rc.PerUserLimit,
		Active:       rc.Active,
		ValidFrom:    rc.ValidFrom,
		ValidUntil:   rc.ValidUntil,
		Redeemable:   services.Eligibility(&rc, time.Now()) == "",
		CreatedAt:    rc.CreatedAt,
	}
}

type RedemptionView struct {
	RefID      string        `json:"ref_id"`
	UserID     string        `json:"user_id"`
	ServerID   uint          `json:"server_id"`
	Granted    models.Reward `json:"granted"`
	RedeemedAt time.Time     `json:"redeemed_at"`
}

func (h *Handler) CreateGiftCode(c *fiber.Ctx) error {
	var req services.CodeInput
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	if req.Code == "" {
		req.Code = helpers.GenerateGiftCode()
	}
	rc, err := h.Redemption.CreateCode(c.UserContext(), req, middlewares.AdminID(c))
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONCreated(c, "Gift code created successfully", toGiftCodeView(*rc, 0))
}

func (h *Handler) ListGiftCodes(c *fiber.Ctx) error {
	limit, offset, ok := helpers.Pagination(c)
	if !ok {
		return helpers.JSONError(c, "INVALID_PAGINATION")
	}
	var active *bool
	if v := c.Query("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return helpers.JSONError(c, "INVALID_ACTIVE_FILTER")
		}
		active = &b
	}
	codes, total, err := h.Redemption.ListCodes(c.UserContext(), active, limit, offset)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONPage(c, "Gift codes retrieved successfully", lo.Map(codes, toGiftCodeView), total, limit, offset)
}

func (h *Handler) GetGiftCode(c *fiber.Ctx) error {
	id, ok := helpers.ParamUint(c, "id")
	if !ok {
		return helpers.JSONError(c, "INVALID_GIFT_CODE_ID")
	}
	rc, err := h.Redemption.GetCode(c.UserContext(), id)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Gift code retrieved successfully", toGiftCodeView(*rc, 0))
}

func (h *Handler) UpdateGiftCode(c *fiber.Ctx) error {
	id, ok := helpers.ParamUint(c, "id")
	if !ok {
		return helpers.JSONError(c, "INVALID_GIFT_CODE_ID")
	}
	var req services.CodePatch
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	rc, err := h.Redemption.UpdateCode(c.UserContext(), id, req)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Gift code updated successfully", toGiftCodeView(*rc, 0))
}

func (h *Handler) DeactivateGiftCode(c *fiber.Ctx) error {
	id, ok := helpers.ParamUint(c, "id")
	if !ok {
		return helpers.JSONError(c, "INVALID_GIFT_CODE_ID")
	}
	rc, err := h.Redemption.Deactivate(c.UserContext(), id)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Gift code deactivated successfully", toGiftCodeView(*rc, 0))
}

func (h *Handler) ListGiftCodeRedemptions(c *fiber.Ctx) error {
	id, ok := helpers.ParamUint(c, "id")
	if !ok {
		return helpers.JSONError(c, "INVALID_GIFT_CODE_ID")
	}
	limit, offset, ok := helpers.Pagination(c)
	if !ok {
		return helpers.JSONError(c, "INVALID_PAGINATION")
	}
	if _, err := h.Redemption.GetCode(c.UserContext(), id); err != nil {
		return helpers.JSONFail(c, err)
	}
	records, total, err := h.Redemption.ListRedemptions(c.UserContext(), id, limit, offset)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	views := lo.Map(records, func(r models.RedemptionRecord, _ int) RedemptionView {
		return RedemptionView{
			RefID:      r.RefID,
			UserID:     r.UserID,
			ServerID:   r.ServerID,
			Granted:    r.GrantedPayload.Data(),
			RedeemedAt: r.RedeemedAt,
		}
	})
	return helpers.JSONPage(c, "Redemptions retrieved successfully", views, total, limit, offset)
}
