package admin

import (
	"strconv"

	"backoffice/helpers"
	"backoffice/models"
	"backoffice/services"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type BandView struct {
	ID            uint            `json:"id"`
	ServerID      uint            `json:"server_id"`
	Rank          string          `json:"rank"`
	FromRank      int             `json:"from_rank"`
	ToRank        int             `json:"to_rank"`
	PercentOfPool decimal.Decimal `json:"percent_of_pool"`
}

func toBandView(b models.PrizeRankBand, _ int) BandView {
	return BandView{
		ID:            b.ID,
		ServerID:      b.ServerID,
		Rank:          services.RankLabel(b.FromRank, b.ToRank),
		FromRank:      b.FromRank,
		ToRank:        b.ToRank,
		PercentOfPool: b.PercentOfPool,
	}
}

type ContributionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type BulkBandRequest struct {
	Bands []services.BandInput `json:"bands"`
}

func (h *Handler) GetPrize(c *fiber.Ctx) error {
	serverID, ok := helpers.ParamUint(c, "server_id")
	if !ok {
		return helpers.JSONError(c, "INVALID_SERVER_ID")
	}
	setting, err := h.Prize.GetSetting(c.UserContext(), serverID)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Prize setting retrieved successfully", setting)
}

func (h *Handler) UpdatePrize(c *fiber.Ctx) error {
	serverID, ok := helpers.ParamUint(c, "server_id")
	if !ok {
		return helpers.JSONError(c, "INVALID_SERVER_ID")
	}
	var req services.PrizeUpdate
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	setting, err := h.Prize.UpdateAll(c.UserContext(), serverID, req)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Prize setting updated successfully", setting)
}

func (h *Handler) AddContribution(c *fiber.Ctx) error {
	serverID, ok := helpers.ParamUint(c, "server_id")
	if !ok {
		return helpers.JSONError(c, "INVALID_SERVER_ID")
	}
	var req ContributionRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	setting, err := h.Prize.IncreaseContribution(c.UserContext(), serverID, req.Amount)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Contribution applied successfully", setting)
}

func (h *Handler) PrizeSummary(c *fiber.Ctx) error {
	serverID, ok := helpers.ParamUint(c, "server_id")
	if !ok {
		return helpers.JSONError(c, "INVALID_SERVER_ID")
	}
	summary, err := h.Prize.ComputeSummary(c.UserContext(), serverID)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Prize summary retrieved successfully", summary)
}

func (h *Handler) ListBands(c *fiber.Ctx) error {
	serverID, ok := helpers.ParamUint(c, "server_id")
	if !ok {
		return helpers.JSONError(c, "INVALID_SERVER_ID")
	}
	bands, err := h.Prize.ListBands(c.UserContext(), serverID)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Bands retrieved successfully", lo.Map(bands, toBandView))
}

func (h *Handler) CreateBand(c *fiber.Ctx) error {
	serverID, ok := helpers.ParamUint(c, "server_id")
	if !ok {
		return helpers.JSONError(c, "INVALID_SERVER_ID")
	}
	var req services.BandInput
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	req.ServerID = serverID
	band, err := h.Prize.CreateBand(c.UserContext(), req)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONCreated(c, "Band created successfully", toBandView(*band, 0))
}

func (h *Handler) BulkCreateBands(c *fiber.Ctx) error {
	serverID, ok := helpers.ParamUint(c, "server_id")
	if !ok {
		return helpers.JSONError(c, "INVALID_SERVER_ID")
	}
	var req BulkBandRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	result, err := h.Prize.BulkCreateBands(c.UserContext(), serverID, req.Bands)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Bulk insert finished", fiber.Map{
		"created": lo.Map(result.Created, toBandView),
		"failed":  result.Failed,
	})
}

func (h *Handler) UpdateBand(c *fiber.Ctx) error {
	id, ok := helpers.ParamUint(c, "id")
	if !ok {
		return helpers.JSONError(c, "INVALID_BAND_ID")
	}
	var req services.BandPatch
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, "INVALID_JSON")
	}
	band, err := h.Prize.UpdateBand(c.UserContext(), id, req)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Band updated successfully", toBandView(*band, 0))
}

func (h *Handler) DeleteBand(c *fiber.Ctx) error {
	id, ok := helpers.ParamUint(c, "id")
	if !ok {
		return helpers.JSONError(c, "INVALID_BAND_ID")
	}
	if err := h.Prize.DeleteBand(c.UserContext(), id); err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Band deleted successfully", nil)
}

func (h *Handler) BandOverlaps(c *fiber.Ctx) error {
	var serverID *uint
	if v := c.Query("server_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return helpers.JSONError(c, "INVALID_SERVER_ID")
		}
		id := uint(n)
		serverID = &id
	}
	pairs, err := h.Prize.CheckOverlaps(c.UserContext(), serverID)
	if err != nil {
		return helpers.JSONFail(c, err)
	}
	return helpers.JSONSuccess(c, "Overlap check finished", fiber.Map{
		"overlaps":     pairs,
		"has_overlaps": len(pairs) > 0,
	})
}
