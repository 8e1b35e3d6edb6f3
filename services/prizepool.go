package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"backoffice/models"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	hundred          = decimal.NewFromInt(100)
	percentTolerance = decimal.NewFromFloat(0.01)
)

// SummaryCache stores marshalled prize summaries per server.
type SummaryCache interface {
	Get(ctx context.Context, serverID uint) ([]byte, error)
	Set(ctx context.Context, serverID uint, data []byte) error
	Del(ctx context.Context, serverID uint) error
}

type PoolView struct {
	ServerID                uint            `json:"server_id"`
	InitialPrize            decimal.Decimal `json:"initial_prize"`
	TotalContributions      decimal.Decimal `json:"total_contributions"`
	ContributionRatePercent decimal.Decimal `json:"contribution_rate_percent"`
	AddonPrize              decimal.Decimal `json:"addon_prize"`
	TotalPool               decimal.Decimal `json:"total_pool"`
}

type BandPayout struct {
	ID            uint            `json:"id"`
	Rank          string          `json:"rank"`
	FromRank      int             `json:"from_rank"`
	ToRank        int             `json:"to_rank"`
	PercentOfPool decimal.Decimal `json:"percent_of_pool"`
	Payout        decimal.Decimal `json:"payout"`
}

type SummaryStats struct {
	TotalPercent decimal.Decimal `json:"total_percent"`
	IsComplete   bool            `json:"is_complete"`
	BandCount    int             `json:"band_count"`
}

type PrizeSummary struct {
	Pool    PoolView     `json:"pool"`
	Bands   []BandPayout `json:"bands"`
	Summary SummaryStats `json:"summary"`
}

// PrizeUpdate overrides every field of a prize setting. All fields are required.
type PrizeUpdate struct {
	InitialPrize            *decimal.Decimal `json:"initial_prize"`
	TotalContributions      *decimal.Decimal `json:"total_contributions"`
	ContributionRatePercent *decimal.Decimal `json:"contribution_rate_percent"`
	AddonPrize              *decimal.Decimal `json:"addon_prize"`
}

type BandInput struct {
	ServerID      uint            `json:"server_id"`
	FromRank      int             `json:"from_rank"`
	ToRank        int             `json:"to_rank"`
	PercentOfPool decimal.Decimal `json:"percent_of_pool"`
}

type BandPatch struct {
	FromRank      *int             `json:"from_rank"`
	ToRank        *int             `json:"to_rank"`
	PercentOfPool *decimal.Decimal `json:"percent_of_pool"`
}

type BulkFailure struct {
	Index  int       `json:"index"`
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

type BulkBandResult struct {
	Created []models.PrizeRankBand `json:"created"`
	Failed  []BulkFailure          `json:"failed"`
}

type OverlapPair struct {
	ServerID   uint `json:"server_id"`
	FirstID    uint `json:"first_id"`
	FirstFrom  int  `json:"first_from_rank"`
	FirstTo    int  `json:"first_to_rank"`
	SecondID   uint `json:"second_id"`
	SecondFrom int  `json:"second_from_rank"`
	SecondTo   int  `json:"second_to_rank"`
}

type PrizePoolService struct {
	db    *gorm.DB
	cache SummaryCache
}

// NewPrizePoolService builds the engine. cache may be nil.
func NewPrizePoolService(db *gorm.DB, cache SummaryCache) *PrizePoolService {
	return &PrizePoolService{db: db, cache: cache}
}

// EnsureSetting seeds the prize setting of a new server inside tx.
func (s *PrizePoolService) EnsureSetting(tx *gorm.DB, serverID uint, ratePercent decimal.Decimal) (*models.PrizeSetting, error) {
	if ratePercent.IsNegative() || ratePercent.GreaterThan(hundred) {
		return nil, newError(KindInvalidArgument, "contribution_rate_percent must be between 0 and 100")
	}
	setting := models.PrizeSetting{ServerID: serverID, ContributionRatePercent: ratePercent}
	if err := tx.Where("server_id = ?", serverID).
		Attrs(setting).
		FirstOrCreate(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

func (s *PrizePoolService) GetSetting(ctx context.Context, serverID uint) (*models.PrizeSetting, error) {
	var setting models.PrizeSetting
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).First(&setting).Error
	if isNotFound(err) {
		return nil, newError(KindNotFound, "prize setting for server %d not found", serverID)
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// IncreaseContribution adds amount to the server's contributions and its
// rate share to the add-on prize in one atomic update.
func (s *PrizePoolService) IncreaseContribution(ctx context.Context, serverID uint, amount decimal.Decimal) (*models.PrizeSetting, error) {
	var setting *models.PrizeSetting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		setting, err = s.increase(tx, serverID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, serverID)
	return setting, nil
}

func (s *PrizePoolService) increase(tx *gorm.DB, serverID uint, amount decimal.Decimal) (*models.PrizeSetting, error) {
	if !amount.IsPositive() {
		return nil, newError(KindInvalidArgument, "amount must be greater than 0")
	}
	res := tx.Model(&models.PrizeSetting{}).
		Where("server_id = ?", serverID).
		Updates(map[string]any{
			"total_contributions": gorm.Expr("total_contributions + ?", amount),
			"addon_prize":         gorm.Expr("addon_prize + contribution_rate_percent * ? / 100.0", amount),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, newError(KindNotFound, "prize setting for server %d not found", serverID)
	}

	var setting models.PrizeSetting
	if err := tx.Where("server_id = ?", serverID).First(&setting).Error; err != nil {
		return nil, err
	}
	slog.Info("prize contribution applied", "server", serverID, "amount", amount.String(),
		"total_contributions", setting.TotalContributions.String(), "addon_prize", setting.AddonPrize.String())
	return &setting, nil
}

// UpdateAll replaces the four pool fields as given, without recomputation.
func (s *PrizePoolService) UpdateAll(ctx context.Context, serverID uint, in PrizeUpdate) (*models.PrizeSetting, error) {
	if in.InitialPrize == nil || in.TotalContributions == nil || in.ContributionRatePercent == nil || in.AddonPrize == nil {
		return nil, newError(KindInvalidArgument, "initial_prize, total_contributions, contribution_rate_percent and addon_prize are required")
	}
	for name, v := range map[string]decimal.Decimal{
		"initial_prize":             *in.InitialPrize,
		"total_contributions":       *in.TotalContributions,
		"contribution_rate_percent": *in.ContributionRatePercent,
		"addon_prize":               *in.AddonPrize,
	} {
		if v.IsNegative() {
			return nil, newError(KindInvalidArgument, "%s must be >= 0", name)
		}
	}
	if in.ContributionRatePercent.GreaterThan(hundred) {
		return nil, newError(KindInvalidArgument, "contribution_rate_percent must be <= 100")
	}

	var setting models.PrizeSetting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("server_id = ?", serverID).First(&setting).Error
		if isNotFound(err) {
			return newError(KindNotFound, "prize setting for server %d not found", serverID)
		}
		if err != nil {
			return err
		}
		setting.InitialPrize = *in.InitialPrize
		setting.TotalContributions = *in.TotalContributions
		setting.ContributionRatePercent = *in.ContributionRatePercent
		setting.AddonPrize = *in.AddonPrize
		return tx.Model(&setting).Select("initial_prize", "total_contributions", "contribution_rate_percent", "addon_prize").
			Updates(&setting).Error
	})
	if err != nil {
		return nil, err
	}
	slog.Info("prize setting overridden", "server", serverID,
		"initial_prize", setting.InitialPrize.String(), "addon_prize", setting.AddonPrize.String())
	s.invalidate(ctx, serverID)
	return &setting, nil
}

// ComputeSummary renders the payout table of a server. It never writes.
func (s *PrizePoolService) ComputeSummary(ctx context.Context, serverID uint) (*PrizeSummary, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, serverID); err == nil && len(data) > 0 {
			var cached PrizeSummary
			if json.Unmarshal(data, &cached) == nil {
				return &cached, nil
			}
		}
	}

	setting, err := s.GetSetting(ctx, serverID)
	if err != nil {
		return nil, err
	}
	bands, err := s.ListBands(ctx, serverID)
	if err != nil {
		return nil, err
	}

	summary := BuildSummary(setting, bands)
	if s.cache != nil && s.unchangedSince(ctx, setting) {
		if data, err := json.Marshal(summary); err == nil {
			if err := s.cache.Set(ctx, serverID, data); err != nil {
				slog.Warn("prize summary cache set failed", "server", serverID, "error", err)
			}
		}
	}
	return summary, nil
}

// unchangedSince reports whether the stored setting still matches the one
// the summary was built from, so a write that landed mid-read is not cached.
func (s *PrizePoolService) unchangedSince(ctx context.Context, read *models.PrizeSetting) bool {
	current, err := s.GetSetting(ctx, read.ServerID)
	if err != nil {
		return false
	}
	return current.UpdatedAt.Equal(read.UpdatedAt)
}

// BuildSummary computes payouts for bands against setting's pool.
func BuildSummary(setting *models.PrizeSetting, bands []models.PrizeRankBand) *PrizeSummary {
	totalPool := setting.InitialPrize.Add(setting.AddonPrize)
	out := &PrizeSummary{
		Pool: PoolView{
			ServerID:                setting.ServerID,
			InitialPrize:            setting.InitialPrize,
			TotalContributions:      setting.TotalContributions,
			ContributionRatePercent: setting.ContributionRatePercent,
			AddonPrize:              setting.AddonPrize,
			TotalPool:               totalPool,
		},
		Bands: make([]BandPayout, 0, len(bands)),
	}

	totalPercent := decimal.Zero
	for _, b := range bands {
		out.Bands = append(out.Bands, BandPayout{
			ID:            b.ID,
			Rank:          RankLabel(b.FromRank, b.ToRank),
			FromRank:      b.FromRank,
			ToRank:        b.ToRank,
			PercentOfPool: b.PercentOfPool,
			Payout:        totalPool.Mul(b.PercentOfPool).Div(hundred),
		})
		totalPercent = totalPercent.Add(b.PercentOfPool)
	}

	out.Summary = SummaryStats{
		TotalPercent: totalPercent,
		IsComplete:   totalPercent.Sub(hundred).Abs().LessThan(percentTolerance),
		BandCount:    len(bands),
	}
	return out
}

func RankLabel(from, to int) string {
	if from == to {
		return fmt.Sprintf("%d", from)
	}
	return fmt.Sprintf("%d-%d", from, to)
}

func (s *PrizePoolService) ListBands(ctx context.Context, serverID uint) ([]models.PrizeRankBand, error) {
	var bands []models.PrizeRankBand
	err := s.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("from_rank asc, id asc").
		Find(&bands).Error
	return bands, err
}

func validateBand(from, to int, percent decimal.Decimal) error {
	if from < 1 {
		return newError(KindInvalidArgument, "from_rank must be >= 1")
	}
	if to < from {
		return newError(KindInvalidArgument, "to_rank must be >= from_rank")
	}
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return newError(KindInvalidArgument, "percent_of_pool must be between 0 and 100")
	}
	return nil
}

// CreateBand rejects a range that exactly duplicates an existing band of the
// server. Partial overlaps are accepted and reported by CheckOverlaps.
func (s *PrizePoolService) CreateBand(ctx context.Context, in BandInput) (*models.PrizeRankBand, error) {
	if _, err := s.GetSetting(ctx, in.ServerID); err != nil {
		return nil, err
	}
	band, err := s.createBand(s.db.WithContext(ctx), in)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, in.ServerID)
	return band, nil
}

func (s *PrizePoolService) createBand(db *gorm.DB, in BandInput) (*models.PrizeRankBand, error) {
	if err := validateBand(in.FromRank, in.ToRank, in.PercentOfPool); err != nil {
		return nil, err
	}

	var count int64
	if err := db.Model(&models.PrizeRankBand{}).
		Where("server_id = ? AND from_rank = ? AND to_rank = ?", in.ServerID, in.FromRank, in.ToRank).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, newError(KindConflict, "band %s already exists for server %d", RankLabel(in.FromRank, in.ToRank), in.ServerID)
	}

	band := models.PrizeRankBand{
		ServerID:      in.ServerID,
		FromRank:      in.FromRank,
		ToRank:        in.ToRank,
		PercentOfPool: in.PercentOfPool,
	}
	if err := db.Create(&band).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, newError(KindConflict, "band %s already exists for server %d", RankLabel(in.FromRank, in.ToRank), in.ServerID)
		}
		return nil, err
	}
	return &band, nil
}

// BulkCreateBands validates and inserts each record on its own; failures are
// reported by index and do not stop the rest.
func (s *PrizePoolService) BulkCreateBands(ctx context.Context, serverID uint, inputs []BandInput) (*BulkBandResult, error) {
	if len(inputs) == 0 {
		return nil, newError(KindInvalidArgument, "bands must not be empty")
	}
	if _, err := s.GetSetting(ctx, serverID); err != nil {
		return nil, err
	}

	result := &BulkBandResult{Created: []models.PrizeRankBand{}, Failed: []BulkFailure{}}
	db := s.db.WithContext(ctx)
	for i, in := range inputs {
		in.ServerID = serverID
		band, err := s.createBand(db, in)
		if err != nil {
			failure := BulkFailure{Index: i, Kind: KindOf(err), Reason: "internal error"}
			var be *Error
			if errors.As(err, &be) {
				failure.Reason = be.Reason
			} else {
				slog.Error("bulk band insert failed", "server", serverID, "index", i, "error", err)
			}
			result.Failed = append(result.Failed, failure)
			continue
		}
		result.Created = append(result.Created, *band)
	}
	if len(result.Created) > 0 {
		s.invalidate(ctx, serverID)
	}
	return result, nil
}

func (s *PrizePoolService) UpdateBand(ctx context.Context, id uint, patch BandPatch) (*models.PrizeRankBand, error) {
	var band models.PrizeRankBand
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&band, id).Error
		if isNotFound(err) {
			return newError(KindNotFound, "band %d not found", id)
		}
		if err != nil {
			return err
		}

		if patch.FromRank != nil {
			band.FromRank = *patch.FromRank
		}
		if patch.ToRank != nil {
			band.ToRank = *patch.ToRank
		}
		if patch.PercentOfPool != nil {
			band.PercentOfPool = *patch.PercentOfPool
		}
		if err := validateBand(band.FromRank, band.ToRank, band.PercentOfPool); err != nil {
			return err
		}

		if patch.FromRank != nil || patch.ToRank != nil {
			var count int64
			if err := tx.Model(&models.PrizeRankBand{}).
				Where("server_id = ? AND from_rank = ? AND to_rank = ? AND id <> ?", band.ServerID, band.FromRank, band.ToRank, band.ID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return newError(KindConflict, "band %s already exists for server %d", RankLabel(band.FromRank, band.ToRank), band.ServerID)
			}
		}

		err = tx.Model(&band).Select("from_rank", "to_rank", "percent_of_pool").Updates(&band).Error
		if isDuplicateKey(err) {
			return newError(KindConflict, "band %s already exists for server %d", RankLabel(band.FromRank, band.ToRank), band.ServerID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, band.ServerID)
	return &band, nil
}

// DeleteBand removes the band for good so its range can be reused.
func (s *PrizePoolService) DeleteBand(ctx context.Context, id uint) error {
	var band models.PrizeRankBand
	err := s.db.WithContext(ctx).First(&band, id).Error
	if isNotFound(err) {
		return newError(KindNotFound, "band %d not found", id)
	}
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Unscoped().Delete(&band).Error; err != nil {
		return err
	}
	s.invalidate(ctx, band.ServerID)
	return nil
}

// CheckOverlaps lists band pairs of the same server whose ranges intersect.
// serverID nil checks every server.
func (s *PrizePoolService) CheckOverlaps(ctx context.Context, serverID *uint) ([]OverlapPair, error) {
	q := s.db.WithContext(ctx).
		Table("prize_rank_bands AS a").
		Select(`a.server_id AS server_id,
			a.id AS first_id, a.from_rank AS first_from, a.to_rank AS first_to,
			b.id AS second_id, b.from_rank AS second_from, b.to_rank AS second_to`).
		Joins("JOIN prize_rank_bands AS b ON a.server_id = b.server_id AND a.id < b.id").
		Where("NOT (a.to_rank < b.from_rank OR a.from_rank > b.to_rank)").
		Where("a.deleted_at IS NULL AND b.deleted_at IS NULL")
	if serverID != nil {
		q = q.Where("a.server_id = ?", *serverID)
	}

	pairs := []OverlapPair{}
	if err := q.Order("a.server_id asc, a.id asc, b.id asc").Scan(&pairs).Error; err != nil {
		return nil, err
	}
	return pairs, nil
}

// QueueContribution records a contribution to be applied later by
// RetryPendingContributions. A repeated sourceRef is ignored.
func (s *PrizePoolService) QueueContribution(ctx context.Context, serverID uint, amount decimal.Decimal, sourceRef, reason string) error {
	err := s.db.WithContext(ctx).Create(&models.PendingContribution{
		ServerID:  serverID,
		Amount:    amount,
		SourceRef: sourceRef,
		LastError: truncate(reason, 255),
	}).Error
	if isDuplicateKey(err) {
		return nil
	}
	return err
}

// RetryPendingContributions applies up to limit queued contributions and
// returns how many succeeded.
func (s *PrizePoolService) RetryPendingContributions(ctx context.Context, limit, maxAttempts int) (int, error) {
	var pending []models.PendingContribution
	if err := s.db.WithContext(ctx).
		Where("done = ? AND attempts < ?", false, maxAttempts).
		Order("id asc").
		Limit(limit).
		Find(&pending).Error; err != nil {
		return 0, err
	}

	applied := 0
	for _, p := range pending {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.PendingContribution{}).
				Where("id = ? AND done = ?", p.ID, false).
				Update("done", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			_, err := s.increase(tx, p.ServerID, p.Amount)
			return err
		})
		if err != nil {
			slog.Warn("queued prize contribution failed", "server", p.ServerID, "source", p.SourceRef, "attempt", p.Attempts+1, "error", err)
			if uerr := s.db.WithContext(ctx).Model(&models.PendingContribution{}).
				Where("id = ?", p.ID).
				Updates(map[string]any{
					"attempts":   gorm.Expr("attempts + 1"),
					"last_error": truncate(err.Error(), 255),
				}).Error; uerr != nil {
				slog.Error("failed to record prize contribution attempt", "source", p.SourceRef, "error", uerr)
			}
			continue
		}
		applied++
		s.invalidate(ctx, p.ServerID)
	}
	return applied, nil
}

func (s *PrizePoolService) invalidate(ctx context.Context, serverID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, serverID); err != nil {
		slog.Warn("prize summary cache invalidation failed", "server", serverID, "error", err)
	}
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
