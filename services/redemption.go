package services

import (
	"context"
	"strings"
	"time"

	"backoffice/models"

	"golang.org/x/exp/slog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RedeemResult struct {
	RefID      string        `json:"ref_id"`
	Code       string        `json:"code"`
	UserID     string        `json:"user_id"`
	Granted    models.Reward `json:"granted"`
	RedeemedAt time.Time     `json:"redeemed_at"`
}

type CodeInput struct {
	Code         string        `json:"code"`
	Reward       models.Reward `json:"reward"`
	UsageLimit   *int          `json:"usage_limit"`
	PerUserLimit int           `json:"per_user_limit"`
	Active       *bool         `json:"active"`
	ValidFrom    *time.Time    `json:"valid_from"`
	ValidUntil   *time.Time    `json:"valid_until"`
}

type CodePatch struct {
	Reward       *models.Reward `json:"reward"`
	UsageLimit   *int           `json:"usage_limit"`
	Unlimited    bool           `json:"unlimited"`
	PerUserLimit *int           `json:"per_user_limit"`
	Active       *bool          `json:"active"`
	ValidFrom    *time.Time     `json:"valid_from"`
	ValidUntil   *time.Time     `json:"valid_until"`
}

type RedemptionService struct {
	db     *gorm.DB
	wallet *WalletService
	now    func() time.Time
}

func NewRedemptionService(db *gorm.DB, wallet *WalletService) *RedemptionService {
	return &RedemptionService{db: db, wallet: wallet, now: time.Now}
}

// Eligibility returns the reason rc cannot be redeemed at now, or "".
func Eligibility(rc *models.RedeemableCode, now time.Time) string {
	switch {
	case !rc.Active:
		return ReasonInactive
	case rc.ValidFrom != nil && now.Before(*rc.ValidFrom):
		return ReasonNotYetValid
	case rc.ValidUntil != nil && now.After(*rc.ValidUntil):
		return ReasonExpired
	case rc.UsageLimit != nil && rc.UsageCount >= *rc.UsageLimit:
		return ReasonExhausted
	}
	return ""
}

// Redeem claims code for userID. The record insert, the usage increment and
// the reward grant commit together or not at all. Repeating a successful
// claim beyond the per-user limit fails with AlreadyRedeemed.
func (s *RedemptionService) Redeem(ctx context.Context, code, userID string, serverID uint) (*RedeemResult, error) {
	code = strings.TrimSpace(code)
	userID = strings.TrimSpace(userID)
	if code == "" || userID == "" {
		return nil, newError(KindInvalidArgument, "code and user_id are required")
	}

	now := s.now()
	var result *RedeemResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rc models.RedeemableCode
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).First(&rc).Error
		// collations may match case-insensitively; codes are case-sensitive
		if isNotFound(err) || (err == nil && rc.Code != code) {
			return newError(KindNotFound, "gift code not found")
		}
		if err != nil {
			return err
		}

		if reason := Eligibility(&rc, now); reason != "" {
			return newError(KindIneligible, "%s", reason)
		}

		perUser := rc.PerUserLimit
		if perUser < 1 {
			perUser = 1
		}
		var claimed int64
		if err := tx.Model(&models.RedemptionRecord{}).
			Where("code_id = ? AND user_id = ?", rc.ID, userID).
			Count(&claimed).Error; err != nil {
			return err
		}
		if claimed >= int64(perUser) {
			return newError(KindAlreadyRedeemed, "gift code already redeemed")
		}

		payload := rc.Reward.Data()
		record := models.RedemptionRecord{
			CodeID:         rc.ID,
			UserID:         userID,
			Seq:            int(claimed) + 1,
			Code:           rc.Code,
			ServerID:       serverID,
			GrantedPayload: datatypes.NewJSONType(payload),
			RedeemedAt:     now,
		}
		if err := tx.Create(&record).Error; err != nil {
			if isDuplicateKey(err) {
				return newError(KindAlreadyRedeemed, "gift code already redeemed")
			}
			return err
		}

		res := tx.Model(&models.RedeemableCode{}).
			Where("id = ? AND (usage_limit IS NULL OR usage_count < usage_limit)", rc.ID).
			Update("usage_count", gorm.Expr("usage_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return newError(KindIneligible, "%s", ReasonExhausted)
		}

		if err := s.wallet.ApplyReward(tx, userID, payload, "gift_code", record.RefID); err != nil {
			return err
		}

		result = &RedeemResult{
			RefID:      record.RefID,
			Code:       rc.Code,
			UserID:     userID,
			Granted:    payload,
			RedeemedAt: now,
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			slog.Error("gift code redemption failed", "code", code, "user", userID, "error", err)
		}
		return nil, err
	}

	slog.Info("gift code redeemed", "code", code, "user", userID, "server", serverID, "ref", result.RefID)
	return result, nil
}

func validateCodeWindow(from, until *time.Time) error {
	if from != nil && until != nil && !until.After(*from) {
		return newError(KindInvalidArgument, "valid_until must be after valid_from")
	}
	return nil
}

func (s *RedemptionService) CreateCode(ctx context.Context, in CodeInput, adminID uint) (*models.RedeemableCode, error) {
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" || len(in.Code) > 64 {
		return nil, newError(KindInvalidArgument, "code must be 1-64 characters")
	}
	if err := in.Reward.Validate(); err != nil {
		return nil, wrapError(KindInvalidArgument, err, "invalid reward: %s", err.Error())
	}
	if in.UsageLimit != nil && *in.UsageLimit < 1 {
		return nil, newError(KindInvalidArgument, "usage_limit must be >= 1")
	}
	if in.PerUserLimit == 0 {
		in.PerUserLimit = 1
	}
	if in.PerUserLimit < 1 {
		return nil, newError(KindInvalidArgument, "per_user_limit must be >= 1")
	}
	if err := validateCodeWindow(in.ValidFrom, in.ValidUntil); err != nil {
		return nil, err
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}
	rc := models.RedeemableCode{
		Code:         in.Code,
		Reward:       datatypes.NewJSONType(in.Reward),
		UsageLimit:   in.UsageLimit,
		PerUserLimit: in.PerUserLimit,
		Active:       active,
		ValidFrom:    in.ValidFrom,
		ValidUntil:   in.ValidUntil,
		CreatedBy:    adminID,
	}
	if err := s.db.WithContext(ctx).Create(&rc).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, newError(KindConflict, "gift code %s already exists", in.Code)
		}
		return nil, err
	}
	slog.Info("gift code created", "code", rc.Code, "admin", adminID)
	return &rc, nil
}

func (s *RedemptionService) GetCode(ctx context.Context, id uint) (*models.RedeemableCode, error) {
	var rc models.RedeemableCode
	err := s.db.WithContext(ctx).First(&rc, id).Error
	if isNotFound(err) {
		return nil, newError(KindNotFound, "gift code %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

func (s *RedemptionService) ListCodes(ctx context.Context, active *bool, limit, offset int) ([]models.RedeemableCode, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.RedeemableCode{})
	if active != nil {
		q = q.Where("active = ?", *active)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	codes := []models.RedeemableCode{}
	err := q.Order("id desc").Limit(limit).Offset(offset).Find(&codes).Error
	return codes, total, err
}

// UpdateCode changes the code's terms. Past redemptions keep their granted
// payload snapshot.
func (s *RedemptionService) UpdateCode(ctx context.Context, id uint, patch CodePatch) (*models.RedeemableCode, error) {
	var rc models.RedeemableCode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rc, id).Error
		if isNotFound(err) {
			return newError(KindNotFound, "gift code %d not found", id)
		}
		if err != nil {
			return err
		}

		if patch.Reward != nil {
			if err := patch.Reward.Validate(); err != nil {
				return wrapError(KindInvalidArgument, err, "invalid reward: %s", err.Error())
			}
			rc.Reward = datatypes.NewJSONType(*patch.Reward)
		}
		if patch.Unlimited {
			rc.UsageLimit = nil
		} else if patch.UsageLimit != nil {
			if *patch.UsageLimit < 1 || *patch.UsageLimit < rc.UsageCount {
				return newError(KindInvalidArgument, "usage_limit must be >= 1 and >= usage_count (%d)", rc.UsageCount)
			}
			rc.UsageLimit = patch.UsageLimit
		}
		if patch.PerUserLimit != nil {
			if *patch.PerUserLimit < 1 {
				return newError(KindInvalidArgument, "per_user_limit must be >= 1")
			}
			rc.PerUserLimit = *patch.PerUserLimit
		}
		if patch.Active != nil {
			rc.Active = *patch.Active
		}
		if patch.ValidFrom != nil {
			rc.ValidFrom = patch.ValidFrom
		}
		if patch.ValidUntil != nil {
			rc.ValidUntil = patch.ValidUntil
		}
		if err := validateCodeWindow(rc.ValidFrom, rc.ValidUntil); err != nil {
			return err
		}

		return tx.Model(&rc).
			Select("reward", "usage_limit", "per_user_limit", "active", "valid_from", "valid_until").
			Updates(&rc).Error
	})
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// Deactivate disables a code. Codes are never hard-deleted.
func (s *RedemptionService) Deactivate(ctx context.Context, id uint) (*models.RedeemableCode, error) {
	rc, err := s.GetCode(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(rc).Update("active", false).Error; err != nil {
		return nil, err
	}
	rc.Active = false
	slog.Info("gift code deactivated", "code", rc.Code)
	return rc, nil
}

func (s *RedemptionService) ListRedemptions(ctx context.Context, codeID uint, limit, offset int) ([]models.RedemptionRecord, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.RedemptionRecord{}).Where("code_id = ?", codeID).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	records := []models.RedemptionRecord{}
	err := q.Order("id desc").Limit(limit).Offset(offset).Find(&records).Error
	return records, total, err
}

// DeactivateExpired turns off active codes whose window closed before now.
func (s *RedemptionService) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.RedeemableCode{}).
		Where("active = ? AND valid_until IS NOT NULL AND valid_until < ?", true, now).
		Update("active", false)
	return res.RowsAffected, res.Error
}
