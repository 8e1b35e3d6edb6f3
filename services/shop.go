package services

import (
	"context"
	"strings"

	"backoffice/models"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ShopItemInput struct {
	ItemRef     string          `json:"item_ref"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	PriceTokens decimal.Decimal `json:"price_tokens"`
	Reward      models.Reward   `json:"reward"`
	MaxTotal    *int            `json:"max_total"`
	DailyMax    *int            `json:"daily_max"`
}

type ShopItemPatch struct {
	Name        *string          `json:"name"`
	PriceTokens *decimal.Decimal `json:"price_tokens"`
	Reward      *models.Reward   `json:"reward"`
	MaxTotal    *int             `json:"max_total"`
	DailyMax    *int             `json:"daily_max"`
	ClearLimits bool             `json:"clear_limits"`
	Active      *bool            `json:"active"`
}

type ShopService struct {
	db *gorm.DB
}

func NewShopService(db *gorm.DB) *ShopService {
	return &ShopService{db: db}
}

func validateCap(name string, v *int) error {
	if v != nil && *v < 1 {
		return newError(KindInvalidArgument, "%s must be >= 1", name)
	}
	return nil
}

func (s *ShopService) CreateItem(ctx context.Context, in ShopItemInput) (*models.ShopItem, error) {
	in.ItemRef = strings.TrimSpace(in.ItemRef)
	if in.ItemRef == "" || len(in.ItemRef) > 64 {
		return nil, newError(KindInvalidArgument, "item_ref must be 1-64 characters")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, newError(KindInvalidArgument, "name is required")
	}
	if in.Kind == "" {
		in.Kind = models.ShopItemReward
	}
	if in.Kind != models.ShopItemReward && in.Kind != models.ShopItemPacket {
		return nil, newError(KindInvalidArgument, "kind must be reward or packet")
	}
	if !in.PriceTokens.IsPositive() {
		return nil, newError(KindInvalidArgument, "price_tokens must be positive")
	}
	if err := in.Reward.Validate(); err != nil {
		return nil, wrapError(KindInvalidArgument, err, "invalid reward: %s", err.Error())
	}
	if err := validateCap("max_total", in.MaxTotal); err != nil {
		return nil, err
	}
	if err := validateCap("daily_max", in.DailyMax); err != nil {
		return nil, err
	}

	item := models.ShopItem{
		ItemRef:     in.ItemRef,
		Name:        strings.TrimSpace(in.Name),
		Kind:        in.Kind,
		PriceTokens: in.PriceTokens,
		Reward:      datatypes.NewJSONType(in.Reward),
		MaxTotal:    in.MaxTotal,
		DailyMax:    in.DailyMax,
		Active:      true,
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, newError(KindConflict, "shop item %s already exists", in.ItemRef)
		}
		return nil, err
	}
	slog.Info("shop item created", "item", item.ItemRef, "price", item.PriceTokens.String())
	return &item, nil
}

func (s *ShopService) GetItem(ctx context.Context, id uint) (*models.ShopItem, error) {
	var item models.ShopItem
	err := s.db.WithContext(ctx).First(&item, id).Error
	if isNotFound(err) {
		return nil, newError(KindNotFound, "shop item %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems returns every item, or only the purchasable ones when activeOnly.
func (s *ShopService) ListItems(ctx context.Context, activeOnly bool) ([]models.ShopItem, error) {
	q := s.db.WithContext(ctx).Model(&models.ShopItem{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	items := []models.ShopItem{}
	err := q.Order("id asc").Find(&items).Error
	return items, err
}

func (s *ShopService) UpdateItem(ctx context.Context, id uint, patch ShopItemPatch) (*models.ShopItem, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, newError(KindInvalidArgument, "name is required")
		}
		item.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.PriceTokens != nil {
		if !patch.PriceTokens.IsPositive() {
			return nil, newError(KindInvalidArgument, "price_tokens must be positive")
		}
		item.PriceTokens = *patch.PriceTokens
	}
	if patch.Reward != nil {
		if err := patch.Reward.Validate(); err != nil {
			return nil, wrapError(KindInvalidArgument, err, "invalid reward: %s", err.Error())
		}
		item.Reward = datatypes.NewJSONType(*patch.Reward)
	}
	if patch.ClearLimits {
		item.MaxTotal = nil
		item.DailyMax = nil
	}
	if patch.MaxTotal != nil {
		if err := validateCap("max_total", patch.MaxTotal); err != nil {
			return nil, err
		}
		item.MaxTotal = patch.MaxTotal
	}
	if patch.DailyMax != nil {
		if err := validateCap("daily_max", patch.DailyMax); err != nil {
			return nil, err
		}
		item.DailyMax = patch.DailyMax
	}
	if patch.Active != nil {
		item.Active = *patch.Active
	}

	err = s.db.WithContext(ctx).Model(item).
		Select("name", "price_tokens", "reward", "max_total", "daily_max", "active").
		Updates(item).Error
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *ShopService) DeactivateItem(ctx context.Context, id uint) (*models.ShopItem, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(item).Update("active", false).Error; err != nil {
		return nil, err
	}
	item.Active = false
	slog.Info("shop item deactivated", "item", item.ItemRef)
	return item, nil
}
