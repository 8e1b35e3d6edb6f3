package services

import (
	"context"
	"strings"
	"time"

	"backoffice/models"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PackageInput struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Tokens   decimal.Decimal `json:"tokens"`
}

type PaymentService struct {
	db     *gorm.DB
	wallet *WalletService
	now    func() time.Time
}

func NewPaymentService(db *gorm.DB, wallet *WalletService) *PaymentService {
	return &PaymentService{db: db, wallet: wallet, now: time.Now}
}

func (s *PaymentService) CreatePackage(ctx context.Context, in PackageInput) (*models.PaymentPackage, error) {
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" || len(in.Code) > 32 {
		return nil, newError(KindInvalidArgument, "code must be 1-32 characters")
	}
	if !in.Price.IsPositive() || !in.Tokens.IsPositive() {
		return nil, newError(KindInvalidArgument, "price and tokens must be positive")
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}
	pkg := models.PaymentPackage{
		Code:     in.Code,
		Name:     strings.TrimSpace(in.Name),
		Price:    in.Price,
		Currency: strings.ToUpper(in.Currency),
		Tokens:   in.Tokens,
		Active:   true,
	}
	if err := s.db.WithContext(ctx).Create(&pkg).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, newError(KindConflict, "payment package %s already exists", in.Code)
		}
		return nil, err
	}
	return &pkg, nil
}

func (s *PaymentService) ListPackages(ctx context.Context, activeOnly bool) ([]models.PaymentPackage, error) {
	q := s.db.WithContext(ctx).Model(&models.PaymentPackage{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	pkgs := []models.PaymentPackage{}
	err := q.Order("price asc").Find(&pkgs).Error
	return pkgs, err
}

// CreateOrder opens a pending order priced from the package at call time.
func (s *PaymentService) CreateOrder(ctx context.Context, userID string, serverID uint, packageCode string) (*models.PaymentOrder, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || packageCode == "" {
		return nil, newError(KindInvalidArgument, "user_id and package_code are required")
	}
	var pkg models.PaymentPackage
	err := s.db.WithContext(ctx).Where("code = ? AND active = ?", packageCode, true).First(&pkg).Error
	if isNotFound(err) {
		return nil, newError(KindNotFound, "payment package %s not found", packageCode)
	}
	if err != nil {
		return nil, err
	}
	order := models.PaymentOrder{
		UserID:    userID,
		ServerID:  serverID,
		PackageID: pkg.ID,
		Price:     pkg.Price,
		Currency:  pkg.Currency,
		Tokens:    pkg.Tokens,
		Status:    models.PaymentOrderPending,
	}
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	slog.Info("payment order created", "order", order.OrderRef, "user", userID, "package", pkg.Code)
	return &order, nil
}

// MarkPaid settles an order and credits its tokens once. Settling an order
// that is already paid returns it unchanged.
func (s *PaymentService) MarkPaid(ctx context.Context, orderRef, externalRef string) (*models.PaymentOrder, error) {
	if orderRef == "" {
		return nil, newError(KindInvalidArgument, "order_ref is required")
	}
	var order models.PaymentOrder
	credited := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("order_ref = ?", orderRef).First(&order).Error
		if isNotFound(err) {
			return newError(KindNotFound, "payment order %s not found", orderRef)
		}
		if err != nil {
			return err
		}
		if order.Status == models.PaymentOrderPaid {
			return nil
		}

		now := s.now()
		updates := map[string]any{"status": models.PaymentOrderPaid, "paid_at": now}
		if externalRef != "" {
			updates["external_ref"] = externalRef
		}
		res := tx.Model(&models.PaymentOrder{}).
			Where("id = ? AND status = ?", order.ID, models.PaymentOrderPending).
			Updates(updates)
		if res.Error != nil {
			if isDuplicateKey(res.Error) {
				return newError(KindConflict, "external reference %s already settled another order", externalRef)
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return newError(KindInvalidState, "payment order %s is %s", orderRef, order.Status)
		}

		if _, err := s.wallet.Adjust(tx, Adjustment{
			UserID:   order.UserID,
			Currency: models.TokenCurrency,
			Delta:    order.Tokens,
			TrxType:  "payment",
			RefID:    order.OrderRef,
		}); err != nil {
			return err
		}
		order.Status = models.PaymentOrderPaid
		order.PaidAt = &now
		if externalRef != "" {
			order.ExternalRef = &externalRef
		}
		credited = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if credited {
		slog.Info("payment order paid", "order", orderRef, "user", order.UserID, "tokens", order.Tokens.String())
	}
	return &order, nil
}

func (s *PaymentService) ListOrders(ctx context.Context, userID string, limit, offset int) ([]models.PaymentOrder, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.PaymentOrder{}).Where("user_id = ?", userID).Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	orders := []models.PaymentOrder{}
	err := q.Order("id desc").Limit(limit).Offset(offset).Find(&orders).Error
	return orders, total, err
}
