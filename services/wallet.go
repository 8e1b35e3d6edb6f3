package services

import (
	"context"

	"backoffice/models"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// Adjustment is one signed balance change. Negative Delta debits.
type Adjustment struct {
	UserID   string
	Currency string
	Delta    decimal.Decimal
	TrxType  string
	Note     string
	RefID    string
}

type WalletService struct {
	db *gorm.DB
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{db: db}
}

// GetBalance returns zero for a user without a wallet in currency.
func (s *WalletService) GetBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var w models.Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&w).Error
	if isNotFound(err) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (s *WalletService) Balances(ctx context.Context, userID string) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("currency asc").
		Find(&wallets).Error
	return wallets, err
}

// AdjustBalance applies adj in its own transaction.
func (s *WalletService) AdjustBalance(ctx context.Context, adj Adjustment) (decimal.Decimal, error) {
	var after decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		after, err = s.Adjust(tx, adj)
		return err
	})
	return after, err
}

// Adjust applies adj inside tx with a single atomic update and returns the new
// balance. Debits never take a balance below zero.
func (s *WalletService) Adjust(tx *gorm.DB, adj Adjustment) (decimal.Decimal, error) {
	if adj.UserID == "" || adj.Currency == "" {
		return decimal.Zero, newError(KindInvalidArgument, "user and currency are required")
	}
	if adj.Delta.IsZero() {
		return decimal.Zero, newError(KindInvalidArgument, "amount must not be zero")
	}

	q := tx.Model(&models.Wallet{}).Where("user_id = ? AND currency = ?", adj.UserID, adj.Currency)
	if adj.Delta.IsNegative() {
		q = q.Where("balance >= ?", adj.Delta.Neg())
	}
	res := q.Update("balance", gorm.Expr("balance + ?", adj.Delta))
	if res.Error != nil {
		return decimal.Zero, res.Error
	}

	if res.RowsAffected == 0 {
		if adj.Delta.IsNegative() {
			return decimal.Zero, newError(KindInsufficientFunds, "insufficient %s balance", adj.Currency)
		}
		if err := s.openWallet(tx, adj); err != nil {
			return decimal.Zero, err
		}
	}

	var w models.Wallet
	if err := tx.Where("user_id = ? AND currency = ?", adj.UserID, adj.Currency).First(&w).Error; err != nil {
		return decimal.Zero, err
	}

	if err := tx.Create(&models.WalletTransaction{
		UserID:        adj.UserID,
		Currency:      adj.Currency,
		TrxType:       adj.TrxType,
		Amount:        adj.Delta,
		BalanceBefore: w.Balance.Sub(adj.Delta),
		BalanceAfter:  w.Balance,
		Note:          adj.Note,
		RefID:         adj.RefID,
	}).Error; err != nil {
		return decimal.Zero, err
	}

	slog.Info("wallet adjusted", "user", adj.UserID, "currency", adj.Currency,
		"delta", adj.Delta.String(), "balance", w.Balance.String(), "type", adj.TrxType, "ref", adj.RefID)
	return w.Balance, nil
}

// openWallet creates the first wallet row with the credited amount. A racing
// creator wins the unique index; the savepoint lets us fall back to the update.
func (s *WalletService) openWallet(tx *gorm.DB, adj Adjustment) error {
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&models.Wallet{
			UserID:   adj.UserID,
			Currency: adj.Currency,
			Balance:  adj.Delta,
		}).Error
	})
	if err == nil {
		return nil
	}
	if !isDuplicateKey(err) {
		return err
	}
	return tx.Model(&models.Wallet{}).
		Where("user_id = ? AND currency = ?", adj.UserID, adj.Currency).
		Update("balance", gorm.Expr("balance + ?", adj.Delta)).Error
}

// GrantItems adds quantity of itemID to the user's inventory inside tx.
func (s *WalletService) GrantItems(tx *gorm.DB, userID, itemID string, quantity int) error {
	if quantity < 1 {
		return newError(KindInvalidArgument, "quantity must be >= 1")
	}
	res := tx.Model(&models.InventoryItem{}).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		Update("quantity", gorm.Expr("quantity + ?", quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&models.InventoryItem{UserID: userID, ItemID: itemID, Quantity: int64(quantity)}).Error
	})
	if err != nil && isDuplicateKey(err) {
		return tx.Model(&models.InventoryItem{}).
			Where("user_id = ? AND item_id = ?", userID, itemID).
			Update("quantity", gorm.Expr("quantity + ?", quantity)).Error
	}
	return err
}

func (s *WalletService) Inventory(ctx context.Context, userID string) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("item_id asc").Find(&items).Error
	return items, err
}

// ApplyReward credits every leaf of r to the user inside tx.
func (s *WalletService) ApplyReward(tx *gorm.DB, userID string, r models.Reward, trxType, refID string) error {
	for _, leaf := range r.Flatten() {
		switch leaf.Kind {
		case models.RewardCurrency:
			if _, err := s.Adjust(tx, Adjustment{
				UserID:   userID,
				Currency: leaf.Currency,
				Delta:    leaf.Amount,
				TrxType:  trxType,
				RefID:    refID,
			}); err != nil {
				return err
			}
		case models.RewardItem:
			if err := s.GrantItems(tx, userID, leaf.ItemID, leaf.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}
