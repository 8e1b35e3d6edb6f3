package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TokenCurrency is the currency spent in the reward shop.
const TokenCurrency = "token"

type Wallet struct {
	gorm.Model

	UserID   string          `gorm:"size:64;uniqueIndex:idx_wallet_owner" json:"user_id"`
	Currency string          `gorm:"size:16;uniqueIndex:idx_wallet_owner" json:"currency"`
	Balance  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"balance"`
}

type WalletTransaction struct {
	gorm.Model

	UserID        string          `gorm:"size:64;index" json:"user_id"`
	Currency      string          `gorm:"size:16" json:"currency"`
	TrxType       string          `gorm:"size:32" json:"trx_type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,4)" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,4)" json:"balance_after"`
	Note          string          `gorm:"size:255" json:"note"`
	RefID         string          `gorm:"size:64;index" json:"ref_id"`
}

type InventoryItem struct {
	gorm.Model

	UserID   string `gorm:"size:64;uniqueIndex:idx_inventory_owner" json:"user_id"`
	ItemID   string `gorm:"size:64;uniqueIndex:idx_inventory_owner" json:"item_id"`
	Quantity int64  `gorm:"not null;default:0" json:"quantity"`
}
