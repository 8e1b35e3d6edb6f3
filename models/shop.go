package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ShopItemReward = "reward"
	ShopItemPacket = "packet"
)

// ShopItem is sold for tokens. MaxTotal and DailyMax cap purchases per user.
type ShopItem struct {
	gorm.Model

	ItemRef     string                     `gorm:"uniqueIndex;size:64" json:"item_ref"`
	Name        string                     `gorm:"size:128" json:"name"`
	Kind        string                     `gorm:"size:16;index" json:"kind"`
	PriceTokens decimal.Decimal            `gorm:"type:decimal(20,4);not null" json:"price_tokens"`
	Reward      datatypes.JSONType[Reward] `json:"reward"`
	MaxTotal    *int                       `json:"max_total"`
	DailyMax    *int                       `json:"daily_max"`
	SoldCount   int64                      `gorm:"not null;default:0" json:"sold_count"`
	Active      bool                       `gorm:"index" json:"active"`
}

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseDebited   PurchaseStatus = "debited"
	PurchaseDelivered PurchaseStatus = "delivered"
	PurchaseRefunded  PurchaseStatus = "refunded"
	PurchaseFailed    PurchaseStatus = "failed"
)

var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchasePending:   {PurchaseDebited},
	PurchaseDebited:   {PurchaseDelivered, PurchaseFailed},
	PurchaseDelivered: {PurchaseRefunded},
}

func (s PurchaseStatus) CanTransition(to PurchaseStatus) bool {
	for _, next := range purchaseTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TokenPurchase tracks one shop purchase. TransactionRef is the caller's
// idempotency key.
type TokenPurchase struct {
	gorm.Model

	TransactionRef      string                     `gorm:"uniqueIndex;size:64" json:"transaction_ref"`
	UserID              string                     `gorm:"size:64;index:idx_purchase_user_item" json:"user_id"`
	ServerID            uint                       `gorm:"index" json:"server_id"`
	ShopItemID          uint                       `gorm:"index:idx_purchase_user_item" json:"shop_item_id"`
	ItemRef             string                     `gorm:"size:64" json:"item_ref"`
	PriceTokens         decimal.Decimal            `gorm:"type:decimal(20,4)" json:"price_tokens"`
	Reward              datatypes.JSONType[Reward] `json:"reward"`
	Status              PurchaseStatus             `gorm:"size:16;index" json:"status"`
	NeedsReconciliation bool                       `gorm:"index;default:false" json:"needs_reconciliation"`
	FailureReason       string                     `gorm:"size:255" json:"failure_reason,omitempty"`
	BalanceAfter        decimal.Decimal            `gorm:"type:decimal(20,4)" json:"balance_after"`
	DeliveredAt         *time.Time                 `json:"delivered_at,omitempty"`
	RefundedAt          *time.Time                 `json:"refunded_at,omitempty"`
	RefundedBy          *uint                      `json:"refunded_by,omitempty"`
}

func (p *TokenPurchase) BeforeCreate(tx *gorm.DB) (err error) {
	if p.TransactionRef == "" {
		p.TransactionRef = strings.ToLower(uuid.New().String())
	}
	return nil
}
