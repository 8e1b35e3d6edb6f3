package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentPackage struct {
	gorm.Model

	Code     string          `gorm:"uniqueIndex;size:32" json:"code"`
	Name     string          `gorm:"size:128" json:"name"`
	Price    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	Currency string          `gorm:"size:8" json:"currency"`
	Tokens   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tokens"`
	Active   bool            `gorm:"default:true" json:"active"`
}

const (
	PaymentOrderPending = "pending"
	PaymentOrderPaid    = "paid"
)

type PaymentOrder struct {
	gorm.Model

	OrderRef    string          `gorm:"uniqueIndex;size:36" json:"order_ref"`
	ExternalRef *string         `gorm:"uniqueIndex;size:128" json:"external_ref,omitempty"`
	UserID      string          `gorm:"size:64;index" json:"user_id"`
	ServerID    uint            `gorm:"index" json:"server_id"`
	PackageID   uint            `json:"package_id"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4)" json:"price"`
	Currency    string          `gorm:"size:8" json:"currency"`
	Tokens      decimal.Decimal `gorm:"type:decimal(20,4)" json:"tokens"`
	Status      string          `gorm:"size:16;index" json:"status"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

func (o *PaymentOrder) BeforeCreate(tx *gorm.DB) (err error) {
	if o.OrderRef == "" {
		o.OrderRef = strings.ToLower(uuid.New().String())
	}
	return nil
}
