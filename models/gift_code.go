package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RedeemableCode struct {
	gorm.Model

	Code         string                     `gorm:"uniqueIndex;size:64" json:"code"`
	Reward       datatypes.JSONType[Reward] `json:"reward"`
	UsageLimit   *int                       `json:"usage_limit"`
	UsageCount   int                        `gorm:"not null;default:0" json:"usage_count"`
	PerUserLimit int                        `gorm:"not null;default:1" json:"per_user_limit"`
	Active       bool                       `gorm:"index" json:"active"`
	ValidFrom    *time.Time                 `json:"valid_from"`
	ValidUntil   *time.Time                 `gorm:"index" json:"valid_until"`
	CreatedBy    uint                       `json:"created_by"`
}

// RedemptionRecord is one successful claim. Seq numbers the claims of one user
// for one code, so the unique slot index caps them at PerUserLimit.
type RedemptionRecord struct {
	gorm.Model

	RefID          string                     `gorm:"size:36;uniqueIndex" json:"ref_id"`
	CodeID         uint                       `gorm:"uniqueIndex:idx_redemption_slot" json:"code_id"`
	UserID         string                     `gorm:"size:64;uniqueIndex:idx_redemption_slot" json:"user_id"`
	Seq            int                        `gorm:"uniqueIndex:idx_redemption_slot" json:"seq"`
	Code           string                     `gorm:"size:64" json:"code"`
	ServerID       uint                       `gorm:"index" json:"server_id"`
	GrantedPayload datatypes.JSONType[Reward] `json:"granted_payload"`
	RedeemedAt     time.Time                  `json:"redeemed_at"`
}

func (r *RedemptionRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.RefID == "" {
		r.RefID = strings.ToLower(uuid.New().String())
	}
	return nil
}
