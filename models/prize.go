package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PrizeSetting holds the prize pool of one game server.
type PrizeSetting struct {
	gorm.Model

	ServerID                uint            `gorm:"uniqueIndex" json:"server_id"`
	InitialPrize            decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"initial_prize"`
	TotalContributions      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_contributions"`
	ContributionRatePercent decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"contribution_rate_percent"`
	AddonPrize              decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"addon_prize"`
}

// PrizeRankBand assigns PercentOfPool of the pool to ranks FromRank..ToRank
// inclusive. Bands are hard-deleted so a range can be recreated.
type PrizeRankBand struct {
	gorm.Model

	ServerID      uint            `gorm:"uniqueIndex:idx_band_range" json:"server_id"`
	FromRank      int             `gorm:"not null;uniqueIndex:idx_band_range" json:"from_rank"`
	ToRank        int             `gorm:"not null;uniqueIndex:idx_band_range" json:"to_rank"`
	PercentOfPool decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"percent_of_pool"`
}

// PendingContribution queues a pool contribution whose direct apply failed.
type PendingContribution struct {
	gorm.Model

	ServerID  uint            `gorm:"index" json:"server_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	SourceRef string          `gorm:"uniqueIndex;size:64" json:"source_ref"`
	Attempts  int             `json:"attempts"`
	LastError string          `gorm:"size:255" json:"last_error"`
	Done      bool            `gorm:"index;default:false" json:"done"`
}
