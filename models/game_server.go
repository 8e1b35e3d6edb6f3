package models

import "gorm.io/gorm"

// GameServer is a game shard calling the player API on behalf of its players.
// Its ID is the server_id used by prize settings, bands and purchases.
type GameServer struct {
	gorm.Model

	Name       string `gorm:"size:64" json:"name"`
	ServerCode string `gorm:"uniqueIndex;size:32" json:"server_code"`
	SecretKey  string `gorm:"size:128" json:"-"`
	IsActive   bool   `gorm:"default:true" json:"is_active"`
}
