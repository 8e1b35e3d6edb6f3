package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleSuper    = "super"
	RoleOperator = "operator"
)

type Admin struct {
	gorm.Model

	Username     string     `gorm:"uniqueIndex;size:64" json:"username"`
	PasswordHash string     `gorm:"size:255" json:"-"`
	Role         string     `gorm:"size:16" json:"role"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}
