package models

import (
	"time"

	"gorm.io/gorm"
)

// APIKey represents a public-API credential. Only a bcrypt digest of the
// secret is stored; the plaintext is shown once at mint time. Lookup goes
// through the non-secret Prefix column.
type APIKey struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	Name       string     `json:"name" gorm:"not null"`
	Prefix     string     `json:"prefix" gorm:"uniqueIndex;not null"` // e.g. pr_live_3f9a2c
	KeyHash    string     `json:"-" gorm:"column:key_hash;not null"`
	UserID     string     `json:"userId" gorm:"column:user_id;index"`
	Active     bool       `json:"active" gorm:"default:true"`
	LastUsedAt *time.Time `json:"lastUsedAt" gorm:"column:last_used_at"`
	gorm.Model
}

// TableName specifies the table name for APIKey Model
func (APIKey) TableName() string {
	return "api_keys"
}
