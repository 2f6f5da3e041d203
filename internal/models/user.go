package models

import (
	"gorm.io/gorm"
)

// User represents an admin user of the registry
type User struct {
	ID       string `json:"id" gorm:"primaryKey"`
	Username string `json:"username" gorm:"unique;not null"`
	Password string `json:"-" gorm:"not null"` // bcrypt digest
	gorm.Model
}

// TableName specifies the table name for User Model
func (User) TableName() string {
	return "users"
}
