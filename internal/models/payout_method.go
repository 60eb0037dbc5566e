package models

import (
	"time"

	"gorm.io/gorm"
)

// PayoutMethod is a saved destination a freelancer can withdraw to.
type PayoutMethod struct {
	ID            uint             `gorm:"primarykey" json:"id"`
	UserID        uint             `gorm:"not null;index" json:"user_id"`
	Type          PayoutMethodType `gorm:"type:varchar(20);not null" json:"type"`
	Provider      string           `gorm:"type:varchar(100);not null" json:"provider"`
	AccountNumber string           `gorm:"type:varchar(64);not null" json:"account_number"`
	AccountName   string           `gorm:"type:varchar(255);not null" json:"account_name"`
	IsDefault     bool             `gorm:"default:false" json:"is_default"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	DeletedAt     gorm.DeletedAt   `gorm:"index" json:"-"`
}

func (PayoutMethod) TableName() string {
	return "payout_methods"
}
