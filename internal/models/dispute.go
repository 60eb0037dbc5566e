package models

import (
	"time"
)

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

type Dispute struct {
	ID          uint          `gorm:"primarykey" json:"id"`
	EscrowID    uint          `gorm:"not null;index" json:"escrow_id"`
	RaisedBy    uint          `gorm:"not null;index" json:"raised_by"`
	Reason      string        `gorm:"type:text;not null" json:"reason"`
	Status      DisputeStatus `gorm:"type:varchar(20);not null;default:'open'" json:"status"`
	Resolution  string        `gorm:"type:text" json:"resolution,omitempty"`
	ResolvedBy  *uint         `json:"resolved_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

func (Dispute) TableName() string {
	return "disputes"
}
