package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundPending:    {RefundProcessing, RefundFailed},
	RefundProcessing: {RefundCompleted, RefundFailed},
}

func (s RefundStatus) CanTransition(to RefundStatus) bool {
	return allowed(refundTransitions[s], to)
}

func (s RefundStatus) IsTerminal() bool {
	return len(refundTransitions[s]) == 0
}

func (s RefundStatus) IsActive() bool {
	return s == RefundPending || s == RefundProcessing
}

type Refund struct {
	ID                   uint            `gorm:"primarykey" json:"id"`
	PaymentID            uint            `gorm:"not null;index" json:"payment_id"`
	EscrowID             uint            `gorm:"not null;index" json:"escrow_id"`
	UserID               uint            `gorm:"not null;index" json:"user_id"`
	RequestedBy          uint            `gorm:"not null" json:"requested_by"`
	RefundAmount         decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"refund_amount"`
	Reason               string          `gorm:"type:text;not null" json:"reason"`
	Status               RefundStatus    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	GatewayTransactionID string          `gorm:"type:varchar(128)" json:"gateway_transaction_id,omitempty"`
	Note                 string          `gorm:"type:text" json:"note,omitempty"`
	FailureReason        string          `gorm:"type:text" json:"failure_reason,omitempty"`
	ProcessedBy          *uint           `json:"processed_by,omitempty"`
	ProcessedAt          *time.Time      `json:"processed_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (Refund) TableName() string {
	return "refunds"
}
