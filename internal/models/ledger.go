package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEntryType string

const (
	LedgerHold           LedgerEntryType = "hold"
	LedgerRelease        LedgerEntryType = "release"
	LedgerPartialRelease LedgerEntryType = "partial_release"
	LedgerRefund         LedgerEntryType = "refund"
	LedgerWithdrawal     LedgerEntryType = "withdrawal"
	LedgerFee            LedgerEntryType = "fee"
)

// LedgerEntry is an append-only record of a money movement.
type LedgerEntry struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	Reference    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`
	Type         LedgerEntryType `gorm:"type:varchar(20);not null;index" json:"type"`
	UserID       uint            `gorm:"not null;index" json:"user_id"`
	PaymentID    *uint           `gorm:"index" json:"payment_id,omitempty"`
	EscrowID     *uint           `gorm:"index" json:"escrow_id,omitempty"`
	WithdrawalID *uint           `json:"withdrawal_id,omitempty"`
	RefundID     *uint           `json:"refund_id,omitempty"`
	Amount       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Currency     string          `gorm:"type:varchar(3);not null" json:"currency"`
	Description  string          `gorm:"type:text" json:"description"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
