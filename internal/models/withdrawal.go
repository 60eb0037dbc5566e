package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string
type PayoutMethodType string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

const (
	PayoutBankTransfer PayoutMethodType = "bank_transfer"
	PayoutEWallet      PayoutMethodType = "e_wallet"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:    {WithdrawalProcessing, WithdrawalFailed},
	WithdrawalProcessing: {WithdrawalCompleted, WithdrawalFailed},
}

func (s WithdrawalStatus) CanTransition(to WithdrawalStatus) bool {
	return allowed(withdrawalTransitions[s], to)
}

func (s WithdrawalStatus) IsActive() bool {
	return s == WithdrawalPending || s == WithdrawalProcessing
}

func (m PayoutMethodType) Valid() bool {
	return m == PayoutBankTransfer || m == PayoutEWallet
}

type Withdrawal struct {
	ID                uint             `gorm:"primarykey" json:"id"`
	Reference         string           `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`
	EscrowID          uint             `gorm:"not null;index" json:"escrow_id"`
	FreelancerID      uint             `gorm:"not null;index" json:"freelancer_id"`
	PayoutMethodID    *uint            `gorm:"index" json:"payout_method_id,omitempty"`
	GrossAmount       decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"gross_amount"`
	PlatformFee       decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"platform_fee"`
	NetAmount         decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"net_amount"`
	PayoutMethod      PayoutMethodType `gorm:"type:varchar(20);not null" json:"payout_method"`
	BankName          string           `gorm:"type:varchar(100)" json:"bank_name,omitempty"`
	AccountNumber     string           `gorm:"type:varchar(64);not null" json:"account_number"`
	AccountHolderName string           `gorm:"type:varchar(255);not null" json:"account_holder_name"`
	Status            WithdrawalStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProofOfTransfer   string           `gorm:"type:text" json:"proof_of_transfer,omitempty"`
	Note              string           `gorm:"type:text" json:"note,omitempty"`
	FailureReason     string           `gorm:"type:text" json:"failure_reason,omitempty"`
	ProcessedBy       *uint            `json:"processed_by,omitempty"`
	ProcessingAt      *time.Time       `json:"processing_at,omitempty"`
	PaidOutAt         *time.Time       `json:"paid_out_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}

// WithdrawalStats summarises withdrawals for operators.
type WithdrawalStats struct {
	Pending        int64           `json:"pending"`
	Processing     int64           `json:"processing"`
	Completed      int64           `json:"completed"`
	Failed         int64           `json:"failed"`
	TotalPaidOut   decimal.Decimal `json:"total_paid_out"`
	TotalFeesTaken decimal.Decimal `json:"total_fees_taken"`
}
