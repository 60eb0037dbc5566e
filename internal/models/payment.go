package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentStatus string
type PaymentMethod string
type Gateway string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	PaymentExpired PaymentStatus = "expired"
)

const (
	MethodBankTransfer   PaymentMethod = "bank_transfer"
	MethodEWallet        PaymentMethod = "e_wallet"
	MethodCreditCard     PaymentMethod = "credit_card"
	MethodQRIS           PaymentMethod = "qris"
	MethodVirtualAccount PaymentMethod = "virtual_account"
)

const (
	GatewayMock     Gateway = "mock"
	GatewayManual   Gateway = "manual"
	GatewayPaystack Gateway = "paystack"
	GatewayStripe   Gateway = "stripe"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed, PaymentExpired},
}

// CanTransition reports whether a payment may move from one status to another.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	return allowed(paymentTransitions[s], to)
}

func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodEWallet, MethodCreditCard, MethodQRIS, MethodVirtualAccount:
		return true
	}
	return false
}

// Payment is one payment attempt for an order. Retries create new rows.
type Payment struct {
	ID                uint            `gorm:"primarykey" json:"id"`
	OrderID           uint            `gorm:"not null;index" json:"order_id"`
	PayerID           uint            `gorm:"not null;index" json:"payer_id"`
	FreelancerID      uint            `gorm:"not null;index" json:"freelancer_id"`
	TransactionID     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	ExternalID        string          `gorm:"type:varchar(128);index" json:"external_id,omitempty"`
	GrossAmount       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"gross_amount"`
	PlatformFee       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"platform_fee"`
	GatewayFee        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"gateway_fee"`
	TotalAmount       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_amount"`
	Currency          string          `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentMethod     PaymentMethod   `gorm:"type:varchar(20);not null" json:"payment_method"`
	Channel           string          `gorm:"type:varchar(50)" json:"channel,omitempty"`
	Gateway           Gateway         `gorm:"type:varchar(20);not null" json:"gateway"`
	Status            PaymentStatus   `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentURL        string          `gorm:"type:text" json:"payment_url,omitempty"`
	PaymentToken      string          `gorm:"type:varchar(255)" json:"payment_token,omitempty"`
	CallbackPayload   datatypes.JSON  `json:"callback_payload,omitempty"`
	CallbackSignature string          `gorm:"type:text" json:"-"`
	InvoiceNumber     string          `gorm:"type:varchar(64)" json:"invoice_number,omitempty"`
	InvoiceURL        string          `gorm:"type:text" json:"invoice_url,omitempty"`
	FailureReason     string          `gorm:"type:text" json:"failure_reason,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	ExpiresAt         time.Time       `gorm:"not null;index" json:"expires_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// IsExpired reports whether a pending payment has outlived its deadline,
// whether or not a sweep has persisted the expiry yet.
func (p *Payment) IsExpired(now time.Time) bool {
	return p.Status == PaymentPending && !now.Before(p.ExpiresAt)
}

// EffectiveStatus is the status readers should act on.
func (p *Payment) EffectiveStatus(now time.Time) PaymentStatus {
	if p.IsExpired(now) {
		return PaymentExpired
	}
	return p.Status
}

// FeesBalanced checks total = gross + platform fee + gateway fee.
func (p *Payment) FeesBalanced() bool {
	return p.TotalAmount.Equal(p.GrossAmount.Add(p.PlatformFee).Add(p.GatewayFee))
}
