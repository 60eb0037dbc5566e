package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowHeld            EscrowStatus = "held"
	EscrowReleased        EscrowStatus = "released"
	EscrowRefunded        EscrowStatus = "refunded"
	EscrowDisputed        EscrowStatus = "disputed"
	EscrowPartialReleased EscrowStatus = "partial_released"
	EscrowCompleted       EscrowStatus = "completed"
)

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowHeld:            {EscrowReleased, EscrowRefunded, EscrowDisputed, EscrowPartialReleased},
	EscrowDisputed:        {EscrowReleased, EscrowRefunded, EscrowPartialReleased},
	EscrowPartialReleased: {EscrowPartialReleased, EscrowReleased, EscrowRefunded},
	EscrowReleased:        {EscrowCompleted},
}

func (s EscrowStatus) CanTransition(to EscrowStatus) bool {
	return allowed(escrowTransitions[s], to)
}

// HasResidual reports whether funds may still be undecided in this status.
func (s EscrowStatus) HasResidual() bool {
	return s == EscrowHeld || s == EscrowDisputed || s == EscrowPartialReleased
}

// Escrow holds the gross amount of a paid payment until it is released to
// the freelancer or refunded to the client. HeldAmount is the undecided
// residual; every release or refund moves value out of it, so
// HeldAmount + ReleasedAmount + RefundedAmount always equals OriginalAmount.
type Escrow struct {
	ID                 uint            `gorm:"primarykey" json:"id"`
	PaymentID          uint            `gorm:"not null;uniqueIndex" json:"payment_id"`
	OrderID            uint            `gorm:"not null;index" json:"order_id"`
	ClientID           uint            `gorm:"not null;index" json:"client_id"`
	FreelancerID       uint            `gorm:"not null;index" json:"freelancer_id"`
	OriginalAmount     decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"original_amount"`
	HeldAmount         decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"held_amount"`
	ReleasedAmount     decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"released_amount"`
	RefundedAmount     decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"refunded_amount"`
	PlatformFee        decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"platform_fee"`
	Currency           string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status             EscrowStatus    `gorm:"type:varchar(20);not null;default:'held';index" json:"status"`
	Reason             string          `gorm:"type:text" json:"reason,omitempty"`
	Version            int             `gorm:"not null;default:1" json:"version"`
	HeldAt             time.Time       `gorm:"not null" json:"held_at"`
	ScheduledReleaseAt time.Time       `gorm:"not null;index" json:"scheduled_release_at"`
	ReleasedAt         *time.Time      `json:"released_at,omitempty"`
	DisputedAt         *time.Time      `json:"disputed_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (Escrow) TableName() string {
	return "escrows"
}

// NetPayable is what the freelancer may withdraw: funds released to them
// less the platform commission on the escrow.
func (e *Escrow) NetPayable() decimal.Decimal {
	net := e.ReleasedAmount.Sub(e.PlatformFee)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// AutoReleaseDue reports whether a held escrow has passed its release date.
func (e *Escrow) AutoReleaseDue(now time.Time) bool {
	return e.Status == EscrowHeld && !now.Before(e.ScheduledReleaseAt)
}

// Balanced checks the conservation rule between the three buckets.
func (e *Escrow) Balanced() bool {
	return e.HeldAmount.Add(e.ReleasedAmount).Add(e.RefundedAmount).Equal(e.OriginalAmount)
}
