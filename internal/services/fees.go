package services

import (
	"github.com/shopspring/decimal"

	"GigEscrow/internal/models"
)

var hundred = decimal.NewFromInt(100)

// FeePolicy holds every fee schedule the payment flow applies. Percentages
// are expressed as 10 for 10%. Each fee is rounded to Scale decimal places
// and the remaining side of the equation is derived by subtraction or
// addition, so totals balance exactly.
type FeePolicy struct {
	PlatformPercent    decimal.Decimal
	GatewayFlatFee     decimal.Decimal
	GatewayFeeByMethod map[models.PaymentMethod]decimal.Decimal
	WithdrawalPercent  decimal.Decimal
	// EscrowCommissionPercent is taken from the freelancer's released share.
	EscrowCommissionPercent decimal.Decimal
	Scale                   int32
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		PlatformPercent:         decimal.NewFromInt(10),
		GatewayFlatFee:          decimal.NewFromInt(2000),
		WithdrawalPercent:       decimal.NewFromInt(5),
		EscrowCommissionPercent: decimal.Zero,
	}
}

func (f FeePolicy) percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred).Round(f.Scale)
}

// PaymentFees returns the platform fee, gateway fee and total for a gross
// order amount.
func (f FeePolicy) PaymentFees(gross decimal.Decimal, method models.PaymentMethod) (platform, gatewayFee, total decimal.Decimal) {
	platform = f.percentOf(gross, f.PlatformPercent)
	gatewayFee = f.GatewayFlatFee
	if fee, ok := f.GatewayFeeByMethod[method]; ok {
		gatewayFee = fee
	}
	gatewayFee = gatewayFee.Round(f.Scale)
	total = gross.Add(platform).Add(gatewayFee)
	return platform, gatewayFee, total
}

// WithdrawalFee splits a gross withdrawal into fee and net.
func (f FeePolicy) WithdrawalFee(gross decimal.Decimal) (fee, net decimal.Decimal) {
	fee = f.percentOf(gross, f.WithdrawalPercent)
	return fee, gross.Sub(fee)
}

func (f FeePolicy) EscrowCommission(gross decimal.Decimal) decimal.Decimal {
	return f.percentOf(gross, f.EscrowCommissionPercent)
}
