package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"GigEscrow/internal/models"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestPaymentFees_DefaultSchedule(t *testing.T) {
	platform, gatewayFee, total := DefaultFeePolicy().PaymentFees(d("100000"), models.MethodBankTransfer)

	assert.Equal(t, "10000", platform.String())
	assert.Equal(t, "2000", gatewayFee.String())
	assert.Equal(t, "112000", total.String())
}

func TestPaymentFees_MethodOverride(t *testing.T) {
	f := DefaultFeePolicy()
	f.GatewayFeeByMethod = map[models.PaymentMethod]decimal.Decimal{models.MethodQRIS: d("700")}

	_, gatewayFee, total := f.PaymentFees(d("50000"), models.MethodQRIS)
	assert.Equal(t, "700", gatewayFee.String())
	assert.Equal(t, "55700", total.String())
}

func TestFeesConserveAcrossAmounts(t *testing.T) {
	f := DefaultFeePolicy()
	f.PlatformPercent = d("7.5")
	f.WithdrawalPercent = d("2.9")

	for _, raw := range []string{"1", "3", "999", "12345", "100001", "7777777"} {
		gross := d(raw)
		platform, gatewayFee, total := f.PaymentFees(gross, models.MethodEWallet)
		assert.True(t, total.Equal(gross.Add(platform).Add(gatewayFee)), raw)
		assert.True(t, platform.Equal(platform.Round(f.Scale)), raw)

		fee, net := f.WithdrawalFee(gross)
		assert.True(t, net.Equal(gross.Sub(fee)), raw)
		assert.False(t, fee.IsNegative(), raw)
	}
}

func TestWithdrawalFee_DefaultFivePercent(t *testing.T) {
	fee, net := DefaultFeePolicy().WithdrawalFee(d("100000"))
	assert.Equal(t, "5000", fee.String())
	assert.Equal(t, "95000", net.String())
}

func TestFeeRoundingUsesCurrencyScale(t *testing.T) {
	f := DefaultFeePolicy()
	f.Scale = 2
	f.WithdrawalPercent = d("3.3")

	fee, net := f.WithdrawalFee(d("10.05"))
	assert.Equal(t, "0.33", fee.String())
	assert.Equal(t, "9.72", net.String())
}
