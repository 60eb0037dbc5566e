package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Gateway)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.PaymentTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.AutoReleaseAfter)
	assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
	assert.True(t, cfg.PlatformFeePercent.Equal(decimal.NewFromInt(10)))
	assert.True(t, cfg.GatewayFlatFee.Equal(decimal.NewFromInt(2000)))
	assert.True(t, cfg.WithdrawalFeePercent.Equal(decimal.NewFromInt(5)))
	assert.True(t, cfg.EscrowCommission.IsZero())
	assert.Equal(t, 100, cfg.SweepBatchSize)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"PORT":                 "9000",
		"PLATFORM_FEE_PERCENT": "7.5",
		"PAYMENT_TTL":          "2h",
		"KAFKA_BROKERS":        "k1:9092, k2:9092",
		"CURRENCY_SCALE":       "2",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "7.5", cfg.PlatformFeePercent.String())
	assert.Equal(t, 2*time.Hour, cfg.PaymentTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, int32(2), cfg.CurrencyScale)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	_, err := FromEnv(envOf(map[string]string{"PLATFORM_FEE_PERCENT": "-1"}))
	assert.Error(t, err)

	_, err = FromEnv(envOf(map[string]string{"PAYMENT_TTL": "soon"}))
	assert.Error(t, err)

	_, err = FromEnv(envOf(map[string]string{"PAYMENT_GATEWAY": "paystack"}))
	assert.ErrorContains(t, err, "PAYSTACK_SECRET_KEY")

	_, err = FromEnv(envOf(map[string]string{"PAYMENT_GATEWAY": "manual"}))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://u:p@db/escrow"}
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/escrow", dsn)

	cfg = &Config{DBHost: "db", DBUser: "u", DBPort: "5432"}
	_, err = cfg.DSN()
	assert.Error(t, err)
}
