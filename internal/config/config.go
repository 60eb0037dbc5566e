package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Env     string `default:"development"`
	Port    string `default:"8080"`
	AppName string `default:"GigEscrow API v1.0"`

	DatabaseURL string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string `default:"5432"`
	DBLogLevel  string `default:"warn"`

	JWTSecret string

	Gateway            string        `default:"mock"`
	GatewayTimeout     time.Duration `default:"15s"`
	GatewayCallbackURL string
	Currency           string `default:"IDR"`
	CurrencyScale      int32  `default:"0"`

	MockServerKey string `default:"mock-server-key"`
	MockBaseURL   string `default:"https://app.sandbox.mock-gateway.local"`

	PaystackSecretKey string
	PaystackBaseURL   string `default:"https://api.paystack.co"`

	StripeSecretKey     string
	StripeWebhookSecret string

	PlatformFeePercent   decimal.Decimal
	GatewayFlatFee       decimal.Decimal
	WithdrawalFeePercent decimal.Decimal
	EscrowCommission     decimal.Decimal
	PaymentTTL           time.Duration `default:"24h"`
	AutoReleaseAfter     time.Duration `default:"168h"`

	OrderServiceURL     string        `default:"http://localhost:8081"`
	OrderServiceTimeout time.Duration `default:"5s"`

	KafkaBrokers      []string
	KafkaTopicPrefix  string `default:"payments"`
	OrderEventsTopic  string `default:"order.completed"`
	RedisAddr         string
	RedisPassword     string
	WebhookLockTTL    time.Duration `default:"30s"`
	ExpirySweepSpec   string        `default:"*/5 * * * *"`
	ReleaseSweepSpec  string        `default:"@hourly"`
	SweepBatchSize    int           `default:"100"`

	ResendAPIKey string
	FromEmail    string `default:"onboarding@resend.dev"`
	OpsEmail     string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	ProofFolder         string `default:"gigescrow/withdrawal-proofs"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using getenv for lookups.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		PlatformFeePercent:   decimal.NewFromInt(10),
		GatewayFlatFee:       decimal.NewFromInt(2000),
		WithdrawalFeePercent: decimal.NewFromInt(5),
		EscrowCommission:     decimal.Zero,
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("APP_ENV", &cfg.Env)
	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("DB_HOST", &cfg.DBHost)
	str("DB_USER", &cfg.DBUser)
	str("DB_PASSWORD", &cfg.DBPassword)
	str("DB_NAME", &cfg.DBName)
	str("DB_PORT", &cfg.DBPort)
	str("DB_LOG_LEVEL", &cfg.DBLogLevel)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("PAYMENT_GATEWAY", &cfg.Gateway)
	str("GATEWAY_CALLBACK_URL", &cfg.GatewayCallbackURL)
	str("CURRENCY", &cfg.Currency)
	str("MOCK_SERVER_KEY", &cfg.MockServerKey)
	str("MOCK_BASE_URL", &cfg.MockBaseURL)
	str("PAYSTACK_SECRET_KEY", &cfg.PaystackSecretKey)
	str("PAYSTACK_BASE_URL", &cfg.PaystackBaseURL)
	str("STRIPE_SECRET_KEY", &cfg.StripeSecretKey)
	str("STRIPE_WEBHOOK_SECRET", &cfg.StripeWebhookSecret)
	str("ORDER_SERVICE_URL", &cfg.OrderServiceURL)
	str("KAFKA_TOPIC_PREFIX", &cfg.KafkaTopicPrefix)
	str("ORDER_EVENTS_TOPIC", &cfg.OrderEventsTopic)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	str("EXPIRY_SWEEP_SPEC", &cfg.ExpirySweepSpec)
	str("RELEASE_SWEEP_SPEC", &cfg.ReleaseSweepSpec)
	str("RESEND_API_KEY", &cfg.ResendAPIKey)
	str("FROM_EMAIL", &cfg.FromEmail)
	str("OPS_EMAIL", &cfg.OpsEmail)
	str("CLOUDINARY_CLOUD_NAME", &cfg.CloudinaryCloudName)
	str("CLOUDINARY_API_KEY", &cfg.CloudinaryAPIKey)
	str("CLOUDINARY_API_SECRET", &cfg.CloudinaryAPISecret)
	str("PROOF_FOLDER", &cfg.ProofFolder)

	if v := getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	durations := map[string]*time.Duration{
		"GATEWAY_TIMEOUT":       &cfg.GatewayTimeout,
		"PAYMENT_TTL":           &cfg.PaymentTTL,
		"AUTO_RELEASE_AFTER":    &cfg.AutoReleaseAfter,
		"ORDER_SERVICE_TIMEOUT": &cfg.OrderServiceTimeout,
		"WEBHOOK_LOCK_TTL":      &cfg.WebhookLockTTL,
	}
	for key, dst := range durations {
		if v := getenv(key); v != "" {
			if *dst, err = time.ParseDuration(v); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	}

	amounts := map[string]*decimal.Decimal{
		"PLATFORM_FEE_PERCENT":   &cfg.PlatformFeePercent,
		"GATEWAY_FLAT_FEE":       &cfg.GatewayFlatFee,
		"WITHDRAWAL_FEE_PERCENT": &cfg.WithdrawalFeePercent,
		"ESCROW_COMMISSION":      &cfg.EscrowCommission,
	}
	for key, dst := range amounts {
		if v := getenv(key); v != "" {
			if *dst, err = decimal.NewFromString(v); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			if dst.IsNegative() {
				return nil, fmt.Errorf("invalid %s: must not be negative", key)
			}
		}
	}

	if v := getenv("CURRENCY_SCALE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 4 {
			return nil, fmt.Errorf("invalid CURRENCY_SCALE %q", v)
		}
		cfg.CurrencyScale = int32(n)
	}
	if v := getenv("SWEEP_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid SWEEP_BATCH_SIZE %q", v)
		}
		cfg.SweepBatchSize = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the secrets required by the selected gateway exist.
func (c *Config) Validate() error {
	switch c.Gateway {
	case "mock":
		if c.MockServerKey == "" {
			return fmt.Errorf("MOCK_SERVER_KEY is required for the mock gateway")
		}
	case "paystack":
		if c.PaystackSecretKey == "" {
			return fmt.Errorf("PAYSTACK_SECRET_KEY is required for the paystack gateway")
		}
	case "stripe":
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required for the stripe gateway")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_GATEWAY %q", c.Gateway)
	}
	if c.Env == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// DSN returns the Postgres connection string, preferring DATABASE_URL.
func (c *Config) DSN() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}
	if c.DBHost == "" || c.DBUser == "" || c.DBPassword == "" || c.DBName == "" || c.DBPort == "" {
		return "", fmt.Errorf("database configuration not provided: either set DATABASE_URL or all of DB_HOST, DB_USER, DB_PASSWORD, DB_NAME, and DB_PORT")
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort,
	), nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
