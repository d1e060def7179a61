package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	minCheckoutSessionTTL = 30 * time.Minute
	maxCheckoutSessionTTL = 24 * time.Hour
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	LogLevel     string
	SentryDSN    string
	Environment  string

	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	CheckoutCurrency    string
	CheckoutSessionTTL  time.Duration
	CheckoutTimeout     time.Duration

	// PendingTTL must exceed CheckoutSessionTTL so the sweeper never removes a
	// reservation whose checkout session can still be paid.
	PendingTTL     time.Duration
	SweepInterval  time.Duration
	TxMaxRetries   int
	WriteTimeout   time.Duration
	IdempotencyTTL time.Duration
	RateLimit      int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		CRDBDSN:             os.Getenv("CRDB_DSN"),
		MongoURI:            os.Getenv("MONGO_URI"),
		MongoDB:             getenv("MONGO_DB", "smarthost"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RabbitURL:           os.Getenv("RABBIT_URL"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		SentryDSN:           os.Getenv("SENTRY_DSN"),
		Environment:         getenv("APP_ENV", "development"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL:  getenv("CHECKOUT_SUCCESS_URL", "http://localhost:4200/payment-success"),
		CheckoutCancelURL:   getenv("CHECKOUT_CANCEL_URL", "http://localhost:4200/payment-cancel"),
		CheckoutCurrency:    getenv("CHECKOUT_CURRENCY", "eur"),
	}

	var err error
	if cfg.CheckoutSessionTTL, err = durationEnv("CHECKOUT_SESSION_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.CheckoutTimeout, err = durationEnv("CHECKOUT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PendingTTL, err = durationEnv("PENDING_TTL", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = durationEnv("WRITE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TxMaxRetries, err = intEnv("TX_MAX_RETRIES", 8); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = intEnv("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.CheckoutSessionTTL < minCheckoutSessionTTL || c.CheckoutSessionTTL > maxCheckoutSessionTTL {
		return errors.Newf("CHECKOUT_SESSION_TTL must be between %s and %s", minCheckoutSessionTTL, maxCheckoutSessionTTL)
	}
	if c.PendingTTL <= c.CheckoutSessionTTL {
		return errors.Newf("PENDING_TTL (%s) must exceed CHECKOUT_SESSION_TTL (%s)", c.PendingTTL, c.CheckoutSessionTTL)
	}
	if c.TxMaxRetries < 1 {
		return errors.New("TX_MAX_RETRIES must be at least 1")
	}
	if c.CheckoutTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("CHECKOUT_TIMEOUT and WRITE_TIMEOUT must be positive")
	}
	return nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", k)
	}
	return d, nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", k)
	}
	return n, nil
}
