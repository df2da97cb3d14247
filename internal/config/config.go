package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "ChatBill"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultInvoicePrefix   = "CB"
	defaultTaxRateBps      = 1800
	defaultMinOrderAmount  = 100
	defaultLowBalanceMark  = 20_000
	defaultGatewayTimeout  = 10 * time.Second
	defaultReconcileSpec   = "@every 15m"
	defaultReconcileMinAge = 30 * time.Minute
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Payment gateway credentials. GatewaySecret signs the client-side
	// verification payload, WebhookSecret signs raw webhook bodies.
	GatewayURL     string
	GatewayKeyID   string
	GatewaySecret  string
	WebhookSecret  string
	GatewayTimeout time.Duration

	// Billing behavior, amounts in paise.
	InvoicePrefix   string
	TaxRateBps      int64
	MinOrderAmount  int64
	LowBalanceAlert int64

	// Optional external sink for raw settlement events.
	AuditForwardURL string
	AuditForwardKey string

	// Background reconciliation of stale pending orders.
	ReconcileSpec   string
	ReconcileMinAge time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		GatewayURL:      getEnv("GATEWAY_URL", "https://api.razorpay.com/v1"),
		GatewayKeyID:    os.Getenv("GATEWAY_KEY_ID"),
		GatewaySecret:   os.Getenv("GATEWAY_KEY_SECRET"),
		WebhookSecret:   os.Getenv("GATEWAY_WEBHOOK_SECRET"),
		GatewayTimeout:  defaultGatewayTimeout,
		InvoicePrefix:   getEnv("INVOICE_PREFIX", defaultInvoicePrefix),
		TaxRateBps:      defaultTaxRateBps,
		MinOrderAmount:  defaultMinOrderAmount,
		LowBalanceAlert: defaultLowBalanceMark,
		AuditForwardURL: os.Getenv("AUDIT_FORWARD_URL"),
		AuditForwardKey: os.Getenv("AUDIT_FORWARD_KEY"),
		ReconcileSpec:   getEnv("RECONCILE_SWEEP_SPEC", defaultReconcileSpec),
		ReconcileMinAge: defaultReconcileMinAge,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if err := overrideInt64(&cfg.TaxRateBps, "TAX_RATE_BPS"); err != nil {
		return Config{}, err
	}
	if err := overrideInt64(&cfg.MinOrderAmount, "MIN_ORDER_AMOUNT"); err != nil {
		return Config{}, err
	}
	if err := overrideInt64(&cfg.LowBalanceAlert, "LOW_BALANCE_THRESHOLD"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.GatewayTimeout, "GATEWAY_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.ReconcileMinAge, "RECONCILE_MIN_AGE"); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func overrideInt64(target *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func overrideDuration(target *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = d
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
