// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/pricing"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector; tracing is disabled when empty

	// Security
	AdminSecret  string   // Guards key issuance and admin routes
	RateLimitRPM int
	CORSOrigins  []string // Empty disables cross-origin access

	// Settlement
	LockTimeout          time.Duration
	BuyerCommissionRatio decimal.Decimal
	EscalationAfter      time.Duration
	EscalationInterval   time.Duration
	ReconcileInterval    time.Duration // Zero disables periodic reconciliation
	PriceTable           pricing.PriceTable
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultRateLimitRPM       = 600
	DefaultLockTimeout        = 5 * time.Second
	DefaultEscalationAfter    = 72 * time.Hour
	DefaultEscalationInterval = 5 * time.Minute
	DefaultReconcileInterval  = 15 * time.Minute
	DefaultCommissionRatio    = "0.5"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:        getEnvList("CORS_ALLOWED_ORIGINS"),
		LockTimeout:        getEnvDuration("LOCK_TIMEOUT", DefaultLockTimeout),
		EscalationAfter:    getEnvDuration("ESCALATION_AFTER", DefaultEscalationAfter),
		EscalationInterval: getEnvDuration("ESCALATION_INTERVAL", DefaultEscalationInterval),
		ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
	}

	var err error
	if cfg.BuyerCommissionRatio, err = getEnvDecimal("BUYER_COMMISSION_RATIO", decimal.RequireFromString(DefaultCommissionRatio)); err != nil {
		return nil, err
	}
	if cfg.PriceTable, err = loadPriceTable(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
	}

	if c.BuyerCommissionRatio.IsNegative() || c.BuyerCommissionRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("BUYER_COMMISSION_RATIO must be between 0 and 1")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if c.EscalationAfter <= 0 || c.EscalationInterval <= 0 {
		return fmt.Errorf("ESCALATION_AFTER and ESCALATION_INTERVAL must be positive")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if err := c.PriceTable.Validate(); err != nil {
		return fmt.Errorf("price table: %w", err)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// loadPriceTable starts from the default unit prices and applies any
// PRICE_* overrides.
func loadPriceTable() (pricing.PriceTable, error) {
	table := pricing.DefaultPriceTable()

	overrides := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"PRICE_BASE_FEE", &table.BaseFee},
		{"PRICE_TIMED_PUBLISH", &table.TimedPublish},
		{"PRICE_TIMED_PAY", &table.TimedPay},
		{"PRICE_CYCLE_EXTENSION", &table.CycleExtensionPerDay},
		{"PRICE_MULTI_GOODS", &table.MultiGoods},
		{"PRICE_NEXT_DAY", &table.NextDay},
		{"PRICE_RANDOM_BROWSE", &table.RandomBrowse},
		{"PRICE_POSTAGE", &table.Postage},
		{"PRICE_MARGIN", &table.Margin},
	}
	for _, o := range overrides {
		v, err := getEnvDecimal(o.key, *o.dst)
		if err != nil {
			return table, err
		}
		*o.dst = v
	}

	for key, praise := range map[string]pricing.PraiseType{
		"PRICE_PRAISE_TEXT":  pricing.PraiseText,
		"PRICE_PRAISE_IMAGE": pricing.PraiseImage,
		"PRICE_PRAISE_VIDEO": pricing.PraiseVideo,
	} {
		v, err := getEnvDecimal(key, table.Praise[praise])
		if err != nil {
			return table, err
		}
		table.Praise[praise] = v
	}

	return table, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvDecimal returns an error for malformed values rather than the default.
func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", key, value)
	}
	return d, nil
}
