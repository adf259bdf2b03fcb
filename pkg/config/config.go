// Package config loads the session core's runtime configuration from the
// environment, mirroring the teacher's pkg/config: struct-tagged sections
// decoded with envdecode, with .env support for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Host string `env:"SERVER_HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8080"`
}

// DatabaseConfig controls the relational store connection. DSN is
// intentionally not required: an empty value makes cmd/appserver fall back
// to the in-memory store for local development.
type DatabaseConfig struct {
	DSN             string `env:"DATABASE_URL"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=25"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME_SECONDS,default=300"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// IdentityConfig controls validation of the identity collaborator's tokens.
type IdentityConfig struct {
	JWTSecret string `env:"IDENTITY_JWT_SECRET,required"`
	Audience  string `env:"IDENTITY_JWT_AUDIENCE"`
}

// PaymentConfig controls the payment-processor collaborator.
type PaymentConfig struct {
	BaseURL       string `env:"PAYMENT_PROCESSOR_URL,required"`
	Secret        string `env:"PAYMENT_PROCESSOR_SECRET,required"`
	WebhookSecret string `env:"PAYMENT_WEBHOOK_SECRET,required"`
}

// RTCConfig controls the realtime media token broker.
type RTCConfig struct {
	AppID       string `env:"RTC_APP_ID,required"`
	Certificate string `env:"RTC_APP_CERTIFICATE,required"`
}

// PubSubConfig controls the realtime pub/sub token broker.
type PubSubConfig struct {
	APIKey string `env:"PUBSUB_API_KEY,required"`
}

// PlatformConfig controls business parameters named in spec section 6.
type PlatformConfig struct {
	FrontendURL        string  `yaml:"frontend_url" env:"FRONTEND_URL"`
	SessionTimeoutMin  int     `yaml:"session_timeout_minutes" env:"SESSION_TIMEOUT_MINUTES,default=5"`
	PlatformFeePercent float64 `yaml:"platform_fee_percent" env:"PLATFORM_FEE_PERCENT,default=30"`
	MinimumPayout      float64 `yaml:"minimum_payout" env:"MINIMUM_PAYOUT,default=15"`
}

// DefaultRates is the starting per-minute rate table (spec section 3,
// ReaderProfile.rate_per_min) new reader profiles are seeded with, in the
// absence of operator-set overrides. It is operator-tunable, not
// env-var-driven, so it is only ever loaded from the optional YAML file —
// the same shape the teacher's pkg/config uses for its non-secret,
// file-only settings.
type DefaultRates struct {
	Chat  float64 `yaml:"chat"`
	Voice float64 `yaml:"voice"`
	Video float64 `yaml:"video"`
}

// Config aggregates all configuration sections.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Logging      LoggingConfig
	Identity     IdentityConfig
	Payment      PaymentConfig
	RTC          RTCConfig
	PubSub       PubSubConfig
	Platform     PlatformConfig
	DefaultRates DefaultRates `yaml:"default_rates"`
}

// Load reads a .env file if present, an optional YAML file of non-secret
// defaults (CONFIG_FILE, falling back to configs/rates.yaml), and then
// decodes the environment on top — environment variables always win,
// matching the teacher's file-then-env precedence in pkg/config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/rates.yaml"
	}
	if err := loadFromFile(path, &cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode environment: %w", err)
	}
	return &cfg, nil
}

// loadFromFile merges a YAML file's contents into cfg. A missing file is
// not an error: the YAML layer is an optional override, never required.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// SessionTimeout returns the configured session-timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Platform.SessionTimeoutMin) * time.Minute
}

// PlatformFeeFraction returns the platform fee as a 0..1 fraction.
func (c *Config) PlatformFeeFraction() float64 {
	return c.Platform.PlatformFeePercent / 100
}

// RedactedDSN returns the database DSN with credentials masked, safe for logs.
func (c *Config) RedactedDSN() string {
	dsn := c.Database.DSN
	if idx := strings.Index(dsn, "@"); idx > 0 {
		if schemeIdx := strings.Index(dsn, "://"); schemeIdx > 0 && schemeIdx < idx {
			return dsn[:schemeIdx+3] + "***@" + dsn[idx+1:]
		}
	}
	return dsn
}
