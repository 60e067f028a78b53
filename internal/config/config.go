// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SMS provider names accepted by SMS_PROVIDER.
const (
	ProviderBulkSMS = "bulksms"
	ProviderTwilio  = "twilio"
	ProviderDev     = "dev"
)

// Config holds application configuration loaded from the environment.
//
// Per-realm overrides (duplicate-phone, number-regex) are looked up through
// the retained viper handle: "<realm>-duplicate-phone" falls back to
// "duplicate-phone", "<realm>-number-regex" falls back to "number-regex".
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// TokenExpiresIn is the code validity window in seconds (default 60).
	TokenExpiresIn int `mapstructure:"TOKEN_EXPIRES_IN"`
	// HourMaximum is how many codes may be issued per phone and type in a
	// trailing hour before issuance is refused (default 3).
	HourMaximum int `mapstructure:"HOUR_MAXIMUM"`
	// DuplicatePhone allows the same phone number to stay verified on more
	// than one account in a realm (default false). Per-realm override:
	// "<realm>-duplicate-phone".
	DuplicatePhone bool `mapstructure:"DUPLICATE_PHONE"`
	// NumberRegex is an optional pattern submitted numbers must match before
	// issuance. Per-realm override: "<realm>-number-regex".
	NumberRegex string `mapstructure:"NUMBER_REGEX"`
	// DefaultRegion is the region hint for parsing national-format numbers
	// (e.g. "US", "CN").
	DefaultRegion string `mapstructure:"DEFAULT_REGION"`

	// SMSProvider selects the message sender: bulksms, twilio, or dev.
	SMSProvider string `mapstructure:"SMS_PROVIDER"`
	// BulkSMSTokenID and BulkSMSTokenSecret authenticate against the BulkSMS API.
	BulkSMSTokenID     string `mapstructure:"BULKSMS_TOKEN_ID"`
	BulkSMSTokenSecret string `mapstructure:"BULKSMS_TOKEN_SECRET"`
	// BulkSMSBaseURL overrides the BulkSMS endpoint (tests use this).
	BulkSMSBaseURL string `mapstructure:"BULKSMS_BASE_URL"`
	// Twilio credentials and sender number for the twilio provider.
	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `mapstructure:"TWILIO_FROM"`

	// Env is the application environment (e.g. "development", "production").
	// The dev sender logs codes instead of sending and must not be selected
	// when Env is production.
	Env string `mapstructure:"APP_ENV"`

	v *viper.Viper
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI). Env vars
// override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TOKEN_EXPIRES_IN", 60)
	v.SetDefault("HOUR_MAXIMUM", 3)
	v.SetDefault("DUPLICATE_PHONE", false)
	v.SetDefault("NUMBER_REGEX", "")
	v.SetDefault("DEFAULT_REGION", "")
	v.SetDefault("SMS_PROVIDER", ProviderDev)
	v.SetDefault("BULKSMS_TOKEN_ID", "")
	v.SetDefault("BULKSMS_TOKEN_SECRET", "")
	v.SetDefault("BULKSMS_BASE_URL", "")
	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("TWILIO_FROM", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.v = v

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.TokenExpiresIn <= 0 {
		return nil, errors.New("config: TOKEN_EXPIRES_IN must be positive")
	}
	if cfg.HourMaximum < 0 {
		return nil, errors.New("config: HOUR_MAXIMUM must not be negative")
	}
	switch cfg.SMSProvider {
	case ProviderBulkSMS, ProviderTwilio, ProviderDev:
	default:
		return nil, fmt.Errorf("config: unknown SMS_PROVIDER %q", cfg.SMSProvider)
	}
	if cfg.SMSProvider == ProviderDev && cfg.Env == "production" {
		return nil, errors.New("config: SMS_PROVIDER=dev must not be used when APP_ENV=production")
	}

	return &cfg, nil
}

// TokenTTL returns the code validity window as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenExpiresIn) * time.Second
}

// DuplicatePhoneAllowed reports whether the realm permits the same phone
// number on multiple accounts. The per-realm key wins over the global one.
func (c *Config) DuplicatePhoneAllowed(realmID string) bool {
	if c.v != nil && realmID != "" {
		key := realmID + "-duplicate-phone"
		if c.v.IsSet(key) {
			return c.v.GetBool(key)
		}
	}
	return c.DuplicatePhone
}

// NumberRegexFor returns the validation pattern for the realm, or "" when no
// pattern is configured. The per-realm key wins over the global one.
func (c *Config) NumberRegexFor(realmID string) string {
	if c.v != nil && realmID != "" {
		key := realmID + "-number-regex"
		if c.v.IsSet(key) {
			return c.v.GetString(key)
		}
	}
	return c.NumberRegex
}
