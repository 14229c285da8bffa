// Package config loads and validates the account service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the ACCT_ prefix (e.g., ACCT_DATABASE_HOST
// overrides database.host in the YAML).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	RateLimiting  RateLimitingConfig  `mapstructure:"rate_limiting"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// AuthConfig holds credential configuration
type AuthConfig struct {
	APIKeys   APIKeysConfig   `mapstructure:"api_keys"`
	Passwords PasswordsConfig `mapstructure:"passwords"`
}

// APIKeysConfig holds API key issuance defaults
type APIKeysConfig struct {
	// Prefix is prepended to every generated key, e.g. ak_live_...
	Prefix string `mapstructure:"prefix"`
	// DefaultRateLimit is the requests-per-hour allowance of a new key
	DefaultRateLimit int `mapstructure:"default_rate_limit"`
}

// PasswordsConfig holds password hashing and reset settings
type PasswordsConfig struct {
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
	ResetTokenTTL time.Duration `mapstructure:"reset_token_ttl"`
}

// RateLimitingConfig holds per-key rate limiting configuration
type RateLimitingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "redis" (shared across replicas and runs) or "memory"
	// (counts held in the calling process and lost when it exits)
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the redis connection used by the rate limiter
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// NotificationsConfig holds settings for outbound notification emails
type NotificationsConfig struct {
	// Enabled globally toggles all outbound notification emails. Requires SMTP to be configured.
	Enabled bool `mapstructure:"enabled"`
	// SMTP holds the outbound mail server settings
	SMTP SMTPConfig `mapstructure:"smtp"`
	// APIKeyExpiryWarningDays is how many days before expiry to send the warning email (default 7)
	APIKeyExpiryWarningDays int `mapstructure:"api_key_expiry_warning_days"`
	// APIKeyExpiryCheckIntervalHours determines how often the expiry check job runs (default 24)
	APIKeyExpiryCheckIntervalHours int `mapstructure:"api_key_expiry_check_interval_hours"`
}

// SMTPConfig holds outbound mail server configuration for notification emails
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g. smtp.sendgrid.net)
	Host string `mapstructure:"host"`
	// Port is the SMTP server port (587 for STARTTLS, 465 for SMTPS, 25 for plain)
	Port int `mapstructure:"port"`
	// Username for SMTP authentication
	Username string `mapstructure:"username"`
	// Password for SMTP authentication
	Password string `mapstructure:"password"`
	// From is the sender address shown in notification emails
	From string `mapstructure:"from"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// JobsConfig holds background job schedules
type JobsConfig struct {
	// UsageRolloverEnabled toggles the daily request counter reset
	UsageRolloverEnabled bool `mapstructure:"usage_rollover_enabled"`
	// UsageRolloverInterval is how often request_count_today is reset (default 24h)
	UsageRolloverInterval time.Duration `mapstructure:"usage_rollover_interval"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Auth
		"auth.api_keys.prefix",
		"auth.api_keys.default_rate_limit",
		"auth.passwords.bcrypt_cost",
		"auth.passwords.reset_token_ttl",

		// Rate limiting
		"rate_limiting.enabled",
		"rate_limiting.backend",
		"rate_limiting.redis.addr",
		"rate_limiting.redis.password",
		"rate_limiting.redis.db",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Notifications / SMTP
		"notifications.enabled",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.use_tls",
		"notifications.api_key_expiry_warning_days",
		"notifications.api_key_expiry_check_interval_hours",

		// Jobs
		"jobs.usage_rollover_enabled",
		"jobs.usage_rollover_interval",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/accounts")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("ACCT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.RateLimiting.Redis.Password = expandEnv(cfg.RateLimiting.Redis.Password)
	cfg.Notifications.SMTP.Password = expandEnv(cfg.Notifications.SMTP.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "accounts")
	v.SetDefault("database.user", "accounts")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Auth defaults
	v.SetDefault("auth.api_keys.prefix", "ak_live")
	v.SetDefault("auth.api_keys.default_rate_limit", 1000)
	v.SetDefault("auth.passwords.bcrypt_cost", 12)
	v.SetDefault("auth.passwords.reset_token_ttl", "1h")

	// Rate limiting defaults
	v.SetDefault("rate_limiting.enabled", false)
	v.SetDefault("rate_limiting.backend", "redis")
	v.SetDefault("rate_limiting.redis.addr", "localhost:6379")
	v.SetDefault("rate_limiting.redis.db", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "accounts")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Notifications defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", true)
	v.SetDefault("notifications.api_key_expiry_warning_days", 7)
	v.SetDefault("notifications.api_key_expiry_check_interval_hours", 24)

	// Jobs defaults
	v.SetDefault("jobs.usage_rollover_enabled", true)
	v.SetDefault("jobs.usage_rollover_interval", "24h")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}

	// Validate API key defaults
	if c.Auth.APIKeys.Prefix == "" {
		return fmt.Errorf("auth.api_keys.prefix is required")
	}
	if c.Auth.APIKeys.DefaultRateLimit < 1 {
		return fmt.Errorf("auth.api_keys.default_rate_limit must be positive, got %d", c.Auth.APIKeys.DefaultRateLimit)
	}

	// Validate password settings
	if c.Auth.Passwords.BcryptCost < 4 || c.Auth.Passwords.BcryptCost > 31 {
		return fmt.Errorf("auth.passwords.bcrypt_cost must be between 4 and 31, got %d", c.Auth.Passwords.BcryptCost)
	}
	if c.Auth.Passwords.ResetTokenTTL <= 0 {
		return fmt.Errorf("auth.passwords.reset_token_ttl must be positive")
	}

	// Validate rate limiting if enabled
	if c.RateLimiting.Enabled {
		switch c.RateLimiting.Backend {
		case "redis":
			if c.RateLimiting.Redis.Addr == "" {
				return fmt.Errorf("rate_limiting.redis.addr is required when using the redis backend")
			}
		case "memory":
		default:
			return fmt.Errorf("invalid rate_limiting.backend: %s (must be redis or memory)", c.RateLimiting.Backend)
		}
	}

	// Validate SMTP if notifications are enabled
	if c.Notifications.Enabled {
		if c.Notifications.SMTP.Host == "" {
			return fmt.Errorf("notifications.smtp.host is required when notifications are enabled")
		}
		if c.Notifications.SMTP.From == "" {
			return fmt.Errorf("notifications.smtp.from is required when notifications are enabled")
		}
	}

	// Validate jobs
	if c.Jobs.UsageRolloverEnabled && c.Jobs.UsageRolloverInterval < time.Minute {
		return fmt.Errorf("jobs.usage_rollover_interval must be at least 1m, got %s", c.Jobs.UsageRolloverInterval)
	}

	// Validate logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetMetricsAddress returns the listen address of the Prometheus endpoint
func (c *MetricsConfig) GetMetricsAddress() string {
	return fmt.Sprintf(":%d", c.PrometheusPort)
}
