// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Database  DatabaseConfig  `yaml:"database"`
	Pricing   PricingConfig   `yaml:"pricing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Billing   BillingConfig   `yaml:"billing"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BackendConfig configures the document conversion backend.
type BackendConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// PricingConfig configures conversion pricing.
type PricingConfig struct {
	CreditsPerPage        int64 `yaml:"credits_per_page"`
	MinCreditsPerDocument int64 `yaml:"min_credits_per_document"`
}

// RateLimitConfig configures per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerWindow int `yaml:"requests_per_window"`
	WindowSecs        int `yaml:"window_secs"`
	BurstTokens       int `yaml:"burst_tokens"`
}

// BillingConfig configures the payment provider.
// Use "none" to run without payments; purchased credits then require a
// manual grant.
type BillingConfig struct {
	Provider            string `yaml:"provider"` // "none" or "stripe"
	StripeSecretKey     string `yaml:"stripe_secret_key,omitempty"`
	StripePublicKey     string `yaml:"stripe_public_key,omitempty"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret,omitempty"`
}

// AdminConfig configures the key management API.
type AdminConfig struct {
	Token string `yaml:"token"` // Bearer token for /v1/keys; empty disables the admin API
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	DOCAPI_BACKEND_URL           - Conversion backend URL (required)
//	DOCAPI_BACKEND_TIMEOUT       - Conversion timeout (default: 300s)
//	DOCAPI_DATABASE_DSN          - Database path (default: docling-api.db)
//	DOCAPI_SERVER_HOST           - Server host (default: 0.0.0.0)
//	DOCAPI_SERVER_PORT           - Server port (default: 8080)
//	DOCAPI_RATELIMIT_REQUESTS    - Requests per window (default: 60)
//	DOCAPI_RATELIMIT_WINDOW      - Window seconds (default: 60)
//	DOCAPI_BILLING_PROVIDER      - Payment provider: none or stripe (default: none)
//	DOCAPI_STRIPE_SECRET_KEY     - Stripe secret key
//	DOCAPI_STRIPE_WEBHOOK_SECRET - Stripe webhook signing secret
//	DOCAPI_ADMIN_TOKEN           - Admin API bearer token
//	DOCAPI_LOG_LEVEL             - Log level: debug, info, warn, error (default: info)
//	DOCAPI_LOG_FORMAT            - Log format: json or console (default: json)
//	DOCAPI_METRICS_ENABLED       - Enable /metrics endpoint (default: false)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
// This is the recommended method for Docker deployments.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("DOCAPI_BACKEND_URL") != "" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set DOCAPI_BACKEND_URL")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("DOCAPI_BACKEND_URL") != ""
}

// applyEnvOverrides applies DOCAPI_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("DOCAPI_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DOCAPI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DOCAPI_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("DOCAPI_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Backend configuration
	if v := os.Getenv("DOCAPI_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("DOCAPI_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("DOCAPI_BACKEND_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.MaxRetries = n
		}
	}

	// Database configuration
	if v := os.Getenv("DOCAPI_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DOCAPI_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Pricing configuration
	if v := os.Getenv("DOCAPI_PRICING_CREDITS_PER_PAGE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pricing.CreditsPerPage = n
		}
	}
	if v := os.Getenv("DOCAPI_PRICING_MIN_CREDITS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pricing.MinCreditsPerDocument = n
		}
	}

	// Rate limit configuration
	if v := os.Getenv("DOCAPI_RATELIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerWindow = n
		}
	}
	if v := os.Getenv("DOCAPI_RATELIMIT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.WindowSecs = n
		}
	}
	if v := os.Getenv("DOCAPI_RATELIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.BurstTokens = n
		}
	}

	// Billing configuration
	if v := os.Getenv("DOCAPI_BILLING_PROVIDER"); v != "" {
		cfg.Billing.Provider = v
	}
	if v := os.Getenv("DOCAPI_STRIPE_SECRET_KEY"); v != "" {
		cfg.Billing.StripeSecretKey = v
	}
	if v := os.Getenv("DOCAPI_STRIPE_PUBLIC_KEY"); v != "" {
		cfg.Billing.StripePublicKey = v
	}
	if v := os.Getenv("DOCAPI_STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Billing.StripeWebhookSecret = v
	}

	// Admin configuration
	if v := os.Getenv("DOCAPI_ADMIN_TOKEN"); v != "" {
		cfg.Admin.Token = v
	}

	// Logging configuration
	if v := os.Getenv("DOCAPI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DOCAPI_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("DOCAPI_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Conversions are slow; the write timeout must outlive the backend
		// timeout or responses get cut off mid flight.
		cfg.Server.WriteTimeout = 320 * time.Second
	}

	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 300 * time.Second
	}
	if cfg.Backend.MaxRetries == 0 {
		cfg.Backend.MaxRetries = 3
	}
	if cfg.Backend.MaxIdleConns == 0 {
		cfg.Backend.MaxIdleConns = 100
	}
	if cfg.Backend.IdleConnTimeout == 0 {
		cfg.Backend.IdleConnTimeout = 90 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "docling-api.db"
	}

	if cfg.Pricing.CreditsPerPage == 0 {
		cfg.Pricing.CreditsPerPage = 1
	}
	if cfg.Pricing.MinCreditsPerDocument == 0 {
		cfg.Pricing.MinCreditsPerDocument = 1
	}

	if cfg.RateLimit.RequestsPerWindow == 0 {
		cfg.RateLimit.RequestsPerWindow = 60
	}
	if cfg.RateLimit.WindowSecs == 0 {
		cfg.RateLimit.WindowSecs = 60
	}
	if cfg.RateLimit.BurstTokens == 0 {
		cfg.RateLimit.BurstTokens = 10
	}

	if cfg.Billing.Provider == "" {
		cfg.Billing.Provider = "none"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}

	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	validProviders := map[string]bool{"none": true, "stripe": true}
	if !validProviders[cfg.Billing.Provider] {
		return fmt.Errorf("billing.provider must be 'none' or 'stripe', got %q", cfg.Billing.Provider)
	}
	if cfg.Billing.Provider == "stripe" {
		if cfg.Billing.StripeSecretKey == "" {
			return fmt.Errorf("billing.stripe_secret_key is required when billing.provider is 'stripe'")
		}
		if cfg.Billing.StripeWebhookSecret == "" {
			return fmt.Errorf("billing.stripe_webhook_secret is required when billing.provider is 'stripe'")
		}
	}

	if cfg.Pricing.CreditsPerPage < 0 || cfg.Pricing.MinCreditsPerDocument < 0 {
		return fmt.Errorf("pricing values must not be negative")
	}

	return nil
}
