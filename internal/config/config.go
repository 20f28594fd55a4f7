// ABOUTME: Configuration loading and parsing for hexlayer-console
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config represents the complete hexlayer-console configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Chain    ChainConfig    `yaml:"chain"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	WebAdmin WebAdminConfig `yaml:"webadmin"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	BcryptCost int    `yaml:"bcrypt_cost"`

	TokenTTL   time.Duration `yaml:"-"`
	SessionTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TokenTTLRaw   string `yaml:"token_ttl"`
	SessionTTLRaw string `yaml:"session_ttl"`
}

// ChainConfig holds the blockchain read-proxy configuration
type ChainConfig struct {
	Enabled     bool   `yaml:"enabled"`
	UpstreamURL string `yaml:"upstream_url"`
	RedisAddr   string `yaml:"redis_addr"` // empty uses the in-memory rate limit window
	MaxRequests int    `yaml:"max_requests"`
	Burst       int    `yaml:"burst"`

	RequestTimeout time.Duration `yaml:"-"`
	RateWindow     time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
	RateWindowRaw     string `yaml:"rate_window"`
}

// WebhooksConfig holds webhook dispatch configuration
type WebhooksConfig struct {
	Workers     int `yaml:"workers"`
	MaxAttempts int `yaml:"max_attempts"`

	Timeout      time.Duration `yaml:"-"`
	RetrySpacing time.Duration `yaml:"-"`

	TimeoutRaw      string `yaml:"timeout"`
	RetrySpacingRaw string `yaml:"retry_spacing"`
}

// WebAdminConfig holds web console and WebAuthn configuration
type WebAdminConfig struct {
	// BaseURL is the external URL for the console (used for invite links)
	// If not set, it's derived from server.http_addr
	BaseURL string `yaml:"base_url"`

	// RPID and RPOrigins configure WebAuthn relying-party identity
	RPID      string   `yaml:"rp_id"`
	RPOrigins []string `yaml:"rp_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied after parsing
const (
	DefaultTokenTTL       = 30 * 24 * time.Hour
	MaxTokenTTL           = 365 * 24 * time.Hour
	DefaultSessionTTL     = 24 * time.Hour
	DefaultRequestTimeout = 15 * time.Second
	DefaultRateWindow     = time.Minute
	DefaultMaxRequests    = 120
	DefaultWebhookTimeout = 10 * time.Second
	DefaultRetrySpacing   = 30 * time.Second
	DefaultBcryptCost     = bcrypt.DefaultCost
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields after parsing.
func (c *Config) applyDefaults() {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = DefaultBcryptCost
	}
	if c.Chain.RequestTimeout == 0 {
		c.Chain.RequestTimeout = DefaultRequestTimeout
	}
	if c.Chain.RateWindow == 0 {
		c.Chain.RateWindow = DefaultRateWindow
	}
	if c.Chain.MaxRequests == 0 {
		c.Chain.MaxRequests = DefaultMaxRequests
	}
	if c.Webhooks.Workers <= 0 {
		c.Webhooks.Workers = 4
	}
	if c.Webhooks.MaxAttempts <= 0 {
		c.Webhooks.MaxAttempts = 3
	}
	if c.Webhooks.Timeout == 0 {
		c.Webhooks.Timeout = DefaultWebhookTimeout
	}
	if c.Webhooks.RetrySpacing == 0 {
		c.Webhooks.RetrySpacing = DefaultRetrySpacing
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Auth.TokenTTL > MaxTokenTTL {
		return fmt.Errorf("auth.token_ttl exceeds maximum of %s", MaxTokenTTL)
	}

	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.Chain.Enabled && c.Chain.UpstreamURL == "" {
		return fmt.Errorf("chain.upstream_url is required when chain is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"auth.session_ttl", cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL},
		{"chain.request_timeout", cfg.Chain.RequestTimeoutRaw, &cfg.Chain.RequestTimeout},
		{"chain.rate_window", cfg.Chain.RateWindowRaw, &cfg.Chain.RateWindow},
		{"webhooks.timeout", cfg.Webhooks.TimeoutRaw, &cfg.Webhooks.Timeout},
		{"webhooks.retry_spacing", cfg.Webhooks.RetrySpacingRaw, &cfg.Webhooks.RetrySpacing},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
