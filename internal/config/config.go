// ABOUTME: Configuration loading and parsing for the coordinator
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingSecret is returned when no JWT signing secret is configured.
// The coordinator refuses to start without one.
var ErrMissingSecret = errors.New("auth.jwt_secret is required")

// Config represents the complete coordinator configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token issuance configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	AccessTTL    time.Duration `yaml:"-"`
	RefreshTTL   time.Duration `yaml:"-"`
	ChallengeTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AccessTTLRaw    string `yaml:"access_ttl"`
	RefreshTTLRaw   string `yaml:"refresh_ttl"`
	ChallengeTTLRaw string `yaml:"challenge_ttl"`
}

// RateLimitConfig holds request rate limiting configuration
type RateLimitConfig struct {
	MaxRequests int      `yaml:"max_requests"`
	Exempt      []string `yaml:"exempt"`

	Window time.Duration `yaml:"-"`

	WindowRaw string `yaml:"window"`
}

// AdminConfig holds administrative API configuration
type AdminConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied to fields left unset in the file.
const (
	DefaultHTTPAddr     = ":8420"
	DefaultMaxBodyBytes = 1 << 20 // 1 MiB
	DefaultAccessTTL    = 15 * time.Minute
	DefaultRefreshTTL   = 30 * 24 * time.Hour
	DefaultChallengeTTL = 5 * time.Minute
	DefaultRateWindow   = time.Minute
	DefaultRateMax      = 100
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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = DefaultAccessTTL
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = DefaultRefreshTTL
	}
	if c.Auth.ChallengeTTL == 0 {
		c.Auth.ChallengeTTL = DefaultChallengeTTL
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateWindow
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = DefaultRateMax
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return ErrMissingSecret
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.AccessTTL <= 0 {
		return fmt.Errorf("auth.access_ttl must be positive")
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		return fmt.Errorf("auth.refresh_ttl must exceed auth.access_ttl")
	}
	if c.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("ratelimit.max_requests must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.AccessTTLRaw != "" {
		cfg.Auth.AccessTTL, err = time.ParseDuration(cfg.Auth.AccessTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing access_ttl %q: %w", cfg.Auth.AccessTTLRaw, err)
		}
	}

	if cfg.Auth.RefreshTTLRaw != "" {
		cfg.Auth.RefreshTTL, err = time.ParseDuration(cfg.Auth.RefreshTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing refresh_ttl %q: %w", cfg.Auth.RefreshTTLRaw, err)
		}
	}

	if cfg.Auth.ChallengeTTLRaw != "" {
		cfg.Auth.ChallengeTTL, err = time.ParseDuration(cfg.Auth.ChallengeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing challenge_ttl %q: %w", cfg.Auth.ChallengeTTLRaw, err)
		}
	}

	if cfg.RateLimit.WindowRaw != "" {
		cfg.RateLimit.Window, err = time.ParseDuration(cfg.RateLimit.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing ratelimit window %q: %w", cfg.RateLimit.WindowRaw, err)
		}
	}

	return nil
}
