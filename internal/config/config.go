// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Keys are flat snake_case so that env vars map onto them one to one.
// - Errors returned by Load and Validate wrap this package's sentinels.
package config

import (
	"fmt"
	"time"

	"github.com/okian/trustgate/internal/domain/types"
)

// Rate-limit store backends.
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
	StoreNone   = "none"
)

// PolicyConfig overrides one named rate-limit policy.
type PolicyConfig struct {
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Posture is strict (fail closed) or permissive (fail open, development only).
	Posture string `koanf:"posture"`

	// RateStore selects the sliding-window backend: redis, sqlite, memory or none.
	RateStore  string `koanf:"rate_store"`
	RatePrefix string `koanf:"rate_prefix"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	SQLitePath string `koanf:"sqlite_path"`

	// Policies overrides the built-in per-endpoint limits by policy name.
	Policies map[string]PolicyConfig `koanf:"policies"`

	// CaptchaSecret is the Turnstile secret key. Empty means unconfigured.
	CaptchaSecret    string        `koanf:"captcha_secret"`
	CaptchaVerifyURL string        `koanf:"captcha_verify_url"`
	CaptchaTimeout   time.Duration `koanf:"captcha_timeout"`

	// CaptchaOutboundRPS caps calls to the verification service. Zero disables the cap.
	CaptchaOutboundRPS   float64 `koanf:"captcha_outbound_rps"`
	CaptchaOutboundBurst int     `koanf:"captcha_outbound_burst"`

	// DispatchQueueSize bounds accepted submissions waiting for delivery.
	DispatchQueueSize int `koanf:"dispatch_queue_size"`
	DispatchWorkers   int `koanf:"dispatch_workers"`

	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// TrustRemoteAddr lets the socket peer address identify clients when no
	// forwarding header is present. Leave off behind a proxy.
	TrustRemoteAddr bool `koanf:"trust_remote_addr"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		Posture:              types.Strict.String(),
		RateStore:            StoreMemory,
		RatePrefix:           "ratelimit:",
		RedisAddr:            "localhost:6379",
		SQLitePath:           "trustgate.db",
		Policies:             map[string]PolicyConfig{},
		CaptchaVerifyURL:     "https://challenges.cloudflare.com/turnstile/v0/siteverify",
		CaptchaTimeout:       5 * time.Second,
		CaptchaOutboundBurst: 10,
		DispatchQueueSize:    1024,
		DispatchWorkers:      4,
		MaxBodyBytes:         64 << 10,
	}
}

// SecurityPosture parses Posture.
func (c *Config) SecurityPosture() (types.Posture, error) {
	return types.ParsePosture(c.Posture)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if _, err := c.SecurityPosture(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.RateStore {
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr is required for the redis store", ErrInvalidConfig)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is required for the sqlite store", ErrInvalidConfig)
		}
	case StoreMemory, StoreNone:
	default:
		return fmt.Errorf("%w: unknown rate_store %q", ErrInvalidConfig, c.RateStore)
	}
	for name, p := range c.Policies {
		if p.MaxRequests <= 0 || p.Window <= 0 {
			return fmt.Errorf("%w: policy %q needs positive max_requests and window", ErrInvalidConfig, name)
		}
	}
	if c.CaptchaTimeout <= 0 {
		return fmt.Errorf("%w: captcha_timeout must be positive", ErrInvalidConfig)
	}
	if c.CaptchaOutboundRPS < 0 {
		return fmt.Errorf("%w: captcha_outbound_rps must not be negative", ErrInvalidConfig)
	}
	if c.DispatchQueueSize <= 0 || c.DispatchWorkers <= 0 {
		return fmt.Errorf("%w: dispatch_queue_size and dispatch_workers must be positive", ErrInvalidConfig)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max_body_bytes must be positive", ErrInvalidConfig)
	}
	return nil
}
