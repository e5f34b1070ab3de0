package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session authority.
//
// It controls session-token TTL, device-token policies, clock skew tolerance,
// and device-token entropy size.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of session tokens.
	Issuer string

	// SessionTokenTTL defines the lifetime of JWT session tokens.
	SessionTokenTTL time.Duration

	// Device token TTL policies per platform.
	DeviceTTLWeb     time.Duration
	DeviceTTLDesktop time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// DeviceTokenBytes defines the number of random bytes used
	// to generate opaque device tokens.
	DeviceTokenBytes int

	// JWTSecret signs HS256 session tokens.
	JWTSecret []byte
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:           "pagespace",
		SessionTokenTTL:  15 * time.Minute,
		DeviceTTLWeb:     30 * 24 * time.Hour,
		DeviceTTLDesktop: 90 * 24 * time.Hour,
		ClockSkew:        30 * time.Second,
		DeviceTokenBytes: 32,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - PAGESPACE_JWT_SECRET (>= 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - PAGESPACE_AUTH_ISSUER
//   - PAGESPACE_AUTH_SESSION_TTL
//   - PAGESPACE_AUTH_DEVICE_TTL_WEB
//   - PAGESPACE_AUTH_DEVICE_TTL_DESKTOP
//   - PAGESPACE_AUTH_CLOCK_SKEW
//   - PAGESPACE_AUTH_DEVICE_TOKEN_BYTES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PAGESPACE_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PAGESPACE_AUTH_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SessionTokenTTL = d
	}

	if v := os.Getenv("PAGESPACE_AUTH_DEVICE_TTL_WEB"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.DeviceTTLWeb = d
	}

	if v := os.Getenv("PAGESPACE_AUTH_DEVICE_TTL_DESKTOP"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.DeviceTTLDesktop = d
	}

	if v := os.Getenv("PAGESPACE_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("PAGESPACE_AUTH_DEVICE_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.DeviceTokenBytes = n
	}

	secret := os.Getenv("PAGESPACE_JWT_SECRET")
	if len(secret) < 32 {
		return Config{}, ErrConfig
	}
	cfg.JWTSecret = []byte(secret)

	return cfg, nil
}
