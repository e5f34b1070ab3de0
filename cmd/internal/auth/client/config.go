package client

import (
	"strings"
	"time"
)

// Platform identifies the credential transport a client instance uses.
type Platform string

const (
	// PlatformWeb attaches a device-token header plus a CSRF header on
	// mutating requests.
	PlatformWeb Platform = "web"
	// PlatformDesktop attaches a bearer session token and keeps its bundle
	// in OS-secured storage.
	PlatformDesktop Platform = "desktop"
)

// Header names used by the web transport.
const (
	HeaderDeviceToken = "X-Device-Token"
	HeaderCSRFToken   = "X-CSRF-Token"
)

// Config defines runtime configuration for the client credential layer.
type Config struct {
	Platform Platform

	// BaseURL is the API origin the refresh endpoints live on.
	BaseURL string
	// RefreshPath is the device-refresh endpoint path.
	RefreshPath string
	// CSRFPath is the CSRF-token refresh endpoint path (web only).
	CSRFPath string

	UserAgent  string
	AppVersion string

	// Cooldown is the window after a successful refresh during which repeat
	// triggers short-circuit to success without a network call.
	Cooldown time.Duration

	// CredentialCacheTTL bounds staleness of the in-memory bundle cache
	// after a rotation.
	CredentialCacheTTL time.Duration

	// CSRFExemptPaths are request path prefixes that never require a CSRF header.
	CSRFExemptPaths []string
}

// DefaultConfig returns client defaults for the given platform.
func DefaultConfig(platform Platform) Config {
	return Config{
		Platform:           platform,
		RefreshPath:        "/api/auth/device/refresh",
		CSRFPath:           "/api/auth/csrf",
		Cooldown:           5 * time.Second,
		CredentialCacheTTL: 5 * time.Second,
		CSRFExemptPaths:    []string{"/api/auth/"},
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Platform != PlatformWeb && c.Platform != PlatformDesktop {
		return ErrConfig
	}
	if strings.TrimSpace(c.BaseURL) == "" || strings.TrimSpace(c.RefreshPath) == "" {
		return ErrConfig
	}
	if c.Cooldown <= 0 || c.CredentialCacheTTL <= 0 {
		return ErrConfig
	}
	return nil
}

func (c Config) refreshURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.RefreshPath
}

func (c Config) csrfURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.CSRFPath
}

func (c Config) csrfExempt(path string) bool {
	for _, p := range c.CSRFExemptPaths {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
