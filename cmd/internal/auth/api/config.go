package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// TrustProxy enables X-Forwarded-For when the service sits behind the
	// app proxy.
	TrustProxy bool

	MaxBodyBytes int64

	// Refresh endpoint throttle, keyed by client IP.
	RefreshIPMax    int
	RefreshIPWindow time.Duration

	// Web cookie transport for the CSRF double-submit token.
	WebCookieEnabled bool
	CSRFCookieName   string
	CSRFHeaderName   string
	CookiePath       string
	CookieDomain     string
	CookieSecure     bool
	CookieSameSite   http.SameSite
}

// LoadConfigFromEnv loads auth API config from environment variables with
// safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:       envBool("PAGESPACE_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:     envInt64("PAGESPACE_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		RefreshIPMax:     envInt("PAGESPACE_AUTH_REFRESH_IP_MAX", 30),
		RefreshIPWindow:  envDuration("PAGESPACE_AUTH_REFRESH_IP_WINDOW", time.Minute),
		WebCookieEnabled: envBool("PAGESPACE_AUTH_WEB_COOKIES", true),
		CSRFCookieName:   envString("PAGESPACE_AUTH_CSRF_COOKIE", "pagespace_csrf"),
		CSRFHeaderName:   envString("PAGESPACE_AUTH_CSRF_HEADER", "X-CSRF-Token"),
		CookiePath:       envString("PAGESPACE_AUTH_COOKIE_PATH", "/"),
		CookieDomain:     envString("PAGESPACE_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:     envBool("PAGESPACE_AUTH_COOKIE_SECURE", true),
		CookieSameSite:   http.SameSiteLaxMode,
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RefreshIPMax <= 0 {
		cfg.RefreshIPMax = 30
	}

	return cfg
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
