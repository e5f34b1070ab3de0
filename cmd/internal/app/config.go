package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Redis Streams transport for session/connection events. Empty keeps the
	// bus in-process.
	RedisURL   string
	EventGroup string

	// Shared secret for inbound signed broadcast pushes.
	BroadcastSecret string

	// Browser-facing CORS policy. Origins may use a trailing :* port wildcard.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, PAGESPACE_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and device-token
	// hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PAGESPACE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PAGESPACE_LOG_LEVEL", "info"),
		LogPretty: EnvBool("PAGESPACE_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("PAGESPACE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PAGESPACE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PAGESPACE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PAGESPACE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PAGESPACE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PAGESPACE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PAGESPACE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PAGESPACE_DB_MIN_CONNS", 0),

		RedisURL:   EnvString("PAGESPACE_REDIS_URL", ""),
		EventGroup: EnvString("PAGESPACE_EVENT_GROUP", "pagespace"),

		BroadcastSecret: EnvString("PAGESPACE_BROADCAST_SECRET", ""),

		CORSAllowedOrigins:   EnvCSV("PAGESPACE_CORS_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("PAGESPACE_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("PAGESPACE_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("PAGESPACE_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("PAGESPACE_REQUIRE_TOKEN_HMAC", false),
	}
}
