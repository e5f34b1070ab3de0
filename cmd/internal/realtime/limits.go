package realtime

import (
	"time"

	v1 "github.com/2witstudios/pagespace/contracts/realtime/v1"
)

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = v1.MaxMessageBytes
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

const (
	// Challenge round-trip budget.
	challengeBytes       = 32
	challengeTTL         = 30 * time.Second
	challengeMaxAttempts = 3

	// Liveness sweeps.
	reapInterval    = 5 * time.Minute
	inactivityLimit = 1 * time.Hour

	// Session revalidation cadence. A connection is eligible once its last
	// successful revalidation is older than the interval.
	revalidateInterval = 5 * time.Minute

	// Server-initiated tool calls wait this long for the client's result.
	toolCallTimeout = 30 * time.Second
)
