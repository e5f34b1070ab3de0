package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// MaxNameLen bounds server and tool name fields.
const MaxNameLen = 64

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidName reports whether s is an acceptable server/tool name.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// ---- Payloads ----

// PingPayload is sent by the client as a liveness probe. It carries no fields.
type PingPayload struct{}

// PongPayload answers a ping with the server's wall clock.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ChallengePayload carries a one-time hex challenge and its validity window.
type ChallengePayload struct {
	Challenge string `json:"challenge"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// ChallengeResponsePayload carries the client's keyed-hash answer.
type ChallengeResponsePayload struct {
	Response string `json:"response"`
}

// Validate checks the response field is present and hex-digest shaped.
func (p ChallengeResponsePayload) Validate() error {
	if p.Response == "" {
		return errors.New("missing field: response")
	}
	// SHA-256 hex digest.
	if len(p.Response) != 64 {
		return fmt.Errorf("invalid response length: %d", len(p.Response))
	}
	return nil
}

// ChallengeVerifiedPayload confirms the handshake completed.
type ChallengeVerifiedPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ToolExecutePayload requests execution of a tool hosted behind the connection.
type ToolExecutePayload struct {
	ID         string          `json:"id"`
	ServerName string          `json:"server_name"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// Validate enforces the name grammar and correlation id presence.
func (p ToolExecutePayload) Validate() error {
	if p.ID == "" {
		return errors.New("missing field: id")
	}
	if !ValidName(p.ServerName) {
		return fmt.Errorf("invalid server_name: %q", p.ServerName)
	}
	if !ValidName(p.ToolName) {
		return fmt.Errorf("invalid tool_name: %q", p.ToolName)
	}
	return nil
}

// ToolResultPayload carries the outcome for a prior tool_execute.
// Exactly one of Result or Error is expected, keyed by Success.
type ToolResultPayload struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Validate checks correlation id presence and success/error coherence.
func (p ToolResultPayload) Validate() error {
	if p.ID == "" {
		return errors.New("missing field: id")
	}
	if !p.Success && p.Error == "" {
		return errors.New("failed result requires error")
	}
	return nil
}

// ErrorPayload is a generic error envelope body.
type ErrorPayload struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"` // seconds
}
