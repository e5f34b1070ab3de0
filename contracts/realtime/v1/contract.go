// Package v1 defines the PageSpace Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypePing is a liveness probe (client -> server).
	TypePing = "ping"
	// TypePong answers a ping (server -> client).
	TypePong = "pong"

	// TypeChallenge carries a one-time authentication challenge (server -> client).
	TypeChallenge = "challenge"
	// TypeChallengeResponse carries the client's answer to a challenge (client -> server).
	TypeChallengeResponse = "challenge_response"
	// TypeChallengeVerified confirms a successful challenge handshake (server -> client).
	TypeChallengeVerified = "challenge_verified"

	// TypeToolExecute requests execution of a named tool (bidirectional).
	TypeToolExecute = "tool_execute"
	// TypeToolResult carries the outcome of a tool execution (bidirectional).
	TypeToolResult = "tool_result"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// MaxMessageBytes is the hard cap for a single wire message.
// Oversized messages are rejected, never truncated.
const MaxMessageBytes = 1 << 20 // 1 MiB

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypePing,
		TypePong,
		TypeChallenge,
		TypeChallengeResponse,
		TypeChallengeVerified,
		TypeToolExecute,
		TypeToolResult,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}
