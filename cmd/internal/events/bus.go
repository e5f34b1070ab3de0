// Package events provides the publish/subscribe seam between the auth client,
// the connection registry, and the application shell.
//
// Components depend on the Bus interface, never on a concrete transport, so a
// process-local bus can be swapped for a Redis-backed one without touching the
// publishers or subscribers.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Topics published by the auth and realtime subsystems.
const (
	// TopicSessionRefreshed fires after a successful credential refresh.
	TopicSessionRefreshed = "auth.session.refreshed"
	// TopicSessionExpired fires when a refresh hard-fails and the user must log out.
	TopicSessionExpired = "auth.session.expired"
	// TopicConnectionClosed fires when the registry drops a connection.
	TopicConnectionClosed = "realtime.connection.closed"
)

// Event is the canonical bus envelope.
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// SessionRefreshedPayload accompanies TopicSessionRefreshed.
type SessionRefreshedPayload struct {
	DeviceID string `json:"device_id,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// SessionExpiredPayload accompanies TopicSessionExpired.
type SessionExpiredPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ConnectionClosedPayload accompanies TopicConnectionClosed.
type ConnectionClosedPayload struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// Bus is the minimal pub/sub contract components are wired against.
//
// Publish is fire-and-forget from the caller's perspective: implementations
// must not block on slow subscribers.
type Bus interface {
	Publish(topic string, payload any) error
	Subscribe(ctx context.Context, topic string) (<-chan Event, error)
	Close() error
}
