package realtime

import "errors"

var (
	// Health check failures, ordered from cheapest to most specific.
	ErrNotRegistered  = errors.New("realtime: no connection registered for user")
	ErrSocketClosed   = errors.New("realtime: connection socket is closed")
	ErrNotVerified    = errors.New("realtime: connection has not completed challenge verification")
	ErrSessionExpired = errors.New("realtime: connection session has expired")

	// Challenge verification failures.
	ErrChallengeNotFound  = errors.New("realtime: no pending challenge for connection")
	ErrChallengeExpired   = errors.New("realtime: challenge expired")
	ErrChallengeMismatch  = errors.New("realtime: challenge response mismatch")
	ErrChallengeExhausted = errors.New("realtime: challenge attempt budget exhausted")

	// Dispatch failures.
	ErrToolCallTimeout = errors.New("realtime: tool call timed out")
	ErrUnknownToolCall = errors.New("realtime: no pending tool call for id")

	ErrUnknownChannel = errors.New("realtime: unknown channel format")
)
