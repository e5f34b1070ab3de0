package session

import (
	"context"
	"net"
	"time"
)

// Platform represents the client platform associated with a session.
type Platform string

const (
	// PlatformWeb is a browser-based session (cookie transport).
	PlatformWeb Platform = "web"
	// PlatformDesktop is a desktop session (long-lived device token, bearer transport).
	PlatformDesktop Platform = "desktop"
	// PlatformUnknown is used when the client platform is not known.
	PlatformUnknown Platform = "unknown"
)

// DeviceContext describes the client device that owns a session.
type DeviceContext struct {
	Platform  Platform
	DeviceID  string
	UserAgent string
	IP        net.IP
}

// Row mirrors the pagespace.sessions row used by the session authority.
type Row struct {
	ID                  string
	UserID              string
	DeviceID            string
	DeviceTokenHash     string
	Platform            Platform
	UserAgent           string
	CredentialVersion   int64
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	RevocationReason    *string
	ReplacedBySessionID *string
	UserSuspended       bool
}

// Store abstracts persistence for session state.
//
// Implementations must ensure device-token rotation safety, especially for
// GetByDeviceHashForUpdate semantics.
type Store interface {
	// Create creates a new session row and returns its ID.
	Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, deviceHash string, expiresAt time.Time) (sessionID string, err error)

	// GetByID loads a session row by ID.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// RotateDevice atomically rotates the device token for the session matching
	// deviceHash. Reuse detection, revocation and expiry checks, new-session
	// creation, and replaced_by linkage all happen under one lock/transaction.
	//
	// Error contract:
	//   - ErrSessionNotFound: no session matches deviceHash.
	//   - ErrDeviceTokenReuse: hash belongs to an already-rotated session;
	//     the store has revoked every session for the user before returning.
	//   - ErrSessionRevoked / ErrSessionExpired / ErrAccountSuspended: hard rejections.
	RotateDevice(ctx context.Context, now time.Time, deviceHash, newDeviceHash string, dev DeviceContext, newExpiresAt time.Time) (old Row, newSessionID string, err error)

	// Touch updates last_used_at for a session (best-effort).
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke revokes a single session.
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error

	// RevokeAll revokes all sessions for a user.
	RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error

	// CredentialVersion returns the current credential version for a user.
	// The version advances on password change and similar credential events.
	CredentialVersion(ctx context.Context, userID string) (int64, error)

	// BumpCredentialVersion advances the credential version for a user.
	BumpCredentialVersion(ctx context.Context, userID string) (int64, error)
}
