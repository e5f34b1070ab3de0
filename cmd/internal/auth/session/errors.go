package session

import "errors"

var (
	// ErrInvalidToken is returned when a session token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when a device token does not match any session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session is expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the session has been revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrDeviceTokenReuse is returned when a rotated (replaced) device token is presented again.
	// Caller should revoke all sessions for the user.
	ErrDeviceTokenReuse = errors.New("device token reuse detected")

	// ErrAccountSuspended is returned when the owning account is suspended.
	ErrAccountSuspended = errors.New("account suspended")

	// ErrCredentialVersionChanged is returned when a session references a stale credential version.
	ErrCredentialVersionChanged = errors.New("credential version changed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
