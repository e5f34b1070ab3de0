package token

import "errors"

// Sentinel errors for HMAC key policy enforcement. Callers match these to
// produce actionable startup failures.
var (
	ErrHMACKeyMissing  = errors.New("token: HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token: HMAC key too short")
)
