package app

import (
	"errors"
	"fmt"

	"github.com/2witstudios/pagespace/cmd/security/token"
)

const minBroadcastSecretBytes = 32

// ValidateSecurityConfig enforces the startup security policy.
// Fail-fast: silently falling back to weaker crypto in production is
// unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.BroadcastSecret != "" && len(cfg.BroadcastSecret) < minBroadcastSecretBytes {
		return fmt.Errorf("security policy: PAGESPACE_BROADCAST_SECRET is too short (min %d bytes)", minBroadcastSecretBytes)
	}

	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret. Bytes, not runes: the key
	// is used as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: PAGESPACE_REQUIRE_TOKEN_HMAC=true but PAGESPACE_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: PAGESPACE_REQUIRE_TOKEN_HMAC=true but PAGESPACE_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// Hard assertion that hashing actually runs in HMAC mode, guarding
	// against a future change that reintroduces a plain SHA fallback.
	if !token.HMACEnabled() {
		return errors.New("security policy: PAGESPACE_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
