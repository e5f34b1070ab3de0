package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/2witstudios/pagespace/cmd/security/token"
)

// Service implements the high-level session-authority operations for PageSpace.
//
// It issues sessions (session token + device token), validates session tokens,
// supports per-session and per-user revocation, performs device-token rotation
// with reuse detection, and answers revalidation queries for live connections.
type Service struct {
	cfg    Config
	tokens SessionTokenManager
	store  Store
}

// Issued is the result of issuing or rotating a session.
// It includes a short-lived session token and an opaque rotating device token.
type Issued struct {
	SessionID         string
	UserID            string
	Platform          Platform
	SessionToken      string
	SessionExp        time.Time
	DeviceToken       string
	DeviceExp         time.Time
	CredentialVersion int64
}

// Validation is the authority's answer to a revalidation query.
//
// Valid=false is an explicit rejection and carries a Reason; infrastructure
// failures are reported as errors instead, so callers can tell "revoked"
// apart from "unknown".
type Validation struct {
	Valid  bool
	Reason string
}

// NewService constructs a Service with the provided configuration, store, and token manager.
func NewService(cfg Config, store Store, tokens SessionTokenManager) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens}
}

func (s *Service) deviceTTL(dev DeviceContext) time.Duration {
	if dev.Platform == PlatformDesktop {
		return s.cfg.DeviceTTLDesktop
	}
	// Conservative default for web and unknown platforms.
	return s.cfg.DeviceTTLWeb
}

// IssueSession creates a new session row and returns fresh tokens.
//
// Device tokens are opaque random strings and must never be persisted in
// plaintext. Only the hash (hex) is stored.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Issued, error) {
	devicePlain, deviceHash, err := newOpaqueDeviceToken(s.cfg.DeviceTokenBytes)
	if err != nil {
		return Issued{}, err
	}

	deviceExp := now.Add(s.deviceTTL(dev))

	sessionID, err := s.store.Create(ctx, now, userID, dev, deviceHash, deviceExp)
	if err != nil {
		return Issued{}, err
	}

	sessionToken, sessionExp, err := s.tokens.Issue(userID, sessionID, now)
	if err != nil {
		return Issued{}, err
	}

	version, err := s.store.CredentialVersion(ctx, userID)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:         sessionID,
		UserID:            userID,
		Platform:          dev.Platform,
		SessionToken:      sessionToken,
		SessionExp:        sessionExp,
		DeviceToken:       devicePlain,
		DeviceExp:         deviceExp,
		CredentialVersion: version,
	}, nil
}

// RotateDevice exchanges a valid device token for a new session with fresh tokens.
//
// Security model:
//   - An already-rotated token presented again is treated as theft: the store
//     revokes all sessions for the user and ErrDeviceTokenReuse is returned.
//   - Revoked, expired, or suspended sessions are hard rejections.
func (s *Service) RotateDevice(ctx context.Context, now time.Time, devicePlain string, dev DeviceContext) (Issued, error) {
	devicePlain = strings.TrimSpace(devicePlain)
	// Basic sanity bounds to avoid pathological inputs.
	if devicePlain == "" || len(devicePlain) > 4096 {
		return Issued{}, ErrSessionNotFound
	}

	// Hash in-memory; the plain token never reaches the store.
	deviceHash := token.HashDeviceTokenHex(devicePlain)

	newPlain, newHash, err := newOpaqueDeviceToken(s.cfg.DeviceTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	newExp := now.Add(s.deviceTTL(dev))

	old, newSessionID, err := s.store.RotateDevice(ctx, now, deviceHash, newHash, dev, newExp)
	if err != nil {
		return Issued{}, err
	}

	sessionToken, sessionExp, err := s.tokens.Issue(old.UserID, newSessionID, now)
	if err != nil {
		return Issued{}, err
	}

	version, err := s.store.CredentialVersion(ctx, old.UserID)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:         newSessionID,
		UserID:            old.UserID,
		Platform:          old.Platform,
		SessionToken:      sessionToken,
		SessionExp:        sessionExp,
		DeviceToken:       newPlain,
		DeviceExp:         newExp,
		CredentialVersion: version,
	}, nil
}

// ValidateSessionToken verifies a session token and ensures the backing session is active.
func (s *Service) ValidateSessionToken(ctx context.Context, tok string, now time.Time) (Claims, error) {
	claims, err := s.tokens.Verify(tok, now)
	if err != nil {
		return Claims{}, err
	}

	// Server-authoritative session check to honor revocations.
	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return Claims{}, err
	}

	if row.UserID != claims.UserID {
		return Claims{}, ErrInvalidToken
	}
	if row.UserSuspended {
		return Claims{}, ErrAccountSuspended
	}
	if row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		return Claims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return Claims{}, ErrSessionExpired
	}

	return claims, nil
}

// Authorization describes an authenticated session at validation time,
// including the store-side fields long-lived consumers need to pin.
type Authorization struct {
	UserID            string
	SessionID         string
	SessionExpiresAt  time.Time
	CredentialVersion int64
}

// AuthorizeSessionToken validates tok and returns the session's authoritative
// expiry and credential version alongside its identity. Long-lived consumers
// (websocket connections) pin these at accept time and revalidate against
// them later.
func (s *Service) AuthorizeSessionToken(ctx context.Context, tok string, now time.Time) (Authorization, error) {
	claims, err := s.ValidateSessionToken(ctx, tok, now)
	if err != nil {
		return Authorization{}, err
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return Authorization{}, err
	}

	return Authorization{
		UserID:            row.UserID,
		SessionID:         row.ID,
		SessionExpiresAt:  row.ExpiresAt,
		CredentialVersion: row.CredentialVersion,
	}, nil
}

// Revalidate answers whether a previously accepted connection's session is
// still valid at its recorded credential version.
//
// Explicit rejections (revoked, expired, credential version changed, account
// suspended) return Valid=false with a reason. Store failures return an error
// so callers never confuse an outage with a revocation.
func (s *Service) Revalidate(ctx context.Context, now time.Time, sessionID string, credentialVersion int64) (Validation, error) {
	row, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Validation{Valid: false, Reason: "session_revoked"}, nil
		}
		return Validation{}, err
	}

	switch {
	case row.UserSuspended:
		return Validation{Valid: false, Reason: "account_suspended"}, nil
	case row.RevokedAt != nil || row.ReplacedBySessionID != nil:
		return Validation{Valid: false, Reason: "session_revoked"}, nil
	case !row.ExpiresAt.After(now):
		return Validation{Valid: false, Reason: "session_expired"}, nil
	}

	version, err := s.store.CredentialVersion(ctx, row.UserID)
	if err != nil {
		return Validation{}, err
	}
	if version != credentialVersion {
		return Validation{Valid: false, Reason: "credential_version_changed"}, nil
	}

	return Validation{Valid: true}, nil
}

// RevokeSession revokes a single session by ID (e.g., logout from a device).
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, now, sessionID, "logout")
}

// RevokeAll revokes all sessions for a user (e.g., logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	return s.store.RevokeAll(ctx, now, userID, "logout")
}

// TouchSession updates last_used_at for a session (best-effort).
func (s *Service) TouchSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Touch(ctx, now, sessionID)
}

// BumpCredentialVersion advances a user's credential version, invalidating
// connections pinned to the old version on their next revalidation pass.
func (s *Service) BumpCredentialVersion(ctx context.Context, userID string) (int64, error) {
	return s.store.BumpCredentialVersion(ctx, userID)
}

func newOpaqueDeviceToken(nBytes int) (plain string, hashHex string, err error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	// URL-safe, no padding.
	plain = base64.RawURLEncoding.EncodeToString(b)

	hashHex = token.HashDeviceTokenHex(plain) // 64 hex chars

	return plain, hashHex, nil
}
