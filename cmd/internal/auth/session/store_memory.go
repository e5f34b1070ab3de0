package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryStore is an in-memory Store used when Postgres is not configured
// (dev mode) and throughout the unit tests.
type MemoryStore struct {
	mu        sync.Mutex
	rows      map[string]*Row // session id -> row
	byHash    map[string]string
	suspended map[string]bool
	versions  map[string]int64
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:      make(map[string]*Row),
		byHash:    make(map[string]string),
		suspended: make(map[string]bool),
		versions:  make(map[string]int64),
	}
}

// SuspendUser flags the account as suspended (test/dev hook).
func (s *MemoryStore) SuspendUser(userID string, suspended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended[userID] = suspended
}

func (s *MemoryStore) createLocked(now time.Time, userID string, dev DeviceContext, deviceHash string, expiresAt time.Time) string {
	id := ulid.Make().String()
	last := now
	s.rows[id] = &Row{
		ID:                id,
		UserID:            userID,
		DeviceID:          dev.DeviceID,
		DeviceTokenHash:   deviceHash,
		Platform:          dev.Platform,
		UserAgent:         dev.UserAgent,
		CredentialVersion: s.versionLocked(userID),
		CreatedAt:         now,
		LastUsedAt:        &last,
		ExpiresAt:         expiresAt,
	}
	s.byHash[deviceHash] = id
	return id
}

func (s *MemoryStore) versionLocked(userID string) int64 {
	if v, ok := s.versions[userID]; ok {
		return v
	}
	return 1
}

// Create creates a new session row.
func (s *MemoryStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, deviceHash string, expiresAt time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(now, userID, dev, deviceHash, expiresAt), nil
}

// GetByID loads a session row by ID.
func (s *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	out := *r
	out.UserSuspended = s.suspended[r.UserID]
	return out, nil
}

// RotateDevice rotates a device token under the store mutex.
func (s *MemoryStore) RotateDevice(ctx context.Context, now time.Time, deviceHash, newDeviceHash string, dev DeviceContext, newExpiresAt time.Time) (Row, string, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[deviceHash]
	if !ok {
		return Row{}, "", ErrSessionNotFound
	}
	r := s.rows[id]

	if r.RevokedAt != nil && r.ReplacedBySessionID != nil {
		s.revokeAllLocked(now, r.UserID, "reuse_detected")
		return Row{}, "", ErrDeviceTokenReuse
	}

	switch {
	case r.RevokedAt != nil:
		return Row{}, "", ErrSessionRevoked
	case !r.ExpiresAt.After(now):
		return Row{}, "", ErrSessionExpired
	case s.suspended[r.UserID]:
		return Row{}, "", ErrAccountSuspended
	}

	newID := s.createLocked(now, r.UserID, dev, newDeviceHash, newExpiresAt)

	old := *r
	old.UserSuspended = s.suspended[r.UserID]

	r.RevokedAt = &now
	r.LastUsedAt = &now
	reason := "rotation"
	r.RevocationReason = &reason
	r.ReplacedBySessionID = &newID

	return old, newID, nil
}

// Touch updates last_used_at for a session.
func (s *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rows[sessionID]; ok {
		r.LastUsedAt = &now
	}
	return nil
}

// Revoke revokes a single session (idempotent).
func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rows[sessionID]; ok && r.RevokedAt == nil {
		r.RevokedAt = &now
		r.RevocationReason = &reason
	}
	return nil
}

// RevokeAll revokes all sessions for a user (idempotent).
func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeAllLocked(now, userID, reason)
	return nil
}

func (s *MemoryStore) revokeAllLocked(now time.Time, userID string, reason string) {
	for _, r := range s.rows {
		if r.UserID == userID && r.RevokedAt == nil {
			t := now
			rs := reason
			r.RevokedAt = &t
			r.RevocationReason = &rs
		}
	}
}

// CredentialVersion returns the user's current credential version (1 when unset).
func (s *MemoryStore) CredentialVersion(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionLocked(userID), nil
}

// BumpCredentialVersion advances the user's credential version.
func (s *MemoryStore) BumpCredentialVersion(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.versionLocked(userID) + 1
	s.versions[userID] = v
	return v, nil
}
