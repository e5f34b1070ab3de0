package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore implements Store using PostgreSQL (pagespace.sessions,
// pagespace.account_flags).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, deviceHash string, expiresAt time.Time) (string, error) {
	id := ulid.Make().String()

	var ip net.IP
	if dev.IP != nil {
		ip = dev.IP
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pagespace.sessions (
			id, user_id, device_id, device_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, user_agent, ip, platform, revocation_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $5, $6, NULL,
			NULL, $7, $8, $9, NULL
		)
	`, id, userID, nullIfEmpty(dev.DeviceID), deviceHash, now, expiresAt, nullIfEmpty(dev.UserAgent), ip, string(dev.Platform))
	if err != nil {
		return "", err
	}

	return id, nil
}

const rowColumns = `
	s.id, s.user_id, COALESCE(s.device_id, ''), s.device_token_hash,
	COALESCE(s.user_agent, ''), s.created_at, s.last_used_at, s.expires_at,
	s.revoked_at, s.revocation_reason, s.replaced_by_session_id, s.platform,
	COALESCE(f.suspended, FALSE), COALESCE(f.credential_version, 1)
`

func scanRow(scan func(dest ...any) error) (Row, error) {
	var row Row
	err := scan(
		&row.ID,
		&row.UserID,
		&row.DeviceID,
		&row.DeviceTokenHash,
		&row.UserAgent,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.RevocationReason,
		&row.ReplacedBySessionID,
		&row.Platform,
		&row.UserSuspended,
		&row.CredentialVersion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	q := s.pool.QueryRow(ctx, `
		SELECT `+rowColumns+`
		FROM pagespace.sessions s
		LEFT JOIN pagespace.account_flags f ON f.user_id = s.user_id
		WHERE s.id = $1
	`, sessionID)
	return scanRow(q.Scan)
}

// RotateDevice rotates a device token inside a single transaction.
//
// The session row is locked by device-token hash (SELECT ... FOR UPDATE) so
// concurrent rotations of the same token serialize; the loser then observes
// replaced_by_session_id and is classified as reuse.
func (s *PostgresStore) RotateDevice(ctx context.Context, now time.Time, deviceHash, newDeviceHash string, dev DeviceContext, newExpiresAt time.Time) (Row, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Row{}, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := tx.QueryRow(ctx, `
		SELECT `+rowColumns+`
		FROM pagespace.sessions s
		LEFT JOIN pagespace.account_flags f ON f.user_id = s.user_id
		WHERE s.device_token_hash = $1
		FOR UPDATE OF s
	`, deviceHash)
	row, err := scanRow(q.Scan)
	if err != nil {
		return Row{}, "", err
	}

	// Reuse detection: a rotated device token presented again.
	if row.RevokedAt != nil && row.ReplacedBySessionID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE pagespace.sessions
			SET revoked_at = COALESCE(revoked_at, $2),
			    revocation_reason = COALESCE(revocation_reason, 'reuse_detected')
			WHERE user_id = $1
		`, row.UserID, now); err != nil {
			return Row{}, "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return Row{}, "", err
		}
		return Row{}, "", ErrDeviceTokenReuse
	}

	switch {
	case row.RevokedAt != nil:
		return Row{}, "", ErrSessionRevoked
	case !row.ExpiresAt.After(now):
		return Row{}, "", ErrSessionExpired
	case row.UserSuspended:
		return Row{}, "", ErrAccountSuspended
	}

	newID := ulid.Make().String()

	var ip net.IP
	if dev.IP != nil {
		ip = dev.IP
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO pagespace.sessions (
			id, user_id, device_id, device_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, user_agent, ip, platform, revocation_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $5, $6, NULL,
			NULL, $7, $8, $9, NULL
		)
	`, newID, row.UserID, nullIfEmpty(dev.DeviceID), newDeviceHash, now, newExpiresAt, nullIfEmpty(dev.UserAgent), ip, string(dev.Platform)); err != nil {
		return Row{}, "", err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE pagespace.sessions
		SET
			last_used_at = $2,
			revoked_at = $2,
			replaced_by_session_id = $3,
			revocation_reason = 'rotation'
		WHERE id = $1
	`, row.ID, now, newID); err != nil {
		return Row{}, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return Row{}, "", err
	}

	return row, newID, nil
}

// Touch updates last_used_at for a session.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pagespace.sessions
		SET last_used_at = $2
		WHERE id = $1
	`, sessionID, now)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pagespace.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

// RevokeAll revokes all sessions for a user (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pagespace.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE user_id = $1
	`, userID, now, reason)
	return err
}

// CredentialVersion returns the user's current credential version (1 when unset).
func (s *PostgresStore) CredentialVersion(ctx context.Context, userID string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(credential_version, 1)
		FROM pagespace.account_flags
		WHERE user_id = $1
	`, userID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// BumpCredentialVersion advances the user's credential version and returns the new value.
func (s *PostgresStore) BumpCredentialVersion(ctx context.Context, userID string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pagespace.account_flags (user_id, suspended, credential_version)
		VALUES ($1, FALSE, 2)
		ON CONFLICT (user_id)
		DO UPDATE SET credential_version = pagespace.account_flags.credential_version + 1
		RETURNING credential_version
	`, userID).Scan(&v)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
