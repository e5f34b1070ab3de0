package realtime

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DriveMembership is the authorization boundary for drive-scoped fan-out:
// drive channel events are delivered only to members.
type DriveMembership interface {
	// IsMember returns true if userID is an active member of driveID.
	IsMember(ctx context.Context, userID, driveID string) (bool, error)
}

// PostgresDriveMembership checks membership via pagespace.drive_members.
type PostgresDriveMembership struct {
	pool   *pgxpool.Pool
	schema string
}

// MembershipOption configures PostgresDriveMembership behavior.
type MembershipOption func(*PostgresDriveMembership) error

// WithMembershipSchema sets the DB schema used by the membership store
// (default: "pagespace").
func WithMembershipSchema(schema string) MembershipOption {
	return func(s *PostgresDriveMembership) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresDriveMembership constructs a membership store backed by PostgreSQL.
func NewPostgresDriveMembership(pool *pgxpool.Pool, opts ...MembershipOption) (*PostgresDriveMembership, error) {
	st := &PostgresDriveMembership{
		pool:   pool,
		schema: "pagespace",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// IsMember checks if userID is a member of driveID.
func (s *PostgresDriveMembership) IsMember(ctx context.Context, userID, driveID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	driveID = strings.TrimSpace(driveID)
	if userID == "" || driveID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	members := pgIdent(s.schema, "drive_members")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE drive_id = $1 AND user_id = $2`,
		driveID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StaticDriveMembership is an in-memory membership table for dev and tests.
type StaticDriveMembership struct {
	// Members maps driveID to the set of member userIDs.
	Members map[string][]string
}

// IsMember checks the static table.
func (s *StaticDriveMembership) IsMember(_ context.Context, userID, driveID string) (bool, error) {
	for _, id := range s.Members[driveID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
