package realtime

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/2witstudios/pagespace/cmd/security/token"
)

// pendingChallenge is one outstanding challenge, keyed by connection id.
type pendingChallenge struct {
	value     string
	userID    string
	sessionID string
	expiresAt time.Time
	attempts  int
}

// ChallengeAuthenticator issues one-shot challenges and verifies responses.
//
// A response is valid when it equals the hex SHA-256 of the challenge string
// concatenated with the user id and session id the challenge was issued for.
// Challenges are single-use: success, expiry, and budget exhaustion all
// consume the challenge, so a captured response cannot be replayed.
type ChallengeAuthenticator struct {
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingChallenge
}

// NewChallengeAuthenticator constructs an authenticator with the default
// expiry and attempt budget.
func NewChallengeAuthenticator() *ChallengeAuthenticator {
	return &ChallengeAuthenticator{
		ttl:         challengeTTL,
		maxAttempts: challengeMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		pending:     make(map[string]*pendingChallenge),
	}
}

// Issue creates a fresh challenge for connID bound to the given identity,
// replacing any outstanding one. It returns the challenge string to send to
// the client and the number of seconds until it expires.
func (a *ChallengeAuthenticator) Issue(connID, userID, sessionID string) (string, int, error) {
	value := NewRandomHex(challengeBytes)
	if value == "" {
		return "", 0, errors.New("realtime: challenge entropy unavailable")
	}

	a.mu.Lock()
	a.pending[connID] = &pendingChallenge{
		value:     value,
		userID:    userID,
		sessionID: sessionID,
		expiresAt: a.now().Add(a.ttl),
	}
	a.mu.Unlock()

	return value, int(a.ttl / time.Second), nil
}

// Verify checks response against the pending challenge for connID.
//
// Expired challenges and exhausted budgets are removed before the comparison
// runs, and a successful verification consumes the challenge, so every
// terminal outcome leaves nothing behind to retry against.
func (a *ChallengeAuthenticator) Verify(connID, response string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, ok := a.pending[connID]
	if !ok {
		metricChallenges.WithLabelValues("missing").Inc()
		return ErrChallengeNotFound
	}

	if !ch.expiresAt.After(a.now()) {
		delete(a.pending, connID)
		metricChallenges.WithLabelValues("expired").Inc()
		return ErrChallengeExpired
	}

	// The budget is spent before the answer is looked at, so a correct
	// guess on an over-budget attempt still fails.
	ch.attempts++
	if ch.attempts > a.maxAttempts {
		delete(a.pending, connID)
		metricChallenges.WithLabelValues("exhausted").Inc()
		return ErrChallengeExhausted
	}

	expected := ChallengeResponse(ch.value, ch.userID, ch.sessionID)
	if !token.SecureEqual(expected, response) {
		metricChallenges.WithLabelValues("mismatch").Inc()
		return ErrChallengeMismatch
	}

	delete(a.pending, connID)
	metricChallenges.WithLabelValues("ok").Inc()
	return nil
}

// Drop discards any pending challenge for connID, for connection teardown.
func (a *ChallengeAuthenticator) Drop(connID string) {
	a.mu.Lock()
	delete(a.pending, connID)
	a.mu.Unlock()
}

// ChallengeResponse derives the expected response for a challenge bound to
// an identity. Clients compute the same derivation.
func ChallengeResponse(challenge, userID, sessionID string) string {
	sum := sha256.Sum256([]byte(challenge + userID + sessionID))
	return hex.EncodeToString(sum[:])
}
