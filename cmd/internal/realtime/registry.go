package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ConnState is everything the registry tracks about one live connection.
// All fields except Client are guarded by the registry mutex; callers must
// treat snapshots as point-in-time copies.
type ConnState struct {
	Client *Client

	UserID    string
	SessionID string

	// Pinned at accept time from the authenticated session.
	SessionExpiresAt  time.Time
	CredentialVersion int64

	// Handshake request fingerprint (hashed IP + user agent).
	Fingerprint string

	ConnectedAt       time.Time
	LastActive        time.Time
	LastRevalidated   time.Time
	ChallengeVerified bool
}

// Registry holds at most one connection per user.
//
// Registering a user who already has a live connection evicts the old one
// with a normal closure before the new one is stored, so a reconnecting
// client never races its own ghost.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[string]*ConnState
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:   log,
		conns: make(map[string]*ConnState),
	}
}

// Register stores state as the user's single connection, evicting and
// closing any previous one. It returns the evicted state, if any.
func (r *Registry) Register(state *ConnState) *ConnState {
	now := time.Now().UTC()

	r.mu.Lock()
	prev := r.conns[state.UserID]
	state.ConnectedAt = now
	state.LastActive = now
	state.LastRevalidated = now
	r.conns[state.UserID] = state
	size := len(r.conns)
	r.mu.Unlock()

	if prev != nil {
		r.log.Info("ws.registry.evict",
			"user_id", prev.UserID, "conn_id", prev.Client.ConnID, "by", state.Client.ConnID)
		prev.Client.Shutdown(websocket.StatusNormalClosure, "replaced by newer connection")
		metricEvictions.Inc()
	}

	metricRegistrySize.Set(float64(size))
	return prev
}

// Unregister removes the user's connection only when connID still identifies
// it. A stale unregister from an evicted connection's teardown is a no-op,
// so it can never remove the replacement.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	state, ok := r.conns[userID]
	if !ok || state.Client.ConnID != connID {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	size := len(r.conns)
	r.mu.Unlock()

	metricRegistrySize.Set(float64(size))
	return true
}

// Get returns a copy of the user's connection state.
func (r *Registry) Get(userID string) (ConnState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.conns[userID]
	if !ok {
		return ConnState{}, false
	}
	return *state, true
}

// Client returns the live client handle for a user, if registered.
func (r *Registry) Client(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.conns[userID]
	if !ok {
		return nil, false
	}
	return state.Client, true
}

// Touch records activity on the user's connection.
func (r *Registry) Touch(userID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.conns[userID]; ok {
		state.LastActive = now
	}
}

// MarkVerified records a successful challenge round-trip. It is
// identity-checked like Unregister so a slow verification from an evicted
// connection cannot bless its replacement.
func (r *Registry) MarkVerified(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.conns[userID]
	if !ok || state.Client.ConnID != connID {
		return false
	}
	state.ChallengeVerified = true
	return true
}

// MarkRevalidated records a successful session revalidation.
func (r *Registry) MarkRevalidated(userID, connID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.conns[userID]; ok && state.Client.ConnID == connID {
		state.LastRevalidated = now
	}
}

// Health runs the ordered liveness checks for a user's connection and
// returns the first failure: registered, socket open, challenge verified,
// session unexpired. A nil return means the connection may carry
// privileged traffic.
func (r *Registry) Health(userID string, now time.Time) error {
	r.mu.RLock()
	state, ok := r.conns[userID]
	if !ok {
		r.mu.RUnlock()
		return ErrNotRegistered
	}
	client := state.Client
	verified := state.ChallengeVerified
	expiresAt := state.SessionExpiresAt
	r.mu.RUnlock()

	if !client.Open() {
		return ErrSocketClosed
	}
	if !verified {
		return ErrNotVerified
	}
	if !expiresAt.After(now) {
		return ErrSessionExpired
	}
	return nil
}

// Snapshot returns point-in-time copies of every connection state, for
// background sweeps that must not hold the registry lock while doing IO.
func (r *Registry) Snapshot() []ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnState, 0, len(r.conns))
	for _, state := range r.conns {
		out = append(out, *state)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
