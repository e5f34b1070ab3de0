package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2witstudios/pagespace/cmd/internal/auth/session"

	"github.com/coder/websocket"
)

// SessionAuthority answers whether a session is still valid at the
// credential version a connection was accepted with.
type SessionAuthority interface {
	Revalidate(ctx context.Context, now time.Time, sessionID string, credentialVersion int64) (session.Validation, error)
}

// Revalidator periodically re-checks every connection's session against the
// authority. Connections are closed only on an explicit rejection; authority
// outages leave them untouched so a flaky database never mass-disconnects
// the fleet.
type Revalidator struct {
	log       *slog.Logger
	reg       *Registry
	authority SessionAuthority

	interval time.Duration
	now      func() time.Time
}

// NewRevalidator constructs a Revalidator with the default cadence.
func NewRevalidator(log *slog.Logger, reg *Registry, authority SessionAuthority) *Revalidator {
	return &Revalidator{
		log:       log,
		reg:       reg,
		authority: authority,
		interval:  revalidateInterval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run revalidates on a ticker until ctx is done.
func (rv *Revalidator) Run(ctx context.Context) {
	t := time.NewTicker(rv.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rv.Revalidate(ctx)
		}
	}
}

// Revalidate checks every eligible connection in parallel and waits for all
// checks to settle. A connection is eligible when its last successful
// revalidation is older than the interval. It returns the number of
// connections closed.
func (rv *Revalidator) Revalidate(ctx context.Context) int {
	now := rv.now()

	var eligible []ConnState
	for _, state := range rv.reg.Snapshot() {
		if now.Sub(state.LastRevalidated) >= rv.interval {
			eligible = append(eligible, state)
		}
	}
	if len(eligible) == 0 {
		return 0
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
	)
	for _, state := range eligible {
		wg.Add(1)
		go func(state ConnState) {
			defer wg.Done()
			if rv.revalidateOne(ctx, state, now) {
				mu.Lock()
				closed++
				mu.Unlock()
			}
		}(state)
	}
	wg.Wait()

	return closed
}

// revalidateOne reports whether it closed the connection.
func (rv *Revalidator) revalidateOne(ctx context.Context, state ConnState, now time.Time) bool {
	res, err := rv.authority.Revalidate(ctx, now, state.SessionID, state.CredentialVersion)
	if err != nil {
		// Outage, not a verdict. Keep the connection and retry next sweep.
		metricRevalidations.WithLabelValues("error").Inc()
		rv.log.Warn("ws.revalidate.fail",
			"user_id", state.UserID, "session_id", state.SessionID, "err", err)
		return false
	}

	if res.Valid {
		metricRevalidations.WithLabelValues("ok").Inc()
		rv.reg.MarkRevalidated(state.UserID, state.Client.ConnID, now)
		return false
	}

	metricRevalidations.WithLabelValues("rejected").Inc()
	rv.log.Info("ws.revalidate.reject",
		"user_id", state.UserID, "session_id", state.SessionID, "reason", res.Reason)

	state.Client.Shutdown(websocket.StatusPolicyViolation, res.Reason)
	rv.reg.Unregister(state.UserID, state.Client.ConnID)
	return true
}
