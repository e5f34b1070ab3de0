package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Reap reasons, used for logs and metrics.
const (
	ReapReasonClosed   = "socket_closed"
	ReapReasonExpired  = "session_expired"
	ReapReasonInactive = "inactive"
)

// Reaper periodically removes connections that are dead weight: sockets that
// closed without unregistering, sessions past their expiry, and connections
// with no activity for the inactivity limit.
type Reaper struct {
	log *slog.Logger
	reg *Registry

	interval   time.Duration
	inactivity time.Duration
	now        func() time.Time
}

// NewReaper constructs a Reaper over reg with the default sweep cadence.
func NewReaper(log *slog.Logger, reg *Registry) *Reaper {
	return &Reaper{
		log:        log,
		reg:        reg,
		interval:   reapInterval,
		inactivity: inactivityLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on a ticker until ctx is done.
func (rp *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(rp.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rp.Sweep()
		}
	}
}

// Sweep examines every registered connection once and reaps the stale ones.
// It returns the number of connections removed.
func (rp *Reaper) Sweep() int {
	now := rp.now()
	reaped := 0

	for _, state := range rp.reg.Snapshot() {
		reason, code := rp.classify(state, now)
		if reason == "" {
			continue
		}

		// Close first so the peer sees a status, then drop the registration.
		// The identity check makes this safe against a concurrent reconnect.
		state.Client.Shutdown(code, reason)
		if rp.reg.Unregister(state.UserID, state.Client.ConnID) {
			reaped++
			metricReaps.WithLabelValues(reason).Inc()
			rp.log.Info("ws.reap",
				"user_id", state.UserID, "conn_id", state.Client.ConnID, "reason", reason)
		}
	}

	return reaped
}

func (rp *Reaper) classify(state ConnState, now time.Time) (string, websocket.StatusCode) {
	switch {
	case !state.Client.Open():
		return ReapReasonClosed, websocket.StatusAbnormalClosure
	case !state.SessionExpiresAt.After(now):
		return ReapReasonExpired, websocket.StatusPolicyViolation
	case now.Sub(state.LastActive) > rp.inactivity:
		return ReapReasonInactive, websocket.StatusGoingAway
	}
	return "", 0
}
