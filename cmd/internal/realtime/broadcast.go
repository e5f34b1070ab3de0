package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2witstudios/pagespace/cmd/internal/broadcast"
	v1 "github.com/2witstudios/pagespace/contracts/realtime/v1"
)

// Router fans broadcast messages out to registered connections.
//
// Only challenge-verified connections receive broadcasts. Drive channels
// additionally require membership; an unanswerable membership check skips
// the recipient rather than failing the whole fan-out.
type Router struct {
	log     *slog.Logger
	reg     *Registry
	members DriveMembership
}

// NewRouter constructs a Router. members may not be nil; use
// StaticDriveMembership in dev.
func NewRouter(log *slog.Logger, reg *Registry, members DriveMembership) (*Router, error) {
	if members == nil {
		return nil, errors.New("realtime: nil drive membership")
	}
	return &Router{log: log, reg: reg, members: members}, nil
}

// Deliver routes msg to every eligible connection and returns the number of
// recipients.
func (rt *Router) Deliver(ctx context.Context, msg broadcast.Message) (int, error) {
	ch, ok := broadcast.ParseChannel(msg.Channel)
	if !ok {
		return 0, ErrUnknownChannel
	}
	if !v1.ValidName(msg.Type) {
		return 0, errors.New("realtime: invalid broadcast type name")
	}

	env, err := NewEnvelope(msg.Type, msg.Payload, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, state := range rt.reg.Snapshot() {
		if !state.ChallengeVerified || !state.Client.Open() {
			continue
		}

		eligible, err := rt.eligible(ctx, ch, state.UserID)
		if err != nil {
			rt.log.Warn("ws.broadcast.membership.fail",
				"channel", msg.Channel, "user_id", state.UserID, "err", err)
			continue
		}
		if !eligible {
			continue
		}

		select {
		case state.Client.Send <- env:
			delivered++
		default:
			// Backpressure: drop for this recipient, broadcasts are best-effort.
			rt.log.Info("ws.broadcast.drop",
				"channel", msg.Channel, "user_id", state.UserID, "reason", "queue full")
		}
	}

	metricBroadcasts.WithLabelValues(ch.Kind).Add(float64(delivered))
	return delivered, nil
}

func (rt *Router) eligible(ctx context.Context, ch broadcast.Channel, userID string) (bool, error) {
	switch ch.Kind {
	case broadcast.KindGlobalDrives:
		return true, nil
	case broadcast.KindDrive:
		return rt.members.IsMember(ctx, userID, ch.DriveID)
	case broadcast.KindUserTasks, broadcast.KindUserDrives, broadcast.KindNotifications:
		return ch.UserID == userID, nil
	}
	return false, nil
}

// BroadcastHandler receives signed pushes from the app servers and fans them
// out. Mount it at the broadcast path.
type BroadcastHandler struct {
	log    *slog.Logger
	router *Router
	secret []byte
	now    func() time.Time
}

// NewBroadcastHandler constructs a handler verifying pushes with secret.
func NewBroadcastHandler(log *slog.Logger, router *Router, secret []byte) (*BroadcastHandler, error) {
	if router == nil {
		return nil, errors.New("realtime: nil router")
	}
	if len(secret) == 0 {
		return nil, errors.New("realtime: empty broadcast secret")
	}
	return &BroadcastHandler{
		log:    log,
		router: router,
		secret: secret,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (h *BroadcastHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ts := r.Header.Get(broadcast.HeaderTimestamp)
	sig := r.Header.Get(broadcast.HeaderSignature)
	if err := broadcast.Verify(h.secret, ts, body, sig, h.now()); err != nil {
		h.log.Info("ws.broadcast.reject", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var msg broadcast.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	n, err := h.router.Deliver(r.Context(), msg)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	h.log.Debug("ws.broadcast.ok", "channel", msg.Channel, "type", msg.Type, "recipients", n)
	w.WriteHeader(http.StatusAccepted)
}
