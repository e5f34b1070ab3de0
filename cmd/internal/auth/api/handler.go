package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/2witstudios/pagespace/cmd/internal/auth/session"
	"github.com/2witstudios/pagespace/cmd/internal/events"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
)

// Handler wires the session authority's HTTP endpoints.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Service
	bus      events.Bus
}

// NewHandler constructs an auth Handler. bus may be nil; audit events are
// then dropped.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, bus events.Bus) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, cfg: cfg, sessions: sessions, bus: bus}, nil
}

// Routes returns the router for mounting under /api/auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(h.cfg.RefreshIPMax, h.cfg.RefreshIPWindow))
		r.Post("/device/refresh", h.handleDeviceRefresh)
	})

	r.Get("/csrf", h.handleCSRF)
	r.Post("/logout", h.handleLogout)
	r.Post("/logout_all", h.handleLogoutAll)
	r.Get("/me", h.handleMe)

	return r
}

// SessionService returns the underlying session service.
func (h *Handler) SessionService() *session.Service {
	return h.sessions
}

// ---- handlers ----

// handleDeviceRefresh exchanges a valid device token for a fresh pair.
//
// Reuse of an already-rotated token is treated as theft upstream: every
// session for the user is revoked and the caller gets a 401 like any other
// invalid credential, so an attacker cannot distinguish reuse detection from
// a plain miss.
func (h *Handler) handleDeviceRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	deviceToken := strings.TrimSpace(req.DeviceToken)
	if deviceToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "deviceToken is required")
		return
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	ctx := r.Context()
	now := time.Now().UTC()
	dev := session.DeviceContext{
		DeviceID:  deviceID,
		UserAgent: strings.TrimSpace(req.UserAgent),
		IP:        net.ParseIP(clientIP(r, h.cfg.TrustProxy)),
	}

	issued, err := h.sessions.RotateDevice(ctx, now, deviceToken, dev)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrDeviceTokenReuse):
			h.log.Warn("auth.refresh.reuse", "ip", dev.IP)
			h.publishExpired("device_token_reuse")
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		case errors.Is(err, session.ErrAccountSuspended):
			writeError(w, http.StatusForbidden, "account_suspended", "account suspended")
		case errors.Is(err, session.ErrSessionNotFound),
			errors.Is(err, session.ErrSessionExpired),
			errors.Is(err, session.ErrSessionRevoked):
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	resp := refreshResponse{
		DeviceToken:      issued.DeviceToken,
		DeviceExpiresAt:  issued.DeviceExp,
		SessionExpiresAt: issued.SessionExp,
	}

	switch issued.Platform {
	case session.PlatformWeb:
		csrf, err := newOpaqueWebToken(32)
		if err != nil {
			h.log.Error("auth.refresh.csrf.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		h.setCSRFCookie(w, csrf, issued.DeviceExp)
		resp.CSRFToken = csrf
	default:
		resp.SessionToken = issued.SessionToken
	}

	h.publishRefreshed(deviceID, string(issued.Platform))
	h.log.Info("auth.refresh.ok", "session_id", issued.SessionID, "platform", issued.Platform)
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRF mints a fresh double-submit token. No authentication is needed;
// the token only proves the caller can read this origin's cookies.
func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	csrf, err := newOpaqueWebToken(32)
	if err != nil {
		h.log.Error("auth.csrf.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.setCSRFCookie(w, csrf, time.Now().UTC().Add(24*time.Hour))
	writeJSON(w, http.StatusOK, csrfResponse{CSRFToken: csrf})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	if err := h.sessions.RevokeSession(r.Context(), time.Now().UTC(), claims.SessionID); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.publishExpired("logout")
	h.clearCSRFCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	if err := h.sessions.RevokeAll(r.Context(), time.Now().UTC(), claims.UserID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.publishExpired("logout_all")
	h.clearCSRFCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
	})
}

// ---- auth ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Claims, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "missing_token", "authorization required")
		return session.Claims{}, false
	}

	claims, err := h.sessions.ValidateSessionToken(r.Context(), tok, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
		return session.Claims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	hv := strings.TrimSpace(r.Header.Get("Authorization"))
	if tok, ok := strings.CutPrefix(hv, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}

// ---- audit ----

func (h *Handler) publishRefreshed(deviceID, platform string) {
	if h.bus == nil {
		return
	}
	err := h.bus.Publish(events.TopicSessionRefreshed, events.SessionRefreshedPayload{
		DeviceID: deviceID,
		Platform: platform,
	})
	if err != nil {
		h.log.Warn("auth.event.publish.fail", "topic", events.TopicSessionRefreshed, "err", err)
	}
}

func (h *Handler) publishExpired(reason string) {
	if h.bus == nil {
		return
	}
	err := h.bus.Publish(events.TopicSessionExpired, events.SessionExpiredPayload{Reason: reason})
	if err != nil {
		h.log.Warn("auth.event.publish.fail", "topic", events.TopicSessionExpired, "err", err)
	}
}

// ---- client address ----

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
