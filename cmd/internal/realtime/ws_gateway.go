package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/2witstudios/pagespace/cmd/internal/auth/session"
	v1 "github.com/2witstudios/pagespace/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "pagespace.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Authorizer authenticates a handshake's session token.
// *session.Service satisfies it.
type Authorizer interface {
	AuthorizeSessionToken(ctx context.Context, tok string, now time.Time) (session.Authorization, error)
}

// WSGateway is the WebSocket entrypoint for PageSpace realtime.
//
// It enforces origin policy, subprotocol selection, and rate limits,
// authenticates the handshake, registers the connection, and drives the
// challenge round-trip before privileged traffic is allowed.
type WSGateway struct {
	log        *slog.Logger
	reg        *Registry
	challenges *ChallengeAuthenticator
	tools      *ToolDispatcher
	authorizer Authorizer

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, reg *Registry, challenges *ChallengeAuthenticator, tools *ToolDispatcher, authorizer Authorizer) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if reg == nil || challenges == nil || authorizer == nil {
		return nil, errors.New("realtime: gateway needs a registry, challenge authenticator, and authorizer")
	}

	g := &WSGateway{log: log, reg: reg, challenges: challenges, tools: tools, authorizer: authorizer}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("PAGESPACE_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("PAGESPACE_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("PAGESPACE_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("PAGESPACE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("PAGESPACE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("PAGESPACE_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("PAGESPACE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("PAGESPACE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("PAGESPACE_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("PAGESPACE_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// The handshake must prove a session before the socket exists.
	tok := handshakeToken(r)
	if tok == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	authz, err := g.authorizer.AuthorizeSessionToken(r.Context(), tok, time.Now().UTC())
	if err != nil {
		g.log.Info("ws.reject.token", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	fingerprint := Fingerprint(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.connid.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id generation failed")
		return
	}

	client := NewClient(connID, authz.UserID, authz.SessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Shutdown is idempotent. It does NOT close client.Send; fan-out safety
	// requires the channel to stay open while the registry may still route
	// to this client.
	client.OnShutdown(func(code websocket.StatusCode, reason string) {
		_ = conn.Close(code, reason)
		cancel()
	})

	g.reg.Register(&ConnState{
		Client:            client,
		UserID:            authz.UserID,
		SessionID:         authz.SessionID,
		SessionExpiresAt:  authz.SessionExpiresAt,
		CredentialVersion: authz.CredentialVersion,
		Fingerprint:       fingerprint,
	})
	defer func() {
		g.reg.Unregister(authz.UserID, connID)
		g.challenges.Drop(connID)
	}()

	g.log.Info("ws.open", "user_id", authz.UserID, "conn_id", connID)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					client.Shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						client.Shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
				g.reg.Touch(authz.UserID, time.Now().UTC())
			}
		}
	}()

	if err := g.issueChallenge(ctx, client); err != nil {
		g.log.Info("ws.challenge.issue.fail", "conn_id", connID, "err", err)
		client.Shutdown(websocket.StatusInternalError, "challenge issue failed")
	}

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				client.Shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				client.Shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				client.Shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				client.Shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			client.Shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		g.reg.Touch(authz.UserID, now)

		switch env.Type {
		case v1.TypePing:
			g.onPing(ctx, client, now)

		case v1.TypeChallengeResponse:
			ok, fatal := g.onChallengeResponse(ctx, client, env)
			if fatal {
				client.Shutdown(websocket.StatusPolicyViolation, "challenge failed")
				break readLoop
			}
			if ok {
				g.log.Info("ws.verified", "user_id", authz.UserID, "conn_id", connID)
			}

		case v1.TypeToolResult:
			if !g.verified(authz.UserID, connID) {
				g.trySendError(ctx, client, "not_verified", "complete challenge first")
				continue readLoop
			}
			g.onToolResult(ctx, client, env)

		default:
			// tool_execute lands here too: execution requests originate
			// on the server (the dispatcher owns the correlation table),
			// so a client sending one gets the same answer as any other
			// type it has no business sending.
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	client.Shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *WSGateway) issueChallenge(ctx context.Context, client *Client) error {
	value, expiresIn, err := g.challenges.Issue(client.ConnID, client.UserID, client.SessionID)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(v1.ChallengePayload{Challenge: value, ExpiresIn: int64(expiresIn)})
	env, err := NewEnvelope(v1.TypeChallenge, payload, time.Now().UTC())
	if err != nil {
		return err
	}

	if !g.enqueue(ctx, client, env) {
		return errors.New("backpressure: challenge")
	}
	return nil
}

func (g *WSGateway) onPing(ctx context.Context, client *Client, now time.Time) {
	payload, _ := json.Marshal(v1.PongPayload{Timestamp: now})
	env, err := NewEnvelope(v1.TypePong, payload, now)
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

// onChallengeResponse returns (verified, fatal). Fatal outcomes (expired
// challenge, exhausted budget) end the connection; a plain mismatch leaves
// the remaining attempts usable.
func (g *WSGateway) onChallengeResponse(ctx context.Context, client *Client, env v1.Envelope) (bool, bool) {
	var p v1.ChallengeResponsePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, client, "bad_payload", "invalid payload")
		return false, false
	}
	if err := p.Validate(); err != nil {
		g.trySendError(ctx, client, "bad_payload", err.Error())
		return false, false
	}

	err := g.challenges.Verify(client.ConnID, p.Response)
	switch {
	case err == nil:
		// Identity-checked: a verification landing after eviction is a no-op.
		if !g.reg.MarkVerified(client.UserID, client.ConnID) {
			return false, true
		}

		payload, _ := json.Marshal(v1.ChallengeVerifiedPayload{Timestamp: time.Now().UTC()})
		ack, aerr := NewEnvelope(v1.TypeChallengeVerified, payload, time.Now().UTC())
		if aerr != nil {
			return true, false
		}
		_ = g.enqueue(ctx, client, ack)
		return true, false

	case errors.Is(err, ErrChallengeMismatch):
		g.trySendError(ctx, client, "challenge_mismatch", "response mismatch")
		return false, false

	default:
		// Not found, expired, or budget exhausted: no retry path remains.
		g.trySendError(ctx, client, "challenge_failed", err.Error())
		return false, true
	}
}

func (g *WSGateway) onToolResult(ctx context.Context, client *Client, env v1.Envelope) {
	var p v1.ToolResultPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, client, "bad_payload", "invalid payload")
		return
	}
	if err := p.Validate(); err != nil {
		g.trySendError(ctx, client, "bad_payload", err.Error())
		return
	}

	if err := g.tools.Resolve(p); err != nil {
		g.trySendError(ctx, client, "unknown_call", err.Error())
	}
}

func (g *WSGateway) verified(userID, connID string) bool {
	state, ok := g.reg.Get(userID)
	return ok && state.Client.ConnID == connID && state.ChallengeVerified
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Error: code, Reason: msg})
	env, err := NewEnvelope(v1.TypeError, p, time.Now().UTC())
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- handshake auth ----

// handshakeToken extracts the session token from the Authorization header or
// the token query parameter (browser WebSocket clients cannot set headers).
func handshakeToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	if strings.Contains(err.Error(), "unexpected end of JSON input") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
