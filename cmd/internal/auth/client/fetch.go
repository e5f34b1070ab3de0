package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/2witstudios/pagespace/cmd/internal/events"
)

// fetchState models one authenticated request's lifecycle explicitly, so the
// single-flight and queue-replay behavior stays easy to reason about and test.
type fetchState uint8

const (
	stateInitial fetchState = iota
	stateRefreshing
	stateRetrying
	stateDone
	stateFailed
)

// csrfErrorCode is the error code the API returns on a CSRF mismatch.
const csrfErrorCode = "csrf_invalid"

// refreshFlight lets callers that arrive mid-refresh queue up and observe the
// shared outcome. FIFO draining falls out of the runtime's channel-close
// wakeup plus each waiter replaying through the full authenticated path.
type refreshFlight struct {
	done    chan struct{}
	outcome RefreshOutcome
}

// Authenticator is the outward-facing HTTP client wrapper.
//
// It attaches platform credentials, detects authentication failure, drives the
// refresh Coordinator, and queues and replays concurrent callers. Transparent
// to callers: Do behaves like http.Client.Do.
type Authenticator struct {
	log   *slog.Logger
	cfg   Config
	creds *CachedStore
	coord *Coordinator
	httpc *http.Client
	bus   events.Bus

	mu       sync.Mutex
	inflight *refreshFlight
}

// NewAuthenticator wires an Authenticator around one explicit http.Client.
func NewAuthenticator(log *slog.Logger, cfg Config, creds *CachedStore, coord *Coordinator, httpc *http.Client, bus events.Bus) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if creds == nil || coord == nil || httpc == nil {
		return nil, ErrConfig
	}
	return &Authenticator{
		log:   log,
		cfg:   cfg,
		creds: creds,
		coord: coord,
		httpc: httpc,
		bus:   bus,
	}, nil
}

// Do issues req with credentials attached, refreshing and retrying once on
// authentication failure. Exhausting the retry budget returns the original
// 401 response, not an internal error.
func (a *Authenticator) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	// Requests that arrive while a refresh is in flight are queued and then
	// replayed through the full authenticated path, so they pick up rotated
	// headers instead of stale ones.
	if err := a.awaitInflight(ctx); err != nil {
		return nil, err
	}

	state := stateInitial
	var resp *http.Response

	for {
		switch state {
		case stateInitial:
			r, err := a.send(ctx, req)
			if err != nil {
				return nil, err
			}

			switch {
			case r.StatusCode == http.StatusUnauthorized:
				resp = r
				state = stateRefreshing

			case r.StatusCode == http.StatusForbidden && a.cfg.Platform == PlatformWeb:
				r, retry := a.classifyCSRF(r)
				if !retry {
					return r, nil
				}
				drainBody(r)
				if err := a.coord.RefreshCSRF(ctx); err != nil {
					a.log.Info("auth.fetch.csrf_refresh.fail", "err", err)
					return a.send(ctx, req)
				}
				// CSRF-only retry; deliberately not a full session refresh.
				return a.send(ctx, req)

			default:
				return r, nil
			}

		case stateRefreshing:
			outcome := a.runRefresh(ctx)
			if !outcome.Success {
				if outcome.ShouldLogout {
					// Surface the forced logout for the app shell, then
					// propagate the original 401 to the caller.
					a.publishExpired("refresh_rejected")
				}
				state = stateFailed
				continue
			}
			if !replayable(req) {
				// The body cannot be replayed; the caller keeps the 401.
				state = stateFailed
				continue
			}
			state = stateRetrying

		case stateRetrying:
			drainBody(resp)
			r, err := a.send(ctx, req)
			if err != nil {
				return nil, err
			}
			// Retry budget is one: whatever comes back is final.
			resp = r
			state = stateDone

		case stateDone, stateFailed:
			return resp, nil
		}
	}
}

// awaitInflight blocks until any in-flight refresh resolves.
// Queued callers whose shared refresh hard-fails are rejected with an
// authentication error instead of being sent with dead credentials.
func (a *Authenticator) awaitInflight(ctx context.Context) error {
	a.mu.Lock()
	f := a.inflight
	a.mu.Unlock()

	if f == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
	}

	if !f.outcome.Success {
		return ErrAuthenticationFailed
	}
	return nil
}

// runRefresh starts (or joins) the shared refresh, publishing the flight so
// that newly arriving requests queue behind it.
func (a *Authenticator) runRefresh(ctx context.Context) RefreshOutcome {
	a.mu.Lock()
	if f := a.inflight; f != nil {
		a.mu.Unlock()
		select {
		case <-ctx.Done():
			return RefreshOutcome{}
		case <-f.done:
		}
		return f.outcome
	}

	f := &refreshFlight{done: make(chan struct{})}
	a.inflight = f
	a.mu.Unlock()

	f.outcome = a.coord.DoRefresh(ctx)

	a.mu.Lock()
	a.inflight = nil
	a.mu.Unlock()
	close(f.done)

	return f.outcome
}

// send clones req, attaches current platform credentials, and issues it.
func (a *Authenticator) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}

	bundle, err := a.creds.Load(ctx)
	if err == nil {
		a.attach(r, bundle)
	}

	return a.httpc.Do(r)
}

func (a *Authenticator) attach(r *http.Request, b Bundle) {
	switch a.cfg.Platform {
	case PlatformDesktop:
		if b.SessionToken != "" {
			r.Header.Set("Authorization", "Bearer "+b.SessionToken)
		}

	case PlatformWeb:
		if b.DeviceToken != "" {
			r.Header.Set(HeaderDeviceToken, b.DeviceToken)
		}
		if b.CSRFToken != "" && mutating(r.Method) && !a.cfg.csrfExempt(r.URL.Path) {
			r.Header.Set(HeaderCSRFToken, b.CSRFToken)
		}
	}
}

// classifyCSRF inspects a 403 for the CSRF-mismatch error code. When the body
// is not a CSRF error it is reconstructed so the caller sees it untouched.
func (a *Authenticator) classifyCSRF(r *http.Response) (*http.Response, bool) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return r, false
	}

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) != nil {
		return r, false
	}
	return r, body.Error == csrfErrorCode
}

func (a *Authenticator) publishExpired(reason string) {
	if a.bus == nil {
		return
	}
	if err := a.bus.Publish(events.TopicSessionExpired, events.SessionExpiredPayload{Reason: reason}); err != nil {
		a.log.Warn("auth.event.publish.fail", "topic", events.TopicSessionExpired, "err", err)
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.GetBody != nil
}

func drainBody(r *http.Response) {
	if r == nil || r.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
	_ = r.Body.Close()
}
