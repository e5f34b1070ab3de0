package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2witstudios/pagespace/cmd/internal/events"
)

// RefreshOutcome classifies a refresh attempt.
//
// Effectively tri-state: success; transient failure (retry later, stay logged
// in); hard failure (ShouldLogout). ShouldLogout is only ever true when the
// authority explicitly rejected the credential, never on network/5xx/429.
type RefreshOutcome struct {
	Success      bool
	ShouldLogout bool
}

// refreshRequest is the device-refresh endpoint wire contract (camelCase).
type refreshRequest struct {
	DeviceToken string `json:"deviceToken"`
	DeviceID    string `json:"deviceId"`
	UserAgent   string `json:"userAgent"`
	AppVersion  string `json:"appVersion,omitempty"`
}

type refreshResponse struct {
	DeviceToken  string `json:"deviceToken"`
	CSRFToken    string `json:"csrfToken,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
}

type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// Coordinator exchanges an expiring credential for a new one.
//
// Concurrent invocations share one in-flight refresh (single-flight), and a
// successful refresh starts a cooldown window during which further calls
// short-circuit to success without a network call. Device tokens are rotating
// and single-use: a refresh triggered by a delayed secondary signal after the
// primary refresh already rotated the token would itself 401 and incorrectly
// force a logout; the cooldown absorbs this race.
type Coordinator struct {
	log   *slog.Logger
	cfg   Config
	creds *CachedStore
	httpc *http.Client
	bus   events.Bus

	// suspend is non-nil on desktop only.
	suspend *SuspendMonitor

	group singleflight.Group

	mu          sync.Mutex
	lastSuccess time.Time
}

// NewCoordinator wires a Coordinator. httpc is the one explicit client
// instance constructed at application start; bus may be nil.
func NewCoordinator(log *slog.Logger, cfg Config, creds *CachedStore, httpc *http.Client, bus events.Bus, suspend *SuspendMonitor) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if creds == nil || httpc == nil {
		return nil, ErrConfig
	}

	c := &Coordinator{
		log:     log,
		cfg:     cfg,
		creds:   creds,
		httpc:   httpc,
		bus:     bus,
		suspend: suspend,
	}

	if suspend != nil {
		// Resumption from suspend forces the local credential cache to
		// invalidate so the next read is fresh.
		suspend.NotifyResume(creds.Invalidate)
	}

	return c, nil
}

// DoRefresh performs (or joins) a credential refresh and returns its outcome.
func (c *Coordinator) DoRefresh(ctx context.Context) RefreshOutcome {
	if c.inCooldown() {
		return RefreshOutcome{Success: true}
	}

	v, _, _ := c.group.Do("refresh", func() (any, error) {
		// Re-check under the flight: a caller that raced past the first check
		// while a success was landing must not trigger a second rotation.
		if c.inCooldown() {
			return RefreshOutcome{Success: true}, nil
		}
		return c.refresh(ctx), nil
	})
	return v.(RefreshOutcome)
}

func (c *Coordinator) inCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastSuccess.IsZero() && time.Since(c.lastSuccess) < c.cfg.Cooldown
}

func (c *Coordinator) refresh(ctx context.Context) RefreshOutcome {
	if c.cfg.Platform == PlatformDesktop && c.suspend != nil && c.suspend.Suspended() {
		// A network call during suspend is unreliable and a false 401 would
		// incorrectly log the user out.
		c.log.Debug("auth.refresh.skip", "reason", "suspended")
		return RefreshOutcome{}
	}

	bundle, err := c.creds.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredentials) || errors.Is(err, ErrMalformedCredentials) {
			// No recoverable path without a device token.
			c.log.Warn("auth.refresh.no_credentials", "err", err)
			return RefreshOutcome{ShouldLogout: true}
		}
		c.log.Warn("auth.refresh.load.fail", "err", err)
		return RefreshOutcome{}
	}
	if bundle.Empty() {
		return RefreshOutcome{ShouldLogout: true}
	}

	body, err := json.Marshal(refreshRequest{
		DeviceToken: bundle.DeviceToken,
		DeviceID:    bundle.DeviceID,
		UserAgent:   c.cfg.UserAgent,
		AppVersion:  c.cfg.AppVersion,
	})
	if err != nil {
		return RefreshOutcome{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.refreshURL(), bytes.NewReader(body))
	if err != nil {
		return RefreshOutcome{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Network errors are transient; never log the user out for them.
		c.log.Info("auth.refresh.network.fail", "err", err)
		return RefreshOutcome{}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.applyRotation(ctx, bundle, resp.Body)

	case resp.StatusCode == http.StatusUnauthorized:
		// The authority explicitly rejected the credential.
		c.log.Info("auth.refresh.rejected", "status", resp.StatusCode)
		return RefreshOutcome{ShouldLogout: true}

	case resp.StatusCode == http.StatusForbidden:
		// Only the authority's own suspension verdict is fatal here.
		// An opaque 403 from an intermediary is transient.
		if refreshErrorCode(resp.Body) == "account_suspended" {
			c.log.Info("auth.refresh.rejected", "status", resp.StatusCode)
			return RefreshOutcome{ShouldLogout: true}
		}
		c.log.Info("auth.refresh.transient", "status", resp.StatusCode)
		return RefreshOutcome{}

	default:
		// 429/5xx and anything unexpected: transient, stay logged in.
		c.log.Info("auth.refresh.transient", "status", resp.StatusCode)
		return RefreshOutcome{}
	}
}

func (c *Coordinator) applyRotation(ctx context.Context, old Bundle, body io.Reader) RefreshOutcome {
	var rr refreshResponse
	if err := json.NewDecoder(io.LimitReader(body, 1<<20)).Decode(&rr); err != nil || rr.DeviceToken == "" {
		c.log.Warn("auth.refresh.decode.fail", "err", err)
		return RefreshOutcome{}
	}

	next := Bundle{
		DeviceID:    old.DeviceID,
		DeviceToken: rr.DeviceToken,
	}
	switch c.cfg.Platform {
	case PlatformWeb:
		next.CSRFToken = rr.CSRFToken
	case PlatformDesktop:
		next.SessionToken = rr.SessionToken
	}

	if err := c.creds.Save(ctx, next); err != nil {
		// The rotated token is lost if we cannot persist it; treat as
		// transient and let the next 401 drive another rotation.
		c.log.Error("auth.refresh.save.fail", "err", err)
		return RefreshOutcome{}
	}

	c.mu.Lock()
	c.lastSuccess = time.Now()
	c.mu.Unlock()

	c.publish(events.TopicSessionRefreshed, events.SessionRefreshedPayload{
		DeviceID: next.DeviceID,
		Platform: string(c.cfg.Platform),
	})

	c.log.Info("auth.refresh.ok", "platform", c.cfg.Platform)
	return RefreshOutcome{Success: true}
}

// RefreshCSRF force-refreshes only the CSRF token (web only).
// It is deliberately not a full session refresh.
func (c *Coordinator) RefreshCSRF(ctx context.Context) error {
	if c.cfg.Platform != PlatformWeb {
		return ErrConfig
	}

	bundle, err := c.creds.Load(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.csrfURL(), nil)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderDeviceToken, bundle.DeviceToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ErrAuthenticationFailed
	}

	var cr csrfResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&cr); err != nil {
		return err
	}
	if cr.CSRFToken == "" {
		return ErrAuthenticationFailed
	}

	bundle.CSRFToken = cr.CSRFToken
	return c.creds.Save(ctx, bundle)
}

func (c *Coordinator) publish(topic string, payload any) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(topic, payload); err != nil {
		c.log.Warn("auth.event.publish.fail", "topic", topic, "err", err)
	}
}

// refreshErrorCode decodes the authority's flat error body. A body that is
// not that shape (an intermediary's HTML page, a truncated read) yields "".
func refreshErrorCode(body io.Reader) string {
	var er struct {
		Error string `json:"error"`
	}
	if json.NewDecoder(io.LimitReader(body, 1<<16)).Decode(&er) != nil {
		return ""
	}
	return er.Error
}
