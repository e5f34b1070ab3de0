package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func seededStore(t *testing.T, b Bundle) *CachedStore {
	t.Helper()
	mem := NewMemoryStore()
	if err := mem.Save(context.Background(), b); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return NewCachedStore(mem, 5*time.Second)
}

func newCoordinator(t *testing.T, cfg Config, creds *CachedStore, suspend *SuspendMonitor) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(testLogger(), cfg, creds, &http.Client{}, nil, suspend)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func refreshServer(t *testing.T, calls *atomic.Int64, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deviceToken":"rotated","csrfToken":"csrf2","sessionToken":"sess2"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRefreshSuccessRotatesBundle(t *testing.T) {
	var calls atomic.Int64
	srv := refreshServer(t, &calls, http.StatusOK)

	cfg := DefaultConfig(PlatformWeb)
	cfg.BaseURL = srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig", CSRFToken: "csrf1"})
	coord := newCoordinator(t, cfg, creds, nil)

	out := coord.DoRefresh(context.Background())
	if !out.Success || out.ShouldLogout {
		t.Fatalf("outcome = %+v, want success", out)
	}

	b, err := creds.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.DeviceToken != "rotated" || b.CSRFToken != "csrf2" {
		t.Fatalf("bundle not rotated: %+v", b)
	}
	if b.SessionToken != "" {
		t.Fatalf("web bundle must not carry a session token: %+v", b)
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deviceToken":"rotated"}`))
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(PlatformWeb)
	cfg.BaseURL = srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig"})
	coord := newCoordinator(t, cfg, creds, nil)

	const n = 8
	var wg sync.WaitGroup
	outcomes := make([]RefreshOutcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = coord.DoRefresh(context.Background())
		}(i)
	}

	// Let all callers pile onto the single flight, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("refresh endpoint called %d times, want 1", got)
	}
	for i, out := range outcomes {
		if !out.Success {
			t.Fatalf("caller %d outcome = %+v, want shared success", i, out)
		}
	}
}

func TestRefreshCooldownSkipsNetwork(t *testing.T) {
	var calls atomic.Int64
	srv := refreshServer(t, &calls, http.StatusOK)

	cfg := DefaultConfig(PlatformDesktop)
	cfg.BaseURL = srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig"})
	coord := newCoordinator(t, cfg, creds, nil)

	if out := coord.DoRefresh(context.Background()); !out.Success {
		t.Fatalf("first refresh failed: %+v", out)
	}
	// Within the cooldown window: success without hitting the network.
	if out := coord.DoRefresh(context.Background()); !out.Success {
		t.Fatalf("cooldown refresh failed: %+v", out)
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("refresh endpoint called %d times, want 1", got)
	}
}

func TestRefreshClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   RefreshOutcome
	}{
		{"hard 401", http.StatusUnauthorized, RefreshOutcome{ShouldLogout: true}},
		{"transient 429", http.StatusTooManyRequests, RefreshOutcome{}},
		{"transient 500", http.StatusInternalServerError, RefreshOutcome{}},
		{"transient 503", http.StatusServiceUnavailable, RefreshOutcome{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64
			srv := refreshServer(t, &calls, tt.status)

			cfg := DefaultConfig(PlatformWeb)
			cfg.BaseURL = srv.URL
			creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig"})
			coord := newCoordinator(t, cfg, creds, nil)

			if out := coord.DoRefresh(context.Background()); out != tt.want {
				t.Fatalf("outcome = %+v, want %+v", out, tt.want)
			}
		})
	}
}

func TestRefreshForbiddenClassification(t *testing.T) {
	tests := []struct {
		name string
		body string
		want RefreshOutcome
	}{
		{"suspension verdict", `{"error":"account_suspended","message":"account suspended"}`, RefreshOutcome{ShouldLogout: true}},
		{"intermediary page", `<html><body>403 Forbidden</body></html>`, RefreshOutcome{}},
		{"other error code", `{"error":"geo_blocked"}`, RefreshOutcome{}},
		{"empty body", ``, RefreshOutcome{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			cfg := DefaultConfig(PlatformWeb)
			cfg.BaseURL = srv.URL
			creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig"})
			coord := newCoordinator(t, cfg, creds, nil)

			// Only the authority's own suspension verdict may force a
			// logout; any other 403 stays transient.
			if out := coord.DoRefresh(context.Background()); out != tt.want {
				t.Fatalf("outcome = %+v, want %+v", out, tt.want)
			}
		})
	}
}

func TestRefreshNetworkErrorIsTransient(t *testing.T) {
	cfg := DefaultConfig(PlatformWeb)
	// Nothing listens here; the dial fails immediately.
	cfg.BaseURL = "http://127.0.0.1:1"
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig"})
	coord := newCoordinator(t, cfg, creds, nil)

	out := coord.DoRefresh(context.Background())
	if out.Success || out.ShouldLogout {
		t.Fatalf("outcome = %+v, want transient failure", out)
	}
}

func TestRefreshMissingDeviceTokenForcesLogout(t *testing.T) {
	var calls atomic.Int64
	srv := refreshServer(t, &calls, http.StatusOK)

	cfg := DefaultConfig(PlatformWeb)
	cfg.BaseURL = srv.URL
	creds := NewCachedStore(NewMemoryStore(), 5*time.Second)
	coord := newCoordinator(t, cfg, creds, nil)

	out := coord.DoRefresh(context.Background())
	if !out.ShouldLogout {
		t.Fatalf("outcome = %+v, want ShouldLogout", out)
	}
	if calls.Load() != 0 {
		t.Fatalf("refresh endpoint hit without a device token")
	}
}

func TestRefreshSkippedWhileSuspended(t *testing.T) {
	var calls atomic.Int64
	srv := refreshServer(t, &calls, http.StatusOK)

	cfg := DefaultConfig(PlatformDesktop)
	cfg.BaseURL = srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig", SessionToken: "s"})
	suspend := NewSuspendMonitor()
	coord := newCoordinator(t, cfg, creds, suspend)

	suspend.MarkSuspended()
	out := coord.DoRefresh(context.Background())
	if out.Success || out.ShouldLogout {
		t.Fatalf("outcome = %+v, want transient skip", out)
	}
	if calls.Load() != 0 {
		t.Fatalf("refresh endpoint hit while suspended")
	}

	// Resume invalidates the credential cache and refresh works again.
	suspend.MarkResumed()
	if out := coord.DoRefresh(context.Background()); !out.Success {
		t.Fatalf("post-resume refresh failed: %+v", out)
	}
	if calls.Load() != 1 {
		t.Fatalf("refresh endpoint calls = %d, want 1", calls.Load())
	}
}
