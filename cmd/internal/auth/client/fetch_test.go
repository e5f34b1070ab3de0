package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// apiAndRefreshServer serves a protected resource plus the refresh endpoint.
// The resource returns 401 until the refresh endpoint has rotated the device
// token, then 200 for requests carrying the rotated credential.
type apiAndRefreshServer struct {
	srv          *httptest.Server
	refreshCalls atomic.Int64
	apiCalls     atomic.Int64
	rotated      atomic.Bool
}

func newAPIAndRefreshServer(t *testing.T, platform Platform) *apiAndRefreshServer {
	t.Helper()
	s := &apiAndRefreshServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/device/refresh", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		s.rotated.Store(true)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deviceToken":"rotated","csrfToken":"csrf2","sessionToken":"sess2"}`))
	})
	mux.HandleFunc("/api/resource", func(w http.ResponseWriter, r *http.Request) {
		s.apiCalls.Add(1)
		var ok bool
		switch platform {
		case PlatformDesktop:
			ok = r.Header.Get("Authorization") == "Bearer sess2"
		default:
			ok = r.Header.Get(HeaderDeviceToken) == "rotated"
		}
		if !s.rotated.Load() || !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func newAuthenticator(t *testing.T, cfg Config, creds *CachedStore) *Authenticator {
	t.Helper()
	coord := newCoordinator(t, cfg, creds, nil)
	a, err := NewAuthenticator(testLogger(), cfg, creds, coord, &http.Client{}, nil)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return a
}

func TestDoRefreshesAndRetriesOnce(t *testing.T) {
	s := newAPIAndRefreshServer(t, PlatformDesktop)

	cfg := DefaultConfig(PlatformDesktop)
	cfg.BaseURL = s.srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig", SessionToken: "stale"})
	a := newAuthenticator(t, cfg, creds)

	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/api/resource", nil)
	resp, err := a.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if s.refreshCalls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", s.refreshCalls.Load())
	}
	if s.apiCalls.Load() != 2 {
		t.Fatalf("api calls = %d, want 2 (original + one retry)", s.apiCalls.Load())
	}
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	s := newAPIAndRefreshServer(t, PlatformWeb)

	cfg := DefaultConfig(PlatformWeb)
	cfg.BaseURL = s.srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig"})
	a := newAuthenticator(t, cfg, creds)

	const n = 10
	var wg sync.WaitGroup
	status := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/api/resource", nil)
			resp, err := a.Do(context.Background(), req)
			if err != nil {
				errs[i] = err
				return
			}
			status[i] = resp.StatusCode
			drainBody(resp)
		}(i)
	}
	wg.Wait()

	if got := s.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want exactly 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if status[i] != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, status[i])
		}
	}
}

func TestFailedRefreshReturnsOriginal401(t *testing.T) {
	mux := http.NewServeMux()
	var refreshCalls atomic.Int64
	mux.HandleFunc("POST /api/auth/device/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/resource", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(PlatformWeb)
	cfg.BaseURL = srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig"})
	a := newAuthenticator(t, cfg, creds)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/resource", nil)
	resp, err := a.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want the original 401", resp.StatusCode)
	}
	if refreshCalls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", refreshCalls.Load())
	}
}

func TestNonReplayableBodyKeeps401(t *testing.T) {
	s := newAPIAndRefreshServer(t, PlatformWeb)

	cfg := DefaultConfig(PlatformWeb)
	cfg.BaseURL = s.srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig"})
	a := newAuthenticator(t, cfg, creds)

	// A raw reader with no GetBody cannot be replayed after a refresh.
	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/api/resource", io.NopCloser(strings.NewReader("payload")))
	req.GetBody = nil
	resp, err := a.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 when the body cannot be replayed", resp.StatusCode)
	}
	if s.refreshCalls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", s.refreshCalls.Load())
	}
	if s.apiCalls.Load() != 1 {
		t.Fatalf("api calls = %d, want 1 (no retry)", s.apiCalls.Load())
	}
}

func TestCSRFMismatchRetriesWithFreshToken(t *testing.T) {
	var csrfFetches atomic.Int64
	var apiCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		csrfFetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"csrfToken":"fresh"}`))
	})
	mux.HandleFunc("/api/resource", func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get(HeaderCSRFToken) != "fresh" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"csrf_invalid"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(PlatformWeb)
	cfg.BaseURL = srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig", CSRFToken: "stale"})
	a := newAuthenticator(t, cfg, creds)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/resource", nil)
	resp, err := a.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 after CSRF retry", resp.StatusCode)
	}
	if csrfFetches.Load() != 1 {
		t.Fatalf("csrf fetches = %d, want 1", csrfFetches.Load())
	}
	if apiCalls.Load() != 2 {
		t.Fatalf("api calls = %d, want 2", apiCalls.Load())
	}
}

func TestNonCSRF403PassesThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/resource", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient_permissions"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(PlatformWeb)
	cfg.BaseURL = srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "orig", CSRFToken: "c"})
	a := newAuthenticator(t, cfg, creds)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/resource", nil)
	resp, err := a.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 untouched", resp.StatusCode)
	}
}

func TestAttachHeadersPerPlatform(t *testing.T) {
	var got http.Header
	var gotMethodless http.Header
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/resource", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	})
	mux.HandleFunc("GET /api/resource", func(w http.ResponseWriter, r *http.Request) {
		gotMethodless = r.Header.Clone()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(PlatformWeb)
	cfg.BaseURL = srv.URL
	creds := seededStore(t, Bundle{DeviceID: "d1", DeviceToken: "dev", CSRFToken: "csrf"})
	a := newAuthenticator(t, cfg, creds)

	post, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/resource", nil)
	resp, err := a.Do(context.Background(), post)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	drainBody(resp)

	if got.Get(HeaderDeviceToken) != "dev" {
		t.Fatalf("device token header = %q, want %q", got.Get(HeaderDeviceToken), "dev")
	}
	if got.Get(HeaderCSRFToken) != "csrf" {
		t.Fatalf("csrf header = %q, want %q on a mutating request", got.Get(HeaderCSRFToken), "csrf")
	}

	get, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/resource", nil)
	resp, err = a.Do(context.Background(), get)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	drainBody(resp)

	if gotMethodless.Get(HeaderCSRFToken) != "" {
		t.Fatalf("csrf header sent on a GET")
	}
}

func TestCachedStoreTTLAndInvalidate(t *testing.T) {
	mem := NewMemoryStore()
	if err := mem.Save(context.Background(), Bundle{DeviceToken: "v1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cached := NewCachedStore(mem, time.Hour)

	if b, err := cached.Load(context.Background()); err != nil || b.DeviceToken != "v1" {
		t.Fatalf("Load = %+v, %v", b, err)
	}

	// Write behind the cache's back; the cached value must still win.
	if err := mem.Save(context.Background(), Bundle{DeviceToken: "v2"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if b, _ := cached.Load(context.Background()); b.DeviceToken != "v1" {
		t.Fatalf("DeviceToken = %q, want cached v1", b.DeviceToken)
	}

	// Invalidate drops the cache and the fresh value surfaces.
	cached.Invalidate()
	if b, _ := cached.Load(context.Background()); b.DeviceToken != "v2" {
		t.Fatalf("DeviceToken = %q, want v2 after invalidate", b.DeviceToken)
	}
}
