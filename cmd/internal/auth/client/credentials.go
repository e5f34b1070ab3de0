package client

import (
	"context"
	"sync"
	"time"
)

// Bundle is the credential set a device holds.
//
// A bundle is owned exclusively by one Store instance; it is never shared
// across platform instances.
type Bundle struct {
	// SessionToken is the short-lived bearer credential (desktop only).
	SessionToken string `json:"session_token,omitempty"`
	// CSRFToken is required on mutating web requests (web only).
	CSRFToken string `json:"csrf_token,omitempty"`
	// DeviceID identifies this installation.
	DeviceID string `json:"device_id"`
	// DeviceToken is the rotating long-lived recovery credential.
	DeviceToken string `json:"device_token"`
}

// Empty reports whether the bundle carries no recovery credential.
func (b Bundle) Empty() bool { return b.DeviceToken == "" }

// Store persists a credential bundle for one platform instance.
type Store interface {
	Load(ctx context.Context) (Bundle, error)
	Save(ctx context.Context, b Bundle) error
	Clear(ctx context.Context) error
}

// CachedStore wraps a Store with a short-TTL read cache.
//
// The TTL is deliberately small: it bounds how long a caller can observe a
// stale bundle after a rotation, while absorbing bursts of reads during
// request fan-out.
type CachedStore struct {
	inner Store
	ttl   time.Duration

	mu       sync.Mutex
	cached   Bundle
	cachedAt time.Time
	valid    bool
}

// NewCachedStore wraps inner with a read cache of the given TTL.
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &CachedStore{inner: inner, ttl: ttl}
}

// Load returns the cached bundle when fresh, otherwise reads through.
func (s *CachedStore) Load(ctx context.Context) (Bundle, error) {
	s.mu.Lock()
	if s.valid && time.Since(s.cachedAt) < s.ttl {
		b := s.cached
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	b, err := s.inner.Load(ctx)
	if err != nil {
		return Bundle{}, err
	}

	s.mu.Lock()
	s.cached = b
	s.cachedAt = time.Now()
	s.valid = true
	s.mu.Unlock()

	return b, nil
}

// Save writes through and repopulates the cache so readers see the rotation
// immediately.
func (s *CachedStore) Save(ctx context.Context, b Bundle) error {
	if err := s.inner.Save(ctx, b); err != nil {
		return err
	}
	s.mu.Lock()
	s.cached = b
	s.cachedAt = time.Now()
	s.valid = true
	s.mu.Unlock()
	return nil
}

// Clear removes the persisted bundle and drops the cache.
func (s *CachedStore) Clear(ctx context.Context) error {
	err := s.inner.Clear(ctx)
	s.Invalidate()
	return err
}

// Invalidate drops the cache so the next read is fresh.
// Called on resume from system suspend.
func (s *CachedStore) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// MemoryStore is the browser-analog credential store: process-local, no
// persistence beyond the instance lifetime. It is also the test store.
type MemoryStore struct {
	mu     sync.Mutex
	bundle Bundle
	set    bool
}

// NewMemoryStore constructs an empty memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Load returns the stored bundle, or ErrNoCredentials when empty.
func (s *MemoryStore) Load(_ context.Context) (Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return Bundle{}, ErrNoCredentials
	}
	return s.bundle, nil
}

// Save stores the bundle.
func (s *MemoryStore) Save(_ context.Context, b Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = b
	s.set = true
	return nil
}

// Clear drops the bundle.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = Bundle{}
	s.set = false
	return nil
}
