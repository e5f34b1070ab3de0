// Package client implements the PageSpace client-side credential layer.
//
// It keeps a device's credential bundle consistent across concurrent callers:
// a Store owns the persisted bundle per platform (browser-style memory store,
// OS-secured file store for desktop), a Coordinator performs single-flight
// device-token refreshes with a post-success cooldown, and an Authenticator
// wraps an http.Client so callers get transparent 401-driven refresh-and-retry
// without ever observing a half-rotated credential.
//
// Outcomes are typed, not thrown: refresh failures surface as RefreshOutcome
// so callers can branch on ShouldLogout without exception-driven control flow.
package client
