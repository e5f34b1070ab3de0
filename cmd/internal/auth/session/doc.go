// Package session implements the PageSpace session authority.
//
// It owns the server-side view of a credential: session rows with expiry,
// revocation, credential version, and the rotating device token used to
// recover a session without re-authentication.
//
// Session tokens are short-lived JWTs (HS256). Device tokens are opaque random
// strings, single-use, and stored hashed in Postgres (HMAC-SHA256 when
// PAGESPACE_TOKEN_HMAC_KEY is set; otherwise SHA-256 for dev/back-compat).
// Presenting an already-rotated device token is treated as theft and revokes
// every session for the user.
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session
