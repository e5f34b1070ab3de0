package realtime

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Fingerprint derives a stable identifier for the client behind a handshake
// request from its IP and user agent. The raw values are never stored; only
// the hash is kept on the connection state.
func Fingerprint(r *http.Request) string {
	ip := clientIP(r)
	ua := strings.TrimSpace(r.Header.Get("User-Agent"))

	sum := sha256.Sum256([]byte(ip + "|" + ua))
	return hex.EncodeToString(sum[:])
}

// clientIP prefers the first X-Forwarded-For hop (the realtime server sits
// behind the app proxy), falling back to the socket peer.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
