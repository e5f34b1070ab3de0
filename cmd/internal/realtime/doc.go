// Package realtime owns the server side of PageSpace's websocket plane:
// connection registration, challenge verification, liveness sweeps, session
// revalidation, tool call dispatch, and inbound broadcast fan-out.
//
// The registry holds at most one connection per user. Authentication is
// layered: the HTTP handshake proves a session token, then a challenge
// round-trip proves the client can derive a response bound to that session.
// Privileged traffic (tool execution) is gated on the full health check.
package realtime
