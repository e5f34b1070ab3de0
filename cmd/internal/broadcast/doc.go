// Package broadcast pushes server-side events to the realtime plane.
//
// Publishers POST signed messages to the realtime server's broadcast
// endpoint and never wait on delivery: a failed push is logged and dropped,
// because realtime fan-out is best-effort by contract. The channel naming
// scheme and the HMAC signing scheme live here so both sides of the hop
// share one vocabulary.
package broadcast
