package realtime

import (
	"sync"

	v1 "github.com/2witstudios/pagespace/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent senders.
// - done is used to signal goroutines to stop.
// - Shutdown is idempotent and also closes the underlying socket via the
//   hook the gateway installs, so the registry and background sweeps can
//   terminate a connection without reaching into transport details.
type Client struct {
	ConnID    string
	UserID    string
	SessionID string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
	closeFn   func(code websocket.StatusCode, reason string)
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID, userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID:    connID,
		UserID:    userID,
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// OnShutdown installs the hook invoked exactly once when the client shuts
// down. The gateway uses it to close the websocket with a status code.
func (c *Client) OnShutdown(fn func(code websocket.StatusCode, reason string)) {
	c.closeFn = fn
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Open reports whether the client is still accepting traffic.
func (c *Client) Open() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Shutdown signals the client goroutines to stop and closes the socket
// (idempotent). It does NOT close Send to keep fan-out safe under concurrency.
func (c *Client) Shutdown(code websocket.StatusCode, reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		if c.closeFn != nil {
			c.closeFn(code, reason)
		}
		close(c.done)
	})
}
