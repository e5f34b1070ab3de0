package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// BroadcastPath is the route the realtime server exposes for pushes.
const BroadcastPath = "/api/broadcast"

const sendTimeout = 5 * time.Second

// Message is one event pushed to a channel.
type Message struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Broadcaster pushes messages to the realtime server.
//
// Send is fire-and-forget: a broadcast that cannot be delivered is logged
// and dropped. Callers on request paths must never fail because the
// realtime plane is down.
type Broadcaster struct {
	log    *slog.Logger
	url    string
	secret []byte
	httpc  *http.Client
	now    func() time.Time
}

// NewBroadcaster constructs a Broadcaster targeting the realtime server at
// realtimeURL, signing with secret.
func NewBroadcaster(log *slog.Logger, realtimeURL string, secret []byte, httpc *http.Client) (*Broadcaster, error) {
	realtimeURL = strings.TrimRight(strings.TrimSpace(realtimeURL), "/")
	if realtimeURL == "" {
		return nil, errors.New("broadcast: empty realtime url")
	}
	if len(secret) == 0 {
		return nil, errors.New("broadcast: empty secret")
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: sendTimeout}
	}
	return &Broadcaster{
		log:    log,
		url:    realtimeURL + BroadcastPath,
		secret: secret,
		httpc:  httpc,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Send pushes msg to the realtime server. Failures are logged, never
// returned.
func (b *Broadcaster) Send(ctx context.Context, msg Message) {
	if msg.Channel == "" || msg.Type == "" {
		b.log.Warn("broadcast.drop", "reason", "incomplete message", "channel", msg.Channel, "type", msg.Type)
		return
	}

	body, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn("broadcast.drop", "reason", "marshal", "err", err)
		return
	}

	ts := strconv.FormatInt(b.now().Unix(), 10)

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		b.log.Warn("broadcast.drop", "reason", "request", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(b.secret, ts, body))

	resp, err := b.httpc.Do(req)
	if err != nil {
		b.log.Warn("broadcast.fail", "channel", msg.Channel, "err", err)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b.log.Warn("broadcast.fail", "channel", msg.Channel, "status", resp.StatusCode)
	}
}

// Go pushes msg from a fresh goroutine, detached from the caller's request
// lifetime.
func (b *Broadcaster) Go(msg Message) {
	go b.Send(context.Background(), msg)
}
