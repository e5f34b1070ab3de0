package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/2witstudios/pagespace/cmd/internal/broadcast"
	v1 "github.com/2witstudios/pagespace/contracts/realtime/v1"
)

func routerFixture(t *testing.T) (*Registry, *Router) {
	t.Helper()
	reg := NewRegistry(testLog())
	members := &StaticDriveMembership{Members: map[string][]string{
		"d1": {"alice"},
	}}
	rt, err := NewRouter(testLog(), reg, members)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return reg, rt
}

func drainOne(t *testing.T, c *Client) v1.Envelope {
	t.Helper()
	select {
	case env := <-c.Send:
		return env
	default:
		t.Fatalf("no envelope queued for %s", c.UserID)
		return v1.Envelope{}
	}
}

func TestDeliverRouting(t *testing.T) {
	reg, rt := routerFixture(t)

	alice := verifiedState(t, reg, "alice", "c1")
	bob := verifiedState(t, reg, "bob", "c2")

	tests := []struct {
		name    string
		channel string
		want    []*ConnState
	}{
		{"drive members only", broadcast.DriveChannel("d1"), []*ConnState{alice}},
		{"user tasks", broadcast.UserTasksChannel("bob"), []*ConnState{bob}},
		{"user drives", broadcast.UserDrivesChannel("alice"), []*ConnState{alice}},
		{"notifications", broadcast.NotificationsChannel("bob"), []*ConnState{bob}},
		{"global drives", broadcast.GlobalDrives, []*ConnState{alice, bob}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := rt.Deliver(context.Background(), broadcast.Message{
				Channel: tt.channel,
				Type:    "drive_updated",
				Payload: json.RawMessage(`{"id":"d1"}`),
			})
			if err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if n != len(tt.want) {
				t.Fatalf("delivered %d, want %d", n, len(tt.want))
			}
			for _, state := range tt.want {
				env := drainOne(t, state.Client)
				if env.Type != "drive_updated" {
					t.Fatalf("envelope type = %q", env.Type)
				}
			}
			// Nothing leaked to the others.
			for _, state := range []*ConnState{alice, bob} {
				if len(state.Client.Send) != 0 {
					t.Fatalf("unexpected envelope queued for %s", state.UserID)
				}
			}
		})
	}
}

func TestDeliverSkipsUnverified(t *testing.T) {
	reg, rt := routerFixture(t)

	state := testState("alice", "c1", time.Now().Add(time.Hour))
	reg.Register(state)

	n, err := rt.Deliver(context.Background(), broadcast.Message{
		Channel: broadcast.GlobalDrives,
		Type:    "drive_updated",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if n != 0 {
		t.Fatalf("delivered %d to unverified connection, want 0", n)
	}
}

func TestDeliverRejectsBadChannel(t *testing.T) {
	_, rt := routerFixture(t)

	if _, err := rt.Deliver(context.Background(), broadcast.Message{Channel: "nope", Type: "x"}); err == nil {
		t.Fatalf("Deliver accepted an unknown channel")
	}
	if _, err := rt.Deliver(context.Background(), broadcast.Message{Channel: broadcast.GlobalDrives, Type: "not a name!"}); err == nil {
		t.Fatalf("Deliver accepted an invalid type name")
	}
}

func TestBroadcastHandlerVerifiesSignature(t *testing.T) {
	reg, rt := routerFixture(t)
	verifiedState(t, reg, "alice", "c1")

	secret := []byte("0123456789abcdef0123456789abcdef")
	h, err := NewBroadcastHandler(testLog(), rt, secret)
	if err != nil {
		t.Fatalf("NewBroadcastHandler: %v", err)
	}

	body, _ := json.Marshal(broadcast.Message{
		Channel: broadcast.NotificationsChannel("alice"),
		Type:    "notification_created",
		Payload: json.RawMessage(`{"id":"n1"}`),
	})
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	signed := httptest.NewRequest(http.MethodPost, broadcast.BroadcastPath, bytes.NewReader(body))
	signed.Header.Set(broadcast.HeaderTimestamp, ts)
	signed.Header.Set(broadcast.HeaderSignature, broadcast.Sign(secret, ts, body))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signed)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("signed push status = %d, want 202", rec.Code)
	}

	forged := httptest.NewRequest(http.MethodPost, broadcast.BroadcastPath, bytes.NewReader(body))
	forged.Header.Set(broadcast.HeaderTimestamp, ts)
	forged.Header.Set(broadcast.HeaderSignature, broadcast.Sign([]byte("wrong secret, wrong length too"), ts, body))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, forged)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("forged push status = %d, want 403", rec.Code)
	}

	stale := httptest.NewRequest(http.MethodPost, broadcast.BroadcastPath, bytes.NewReader(body))
	oldTS := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	stale.Header.Set(broadcast.HeaderTimestamp, oldTS)
	stale.Header.Set(broadcast.HeaderSignature, broadcast.Sign(secret, oldTS, body))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, stale)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stale push status = %d, want 403", rec.Code)
	}
}
