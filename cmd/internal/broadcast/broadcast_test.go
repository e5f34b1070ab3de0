package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Channel
		ok   bool
	}{
		{"drive", "drive:d1", Channel{Kind: KindDrive, DriveID: "d1"}, true},
		{"user tasks", "user:u1:tasks", Channel{Kind: KindUserTasks, UserID: "u1"}, true},
		{"user drives", "user:u1:drives", Channel{Kind: KindUserDrives, UserID: "u1"}, true},
		{"notifications", "notifications:u1", Channel{Kind: KindNotifications, UserID: "u1"}, true},
		{"global", "global:drives", Channel{Kind: KindGlobalDrives}, true},
		{"empty drive id", "drive:", Channel{}, false},
		{"unknown user scope", "user:u1:mail", Channel{}, false},
		{"bare user", "user:u1", Channel{}, false},
		{"garbage", "nope", Channel{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseChannel(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ParseChannel(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestChannelHelpersRoundTrip(t *testing.T) {
	names := map[string]Channel{
		DriveChannel("d1"):         {Kind: KindDrive, DriveID: "d1"},
		UserTasksChannel("u1"):     {Kind: KindUserTasks, UserID: "u1"},
		UserDrivesChannel("u1"):    {Kind: KindUserDrives, UserID: "u1"},
		NotificationsChannel("u1"): {Kind: KindNotifications, UserID: "u1"},
		GlobalDrives:               {Kind: KindGlobalDrives},
	}
	for name, want := range names {
		got, ok := ParseChannel(name)
		if !ok || got != want {
			t.Fatalf("ParseChannel(%q) = %+v, %v; want %+v", name, got, ok, want)
		}
	}
}

func TestVerify(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	body := []byte(`{"channel":"global:drives","type":"x"}`)
	now := time.Now()
	ts := "1756700000"
	at := time.Unix(1756700000, 0)

	sig := Sign(secret, ts, body)

	if err := Verify(secret, ts, body, sig, at); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(secret, ts, body, Sign([]byte("other secret entirely here!!"), ts, body), at); err != ErrBadSignature {
		t.Fatalf("wrong secret = %v, want ErrBadSignature", err)
	}
	if err := Verify(secret, ts, []byte("tampered"), sig, at); err != ErrBadSignature {
		t.Fatalf("tampered body = %v, want ErrBadSignature", err)
	}
	if err := Verify(secret, ts, body, sig, at.Add(MaxClockDrift+time.Minute)); err != ErrBadTimestamp {
		t.Fatalf("stale timestamp = %v, want ErrBadTimestamp", err)
	}
	if err := Verify(secret, "not-a-number", body, sig, now); err != ErrBadTimestamp {
		t.Fatalf("bad timestamp = %v, want ErrBadTimestamp", err)
	}
}

func TestBroadcasterSendsSignedPush(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	var got Message
	var verifyErr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verifyErr = Verify(secret, r.Header.Get(HeaderTimestamp), body, r.Header.Get(HeaderSignature), time.Now())
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := NewBroadcaster(slog.New(slog.DiscardHandler), srv.URL, secret, nil)
	if err != nil {
		t.Fatalf("NewBroadcaster: %v", err)
	}

	b.Send(context.Background(), Message{
		Channel: DriveChannel("d1"),
		Type:    "page_updated",
		Payload: json.RawMessage(`{"pageId":"p1"}`),
	})

	if verifyErr != nil {
		t.Fatalf("push signature invalid: %v", verifyErr)
	}
	if got.Channel != "drive:d1" || got.Type != "page_updated" {
		t.Fatalf("received message = %+v", got)
	}
}

func TestBroadcasterNeverFailsCaller(t *testing.T) {
	b, err := NewBroadcaster(slog.New(slog.DiscardHandler), "http://127.0.0.1:1", []byte("secret-secret-secret-secret-1234"), nil)
	if err != nil {
		t.Fatalf("NewBroadcaster: %v", err)
	}

	// Nothing to assert beyond "does not panic, does not block forever":
	// delivery failures are logged and swallowed.
	done := make(chan struct{})
	go func() {
		b.Send(context.Background(), Message{Channel: GlobalDrives, Type: "x"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("Send blocked on unreachable realtime server")
	}
}
