package realtime

import (
	"log/slog"
	"testing"
	"time"
)

func testLog() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testState(userID, connID string, expires time.Time) *ConnState {
	return &ConnState{
		Client:           NewClient(connID, userID, "sess-"+userID, 8),
		UserID:           userID,
		SessionID:        "sess-" + userID,
		SessionExpiresAt: expires,
	}
}

func TestRegisterEvictsPreviousConnection(t *testing.T) {
	reg := NewRegistry(testLog())
	future := time.Now().Add(time.Hour)

	first := testState("u1", "c1", future)
	if prev := reg.Register(first); prev != nil {
		t.Fatalf("unexpected eviction on first register")
	}

	second := testState("u1", "c2", future)
	prev := reg.Register(second)
	if prev == nil || prev.Client.ConnID != "c1" {
		t.Fatalf("expected c1 evicted, got %+v", prev)
	}
	if first.Client.Open() {
		t.Fatalf("evicted client must be shut down")
	}
	if second.Client.Open() != true {
		t.Fatalf("replacement client must stay open")
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}
}

func TestUnregisterIsIdentityChecked(t *testing.T) {
	reg := NewRegistry(testLog())
	future := time.Now().Add(time.Hour)

	reg.Register(testState("u1", "c1", future))
	reg.Register(testState("u1", "c2", future))

	// The evicted connection's deferred teardown must not remove c2.
	if reg.Unregister("u1", "c1") {
		t.Fatalf("stale unregister removed the replacement")
	}
	if _, ok := reg.Get("u1"); !ok {
		t.Fatalf("replacement connection lost")
	}

	if !reg.Unregister("u1", "c2") {
		t.Fatalf("matching unregister failed")
	}
	if reg.Len() != 0 {
		t.Fatalf("Len = %d, want 0", reg.Len())
	}
}

func TestMarkVerifiedIsIdentityChecked(t *testing.T) {
	reg := NewRegistry(testLog())
	future := time.Now().Add(time.Hour)

	reg.Register(testState("u1", "c1", future))
	reg.Register(testState("u1", "c2", future))

	if reg.MarkVerified("u1", "c1") {
		t.Fatalf("evicted connection blessed the replacement")
	}
	if state, _ := reg.Get("u1"); state.ChallengeVerified {
		t.Fatalf("replacement must stay unverified")
	}

	if !reg.MarkVerified("u1", "c2") {
		t.Fatalf("live connection verification failed")
	}
}

func TestHealthOrderedChecks(t *testing.T) {
	now := time.Now().UTC()
	reg := NewRegistry(testLog())

	if err := reg.Health("nobody", now); err != ErrNotRegistered {
		t.Fatalf("Health(unregistered) = %v, want ErrNotRegistered", err)
	}

	state := testState("u1", "c1", now.Add(time.Hour))
	reg.Register(state)

	if err := reg.Health("u1", now); err != ErrNotVerified {
		t.Fatalf("Health(unverified) = %v, want ErrNotVerified", err)
	}

	reg.MarkVerified("u1", "c1")
	if err := reg.Health("u1", now); err != nil {
		t.Fatalf("Health(healthy) = %v, want nil", err)
	}

	if err := reg.Health("u1", now.Add(2*time.Hour)); err != ErrSessionExpired {
		t.Fatalf("Health(expired) = %v, want ErrSessionExpired", err)
	}

	state.Client.Shutdown(4000, "test")
	if err := reg.Health("u1", now); err != ErrSocketClosed {
		t.Fatalf("Health(closed) = %v, want ErrSocketClosed", err)
	}
}

func TestTouchUpdatesActivity(t *testing.T) {
	reg := NewRegistry(testLog())
	state := testState("u1", "c1", time.Now().Add(time.Hour))
	reg.Register(state)

	later := time.Now().Add(10 * time.Minute).UTC()
	reg.Touch("u1", later)

	got, _ := reg.Get("u1")
	if !got.LastActive.Equal(later) {
		t.Fatalf("LastActive = %v, want %v", got.LastActive, later)
	}
}
