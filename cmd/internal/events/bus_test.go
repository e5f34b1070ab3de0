package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestInProcessPublishSubscribe(t *testing.T) {
	bus := NewInProcessBus(slog.New(slog.DiscardHandler))
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, TopicSessionRefreshed)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := SessionRefreshedPayload{DeviceID: "dev-1", Platform: "web"}
	if err := bus.Publish(TopicSessionRefreshed, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Topic != TopicSessionRefreshed {
			t.Fatalf("topic = %q", ev.Topic)
		}
		if ev.ID == "" || ev.OccurredAt.IsZero() {
			t.Fatalf("missing envelope metadata: %+v", ev)
		}
		var got SessionRefreshedPayload
		if err := json.Unmarshal(ev.Payload, &got); err != nil {
			t.Fatalf("payload decode: %v", err)
		}
		if got != want {
			t.Fatalf("payload = %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishNilPayload(t *testing.T) {
	bus := NewInProcessBus(slog.New(slog.DiscardHandler))
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, TopicConnectionClosed)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(TopicConnectionClosed, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case ev := <-ch:
		if len(ev.Payload) != 0 {
			t.Fatalf("payload = %s, want empty", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}
