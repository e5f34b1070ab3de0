package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// WatermillBus adapts a Watermill publisher/subscriber pair to the Bus interface.
type WatermillBus struct {
	log *slog.Logger
	pub message.Publisher
	sub message.Subscriber
}

// NewWatermillBus wraps an explicit Watermill publisher/subscriber pair.
func NewWatermillBus(log *slog.Logger, pub message.Publisher, sub message.Subscriber) *WatermillBus {
	return &WatermillBus{log: log, pub: pub, sub: sub}
}

// NewInProcessBus constructs a process-local bus backed by Watermill's gochannel transport.
//
// This is the default for the single-instance deployment model; a Redis Streams
// pair can be substituted in the app wiring when fan-out across processes is needed.
func NewInProcessBus(log *slog.Logger) *WatermillBus {
	ch := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewSlogLogger(log),
	)
	return &WatermillBus{log: log, pub: ch, sub: ch}
}

// Publish marshals payload and publishes it on topic. It never blocks on subscribers.
func (b *WatermillBus) Publish(topic string, payload any) error {
	ev := Event{
		ID:         watermill.NewUUID(),
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		ev.Payload = raw
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return b.pub.Publish(topic, message.NewMessage(ev.ID, body))
}

// Subscribe returns a channel of decoded events for topic.
// Messages that fail to decode are acked and dropped (logged), never redelivered.
func (b *WatermillBus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	msgs, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.log.Warn("events.decode.fail", "topic", topic, "msg_id", msg.UUID, "err", err)
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return out, nil
}

// Close shuts the underlying publisher and subscriber down.
func (b *WatermillBus) Close() error {
	err := b.pub.Close()
	if b.sub != nil {
		// gochannel shares one value for pub/sub; closing twice is a no-op there.
		if serr := b.sub.Close(); err == nil {
			err = serr
		}
	}
	return err
}
