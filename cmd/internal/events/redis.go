package events

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
)

// NewRedisStreamBus constructs a bus backed by Redis Streams, for deployments
// where session and connection events must fan out across processes.
//
// consumerGroup names the subscriber's group; all instances sharing a group
// split the stream between them.
func NewRedisStreamBus(log *slog.Logger, redisURL, consumerGroup string) (*WatermillBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	wlog := watermill.NewSlogLogger(log)

	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: client,
	}, wlog)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: consumerGroup,
	}, wlog)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, err
	}

	return NewWatermillBus(log, pub, sub), nil
}
