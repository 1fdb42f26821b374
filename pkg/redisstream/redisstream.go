// Package redisstream builds Watermill publishers and subscribers backed by
// Redis Streams, for running the chat broker across multiple processes.
package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings holds Redis Streams transport configuration.
type Settings struct {
	Enabled  bool
	Addr     string
	Group    string
	Consumer string
}

// DefaultSettings returns the local-development defaults.
func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "chat-server",
		Consumer: "server-1",
	}
}

// BuildPubSub returns a publisher/subscriber pair over Redis Streams.
func BuildPubSub(s Settings) (message.Publisher, message.Subscriber, error) {
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := newWatermillLogger(log.Logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build redis publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build redis subscriber")
	}
	return pub, sub, nil
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given
// consumer group and name. Use it to give a handler its own delivery cursor.
func BuildGroupSubscriber(addr, group, consumer string) (message.Subscriber, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, newWatermillLogger(log.Logger))
}

// EnsureGroupAtTail creates the consumer group for a stream at the tail ($)
// if it doesn't exist. This prevents full historical replay on first
// subscribe.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP means the group already exists.
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().
		Str("stream", stream).
		Str("group", group).
		Msg("created redis consumer group at $ (tail)")
	return nil
}
