package redisstream

import (
	"context"
	"strings"

	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/DeadAVA/CHATBOT/pkg/events"
	"github.com/DeadAVA/CHATBOT/pkg/logging"
)

// BuildRouter returns an event router on Redis Streams when s.Enabled, and the
// in-memory router otherwise. The publisher and the subscriber each own their
// Redis client and close it with the router.
func BuildRouter(s Settings, verbose bool) (*events.EventRouter, error) {
	if !s.Enabled {
		return events.NewEventRouter(events.WithVerbose(verbose))
	}
	logger := logging.NewWatermill(log.Logger)

	pubClient := redis.NewClient(&redis.Options{Addr: s.Addr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     pubClient,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = pubClient.Close()
		return nil, err
	}

	sub, err := newSubscriber(s.Addr, s.Group, s.ConsumerName())
	if err != nil {
		_ = pub.Close()
		return nil, err
	}

	r, err := events.NewEventRouter(
		events.WithPublisher(message.Publisher(pub)),
		events.WithSubscriber(sub),
		events.WithLogger(logger),
		events.WithVerbose(verbose),
	)
	if err != nil {
		_ = pub.Close()
		_ = sub.Close()
		return nil, err
	}
	return r, nil
}

// BuildGroupSubscriber returns a subscriber reading the stream as consumer of
// group. Hand it to EventRouter.AddHandlerWithSubscriber, which closes it, and
// its Redis client, with the router.
func BuildGroupSubscriber(addr, group, consumer string) (message.Subscriber, error) {
	return newSubscriber(addr, group, consumer)
}

func newSubscriber(addr, group, consumer string) (message.Subscriber, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logging.NewWatermill(log.Logger))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return sub, nil
}

// EnsureGroupAtTail creates group on stream at "$" unless it exists, so a new
// client does not replay the events of earlier sessions.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	switch {
	case err == nil:
		log.Info().Str("component", "redisstream").Str("stream", stream).Str("group", group).Msg("consumer group created at tail")
		return nil
	case strings.Contains(err.Error(), "BUSYGROUP"):
		return nil
	default:
		return err
	}
}
