package events

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/DeadAVA/CHATBOT/pkg/logging"
)

// EventRouter bundles a publisher, a subscriber and a watermill router. Without
// options it runs on an in-memory gochannel that never blocks publishers: the
// UI handler feeds a bubbletea program and publishers run inside it.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool

	mu          sync.Mutex
	handlerSubs []message.Subscriber
}

type EventRouterOption func(*EventRouter)

func WithPublisher(p message.Publisher) EventRouterOption {
	return func(r *EventRouter) {
		r.Publisher = p
	}
}

func WithSubscriber(s message.Subscriber) EventRouterOption {
	return func(r *EventRouter) {
		r.Subscriber = s
	}
}

func WithLogger(l watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = l
	}
}

// WithVerbose adds a handler logging every event on the UI topic.
func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: logging.NewWatermill(log.Logger),
	}
	for _, o := range options {
		o(ret)
	}

	if ret.Publisher == nil || ret.Subscriber == nil {
		goPubSub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            1024,
			BlockPublishUntilSubscriberAck: false,
		}, ret.logger)
		if ret.Publisher == nil {
			ret.Publisher = goPubSub
		}
		if ret.Subscriber == nil {
			ret.Subscriber = goPubSub
		}
	}

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	if ret.verbose {
		ret.AddHandler("verbose", TopicUI, ret.dumpEvent)
	}
	return ret, nil
}

func (e *EventRouter) dumpEvent(msg *message.Message) error {
	defer msg.Ack()
	ev, err := NewEventFromJSON(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("component", "events").Msg("undecodable event")
		return nil
	}
	l := log.Debug().Str("component", "events").Str("type", string(ev.Type)).Str("conversation_id", ev.ConversationID)
	if ev.Message != nil {
		l = l.Str("message_id", ev.Message.ID).Uint64("version", ev.Message.Version)
	}
	if ev.Recording != nil {
		l = l.Str("state", ev.Recording.State)
	}
	l.Msg("event")
	return nil
}

// AddHandler consumes topic with the router subscriber.
func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddHandlerWithSubscriber consumes topic with a dedicated subscriber, for
// instance a separate Redis consumer group so that handlers do not share
// deliveries. Close closes sub, whether or not the handler ever ran.
func (e *EventRouter) AddHandlerWithSubscriber(name string, topic string, sub message.Subscriber, f func(msg *message.Message) error) {
	e.mu.Lock()
	e.handlerSubs = append(e.handlerSubs, sub)
	e.mu.Unlock()
	e.router.AddNoPublisherHandler(name, topic, sub, f)
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

func (e *EventRouter) RunHandlers(ctx context.Context) error {
	return e.router.RunHandlers(ctx)
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

// Close stops the router, then the handler subscribers, the publisher and the
// subscriber. Subscribers must tolerate a second Close, since the router
// already closes those of the handlers it started.
func (e *EventRouter) Close() error {
	err := e.router.Close()
	e.mu.Lock()
	subs := e.handlerSubs
	e.handlerSubs = nil
	e.mu.Unlock()
	for _, sub := range subs {
		if serr := sub.Close(); serr != nil {
			log.Debug().Err(serr).Str("component", "events").Msg("failed to close handler subscriber")
		}
	}
	if perr := e.Publisher.Close(); perr != nil {
		log.Debug().Err(perr).Str("component", "events").Msg("failed to close publisher")
	}
	if sub, ok := e.Subscriber.(message.Publisher); !ok || sub != e.Publisher {
		if serr := e.Subscriber.Close(); serr != nil {
			log.Debug().Err(serr).Str("component", "events").Msg("failed to close subscriber")
		}
	}
	return err
}

// Sink returns a sink publishing on the UI topic.
func (e *EventRouter) Sink() *WatermillSink {
	return NewWatermillSink(e.Publisher, TopicUI)
}
