package events

import (
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// Sink receives the events of a session.
type Sink interface {
	PublishEvent(ev Event) error
}

// WatermillSink publishes events as JSON on a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

var _ Sink = &WatermillSink{}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{publisher: publisher, topic: topic}
}

func (w *WatermillSink) PublishEvent(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return w.publisher.Publish(w.topic, msg)
}

// NopSink drops everything.
type NopSink struct{}

func (NopSink) PublishEvent(Event) error { return nil }

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) PublishEvent(ev Event) error { return f(ev) }

// HandlerSink hands every event to watermill handler funcs synchronously. It
// serves runs that have no router, such as one-shot commands.
type HandlerSink struct {
	handlers []func(msg *message.Message) error
}

func NewHandlerSink(handlers ...func(msg *message.Message) error) *HandlerSink {
	return &HandlerSink{handlers: handlers}
}

func (h *HandlerSink) PublishEvent(ev Event) error {
	if len(h.handlers) == 0 {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	for _, f := range h.handlers {
		if err := f(message.NewMessage(watermill.NewUUID(), payload)); err != nil {
			return err
		}
	}
	return nil
}

// RelaySink forwards to a target that can be swapped while sessions publish.
type RelaySink struct {
	mu     sync.RWMutex
	target Sink
}

func NewRelaySink(target Sink) *RelaySink {
	if target == nil {
		target = NopSink{}
	}
	return &RelaySink{target: target}
}

func (r *RelaySink) Set(target Sink) {
	if target == nil {
		target = NopSink{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = target
}

func (r *RelaySink) PublishEvent(ev Event) error {
	r.mu.RLock()
	t := r.target
	r.mu.RUnlock()
	return t.PublishEvent(ev)
}
