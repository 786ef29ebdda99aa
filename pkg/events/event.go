// Package events carries conversation and recording changes over a watermill bus.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TopicUI is the topic every session publishes to.
const TopicUI = "ui"

type EventType string

const (
	EventMessageAppended     EventType = "message-appended"
	EventMessageUpdated      EventType = "message-updated"
	EventConversationCleared EventType = "conversation-cleared"
	EventRecordingChanged    EventType = "recording-changed"
)

// MessagePayload is the wire form of a bubble.
type MessagePayload struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	AudioURL  string    `json:"audio_url,omitempty"`
	Pending   bool      `json:"pending,omitempty"`
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordingPayload mirrors the recording panel controls.
type RecordingPayload struct {
	State        string `json:"state"`
	Status       string `json:"status"`
	ModalOpen    bool   `json:"modal_open"`
	StartEnabled bool   `json:"start_enabled"`
	StopEnabled  bool   `json:"stop_enabled"`
	Version      uint64 `json:"version"`
}

type Event struct {
	Type           EventType         `json:"type"`
	ID             uuid.UUID         `json:"id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Message        *MessagePayload   `json:"message,omitempty"`
	Recording      *RecordingPayload `json:"recording,omitempty"`
	Time           time.Time         `json:"time"`
}

func newEvent(t EventType, convID string) Event {
	return Event{Type: t, ID: uuid.New(), ConversationID: convID, Time: time.Now()}
}

func NewMessageAppended(convID string, m MessagePayload) Event {
	ev := newEvent(EventMessageAppended, convID)
	ev.Message = &m
	return ev
}

func NewMessageUpdated(convID string, m MessagePayload) Event {
	ev := newEvent(EventMessageUpdated, convID)
	ev.Message = &m
	return ev
}

func NewConversationCleared(convID string) Event {
	return newEvent(EventConversationCleared, convID)
}

func NewRecordingChanged(r RecordingPayload) Event {
	ev := newEvent(EventRecordingChanged, "")
	ev.Recording = &r
	return ev
}

// NewEventFromJSON decodes and validates an event payload.
func NewEventFromJSON(b []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	switch ev.Type {
	case EventMessageAppended, EventMessageUpdated:
		if ev.Message == nil {
			return nil, errors.Errorf("event %s without message", ev.Type)
		}
	case EventRecordingChanged:
		if ev.Recording == nil {
			return nil, errors.Errorf("event %s without recording", ev.Type)
		}
	case EventConversationCleared:
	default:
		return nil, errors.Errorf("unknown event type %q", ev.Type)
	}
	return &ev, nil
}
