package ui

import (
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/DeadAVA/CHATBOT/pkg/events"
)

// EventMsg carries a bus event into the bubbletea loop.
type EventMsg struct {
	Event events.Event
}

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// StepUIForwardFunc forwards watermill messages to the UI by decoding them into
// events and injecting them into the program p.
func StepUIForwardFunc(p Sender) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("payload", string(msg.Payload)).Msg("Failed to parse event")
			return err
		}

		log.Trace().Str("type", string(e.Type)).Str("event_id", e.ID.String()).Msg("Dispatching event to UI")
		p.Send(EventMsg{Event: *e})
		return nil
	}
}
