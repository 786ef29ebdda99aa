package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/DeadAVA/CHATBOT/pkg/events"
	"github.com/DeadAVA/CHATBOT/pkg/persistence/turnlog"
)

// StepTurnLogFunc writes the bubbles seen on the UI topic into store.
// Persistence is best-effort: decoding and storage errors are logged but never
// fail the chat.
func StepTurnLogFunc(store turnlog.Store) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()
		if store == nil {
			return nil
		}

		ev, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "turnlog_persist").Msg("failed to decode event payload")
			return nil
		}

		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cancel := func() {}
		if ctx.Err() != nil {
			// Message contexts can be canceled during shutdown before the
			// queue drains.
			ctx, cancel = context.WithTimeout(context.Background(), 250*time.Millisecond)
		}
		defer cancel()

		switch ev.Type {
		case events.EventMessageAppended, events.EventMessageUpdated:
			m := ev.Message
			if strings.TrimSpace(ev.ConversationID) == "" || strings.TrimSpace(m.ID) == "" {
				return nil
			}
			err = store.Upsert(ctx, turnlog.Entry{
				ConvID:      ev.ConversationID,
				MessageID:   m.ID,
				Role:        m.Role,
				Content:     m.Content,
				AudioURL:    m.AudioURL,
				Pending:     m.Pending,
				Version:     m.Version,
				CreatedAtMs: m.CreatedAt.UnixMilli(),
				UpdatedAtMs: ev.Time.UnixMilli(),
			})
		case events.EventConversationCleared:
			err = store.MarkCleared(ctx, ev.ConversationID, ev.Time.UnixMilli())
		default:
			return nil
		}

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).
				Str("component", "turnlog_persist").
				Str("conv_id", ev.ConversationID).
				Str("type", string(ev.Type)).
				Msg("turn log write failed")
		}
		return nil
	}
}
