package conversation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/DeadAVA/CHATBOT/pkg/chatclient"
	"github.com/DeadAVA/CHATBOT/pkg/events"
	"github.com/DeadAVA/CHATBOT/pkg/markup"
)

const (
	// ServerErrorText replaces the placeholder when /chat fails.
	ServerErrorText = "❌ Error en el servidor. Intenta nuevamente."
	// ThinkingText is what a placeholder shows while its request is in flight.
	ThinkingText = "Pensando..."
)

var ErrEmptyMessage = errors.New("empty message")

// ChatAPI is the part of the backend the text path needs.
type ChatAPI interface {
	Chat(ctx context.Context, message string) (*chatclient.ChatResponse, error)
	ConfirmClear(ctx context.Context) (string, error)
	ResolveURL(ref string) (string, error)
}

// Player plays a reply audio reference.
type Player interface {
	Play(ctx context.Context, url string) error
}

// View is refreshed after every mutation of the message list.
type View interface {
	Refresh()
	ShowConversation()
}

type Session struct {
	conv      *Conversation
	api       ChatAPI
	player    Player
	viewMu    sync.RWMutex
	view      View
	sink      events.Sink
	voiceMode atomic.Bool
}

type SessionOption func(*Session)

func WithPlayer(p Player) SessionOption {
	return func(s *Session) {
		s.player = p
	}
}

func WithView(v View) SessionOption {
	return func(s *Session) {
		s.view = v
	}
}

func WithSink(sink events.Sink) SessionOption {
	return func(s *Session) {
		s.sink = sink
	}
}

func WithVoiceMode(on bool) SessionOption {
	return func(s *Session) {
		s.voiceMode.Store(on)
	}
}

func NewSession(conv *Conversation, api ChatAPI, options ...SessionOption) *Session {
	s := &Session{
		conv: conv,
		api:  api,
		sink: events.NopSink{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Session) Conversation() *Conversation {
	return s.conv
}

// SetView swaps the view, used when the layout changes.
func (s *Session) SetView(v View) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.view = v
}

func (s *Session) currentView() View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

func (s *Session) SetVoiceMode(on bool) {
	s.voiceMode.Store(on)
}

func (s *Session) VoiceMode() bool {
	return s.voiceMode.Load()
}

func (s *Session) refresh() {
	if v := s.currentView(); v != nil {
		v.Refresh()
	}
}

func (s *Session) publish(ev events.Event) {
	if err := s.sink.PublishEvent(ev); err != nil {
		log.Warn().Err(err).Str("component", "session").Str("type", string(ev.Type)).Msg("failed to publish event")
	}
}

// AppendMessage adds a settled bubble, refreshes the view and publishes it.
func (s *Session) AppendMessage(role Role, content string, audioURL string) Message {
	m := s.conv.Append(role, content, audioURL)
	s.refresh()
	s.publish(events.NewMessageAppended(s.conv.ID(), m.Payload()))
	return m
}

// Turn is a text turn whose bubbles are on screen and whose request is not
// issued yet.
type Turn struct {
	session     *Session
	text        string
	viaVoice    bool
	User        Message
	Placeholder Message
}

// Begin appends the user bubble and the placeholder. It never blocks.
func (s *Session) Begin(text string, viaVoice bool) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	user := s.AppendMessage(RoleUser, text, "")
	placeholder := s.conv.AppendPlaceholder()
	s.refresh()
	s.publish(events.NewMessageAppended(s.conv.ID(), placeholder.Payload()))

	log.Debug().
		Str("component", "session").
		Str("message_id", placeholder.ID.String()).
		Bool("via_voice", viaVoice).
		Msg("turn started")

	return &Turn{session: s, text: text, viaVoice: viaVoice, User: user, Placeholder: placeholder}, nil
}

// Complete issues the /chat request and resolves the placeholder with the
// processed reply or the server error text. It returns the settled bubble.
func (t *Turn) Complete(ctx context.Context) Message {
	s := t.session
	content, audioURL := ServerErrorText, ""

	resp, err := s.api.Chat(ctx, t.text)
	if err != nil {
		log.Error().Err(err).Str("component", "session").Str("message_id", t.Placeholder.ID.String()).Msg("chat request failed")
	} else {
		content = markup.ProcessChatResponse(resp.Response)
		if resp.AudioResponse != "" && (t.viaVoice || s.VoiceMode()) {
			audioURL = t.resolveAudio(resp.AudioResponse)
		}
	}

	m, ok := s.conv.Resolve(t.Placeholder.ID, content, audioURL)
	if !ok {
		log.Debug().Str("component", "session").Str("message_id", t.Placeholder.ID.String()).Msg("placeholder gone, dropping reply")
		return Message{}
	}
	s.refresh()
	s.publish(events.NewMessageUpdated(s.conv.ID(), m.Payload()))

	if audioURL != "" {
		s.play(ctx, audioURL)
	}
	return m
}

func (t *Turn) resolveAudio(ref string) string {
	u, err := t.session.api.ResolveURL(ref)
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Str("audio", ref).Msg("invalid audio reference")
		return ""
	}
	return u
}

func (s *Session) play(ctx context.Context, url string) {
	if s.player == nil {
		return
	}
	if err := s.player.Play(ctx, url); err != nil {
		log.Warn().Err(err).Str("component", "session").Str("audio", url).Msg("audio playback failed")
	}
}

// SendMessage runs a whole text turn. Blank text is ignored.
func (s *Session) SendMessage(ctx context.Context, text string, viaVoice bool) (Message, error) {
	t, err := s.Begin(text, viaVoice)
	if err != nil {
		return Message{}, err
	}
	return t.Complete(ctx), nil
}

// BeginConversation reveals the conversation view and begins the first turn.
// The caller clears the welcome input when a turn is returned.
func (s *Session) BeginConversation(text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if v := s.currentView(); v != nil {
		v.ShowConversation()
	}
	return s.Begin(text, false)
}

// StartConversation is the blocking form of BeginConversation.
func (s *Session) StartConversation(ctx context.Context, text string) (Message, error) {
	t, err := s.BeginConversation(text)
	if err != nil {
		return Message{}, err
	}
	return t.Complete(ctx), nil
}

// ClearConversation asks the backend to forget the conversation and, on
// success, drops every bubble.
func (s *Session) ClearConversation(ctx context.Context) error {
	if _, err := s.api.ConfirmClear(ctx); err != nil {
		log.Error().Err(err).Str("component", "session").Msg("confirm_clear failed")
		return errors.Wrap(err, "clear conversation")
	}
	old := s.conv.Clear()
	s.refresh()
	s.publish(events.NewConversationCleared(old))
	return nil
}
