// Package conversation holds the message list and the text path of a chat session.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeadAVA/CHATBOT/pkg/events"
)

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is a single bubble. Only the placeholder (Pending) is ever mutated.
type Message struct {
	ID        uuid.UUID `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	AudioURL  string    `json:"audio_url,omitempty" yaml:"audio_url,omitempty"`
	Pending   bool      `json:"pending,omitempty" yaml:"pending,omitempty"`
	Version   uint64    `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

func (m Message) Payload() events.MessagePayload {
	return events.MessagePayload{
		ID:        m.ID.String(),
		Role:      string(m.Role),
		Content:   m.Content,
		AudioURL:  m.AudioURL,
		Pending:   m.Pending,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
	}
}

// Conversation is an append-only list of bubbles, oldest first. Every mutation
// bumps a version which is stamped on the touched message.
type Conversation struct {
	mu       sync.RWMutex
	id       uuid.UUID
	messages []*Message
	version  uint64
}

func NewConversation() *Conversation {
	return &Conversation{id: uuid.New()}
}

// ID identifies the conversation. It changes on Clear.
func (c *Conversation) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id.String()
}

func (c *Conversation) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Conversation) append(role Role, content string, audioURL string, pending bool) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	m := &Message{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		AudioURL:  audioURL,
		Pending:   pending,
		Version:   c.version,
		CreatedAt: time.Now(),
	}
	c.messages = append(c.messages, m)
	return *m
}

func (c *Conversation) Append(role Role, content string, audioURL string) Message {
	return c.append(role, content, audioURL, false)
}

// AppendPlaceholder adds a pending bot bubble.
func (c *Conversation) AppendPlaceholder() Message {
	return c.append(RoleBot, "", "", true)
}

// Resolve settles a placeholder. It returns false when the message is gone
// (the conversation was cleared while the request was in flight) or was
// already resolved.
func (c *Conversation) Resolve(id uuid.UUID, content string, audioURL string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m.ID != id {
			continue
		}
		if !m.Pending {
			return Message{}, false
		}
		c.version++
		m.Content = content
		m.AudioURL = audioURL
		m.Pending = false
		m.Version = c.version
		return *m, true
	}
	return Message{}, false
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

func (c *Conversation) HasMessages() bool {
	return c.Len() > 0
}

// Messages returns a copy of the bubbles.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ret := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		ret = append(ret, *m)
	}
	return ret
}

func (c *Conversation) Get(id uuid.UUID) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.messages {
		if m.ID == id {
			return *m, true
		}
	}
	return Message{}, false
}

// LastUser returns the most recent user bubble.
func (c *Conversation) LastUser() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			return *c.messages[i], true
		}
	}
	return Message{}, false
}

// LastBot returns the most recent settled bot bubble.
func (c *Conversation) LastBot() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleBot && !c.messages[i].Pending {
			return *c.messages[i], true
		}
	}
	return Message{}, false
}

// Clear drops every bubble and starts a new conversation id. It returns the
// id of the dropped conversation.
func (c *Conversation) Clear() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.id.String()
	c.messages = nil
	c.version++
	c.id = uuid.New()
	return old
}
