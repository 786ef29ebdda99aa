// Package turnlog keeps a write-only audit log of the bubbles of every
// conversation. It is never read back into a session.
package turnlog

import (
	"context"
)

type Entry struct {
	ConvID      string `json:"conversation_id" yaml:"conversation_id"`
	MessageID   string `json:"message_id" yaml:"message_id"`
	Role        string `json:"role" yaml:"role"`
	Content     string `json:"content" yaml:"content"`
	AudioURL    string `json:"audio_url,omitempty" yaml:"audio_url,omitempty"`
	Pending     bool   `json:"pending,omitempty" yaml:"pending,omitempty"`
	Version     uint64 `json:"version" yaml:"version"`
	CreatedAtMs int64  `json:"created_at_ms" yaml:"created_at_ms"`
	UpdatedAtMs int64  `json:"updated_at_ms" yaml:"updated_at_ms"`
}

type ConversationRecord struct {
	ConvID         string `json:"conversation_id" yaml:"conversation_id"`
	CreatedAtMs    int64  `json:"created_at_ms" yaml:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms" yaml:"last_activity_ms"`
	ClearedAtMs    int64  `json:"cleared_at_ms,omitempty" yaml:"cleared_at_ms,omitempty"`
	Messages       int    `json:"messages" yaml:"messages"`
}

// Store persists entries. Upsert keeps the entry with the highest version, so
// out of order deliveries of the same bubble are harmless.
type Store interface {
	Upsert(ctx context.Context, e Entry) error
	MarkCleared(ctx context.Context, convID string, atMs int64) error
	List(ctx context.Context, convID string) ([]Entry, error)
	Conversations(ctx context.Context, limit int) ([]ConversationRecord, error)
	Close() error
}
