package turnlog

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite turn log: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSNForFile returns the DSN of a WAL mode database file.
func DSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite turn log: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turn_log_conversations (
		  conv_id TEXT PRIMARY KEY,
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL,
		  cleared_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS turn_log_entries (
		  conv_id TEXT NOT NULL,
		  message_id TEXT NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  audio_url TEXT NOT NULL DEFAULT '',
		  pending INTEGER NOT NULL DEFAULT 0,
		  version INTEGER NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (conv_id, message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS turn_log_entries_by_created
		  ON turn_log_entries(conv_id, created_at_ms, version);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite turn log: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite turn log: db is nil")
	}
	e.ConvID = strings.TrimSpace(e.ConvID)
	e.MessageID = strings.TrimSpace(e.MessageID)
	if e.ConvID == "" || e.MessageID == "" {
		return errors.New("sqlite turn log: conversation and message ids are required")
	}
	if e.Version == 0 {
		return errors.New("sqlite turn log: version must be > 0")
	}
	version, err := uint64ToInt64(e.Version)
	if err != nil {
		return errors.Wrap(err, "sqlite turn log: version overflow")
	}
	now := time.Now().UnixMilli()
	if e.CreatedAtMs == 0 {
		e.CreatedAtMs = now
	}
	pending := 0
	if e.Pending {
		pending = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite turn log: begin")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turn_log_conversations (conv_id, created_at_ms, last_activity_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(conv_id) DO UPDATE SET
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > turn_log_conversations.last_activity_ms THEN excluded.last_activity_ms
				ELSE turn_log_conversations.last_activity_ms
			END
	`, e.ConvID, e.CreatedAtMs, now)
	if err != nil {
		return errors.Wrap(err, "sqlite turn log: upsert conversation")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turn_log_entries (
			conv_id, message_id, role, content, audio_url, pending, version, created_at_ms, updated_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conv_id, message_id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			audio_url = excluded.audio_url,
			pending = excluded.pending,
			version = excluded.version,
			updated_at_ms = excluded.updated_at_ms
		WHERE excluded.version > turn_log_entries.version
	`, e.ConvID, e.MessageID, e.Role, e.Content, e.AudioURL, pending, version, e.CreatedAtMs, now)
	if err != nil {
		return errors.Wrap(err, "sqlite turn log: upsert entry")
	}
	return errors.Wrap(tx.Commit(), "sqlite turn log: commit")
}

func (s *SQLiteStore) MarkCleared(ctx context.Context, convID string, atMs int64) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite turn log: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("sqlite turn log: conversation id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_log_conversations (conv_id, created_at_ms, last_activity_ms, cleared_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conv_id) DO UPDATE SET
			cleared_at_ms = excluded.cleared_at_ms,
			last_activity_ms = excluded.last_activity_ms
	`, convID, atMs, atMs, atMs)
	if err != nil {
		return errors.Wrap(err, "sqlite turn log: mark cleared")
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, convID string) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite turn log: db is nil")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conv_id, message_id, role, content, audio_url, pending, version, created_at_ms, updated_at_ms
		FROM turn_log_entries
		WHERE conv_id = ?
		ORDER BY created_at_ms ASC, version ASC
	`, strings.TrimSpace(convID))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite turn log: list")
	}
	defer func() { _ = rows.Close() }()

	var ret []Entry
	for rows.Next() {
		var (
			e       Entry
			pending int64
			version int64
		)
		if err := rows.Scan(&e.ConvID, &e.MessageID, &e.Role, &e.Content, &e.AudioURL, &pending, &version, &e.CreatedAtMs, &e.UpdatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite turn log: scan entry")
		}
		e.Pending = pending == 1
		if e.Version, err = int64ToUint64(version); err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	return ret, errors.Wrap(rows.Err(), "sqlite turn log: list")
}

func (s *SQLiteStore) Conversations(ctx context.Context, limit int) ([]ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite turn log: db is nil")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.conv_id, c.created_at_ms, c.last_activity_ms, c.cleared_at_ms,
		       (SELECT COUNT(*) FROM turn_log_entries e WHERE e.conv_id = c.conv_id)
		FROM turn_log_conversations c
		ORDER BY c.last_activity_ms DESC, c.conv_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite turn log: conversations")
	}
	defer func() { _ = rows.Close() }()

	var ret []ConversationRecord
	for rows.Next() {
		var r ConversationRecord
		if err := rows.Scan(&r.ConvID, &r.CreatedAtMs, &r.LastActivityMs, &r.ClearedAtMs, &r.Messages); err != nil {
			return nil, errors.Wrap(err, "sqlite turn log: scan conversation")
		}
		ret = append(ret, r)
	}
	return ret, errors.Wrap(rows.Err(), "sqlite turn log: conversations")
}

func uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, errors.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}

func int64ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, errors.Errorf("value %d cannot be represented as uint64", v)
	}
	return uint64(v), nil
}
