package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/manifest"
	"github.com/rafaeljc/apptentivekit/internal/payload"
)

// Compile-time check to verify that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS payloads (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	kind        TEXT NOT NULL,
	nonce       TEXT NOT NULL,
	data        TEXT NOT NULL,
	enqueued_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation (
	slot       INTEGER PRIMARY KEY CHECK (slot = 1),
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS manifests (
	conversation_id TEXT PRIMARY KEY,
	data            TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
`

// SQLiteStore keeps all state in one SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	ids *idSource
	now func() time.Time
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer owns the file; a single connection keeps statements ordered.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteStore{db: db, ids: newIDSource(), now: time.Now}, nil
}

// Name implements Store.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append implements Queue.
func (s *SQLiteStore) Append(ctx context.Context, p payload.Payload) (Entry, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Entry{}, fmt.Errorf("encode payload: %w", err)
	}

	now := s.now().UTC()
	entry := Entry{ID: s.ids.next(now), Payload: p, EnqueuedAt: now}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO payloads (id, kind, nonce, data, enqueued_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, string(p.Kind), p.Nonce, string(data), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to append payload: %w", err)
	}
	return entry, nil
}

// Peek implements Queue.
func (s *SQLiteStore) Peek(ctx context.Context) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, enqueued_at FROM payloads ORDER BY seq ASC LIMIT 1`)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Remove implements Queue.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM payloads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove payload %s: %w", id, err)
	}
	return nil
}

// List implements Queue.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data, enqueued_at FROM payloads ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list payloads: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Len implements Queue.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM payloads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count payloads: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var id, data, enqueuedAt string
	if err := sc.Scan(&id, &data, &enqueuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("failed to read payload: %w", err)
	}

	entry := Entry{ID: id}
	if err := json.Unmarshal([]byte(data), &entry.Payload); err != nil {
		return Entry{}, &CorruptEntryError{ID: id, Err: err}
	}
	t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return Entry{}, &CorruptEntryError{ID: id, Err: err}
	}
	entry.EnqueuedAt = t
	return entry, nil
}

// LoadConversation implements ConversationStore.
func (s *SQLiteStore) LoadConversation(ctx context.Context) (conversation.Conversation, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM conversation WHERE slot = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, false, nil
	}
	if err != nil {
		return conversation.Conversation{}, false, fmt.Errorf("failed to load conversation: %w", err)
	}
	return decodeConversation([]byte(data))
}

// SaveConversation implements ConversationStore.
func (s *SQLiteStore) SaveConversation(ctx context.Context, c conversation.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation (slot, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// LoadManifest implements ManifestStore.
func (s *SQLiteStore) LoadManifest(ctx context.Context, conversationID string) (manifest.Manifest, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM manifests WHERE conversation_id = ?`, conversationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return manifest.Manifest{}, false, nil
	}
	if err != nil {
		return manifest.Manifest{}, false, fmt.Errorf("failed to load manifest: %w", err)
	}
	return decodeManifest([]byte(data))
}

// SaveManifest implements ManifestStore.
func (s *SQLiteStore) SaveManifest(ctx context.Context, conversationID string, m manifest.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manifests (conversation_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		conversationID, string(data), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

func decodeConversation(data []byte) (conversation.Conversation, bool, error) {
	var c conversation.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return conversation.Conversation{}, false, fmt.Errorf("%w: conversation: %w", ErrCorrupt, err)
	}
	return c, true, nil
}

func decodeManifest(data []byte) (manifest.Manifest, bool, error) {
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest.Manifest{}, false, fmt.Errorf("%w: manifest: %w", ErrCorrupt, err)
	}
	return m, true, nil
}
