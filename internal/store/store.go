// Package store persists the SDK's durable state: the FIFO payload queue, the
// conversation snapshot and the last good manifest per conversation.
//
// Two backends implement Store: SQLite (the default, an app-private file) and
// Redis (shared deployments of the CLI and mock tooling).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/manifest"
	"github.com/rafaeljc/apptentivekit/internal/payload"
)

// ErrCorrupt marks persisted data that can no longer be decoded.
var ErrCorrupt = errors.New("persisted state is corrupt")

// CorruptEntryError reports an undecodable queue entry. The entry can still be
// removed by ID.
type CorruptEntryError struct {
	ID  string
	Err error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("queue entry %s is corrupt: %v", e.ID, e.Err)
}

// Is makes errors.Is(err, ErrCorrupt) match.
func (e *CorruptEntryError) Is(target error) bool { return target == ErrCorrupt }

func (e *CorruptEntryError) Unwrap() error { return e.Err }

// Entry is one queued payload.
type Entry struct {
	// ID orders entries; it is assigned on Append.
	ID         string
	Payload    payload.Payload
	EnqueuedAt time.Time
}

// Queue is the durable FIFO of pending payloads. Entries leave the queue only
// through Remove.
type Queue interface {
	// Append persists p at the tail before returning.
	Append(ctx context.Context, p payload.Payload) (Entry, error)
	// Peek returns the head without removing it.
	Peek(ctx context.Context) (Entry, bool, error)
	// Remove deletes the entry with the given ID. Removing a missing entry is
	// not an error.
	Remove(ctx context.Context, id string) error
	// List returns every entry in queue order.
	List(ctx context.Context) ([]Entry, error)
	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)
}

// ConversationStore persists the conversation snapshot.
type ConversationStore interface {
	LoadConversation(ctx context.Context) (conversation.Conversation, bool, error)
	SaveConversation(ctx context.Context, c conversation.Conversation) error
}

// ManifestStore persists the last good manifest per conversation.
type ManifestStore interface {
	LoadManifest(ctx context.Context, conversationID string) (manifest.Manifest, bool, error)
	SaveManifest(ctx context.Context, conversationID string, m manifest.Manifest) error
}

// Store aggregates every persisted concern of one SDK instance.
type Store interface {
	Queue
	ConversationStore
	ManifestStore

	// Name identifies the backend in health checks.
	Name() string
	Ping(ctx context.Context) error
	Close() error
}
