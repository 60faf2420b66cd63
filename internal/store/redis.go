package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/apptentivekit/internal/cache"
	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/manifest"
	"github.com/rafaeljc/apptentivekit/internal/payload"
	"github.com/rafaeljc/apptentivekit/internal/validation"
)

// Compile-time check to verify that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore keeps the queue as a list of ids plus one hash per payload.
//
// Keys:
//
//	<prefix>:payloads                   list of entry ids, head first
//	<prefix>:payload:<id>               hash {payload, enqueued_at}
//	<prefix>:conversation               conversation snapshot (JSON)
//	<prefix>:manifest:<conversation id> manifest (JSON)
type RedisStore struct {
	client redis.UniversalClient
	probe  *cache.QueueProbe
	prefix string
	ids    *idSource
	now    func() time.Time
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	validation.AssertProvided(client, "redis client")
	if prefix == "" {
		prefix = "apptentive"
	}
	s := &RedisStore{
		client: client,
		prefix: prefix,
		ids:    newIDSource(),
		now:    time.Now,
	}
	s.probe = cache.NewQueueProbe(client, s.queueKey())
	return s
}

func (s *RedisStore) queueKey() string               { return s.prefix + ":payloads" }
func (s *RedisStore) entryKey(id string) string      { return s.prefix + ":payload:" + id }
func (s *RedisStore) conversationKey() string        { return s.prefix + ":conversation" }
func (s *RedisStore) manifestKey(conv string) string { return s.prefix + ":manifest:" + conv }

// Name implements Store.
func (s *RedisStore) Name() string { return "redis" }

// Ping implements Store. It fails when the queue key has been overwritten
// with another type.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.probe.Check(ctx)
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Append implements Queue. The hash and the list entry are written in one
// MULTI/EXEC so a crash never leaves a list id without its payload.
func (s *RedisStore) Append(ctx context.Context, p payload.Payload) (Entry, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Entry{}, fmt.Errorf("encode payload: %w", err)
	}

	now := s.now().UTC()
	entry := Entry{ID: s.ids.next(now), Payload: p, EnqueuedAt: now}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entryKey(entry.ID),
			"payload", data,
			"enqueued_at", now.Format(time.RFC3339Nano),
		)
		pipe.RPush(ctx, s.queueKey(), entry.ID)
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to append payload: %w", err)
	}
	return entry, nil
}

// Peek implements Queue.
func (s *RedisStore) Peek(ctx context.Context) (Entry, bool, error) {
	id, err := s.client.LIndex(ctx, s.queueKey(), 0).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to peek queue: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, s.entryKey(id)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read payload %s: %w", id, err)
	}
	entry, err := entryFromHash(id, fields)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Remove implements Queue.
func (s *RedisStore) Remove(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, s.queueKey(), 1, id)
		pipe.Del(ctx, s.entryKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove payload %s: %w", id, err)
	}
	return nil
}

// List implements Queue.
func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	ids, err := s.client.LRange(ctx, s.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.entryKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read payloads: %w", err)
	}

	entries := make([]Entry, 0, len(ids))
	for i, id := range ids {
		entry, err := entryFromHash(id, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Len implements Queue.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return int(n), nil
}

func entryFromHash(id string, fields map[string]string) (Entry, error) {
	raw, ok := fields["payload"]
	if !ok {
		return Entry{}, &CorruptEntryError{ID: id, Err: errors.New("payload hash is missing")}
	}

	entry := Entry{ID: id}
	if err := json.Unmarshal([]byte(raw), &entry.Payload); err != nil {
		return Entry{}, &CorruptEntryError{ID: id, Err: err}
	}
	t, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"])
	if err != nil {
		return Entry{}, &CorruptEntryError{ID: id, Err: err}
	}
	entry.EnqueuedAt = t
	return entry, nil
}

// LoadConversation implements ConversationStore.
func (s *RedisStore) LoadConversation(ctx context.Context) (conversation.Conversation, bool, error) {
	data, err := s.client.Get(ctx, s.conversationKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Conversation{}, false, nil
	}
	if err != nil {
		return conversation.Conversation{}, false, fmt.Errorf("failed to load conversation: %w", err)
	}
	return decodeConversation(data)
}

// SaveConversation implements ConversationStore.
func (s *RedisStore) SaveConversation(ctx context.Context, c conversation.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := s.client.Set(ctx, s.conversationKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// LoadManifest implements ManifestStore.
func (s *RedisStore) LoadManifest(ctx context.Context, conversationID string) (manifest.Manifest, bool, error) {
	data, err := s.client.Get(ctx, s.manifestKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return manifest.Manifest{}, false, nil
	}
	if err != nil {
		return manifest.Manifest{}, false, fmt.Errorf("failed to load manifest: %w", err)
	}
	return decodeManifest(data)
}

// SaveManifest implements ManifestStore.
func (s *RedisStore) SaveManifest(ctx context.Context, conversationID string, m manifest.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.client.Set(ctx, s.manifestKey(conversationID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}
