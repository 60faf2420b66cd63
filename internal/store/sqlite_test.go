package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "apptentive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newTestSQLite(t) })
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "apptentive.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	payloads := testPayloads(t, 3)
	for _, p := range payloads {
		_, err := s.Append(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, payloads[i].Nonce, e.Payload.Nonce)
	}
}

func TestSQLiteStore_Corruption(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	t.Run("Should report a corrupt conversation snapshot", func(t *testing.T) {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO conversation (slot, data, updated_at) VALUES (1, '{not json', '')`)
		require.NoError(t, err)

		_, _, err = s.LoadConversation(ctx)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("Should expose the id of a corrupt queue entry", func(t *testing.T) {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO payloads (id, kind, nonce, data, enqueued_at) VALUES ('bad', 'event', 'n', 'garbage', '')`)
		require.NoError(t, err)

		_, _, err = s.Peek(ctx)
		require.ErrorIs(t, err, ErrCorrupt)

		var corrupt *CorruptEntryError
		require.ErrorAs(t, err, &corrupt)
		assert.Equal(t, "bad", corrupt.ID)

		require.NoError(t, s.Remove(ctx, corrupt.ID))
		_, ok, err := s.Peek(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
