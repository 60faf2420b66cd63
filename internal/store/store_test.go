package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/manifest"
	"github.com/rafaeljc/apptentivekit/internal/payload"
)

var testNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func testPayloads(t *testing.T, n int) []payload.Payload {
	t.Helper()
	f := payload.NewFactory(payload.FactoryConfig{Clock: clock.NewFake(testNow)})
	out := make([]payload.Payload, n)
	for i := range n {
		p, err := f.Event(payload.EventInput{CodePoint: fmt.Sprintf("local#app#event-%d", i)})
		require.NoError(t, err)
		out[i] = p
	}
	return out
}

// runStoreContract exercises behavior every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("Should start empty", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Peek(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		entries, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("Should keep FIFO order", func(t *testing.T) {
		s := newStore(t)
		payloads := testPayloads(t, 3)
		for _, p := range payloads {
			_, err := s.Append(ctx, p)
			require.NoError(t, err)
		}

		for _, want := range payloads {
			head, ok, err := s.Peek(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want.Nonce, head.Payload.Nonce)
			assert.Equal(t, want.Body, head.Payload.Body)
			require.NoError(t, s.Remove(ctx, head.ID))
		}

		n, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Should list entries in queue order", func(t *testing.T) {
		s := newStore(t)
		payloads := testPayloads(t, 4)
		for _, p := range payloads {
			_, err := s.Append(ctx, p)
			require.NoError(t, err)
		}

		entries, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 4)
		for i, e := range entries {
			assert.Equal(t, payloads[i].Nonce, e.Payload.Nonce)
		}
	})

	t.Run("Should ignore removal of unknown entries", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Remove(ctx, "missing"))
	})

	t.Run("Should round-trip the conversation", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.LoadConversation(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		conv := conversation.New(conversation.Environment{
			Device:     conversation.Device{OSName: "iOS", OSVersion: "17.0"},
			AppRelease: conversation.AppRelease{Version: "2.0", Build: "7"},
		}, testNow)
		conv.Person.Name = "Ada"
		require.NoError(t, conv.Person.CustomData.Set("plan", "pro"))
		conv.Metrics.Invoke(conversation.CodePointMetric, "local#app#launch", testNow)
		creds, err := credentials.Credentials{}.Configure("key", "sig")
		require.NoError(t, err)
		conv.Credentials, err = creds.Anonymize("conv-1", "token")
		require.NoError(t, err)
		conv.ID = "conv-1"

		require.NoError(t, s.SaveConversation(ctx, conv))
		got, ok, err := s.LoadConversation(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, conv.ID, got.ID)
		assert.Equal(t, conv.Credentials, got.Credentials)
		assert.Equal(t, "Ada", got.Person.Name)
		assert.True(t, conv.Person.CustomData.Equal(got.Person.CustomData))
		m, found := got.Metrics.Lookup(conversation.CodePointMetric, "local#app#launch")
		require.True(t, found)
		assert.Equal(t, int64(1), m.Total)

		conv.Person.Name = "Grace"
		require.NoError(t, s.SaveConversation(ctx, conv))
		got, _, err = s.LoadConversation(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Grace", got.Person.Name)
	})

	t.Run("Should round-trip manifests per conversation", func(t *testing.T) {
		s := newStore(t)
		m, err := manifest.Decode([]byte(`{"interactions":[{"id":"X","type":"Survey"}],"targets":{}}`),
			testNow, testNow.Add(time.Hour))
		require.NoError(t, err)

		require.NoError(t, s.SaveManifest(ctx, "conv-1", m))
		got, ok, err := s.LoadManifest(ctx, "conv-1")
		require.NoError(t, err)
		require.True(t, ok)
		_, found := got.Interaction("X")
		assert.True(t, found)
		assert.True(t, got.Expiry.Equal(m.Expiry))

		_, ok, err = s.LoadManifest(ctx, "conv-2")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should answer pings", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, Checker{Store: s}.Check(ctx))
		assert.NotEmpty(t, Checker{Store: s}.Name())
	})
}
