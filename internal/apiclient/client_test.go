package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/payload"
	"github.com/rafaeljc/apptentivekit/internal/testsupport"
)

var testNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func pendingCreds(t *testing.T) credentials.Credentials {
	t.Helper()
	c, err := credentials.Credentials{}.Configure("app-key", "app-sig")
	require.NoError(t, err)
	return c
}

func anonymousCreds(t *testing.T) credentials.Credentials {
	t.Helper()
	c, err := pendingCreds(t).Anonymize("conv-1", "bearer-1")
	require.NoError(t, err)
	return c
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:    srv.URL + "/",
		APIVersion: "12",
		UserAgent:  "test-agent",
		Clock:      clock.NewFake(testNow),
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil is success", nil, OutcomeSuccess},
		{"500 is retryable", &APIError{StatusCode: 500}, OutcomeRetryable},
		{"503 is retryable", &APIError{StatusCode: 503}, OutcomeRetryable},
		{"429 is retryable", &APIError{StatusCode: 429}, OutcomeRetryable},
		{"422 is permanent", &APIError{StatusCode: 422}, OutcomePermanent},
		{"400 is permanent", &APIError{StatusCode: 400}, OutcomePermanent},
		{"401 is permanent", &APIError{StatusCode: 401}, OutcomePermanent},
		{"timeout is retryable", context.DeadlineExceeded, OutcomeRetryable},
		{"connection error is retryable", errors.New("dial tcp: connection refused"), OutcomeRetryable},
		{"missing conversation is retryable", credentials.ErrNoConversation, OutcomeRetryable},
		{"encoding error is permanent", ErrEncoding, OutcomePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	assert.Zero(t, parseRetryAfter(h, testNow))

	h.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, parseRetryAfter(h, testNow))

	h.Set("Retry-After", testNow.Add(2*time.Minute).Format(http.TimeFormat))
	assert.Equal(t, 2*time.Minute, parseRetryAfter(h, testNow))

	h.Set("Retry-After", "soon")
	assert.Zero(t, parseRetryAfter(h, testNow))
}

func TestClient_CreateConversation(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "app-key", r.Header.Get(credentials.HeaderAppKey))
		assert.Equal(t, "app-sig", r.Header.Get(credentials.HeaderAppSignature))
		assert.Equal(t, "12", r.Header.Get(credentials.HeaderAPIVersion))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get(credentials.HeaderAuthorization))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"token":"tok","id":"conv-1","person_id":"p-1","device_id":"d-1"}`)
	})

	_, err := c.CreateConversation(context.Background(), credentials.Credentials{}, ConversationRequest{})
	require.ErrorIs(t, err, credentials.ErrConfiguration)

	resp, err := c.CreateConversation(context.Background(), pendingCreds(t), ConversationRequest{})
	require.NoError(t, err)
	assert.Equal(t, ConversationResponse{Token: "tok", ID: "conv-1", PersonID: "p-1", DeviceID: "d-1"}, resp)
}

func TestClient_FetchManifest(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/conv-1/interactions", r.URL.Path)
		assert.Equal(t, "Bearer bearer-1", r.Header.Get(credentials.HeaderAuthorization))
		w.Header().Set("Cache-Control", "max-age=86400")
		_, _ = io.WriteString(w, `{"interactions":[{"id":"X","type":"Survey"}],"targets":{}}`)
	})

	_, err := c.FetchManifest(context.Background(), pendingCreds(t))
	require.ErrorIs(t, err, credentials.ErrNoConversation)

	m, err := c.FetchManifest(context.Background(), anonymousCreds(t))
	require.NoError(t, err)
	_, ok := m.Interaction("X")
	assert.True(t, ok)
	assert.Equal(t, testNow.Add(24*time.Hour), m.Expiry)
}

func TestClient_FetchManifest_FloorsShortExpiry(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=5")
		_, _ = io.WriteString(w, `{"interactions":[],"targets":{}}`)
	})

	m, err := c.FetchManifest(context.Background(), anonymousCreds(t))
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(600*time.Second), m.Expiry)
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	f := payload.NewFactory(payload.FactoryConfig{Clock: clock.NewFake(testNow)})
	p, err := f.Event(payload.EventInput{CodePoint: "local#app#launch"})
	require.NoError(t, err)

	var received []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conversations/conv-1/events", r.URL.Path)
		assert.Equal(t, payload.ContentTypeJSON, r.Header.Get("Content-Type"))
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	})

	testsupport.AssertMetricDelta(t, "apptentive_api_requests_total", map[string]string{"operation": OpSend, "code": "201"}, 1, func() {
		require.NoError(t, c.Send(context.Background(), anonymousCreds(t), p))
	})
	assert.Equal(t, p.Body, received)
}

func TestClient_SendErrors(t *testing.T) {
	t.Parallel()

	f := payload.NewFactory(payload.FactoryConfig{Clock: clock.NewFake(testNow)})
	p, err := f.Event(payload.EventInput{CodePoint: "local#app#launch"})
	require.NoError(t, err)

	t.Run("Should surface status and Retry-After", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "12")
			http.Error(w, "slow down", http.StatusTooManyRequests)
		})

		err := c.Send(context.Background(), anonymousCreds(t), p)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		assert.Contains(t, apiErr.Body, "slow down")
		assert.Equal(t, 12*time.Second, RetryAfter(err))
		assert.Equal(t, OutcomeRetryable, Classify(err))
	})

	t.Run("Should classify connection failures as retryable", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := New(Config{BaseURL: srv.URL, Timeout: time.Second})

		err := c.Send(context.Background(), anonymousCreds(t), p)
		require.Error(t, err)
		assert.Equal(t, OutcomeRetryable, Classify(err))
	})
}

func TestClient_Login(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/conv-1/session", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"token":"user.jwt.token"}`, string(body))
		_, _ = io.WriteString(w, `{"token":"session-token"}`)
	})

	resp, err := c.Login(context.Background(), anonymousCreds(t), "user.jwt.token")
	require.NoError(t, err)
	assert.Equal(t, "session-token", resp.Token)
}
