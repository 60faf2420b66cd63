package sender_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/apptentivekit/internal/apiclient"
	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/payload"
	"github.com/rafaeljc/apptentivekit/internal/sender"
	"github.com/rafaeljc/apptentivekit/internal/store"
	"github.com/rafaeljc/apptentivekit/internal/testsupport"
)

var (
	testNow    = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)
	errTimeout = fmt.Errorf("Post \"https://api.example.com\": %w", context.DeadlineExceeded)
)

type sentRequest struct {
	Nonce string
	Body  []byte
	Creds credentials.Credentials
}

// fakeTransport returns the queued results in order, then succeeds.
type fakeTransport struct {
	mu      sync.Mutex
	results []error
	sent    []sentRequest
	notify  chan string
}

func (f *fakeTransport) Send(_ context.Context, creds credentials.Credentials, p payload.Payload) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentRequest{Nonce: p.Nonce, Body: append([]byte(nil), p.Body...), Creds: creds})
	var err error
	if len(f.results) > 0 {
		err, f.results = f.results[0], f.results[1:]
	}
	notify := f.notify
	f.mu.Unlock()

	if notify != nil {
		notify <- p.Nonce
	}
	return err
}

func (f *fakeTransport) nonces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.Nonce
	}
	return out
}

func (f *fakeTransport) requests() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest(nil), f.sent...)
}

type fixture struct {
	sender    *sender.Sender
	queue     *store.SQLiteStore
	transport *fakeTransport
	clock     *clock.Fake
	factory   *payload.Factory
}

func testConfig() sender.Config {
	return sender.Config{
		BaseBackoff:  time.Second,
		MaxBackoff:   time.Minute,
		Multiplier:   2,
		IdleInterval: 30 * time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openQueue(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	q, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func newFixture(t *testing.T, results ...error) *fixture {
	t.Helper()

	clk := clock.NewFake(testNow)
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	tr := &fakeTransport{results: results}

	var mu sync.Mutex
	seq := 0
	f := payload.NewFactory(payload.FactoryConfig{
		Clock: clk,
		NewNonce: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("nonce-%d", seq)
		},
	})

	s := sender.New(discardLogger(), testConfig(), q, tr,
		sender.WithClock(clk),
		sender.WithRandom(func() float64 { return 0.5 }),
	)
	t.Cleanup(s.Close)

	return &fixture{sender: s, queue: q, transport: tr, clock: clk, factory: f}
}

func anonymous(t *testing.T) credentials.Credentials {
	t.Helper()
	c, err := credentials.Credentials{}.Configure("key", "signature")
	require.NoError(t, err)
	c, err = c.Anonymize("conv-1", "token-1")
	require.NoError(t, err)
	return c
}

func (fx *fixture) enqueueEvents(t *testing.T, names ...string) []payload.Payload {
	t.Helper()
	out := make([]payload.Payload, 0, len(names))
	for _, name := range names {
		p, err := fx.factory.Event(payload.EventInput{CodePoint: "local#app#" + name})
		require.NoError(t, err)
		_, err = fx.sender.Enqueue(context.Background(), p)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func drain(t *testing.T, s *sender.Sender) time.Duration {
	t.Helper()
	wait, err := s.DrainOnce(context.Background())
	require.NoError(t, err)
	return wait
}

func collect(ch <-chan sender.DeliveryEvent) []sender.DeliveryEvent {
	var out []sender.DeliveryEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSender_HoldsPayloadsUntilConversationExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t)

	pending, err := credentials.Credentials{}.Configure("key", "signature")
	require.NoError(t, err)
	fx.sender.SetCredentials(pending)

	payloads := fx.enqueueEvents(t, "launch", "tap")

	assert.Equal(t, 30*time.Second, drain(t, fx.sender))
	assert.Empty(t, fx.transport.nonces())

	st, err := fx.sender.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.QueueLength)
	assert.Equal(t, sender.StateWaitingForConversation, st.State)

	creds := anonymous(t)
	fx.sender.SetCredentials(creds)
	drain(t, fx.sender)

	assert.Equal(t, []string{payloads[0].Nonce, payloads[1].Nonce}, fx.transport.nonces())
	for _, r := range fx.transport.requests() {
		assert.Equal(t, creds, r.Creds)
	}

	n, err := fx.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSender_RetriesHeadWithIdenticalBytes(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, errTimeout, errTimeout, errTimeout)
	fx.sender.SetCredentials(anonymous(t))
	events, unsubscribe := fx.sender.Subscribe(16)
	defer unsubscribe()

	payloads := fx.enqueueEvents(t, "first", "second")
	head := payloads[0]

	assert.Equal(t, time.Second, drain(t, fx.sender))
	assert.Equal(t, time.Second, drain(t, fx.sender), "head must wait out its backoff")
	assert.Len(t, fx.transport.nonces(), 1)

	fx.clock.Advance(time.Second)
	assert.Equal(t, 2*time.Second, drain(t, fx.sender))

	fx.clock.Advance(2 * time.Second)
	assert.Equal(t, 4*time.Second, drain(t, fx.sender))

	st, err := fx.sender.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sender.StateBackingOff, st.State)
	assert.Equal(t, head.Nonce, st.HeadNonce)
	assert.Equal(t, 3, st.HeadAttempts)
	assert.Equal(t, testNow.Add(7*time.Second), st.NextRetry)
	assert.Contains(t, st.LastError, "deadline exceeded")

	fx.clock.Advance(4 * time.Second)
	assert.Equal(t, 30*time.Second, drain(t, fx.sender))

	reqs := fx.transport.requests()
	require.Len(t, reqs, 5)
	for i := range 4 {
		assert.Equal(t, head.Nonce, reqs[i].Nonce)
		assert.Equal(t, head.Body, reqs[i].Body, "attempt %d must resend the same bytes", i+1)
	}
	assert.Equal(t, payloads[1].Nonce, reqs[4].Nonce)

	var outcomes []sender.Outcome
	for _, ev := range collect(events) {
		outcomes = append(outcomes, ev.Outcome)
	}
	assert.Equal(t, []sender.Outcome{
		sender.OutcomeRetrying, sender.OutcomeRetrying, sender.OutcomeRetrying,
		sender.OutcomeSent, sender.OutcomeSent,
	}, outcomes)
}

func TestSender_DropsPermanentFailures(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &apiclient.APIError{StatusCode: http.StatusUnprocessableEntity, Body: "bad label"})
	fx.sender.SetCredentials(anonymous(t))
	events, unsubscribe := fx.sender.Subscribe(8)
	defer unsubscribe()

	payloads := fx.enqueueEvents(t, "invalid", "valid")
	drain(t, fx.sender)

	assert.Equal(t, []string{payloads[0].Nonce, payloads[1].Nonce}, fx.transport.nonces())

	got := collect(events)
	require.Len(t, got, 2)
	assert.Equal(t, sender.OutcomeDropped, got[0].Outcome)
	assert.Equal(t, payloads[0].Nonce, got[0].Nonce)
	assert.Equal(t, payload.KindEvent, got[0].Kind)
	assert.Error(t, got[0].Err)
	assert.Equal(t, sender.OutcomeSent, got[1].Outcome)

	n, err := fx.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSender_HonoursRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		retryAfter time.Duration
		want       time.Duration
	}{
		{"Should wait for a longer Retry-After", 90 * time.Second, 90 * time.Second},
		{"Should keep the backoff when Retry-After is shorter", 100 * time.Millisecond, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(t, &apiclient.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: tt.retryAfter})
			fx.sender.SetCredentials(anonymous(t))
			fx.enqueueEvents(t, "launch")

			assert.Equal(t, tt.want, drain(t, fx.sender))
		})
	}
}

func TestSender_BlocksQueueBehindRetryingHead(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &apiclient.APIError{StatusCode: http.StatusServiceUnavailable})
	fx.sender.SetCredentials(anonymous(t))

	payloads := fx.enqueueEvents(t, "profile", "message")
	drain(t, fx.sender)
	fx.sender.Wake()
	drain(t, fx.sender)

	assert.Equal(t, []string{payloads[0].Nonce}, fx.transport.nonces())
}

// corruptHead reports the real head as undecodable once.
type corruptHead struct {
	store.Queue
	once sync.Once
}

func (c *corruptHead) Peek(ctx context.Context) (store.Entry, bool, error) {
	entry, ok, err := c.Queue.Peek(ctx)
	if err != nil || !ok {
		return entry, ok, err
	}
	var corrupt error
	c.once.Do(func() {
		corrupt = &store.CorruptEntryError{ID: entry.ID, Err: fmt.Errorf("unexpected end of JSON input")}
	})
	if corrupt != nil {
		return store.Entry{}, false, corrupt
	}
	return entry, true, nil
}

func TestSender_RemovesCorruptEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.NewFake(testNow)
	q := openQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	tr := &fakeTransport{}
	s := sender.New(discardLogger(), testConfig(), &corruptHead{Queue: q}, tr, sender.WithClock(clk))
	s.SetCredentials(anonymous(t))

	f := payload.NewFactory(payload.FactoryConfig{Clock: clk})
	var nonces []string
	for _, name := range []string{"broken", "fine"} {
		p, err := f.Event(payload.EventInput{CodePoint: "local#app#" + name})
		require.NoError(t, err)
		_, err = s.Enqueue(ctx, p)
		require.NoError(t, err)
		nonces = append(nonces, p.Nonce)
	}

	drain(t, s)

	assert.Equal(t, []string{nonces[1]}, tr.nonces())
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSender_ReplaysQueueAfterRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")
	clk := clock.NewFake(testNow)
	f := payload.NewFactory(payload.FactoryConfig{Clock: clk})

	q1, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	first := sender.New(discardLogger(), testConfig(), q1, &fakeTransport{}, sender.WithClock(clk))

	var want []string
	for _, name := range []string{"a", "b", "c"} {
		p, err := f.Event(payload.EventInput{CodePoint: "local#app#" + name})
		require.NoError(t, err)
		_, err = first.Enqueue(ctx, p)
		require.NoError(t, err)
		want = append(want, p.Nonce)
	}
	require.NoError(t, q1.Close())

	q2 := openQueue(t, path)
	tr := &fakeTransport{}
	second := sender.New(discardLogger(), testConfig(), q2, tr, sender.WithClock(clk))
	second.SetCredentials(anonymous(t))
	drain(t, second)

	assert.Equal(t, want, tr.nonces())
}

func TestSender_Run(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.transport.notify = make(chan string, 4)
	fx.sender.SetCredentials(anonymous(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.sender.Run(ctx) }()

	payloads := fx.enqueueEvents(t, "launch")

	select {
	case nonce := <-fx.transport.notify:
		assert.Equal(t, payloads[0].Nonce, nonce)
	case <-time.After(5 * time.Second):
		t.Fatal("payload was not sent")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestSender_SubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	ch, unsubscribe := fx.sender.Subscribe(1)
	unsubscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
}

func TestSender_Metrics(t *testing.T) {
	fx := newFixture(t,
		errTimeout,
		&apiclient.APIError{StatusCode: http.StatusBadRequest},
	)
	fx.sender.SetCredentials(anonymous(t))

	labels := func(outcome string) map[string]string {
		return map[string]string{"kind": "event", "outcome": outcome}
	}

	testsupport.AssertMetricDelta(t, "apptentive_sender_payloads_total", labels("retrying"), 1, func() {
		fx.enqueueEvents(t, "a", "b", "c")
		drain(t, fx.sender)
	})
	testsupport.AssertMetricDelta(t, "apptentive_sender_payloads_total", labels("dropped"), 1, func() {
		fx.clock.Advance(time.Second)
		drain(t, fx.sender)
	})
	assert.Zero(t, testsupport.GetMetricValue(t, "apptentive_sender_queue_depth", nil))
}
