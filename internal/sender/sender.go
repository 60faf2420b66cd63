// Package sender drains the durable payload queue against the API.
//
// Delivery is strictly head-first: the next payload is never attempted
// before the current head has been sent or dropped. Retryable failures keep
// the head in place and schedule a retry with exponential backoff.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rafaeljc/apptentivekit/internal/apiclient"
	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/observability"
	"github.com/rafaeljc/apptentivekit/internal/payload"
	"github.com/rafaeljc/apptentivekit/internal/store"
	"github.com/rafaeljc/apptentivekit/internal/validation"
)

// Transport delivers one payload.
type Transport interface {
	Send(ctx context.Context, creds credentials.Credentials, p payload.Payload) error
}

var _ Transport = (*apiclient.Client)(nil)

// Sender owns the drain loop for one payload queue.
type Sender struct {
	logger    *slog.Logger
	config    Config
	queue     store.Queue
	transport Transport
	clock     clock.Clock
	random    func() float64

	wake chan struct{}

	// drainMu serializes drain passes.
	drainMu sync.Mutex

	mu        sync.Mutex
	creds     credentials.Credentials
	state     State
	headID    string
	headNonce string
	attempts  int
	lastErr   error
	nextRetry time.Time
	subs      map[int]chan DeliveryEvent
	nextSub   int
}

// Option customizes a Sender.
type Option func(*Sender)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Sender) { s.clock = c }
}

// WithRandom replaces the jitter source. f must return values in [0, 1).
func WithRandom(f func() float64) Option {
	return func(s *Sender) { s.random = f }
}

// New creates a Sender.
func New(logger *slog.Logger, cfg Config, queue store.Queue, transport Transport, opts ...Option) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertProvided(queue, "sender queue")
	validation.AssertProvided(transport, "sender transport")

	s := &Sender{
		logger:    logger,
		config:    cfg.withDefaults(),
		queue:     queue,
		transport: transport,
		clock:     clock.Real(),
		random:    rand.Float64,
		wake:      make(chan struct{}, 1),
		subs:      make(map[int]chan DeliveryEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue persists p at the tail of the queue and wakes the drain loop.
// Once Enqueue returns the payload survives a restart.
func (s *Sender) Enqueue(ctx context.Context, p payload.Payload) (store.Entry, error) {
	entry, err := s.queue.Append(ctx, p)
	if err != nil {
		return store.Entry{}, err
	}
	s.logger.Debug("payload queued", "payload", p.String(), "entry_id", entry.ID)
	s.updateDepth(ctx)
	s.notify()
	return entry, nil
}

// SetCredentials replaces the credentials used to send and wakes the loop.
func (s *Sender) SetCredentials(c credentials.Credentials) {
	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
	s.notify()
}

// Credentials returns the credentials used to send.
func (s *Sender) Credentials() credentials.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// Wake asks the loop to run a drain pass now. Pending backoff still applies.
func (s *Sender) Wake() { s.notify() }

func (s *Sender) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the pipeline.
func (s *Sender) Status(ctx context.Context) (Status, error) {
	n, err := s.queue.Len(ctx)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		QueueLength:  n,
		State:        s.state,
		HeadNonce:    s.headNonce,
		HeadAttempts: s.attempts,
		NextRetry:    s.nextRetry,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if n == 0 && st.State != StateSending {
		st.State = StateIdle
	}
	return st, nil
}

// Run drains the queue until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	s.logger.Info("starting payload sender",
		slog.String("base_backoff", s.config.BaseBackoff.String()),
		slog.String("max_backoff", s.config.MaxBackoff.String()),
	)

	for {
		wait, err := s.DrainOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("drain pass failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("payload sender stopping...")
			return nil
		case <-s.wake:
		case <-s.clock.After(wait):
		}
	}
}

// DrainOnce sends queued payloads head-first until the queue is empty, the
// head must wait for a retry, or sending is gated on credentials. It returns
// how long the caller should wait before the next pass.
func (s *Sender) DrainOnce(ctx context.Context) (time.Duration, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	defer s.updateDepth(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		creds := s.Credentials()
		if !creds.HasConversation() {
			s.setState(StateWaitingForConversation)
			return s.config.IdleInterval, nil
		}

		if wait := s.untilRetry(); wait > 0 {
			return wait, nil
		}

		entry, ok, err := s.queue.Peek(ctx)
		if err != nil {
			var corrupt *store.CorruptEntryError
			if errors.As(err, &corrupt) {
				if err := s.dropCorrupt(ctx, corrupt); err != nil {
					return s.config.IdleInterval, err
				}
				continue
			}
			return s.config.IdleInterval, err
		}
		if !ok {
			s.resetHead()
			s.setState(StateIdle)
			return s.config.IdleInterval, nil
		}

		done, wait, err := s.attempt(ctx, creds, entry)
		if err != nil || !done {
			return wait, err
		}
	}
}

// attempt sends the head entry once. done reports whether the entry left the
// queue.
func (s *Sender) attempt(ctx context.Context, creds credentials.Credentials, entry store.Entry) (bool, time.Duration, error) {
	p := entry.Payload

	s.mu.Lock()
	if s.headID != entry.ID {
		s.headID, s.headNonce, s.attempts = entry.ID, p.Nonce, 0
		s.lastErr, s.nextRetry = nil, time.Time{}
	}
	s.attempts++
	attemptNum := s.attempts
	s.state = StateSending
	s.mu.Unlock()

	start := s.clock.Now()
	sendErr := s.transport.Send(ctx, creds, p)
	observability.SendDuration.WithLabelValues(string(p.Kind)).Observe(s.clock.Now().Sub(start).Seconds())

	switch apiclient.Classify(sendErr) {
	case apiclient.OutcomeSuccess:
		if err := s.queue.Remove(ctx, entry.ID); err != nil {
			return false, s.config.IdleInterval, err
		}
		observability.PayloadsTotal.WithLabelValues(string(p.Kind), string(OutcomeSent)).Inc()
		s.logger.Debug("payload sent", "payload", p.String(), "attempt", attemptNum)
		s.resetHead()
		s.publish(DeliveryEvent{EntryID: entry.ID, Nonce: p.Nonce, Kind: p.Kind, Outcome: OutcomeSent, Attempt: attemptNum})
		return true, 0, nil

	case apiclient.OutcomePermanent:
		if err := s.queue.Remove(ctx, entry.ID); err != nil {
			return false, s.config.IdleInterval, err
		}
		observability.PayloadsTotal.WithLabelValues(string(p.Kind), string(OutcomeDropped)).Inc()
		s.logger.Warn("payload rejected, dropping",
			slog.String("payload", p.String()),
			slog.Int("attempt", attemptNum),
			slog.String("error", sendErr.Error()),
		)
		s.resetHead()
		s.publish(DeliveryEvent{EntryID: entry.ID, Nonce: p.Nonce, Kind: p.Kind, Outcome: OutcomeDropped, Attempt: attemptNum, Err: sendErr})
		return true, 0, nil

	default:
		if ctx.Err() != nil {
			// Shutdown interrupted the request; it does not count as a failure.
			s.mu.Lock()
			s.attempts--
			s.mu.Unlock()
			return false, 0, ctx.Err()
		}

		delay := max(s.config.Backoff(attemptNum, s.random()), apiclient.RetryAfter(sendErr))
		next := s.clock.Now().Add(delay)

		s.mu.Lock()
		s.state = StateBackingOff
		s.lastErr = sendErr
		s.nextRetry = next
		s.mu.Unlock()

		observability.PayloadsTotal.WithLabelValues(string(p.Kind), string(OutcomeRetrying)).Inc()
		s.logger.Info("payload send failed, will retry",
			slog.String("payload", p.String()),
			slog.Int("attempt", attemptNum),
			slog.String("retry_in", delay.String()),
			slog.String("error", sendErr.Error()),
		)
		s.publish(DeliveryEvent{EntryID: entry.ID, Nonce: p.Nonce, Kind: p.Kind, Outcome: OutcomeRetrying, Attempt: attemptNum, Err: sendErr, NextRetry: next})
		return false, delay, nil
	}
}

func (s *Sender) dropCorrupt(ctx context.Context, corrupt *store.CorruptEntryError) error {
	if err := s.queue.Remove(ctx, corrupt.ID); err != nil {
		return err
	}
	observability.PayloadsTotal.WithLabelValues("unknown", string(OutcomeDropped)).Inc()
	s.logger.Error("dropping corrupt queue entry",
		slog.String("entry_id", corrupt.ID),
		slog.String("error", corrupt.Err.Error()),
	)
	s.resetHead()
	s.publish(DeliveryEvent{EntryID: corrupt.ID, Outcome: OutcomeDropped, Err: corrupt})
	return nil
}

// untilRetry returns the remaining backoff of the current head.
func (s *Sender) untilRetry() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextRetry.IsZero() {
		return 0
	}
	wait := s.nextRetry.Sub(s.clock.Now())
	if wait <= 0 {
		return 0
	}
	s.state = StateBackingOff
	return wait
}

func (s *Sender) resetHead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headID, s.headNonce, s.attempts = "", "", 0
	s.lastErr, s.nextRetry = nil, time.Time{}
}

func (s *Sender) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Sender) updateDepth(ctx context.Context) {
	n, err := s.queue.Len(ctx)
	if err != nil {
		return
	}
	observability.QueueDepth.Set(float64(n))
}
