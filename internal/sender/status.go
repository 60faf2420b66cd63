package sender

import (
	"time"

	"github.com/rafaeljc/apptentivekit/internal/payload"
)

// State is what the drain loop is currently doing.
type State int

const (
	// StateIdle means the queue is empty.
	StateIdle State = iota
	// StateWaitingForConversation means payloads are held until credentials
	// reach at least Anonymous.
	StateWaitingForConversation
	// StateSending means a request for the head payload is in flight.
	StateSending
	// StateBackingOff means the head payload failed and waits for its retry.
	StateBackingOff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForConversation:
		return "waiting_for_conversation"
	case StateSending:
		return "sending"
	case StateBackingOff:
		return "backing_off"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the delivery pipeline.
type Status struct {
	QueueLength  int
	State        State
	HeadNonce    string
	HeadAttempts int
	LastError    string
	NextRetry    time.Time
}

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeRetrying Outcome = "retrying"
	OutcomeDropped  Outcome = "dropped"
)

// DeliveryEvent is published after every attempt that changes a payload's
// fate.
type DeliveryEvent struct {
	EntryID   string
	Nonce     string
	Kind      payload.Kind
	Outcome   Outcome
	Attempt   int
	Err       error
	NextRetry time.Time
}

// Subscribe registers a listener for delivery events. Events are dropped for
// a subscriber whose buffer is full. The returned function unsubscribes and
// closes the channel.
func (s *Sender) Subscribe(buffer int) (<-chan DeliveryEvent, func()) {
	ch := make(chan DeliveryEvent, max(buffer, 1))

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Sender) publish(ev DeliveryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("delivery subscriber is full, dropping event", "nonce", ev.Nonce)
		}
	}
}

// Close unsubscribes every listener.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
