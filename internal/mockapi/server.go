// Package mockapi is an in-process fake of the Apptentive backend. Tests and
// the apptentive-mockapi command use it to exercise the SDK end to end.
package mockapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/config"
	"github.com/rafaeljc/apptentivekit/internal/payload"
	"github.com/rafaeljc/apptentivekit/internal/validation"
)

// Config configures the fake backend.
type Config struct {
	AppKey       string
	AppSignature string
	// JWTSecret verifies end-user login tokens (HS256).
	JWTSecret string
	// Manifest is served for every conversation. Empty serves no interactions.
	Manifest []byte
	// MaxAge is advertised in the Cache-Control header of manifest responses.
	MaxAge time.Duration
	Clock  clock.Clock
}

// ConfigFrom maps the environment configuration onto a Config, reading the
// manifest file when one is set.
func ConfigFrom(c config.MockAPIConfig) (Config, error) {
	cfg := Config{
		AppKey:       c.AppKey,
		AppSignature: c.AppSignature,
		JWTSecret:    c.JWTSecret,
		MaxAge:       c.MaxAge,
	}
	if c.ManifestPath != "" {
		data, err := os.ReadFile(c.ManifestPath)
		if err != nil {
			return cfg, fmt.Errorf("read manifest: %w", err)
		}
		cfg.Manifest = data
	}
	return cfg, nil
}

// Server holds the fake backend state. It is safe for concurrent use.
type Server struct {
	// Router serves the API.
	Router *chi.Mux

	logger *slog.Logger
	cfg    Config
	clock  clock.Clock

	mu            sync.Mutex
	manifest      []byte
	conversations map[string]*Conversation
	tokens        map[string]string
	nonces        map[string]struct{}
	received      []Received
	duplicates    int
	failures      []*scriptedFailure
}

const emptyManifest = `{"interactions":[],"targets":{}}`

// New creates the fake backend.
func New(logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertNotEmpty(cfg.AppKey, "mockapi app key")
	validation.AssertNotEmpty(cfg.AppSignature, "mockapi app signature")
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if len(cfg.Manifest) == 0 {
		cfg.Manifest = []byte(emptyManifest)
	}

	s := &Server{
		Router:        chi.NewRouter(),
		logger:        logger,
		cfg:           cfg,
		clock:         cfg.Clock,
		manifest:      cfg.Manifest,
		conversations: make(map[string]*Conversation),
		tokens:        make(map[string]string),
		nonces:        make(map[string]struct{}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.Router
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(recordMetrics)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(s.requireAppCredentials)
	r.Use(s.scriptedFailures)

	r.Post("/conversations", s.handleCreateConversation)

	r.Route("/conversations/{conversationID}", func(r chi.Router) {
		r.Use(s.requireBearer)

		r.Post("/session", s.handleLogin)
		r.Get("/interactions", s.handleInteractions)

		r.Post("/events", s.receive(payload.KindEvent))
		r.Post("/surveys/{surveyID}/responses", s.receive(payload.KindSurveyResponse))
		r.Post("/messages", s.receive(payload.KindMessage))
		r.Put("/person", s.receive(payload.KindPerson))
		r.Put("/device", s.receive(payload.KindDevice))
		r.Put("/app_release", s.receive(payload.KindAppRelease))
	})
}

// ServeHTTP lets the Server be used directly as a handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// SetManifest replaces the manifest served to every conversation.
func (s *Server) SetManifest(doc []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = slices.Clone(doc)
}

// FailNext makes the next n requests fail with status. Scripts queue up in
// call order.
func (s *Server) FailNext(status, n int) {
	s.FailNextWithRetryAfter(status, n, 0)
}

// FailNextWithRetryAfter is FailNext with a Retry-After header.
func (s *Server) FailNextWithRetryAfter(status, n int, retryAfter time.Duration) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &scriptedFailure{status: status, retryAfter: retryAfter, remaining: n})
}

// Received returns every accepted payload in arrival order. Duplicates are
// not included.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// ReceivedKind returns accepted payloads of one kind.
func (s *Server) ReceivedKind(kind payload.Kind) []Received {
	var out []Received
	for _, r := range s.Received() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Duplicates returns how many payloads were acknowledged without being
// recorded because their nonce had been seen.
func (s *Server) Duplicates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates
}

// Conversation returns a copy of a conversation record.
func (s *Server) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// ConversationCount returns the number of conversations created.
func (s *Server) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}
