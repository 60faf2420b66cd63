package mockapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/rafaeljc/apptentivekit/internal/logger"
	"github.com/rafaeljc/apptentivekit/internal/payload"
)

const maxBody = 16 << 20

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil || !json.Valid(body) {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "conversation request must be a JSON object")
		return
	}

	conv := &Conversation{
		ID:       ulid.Make().String(),
		PersonID: ulid.Make().String(),
		DeviceID: ulid.Make().String(),
		Snapshot: body,
	}
	token := uuid.NewString()

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.tokens[token] = conv.ID
	s.mu.Unlock()

	log.Info("conversation created", slog.String("conversation_id", conv.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, conversationResponse{
		Token:    token,
		ID:       conv.ID,
		PersonID: conv.PersonID,
		DeviceID: conv.DeviceID,
	})
}

// handleLogin verifies the end-user JWT and issues a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var req sessionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Token == "" {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "login requires a token")
		return
	}

	subject, err := s.verifyUserToken(req.Token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "ERR_INVALID_JWT", err.Error())
		return
	}

	session := uuid.NewString()
	s.mu.Lock()
	s.conversations[id].Subject = subject
	s.tokens[session] = id
	s.mu.Unlock()

	logger.FromContext(r.Context()).Info("user logged in",
		slog.String("conversation_id", id),
		slog.String("subject", subject),
	)
	render.JSON(w, r, sessionResponse{Token: session})
}

func (s *Server) verifyUserToken(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return "", fmt.Errorf("verify login token: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("login token has no subject")
	}
	return sub, nil
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	doc := s.manifest
	s.mu.Unlock()

	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(s.cfg.MaxAge.Seconds())))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// receive validates a payload body of the given kind and records it once per
// nonce. Replays of a known nonce are acknowledged without being recorded.
func (s *Server) receive(kind payload.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "ERR_READ", err.Error())
			return
		}

		rec := Received{
			ConversationID: chi.URLParam(r, "conversationID"),
			Kind:           kind,
			Method:         r.Method,
			Path:           r.URL.EscapedPath(),
			ContentType:    r.Header.Get("Content-Type"),
			Body:           body,
			ReceivedAt:     s.clock.Now(),
		}

		nonce, attachments, err := validate(kind, rec.ContentType, body)
		if err != nil {
			log.Warn("rejecting payload", slog.String("kind", string(kind)), slog.String("error", err.Error()))
			writeError(w, r, http.StatusUnprocessableEntity, "ERR_INVALID_PAYLOAD", err.Error())
			return
		}
		rec.Nonce = nonce
		rec.Attachments = attachments

		s.mu.Lock()
		_, seen := s.nonces[nonce]
		if seen {
			s.duplicates++
		} else {
			s.nonces[nonce] = struct{}{}
			s.received = append(s.received, rec)
		}
		s.mu.Unlock()

		if seen {
			log.Info("duplicate payload acknowledged", slog.String("nonce", nonce))
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]string{"nonce": nonce})
	}
}

// validate decodes the body the way the backend would and returns its nonce.
func validate(kind payload.Kind, contentType string, body []byte) (string, []payload.Attachment, error) {
	if kind == payload.KindMessage && strings.HasPrefix(contentType, "multipart/") {
		msg, attachments, err := payload.DecodeMultipartMessage(contentType, bytes.NewReader(body))
		if err != nil {
			return "", nil, err
		}
		if msg.Nonce == "" {
			return "", nil, fmt.Errorf("message part has no nonce")
		}
		return msg.Nonce, attachments, nil
	}

	p := payload.Payload{Kind: kind, ContentType: contentType, Body: body}
	var err error
	switch kind {
	case payload.KindEvent:
		var ev payload.EventBody
		if ev, err = payload.DecodeEvent(p); err == nil && ev.Label == "" {
			err = fmt.Errorf("event has no label")
		}
	case payload.KindSurveyResponse:
		_, err = payload.DecodeSurveyResponse(p)
	case payload.KindMessage:
		_, _, err = payload.DecodeMessage(p)
	case payload.KindPerson:
		_, err = payload.DecodePerson(p)
	case payload.KindDevice:
		_, err = payload.DecodeDevice(p)
	case payload.KindAppRelease:
		_, err = payload.DecodeAppRelease(p)
	}
	if err != nil {
		return "", nil, err
	}

	common, err := payload.DecodeCommon(p)
	if err != nil {
		return "", nil, err
	}
	if common.Nonce == "" {
		return "", nil, fmt.Errorf("%s payload has no nonce", kind)
	}
	if common.ClientCreatedAt <= 0 {
		return "", nil, fmt.Errorf("%s payload has no client_created_at", kind)
	}
	return common.Nonce, nil, nil
}

// IssueUserToken signs an HS256 login token for subject, as a host app's
// backend would.
func IssueUserToken(secret, subject string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
