package mockapi

import (
	"time"

	"github.com/rafaeljc/apptentivekit/internal/payload"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Received is one payload accepted by the fake backend.
type Received struct {
	ConversationID string
	Kind           payload.Kind
	Nonce          string
	Method         string
	Path           string
	ContentType    string
	Body           []byte
	Attachments    []payload.Attachment
	ReceivedAt     time.Time
}

// Conversation is the server-side record of a created conversation.
type Conversation struct {
	ID       string
	PersonID string
	DeviceID string
	// Subject is the JWT subject of the logged-in user, if any.
	Subject string
	// Snapshot is the body of the create request.
	Snapshot []byte
}

type conversationResponse struct {
	Token    string `json:"token"`
	ID       string `json:"id"`
	PersonID string `json:"person_id"`
	DeviceID string `json:"device_id"`
}

type sessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

type scriptedFailure struct {
	status     int
	retryAfter time.Duration
	remaining  int
}
