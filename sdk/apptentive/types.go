package apptentive

import (
	"context"
	"errors"

	"github.com/rafaeljc/apptentivekit/internal/apiclient"
	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/customdata"
	"github.com/rafaeljc/apptentivekit/internal/manifest"
	"github.com/rafaeljc/apptentivekit/internal/payload"
	"github.com/rafaeljc/apptentivekit/internal/sender"
	"github.com/rafaeljc/apptentivekit/internal/targeting"
)

var (
	// ErrInternalInconsistency reports a local invariant violation: an
	// undecodable persisted conversation, or a matched interaction with no
	// Presenter to show it.
	ErrInternalInconsistency = errors.New("apptentive: internal inconsistency")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("apptentive: client is closed")

	// ErrNotConnected is returned by operations that need app credentials
	// before Connect has succeeded.
	ErrNotConnected = errors.New("apptentive: client is not connected")
)

// Re-exported domain types.
type (
	Event          = targeting.Event
	Interaction    = manifest.Interaction
	Person         = conversation.Person
	Device         = conversation.Device
	AppRelease     = conversation.AppRelease
	Environment    = conversation.Environment
	Conversation   = conversation.Conversation
	Credentials    = credentials.Credentials
	CustomData     = customdata.CustomData
	Answer         = payload.Answer
	Attachment     = payload.Attachment
	MessageInput   = payload.MessageInput
	DeliveryStatus = sender.Status
	DeliveryEvent  = sender.DeliveryEvent
)

// NewEvent builds a host app event (vendor "local").
func NewEvent(name string) Event { return targeting.NewEvent(name) }

// NewCustomData returns empty custom data.
func NewCustomData() CustomData { return customdata.New() }

// Presenter shows interactions. It is called from the client's worker
// goroutine and should return once the interaction is on screen; a non-nil
// error means it was not shown.
type Presenter interface {
	Present(ctx context.Context, interaction Interaction) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, interaction Interaction) error

func (f PresenterFunc) Present(ctx context.Context, interaction Interaction) error {
	return f(ctx, interaction)
}

// API is the subset of the backend client the SDK uses.
type API interface {
	CreateConversation(ctx context.Context, creds Credentials, req apiclient.ConversationRequest) (apiclient.ConversationResponse, error)
	FetchManifest(ctx context.Context, creds Credentials) (manifest.Manifest, error)
	Login(ctx context.Context, creds Credentials, userJWT string) (apiclient.LoginResponse, error)
	Send(ctx context.Context, creds Credentials, p payload.Payload) error
}

var _ API = (*apiclient.Client)(nil)
