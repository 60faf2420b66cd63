// Package credentials models the conversation credential lifecycle:
// placeholder -> pending -> anonymous -> authenticated.
//
// Credentials is a value type. Transitions return a new value and never
// mutate the receiver, which lets callers persist the result explicitly.
package credentials

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrConfiguration reports missing or mismatched app credentials.
	ErrConfiguration = errors.New("invalid app credentials")

	// ErrInvalidTransition reports a lifecycle step attempted from the wrong state.
	ErrInvalidTransition = errors.New("invalid credentials transition")

	// ErrNoConversation reports a conversation-scoped request made before a
	// conversation exists.
	ErrNoConversation = errors.New("no conversation")
)

// Header names sent with every API request.
const (
	HeaderAppKey        = "APPTENTIVE-KEY"
	HeaderAppSignature  = "APPTENTIVE-SIGNATURE"
	HeaderAPIVersion    = "X-API-Version"
	HeaderAuthorization = "Authorization"

	// ConversationIDPlaceholder is substituted by ResolvePath.
	ConversationIDPlaceholder = ":conversation_id"
)

// State is a lifecycle stage. States are ordered.
type State int

const (
	Placeholder State = iota
	Pending
	Anonymous
	Authenticated
)

func (s State) String() string {
	switch s {
	case Placeholder:
		return "placeholder"
	case Pending:
		return "pending"
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "placeholder", "":
		*s = Placeholder
	case "pending":
		*s = Pending
	case "anonymous":
		*s = Anonymous
	case "authenticated":
		*s = Authenticated
	default:
		return fmt.Errorf("unknown credentials state %q", text)
	}
	return nil
}

// Credentials is the identity material attached to API requests.
type Credentials struct {
	State          State  `json:"state"`
	AppKey         string `json:"app_key,omitempty"`
	AppSignature   string `json:"app_signature,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Token          string `json:"token,omitempty"`
	AnonymousToken string `json:"anonymous_token,omitempty"`
	Subject        string `json:"subject,omitempty"`
}

// IsZero reports whether c has never been configured.
func (c Credentials) IsZero() bool { return c == Credentials{} }

// HasConversation reports whether conversation-scoped requests may be built.
func (c Credentials) HasConversation() bool { return c.State >= Anonymous }

// Configure records the app key and signature. Reconfiguring with the same
// key is a no-op; a different key is rejected.
func (c Credentials) Configure(key, signature string) (Credentials, error) {
	if key == "" || signature == "" {
		return c, fmt.Errorf("%w: app key and signature are required", ErrConfiguration)
	}

	if c.State == Placeholder {
		c.State = Pending
		c.AppKey = key
		c.AppSignature = signature
		return c, nil
	}

	if c.AppKey != key || c.AppSignature != signature {
		return c, fmt.Errorf("%w: app key does not match the stored conversation", ErrConfiguration)
	}
	return c, nil
}

// Anonymize attaches the conversation issued by the server.
func (c Credentials) Anonymize(conversationID, token string) (Credentials, error) {
	if c.State != Pending {
		return c, fmt.Errorf("%w: anonymize from %s", ErrInvalidTransition, c.State)
	}
	if conversationID == "" || token == "" {
		return c, fmt.Errorf("%w: conversation id and token are required", ErrInvalidTransition)
	}

	c.State = Anonymous
	c.ConversationID = conversationID
	c.Token = token
	c.AnonymousToken = token
	return c, nil
}

// Login associates the conversation with the end user identified by the JWT
// subject. token is the bearer issued for the authenticated session.
func (c Credentials) Login(userJWT, token string) (Credentials, error) {
	if c.State != Anonymous {
		return c, fmt.Errorf("%w: login from %s", ErrInvalidTransition, c.State)
	}
	sub, err := SubjectFromJWT(userJWT)
	if err != nil {
		return c, err
	}
	if token == "" {
		token = userJWT
	}

	c.State = Authenticated
	c.Subject = sub
	c.Token = token
	return c, nil
}

// Logout returns an authenticated conversation to the anonymous state.
func (c Credentials) Logout() (Credentials, error) {
	if c.State != Authenticated {
		return c, fmt.Errorf("%w: logout from %s", ErrInvalidTransition, c.State)
	}

	c.State = Anonymous
	c.Subject = ""
	c.Token = c.AnonymousToken
	return c, nil
}

// Headers returns the authentication headers for the current state.
func (c Credentials) Headers(apiVersion string) http.Header {
	h := make(http.Header)
	if c.AppKey != "" {
		h.Set(HeaderAppKey, c.AppKey)
	}
	if c.AppSignature != "" {
		h.Set(HeaderAppSignature, c.AppSignature)
	}
	if apiVersion != "" {
		h.Set(HeaderAPIVersion, apiVersion)
	}
	if c.HasConversation() && c.Token != "" {
		h.Set(HeaderAuthorization, "Bearer "+c.Token)
	}
	return h
}

// ResolvePath substitutes the conversation id into a path template.
func (c Credentials) ResolvePath(template string) (string, error) {
	if !strings.Contains(template, ConversationIDPlaceholder) {
		return template, nil
	}
	if !c.HasConversation() {
		return "", fmt.Errorf("%w: cannot resolve %q in state %s", ErrNoConversation, template, c.State)
	}
	return strings.ReplaceAll(template, ConversationIDPlaceholder, c.ConversationID), nil
}

// SubjectFromJWT extracts the "sub" claim without verifying the signature.
// Verification is the server's job; the SDK only needs the identity.
func SubjectFromJWT(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse login token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("login token has no subject claim")
	}
	return claims.Subject, nil
}
