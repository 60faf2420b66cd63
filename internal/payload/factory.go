package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/customdata"
)

const conversationPrefix = "conversations/:conversation_id"

// Body shapes. They are exported so tests and the mock API can decode what
// the factory produced.
type (
	// EventBody is sent under the "event" key.
	EventBody struct {
		Common
		Label         string                 `json:"label"`
		InteractionID string                 `json:"interaction_id,omitempty"`
		CustomData    *customdata.CustomData `json:"custom_data,omitempty"`
		Extended      []map[string]any       `json:"extended_data,omitempty"`
	}

	// SurveyResponseBody is sent under the "response" key.
	SurveyResponseBody struct {
		Common
		SurveyID string              `json:"id"`
		Answers  map[string][]Answer `json:"answers"`
	}

	// MessageBody is sent under the "message" key.
	MessageBody struct {
		Common
		Body       string                 `json:"body,omitempty"`
		Hidden     bool                   `json:"hidden,omitempty"`
		CustomData *customdata.CustomData `json:"custom_data,omitempty"`
	}

	// PersonBody is sent under the "person" key.
	PersonBody struct {
		Common
		conversation.Person
	}

	// DeviceBody is sent under the "device" key.
	DeviceBody struct {
		Common
		conversation.Device
	}

	// AppReleaseBody is sent under the "app_release" key.
	AppReleaseBody struct {
		Common
		conversation.AppRelease
	}
)

// Answer is one answer to a survey question. Choice questions set ID,
// free-form and range questions set Value.
type Answer struct {
	ID    string `json:"id,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Attachment is a file sent with a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// EventInput describes an engaged event.
type EventInput struct {
	CodePoint     string
	InteractionID string
	CustomData    customdata.CustomData
	ExtendedData  []map[string]any
}

// MessageInput describes an outgoing message.
type MessageInput struct {
	Body        string
	Hidden      bool
	CustomData  customdata.CustomData
	Attachments []Attachment
}

// FactoryConfig configures a Factory. Nil fields get defaults.
type FactoryConfig struct {
	Clock     clock.Clock
	SessionID string
	// NewNonce defaults to random UUIDs.
	NewNonce func() string
}

// Factory stamps payloads with a nonce, creation time and session id.
type Factory struct {
	clock     clock.Clock
	sessionID string
	newNonce  func() string
}

// NewFactory creates a Factory.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.NewNonce == nil {
		cfg.NewNonce = uuid.NewString
	}
	return &Factory{clock: cfg.Clock, sessionID: cfg.SessionID, newNonce: cfg.NewNonce}
}

// SessionID returns the session stamped on payloads.
func (f *Factory) SessionID() string { return f.sessionID }

func (f *Factory) stamp() (string, time.Time, Common) {
	nonce := f.newNonce()
	now := f.clock.Now().Truncate(time.Millisecond)
	return nonce, now, newCommon(nonce, now, f.sessionID)
}

// Event builds the payload recording an engaged event.
func (f *Factory) Event(in EventInput) (Payload, error) {
	if in.CodePoint == "" {
		return Payload{}, fmt.Errorf("event payload requires a code point")
	}
	nonce, now, common := f.stamp()
	body := EventBody{
		Common:        common,
		Label:         in.CodePoint,
		InteractionID: in.InteractionID,
		CustomData:    optionalCustomData(in.CustomData),
		Extended:      in.ExtendedData,
	}
	return f.jsonPayload(KindEvent, http.MethodPost, conversationPrefix+"/events", body, nonce, now)
}

// SurveyResponse builds the payload carrying a survey's answers.
func (f *Factory) SurveyResponse(surveyID string, answers map[string][]Answer) (Payload, error) {
	if surveyID == "" {
		return Payload{}, fmt.Errorf("survey response payload requires a survey id")
	}
	nonce, now, common := f.stamp()
	body := SurveyResponseBody{Common: common, SurveyID: surveyID, Answers: answers}
	path := conversationPrefix + "/surveys/" + url.PathEscape(surveyID) + "/responses"
	return f.jsonPayload(KindSurveyResponse, http.MethodPost, path, body, nonce, now)
}

// Person builds the payload updating the person.
func (f *Factory) Person(p conversation.Person) (Payload, error) {
	nonce, now, common := f.stamp()
	return f.jsonPayload(KindPerson, http.MethodPut, conversationPrefix+"/person",
		PersonBody{Common: common, Person: p}, nonce, now)
}

// Device builds the payload updating the device.
func (f *Factory) Device(d conversation.Device) (Payload, error) {
	nonce, now, common := f.stamp()
	return f.jsonPayload(KindDevice, http.MethodPut, conversationPrefix+"/device",
		DeviceBody{Common: common, Device: d}, nonce, now)
}

// AppRelease builds the payload updating the app release.
func (f *Factory) AppRelease(a conversation.AppRelease) (Payload, error) {
	nonce, now, common := f.stamp()
	return f.jsonPayload(KindAppRelease, http.MethodPut, conversationPrefix+"/app_release",
		AppReleaseBody{Common: common, AppRelease: a}, nonce, now)
}

// Message builds the payload sending a message. Messages with attachments
// are encoded as one multipart document.
func (f *Factory) Message(in MessageInput) (Payload, error) {
	nonce, now, common := f.stamp()
	body := MessageBody{
		Common:     common,
		Body:       in.Body,
		Hidden:     in.Hidden,
		CustomData: optionalCustomData(in.CustomData),
	}
	const path = conversationPrefix + "/messages"

	if len(in.Attachments) == 0 {
		return f.jsonPayload(KindMessage, http.MethodPost, path, body, nonce, now)
	}

	data, contentType, infos, err := encodeMultipart(nonce, body, in.Attachments)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Nonce:        nonce,
		Kind:         KindMessage,
		Method:       http.MethodPost,
		PathTemplate: path,
		ContentType:  contentType,
		Body:         data,
		Attachments:  infos,
		CreatedAt:    now,
	}, nil
}

func (f *Factory) jsonPayload(kind Kind, method, path string, body any, nonce string, now time.Time) (Payload, error) {
	data, err := wrap(Root(kind), body)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Nonce:        nonce,
		Kind:         kind,
		Method:       method,
		PathTemplate: path,
		ContentType:  ContentTypeJSON,
		Body:         data,
		CreatedAt:    now,
	}, nil
}

// Boundary returns the multipart boundary used for a nonce. Deriving it from
// the nonce keeps retried bodies byte-identical.
func Boundary(nonce string) string {
	return "apptentive-" + strings.ReplaceAll(nonce, "-", "")
}

func encodeMultipart(nonce string, body MessageBody, attachments []Attachment) ([]byte, string, []AttachmentInfo, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(Boundary(nonce)); err != nil {
		return nil, "", nil, fmt.Errorf("multipart boundary: %w", err)
	}

	message, err := json.Marshal(body)
	if err != nil {
		return nil, "", nil, fmt.Errorf("encode message payload: %w", err)
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="message"`)
	header.Set("Content-Type", ContentTypeJSON)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", nil, err
	}
	if _, err := part.Write(message); err != nil {
		return nil, "", nil, err
	}

	infos := make([]AttachmentInfo, 0, len(attachments))
	for _, a := range attachments {
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file[]"; filename=%q`, a.Name))
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", nil, err
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", nil, err
		}
		infos = append(infos, AttachmentInfo{Name: a.Name, ContentType: contentType, Size: len(a.Data)})
	}

	if err := w.Close(); err != nil {
		return nil, "", nil, err
	}
	return buf.Bytes(), multipartContentType + "; boundary=" + w.Boundary(), infos, nil
}

func optionalCustomData(cd customdata.CustomData) *customdata.CustomData {
	if cd.Len() == 0 {
		return nil
	}
	out := cd.Clone()
	return &out
}
