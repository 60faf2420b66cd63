// Package payload turns domain changes into durable, immutable descriptions
// of backend API writes. A payload's bytes are fixed at construction so every
// retry is identical and the server can deduplicate by nonce.
package payload

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Kind identifies the API write a payload performs.
type Kind string

const (
	KindEvent          Kind = "event"
	KindSurveyResponse Kind = "survey_response"
	KindMessage        Kind = "message"
	KindPerson         Kind = "person"
	KindDevice         Kind = "device"
	KindAppRelease     Kind = "app_release"
)

// Content types used by payload bodies.
const (
	ContentTypeJSON      = "application/json;charset=UTF-8"
	multipartContentType = "multipart/form-data"
)

// Payload is one pending write. Construct it with a Factory; never mutate it.
type Payload struct {
	Nonce        string           `json:"nonce"`
	Kind         Kind             `json:"kind"`
	Method       string           `json:"method"`
	PathTemplate string           `json:"path"`
	ContentType  string           `json:"content_type"`
	Body         []byte           `json:"body"`
	Attachments  []AttachmentInfo `json:"attachments,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// AttachmentInfo describes a file carried in a multipart body.
type AttachmentInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// IsMultipart reports whether the body is a multipart document.
func (p Payload) IsMultipart() bool {
	return len(p.Attachments) > 0
}

// String is used in log lines.
func (p Payload) String() string {
	return fmt.Sprintf("%s %s (%s, nonce %s)", p.Method, p.PathTemplate, p.Kind, p.Nonce)
}

// Common carries the fields every payload body includes.
type Common struct {
	Nonce           string  `json:"nonce"`
	ClientCreatedAt float64 `json:"client_created_at"`
	UTCOffset       int     `json:"client_created_at_utc_offset"`
	SessionID       string  `json:"session_id,omitempty"`
}

// CreatedAt converts ClientCreatedAt back into a timestamp.
func (c Common) CreatedAt() time.Time {
	return time.UnixMilli(int64(math.Round(c.ClientCreatedAt * 1000)))
}

func newCommon(nonce string, createdAt time.Time, sessionID string) Common {
	_, offset := createdAt.Zone()
	return Common{
		Nonce:           nonce,
		ClientCreatedAt: float64(createdAt.UnixMilli()) / 1000,
		UTCOffset:       offset,
		SessionID:       sessionID,
	}
}

// wrap nests body under its kind's root key, e.g. {"event": {...}}.
func wrap(root string, body any) ([]byte, error) {
	data, err := json.Marshal(map[string]any{root: body})
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", root, err)
	}
	return data, nil
}
