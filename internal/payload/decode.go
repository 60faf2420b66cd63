package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
)

// ErrUnexpectedKind is returned when decoding a payload as the wrong kind.
var ErrUnexpectedKind = errors.New("unexpected payload kind")

var roots = map[Kind]string{
	KindEvent:          "event",
	KindSurveyResponse: "response",
	KindMessage:        "message",
	KindPerson:         "person",
	KindDevice:         "device",
	KindAppRelease:     "app_release",
}

// Root returns the top-level JSON key of a kind's body.
func Root(kind Kind) string { return roots[kind] }

// DecodeCommon extracts the universal fields from any payload.
func DecodeCommon(p Payload) (Common, error) {
	var c Common
	err := decodeInto(p, &c)
	return c, err
}

// DecodeEvent decodes an event payload.
func DecodeEvent(p Payload) (EventBody, error) {
	var b EventBody
	err := decodeKind(p, KindEvent, &b)
	return b, err
}

// DecodeSurveyResponse decodes a survey response payload.
func DecodeSurveyResponse(p Payload) (SurveyResponseBody, error) {
	var b SurveyResponseBody
	err := decodeKind(p, KindSurveyResponse, &b)
	return b, err
}

// DecodePerson decodes a person payload.
func DecodePerson(p Payload) (PersonBody, error) {
	var b PersonBody
	err := decodeKind(p, KindPerson, &b)
	return b, err
}

// DecodeDevice decodes a device payload.
func DecodeDevice(p Payload) (DeviceBody, error) {
	var b DeviceBody
	err := decodeKind(p, KindDevice, &b)
	return b, err
}

// DecodeAppRelease decodes an app release payload.
func DecodeAppRelease(p Payload) (AppReleaseBody, error) {
	var b AppReleaseBody
	err := decodeKind(p, KindAppRelease, &b)
	return b, err
}

// DecodeMessage decodes a message payload and its attachments.
func DecodeMessage(p Payload) (MessageBody, []Attachment, error) {
	var b MessageBody
	if p.Kind != KindMessage {
		return b, nil, fmt.Errorf("%w: want %s, got %s", ErrUnexpectedKind, KindMessage, p.Kind)
	}
	if !p.IsMultipart() {
		err := decodeInto(p, &b)
		return b, nil, err
	}
	return DecodeMultipartMessage(p.ContentType, bytes.NewReader(p.Body))
}

// DecodeMultipartMessage reads a multipart message body as produced by
// Factory.Message.
func DecodeMultipartMessage(contentType string, r io.Reader) (MessageBody, []Attachment, error) {
	var b MessageBody
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return b, nil, fmt.Errorf("parse content type: %w", err)
	}

	reader := multipart.NewReader(r, params["boundary"])
	var attachments []Attachment
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return b, nil, fmt.Errorf("read multipart: %w", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return b, nil, fmt.Errorf("read part %q: %w", part.FormName(), err)
		}

		switch part.FormName() {
		case "message":
			if err := json.Unmarshal(data, &b); err != nil {
				return b, nil, fmt.Errorf("decode message part: %w", err)
			}
		case "file[]":
			attachments = append(attachments, Attachment{
				Name:        part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return b, attachments, nil
}

func decodeKind(p Payload, kind Kind, dst any) error {
	if p.Kind != kind {
		return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedKind, kind, p.Kind)
	}
	return decodeInto(p, dst)
}

// decodeInto unwraps the kind's root key into dst.
func decodeInto(p Payload, dst any) error {
	if p.IsMultipart() {
		if p.Kind != KindMessage {
			return fmt.Errorf("%w: multipart %s", ErrUnexpectedKind, p.Kind)
		}
		body, _, err := DecodeMultipartMessage(p.ContentType, bytes.NewReader(p.Body))
		if err != nil {
			return err
		}
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dst)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(p.Body, &envelope); err != nil {
		return fmt.Errorf("decode %s payload: %w", p.Kind, err)
	}
	inner, ok := envelope[Root(p.Kind)]
	if !ok {
		return fmt.Errorf("decode %s payload: missing %q", p.Kind, Root(p.Kind))
	}
	if err := json.Unmarshal(inner, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", p.Kind, err)
	}
	return nil
}
