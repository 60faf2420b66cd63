// Package manifest models the server-delivered engagement manifest: the
// interactions the SDK can present and the targeting rules that pick them.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rafaeljc/apptentivekit/internal/criteria"
)

// DefaultMinExpiry is the shortest lifetime applied to a fetched manifest.
const DefaultMinExpiry = 600 * time.Second

// ErrInvalidManifest is returned when a manifest document cannot be decoded.
var ErrInvalidManifest = errors.New("invalid engagement manifest")

// Behavior is what a matching invocation does.
type Behavior string

const (
	// BehaviorShow presents the referenced interaction.
	BehaviorShow Behavior = "show"
	// BehaviorEnd stops matching without presenting anything.
	BehaviorEnd Behavior = "end"
)

// Interaction is a server-configured unit the host app can present.
type Interaction struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Invocation is one targeting rule for a code point.
type Invocation struct {
	InteractionID string            `json:"interaction_id"`
	Criteria      criteria.Criteria `json:"criteria"`
	Behavior      Behavior          `json:"behavior,omitempty"`
}

// Manifest is a decoded engagement manifest. It is replaced wholesale on
// refresh and never edited in place.
type Manifest struct {
	Interactions map[string]Interaction
	Targets      map[string][]Invocation
	Expiry       time.Time
	FetchedAt    time.Time
	raw          json.RawMessage
}

type wireManifest struct {
	Interactions []Interaction          `json:"interactions"`
	Targets      map[string][]Invocation `json:"targets"`
}

// Empty returns a manifest with no interactions that is already expired.
func Empty() Manifest {
	return Manifest{
		Interactions: map[string]Interaction{},
		Targets:      map[string][]Invocation{},
	}
}

// Decode parses a manifest document. A single malformed criteria fails the
// whole document.
func Decode(raw []byte, fetchedAt, expiry time.Time) (Manifest, error) {
	var wire wireManifest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	m := Empty()
	m.FetchedAt = fetchedAt
	m.Expiry = expiry
	m.raw = append(json.RawMessage(nil), raw...)

	for _, in := range wire.Interactions {
		if in.ID == "" {
			return Manifest{}, fmt.Errorf("%w: interaction without id", ErrInvalidManifest)
		}
		m.Interactions[in.ID] = in
	}
	for codePoint, invocations := range wire.Targets {
		for i := range invocations {
			switch invocations[i].Behavior {
			case "":
				invocations[i].Behavior = BehaviorShow
			case BehaviorShow, BehaviorEnd:
			default:
				return Manifest{}, fmt.Errorf("%w: target %q[%d] has unknown behavior %q",
					ErrInvalidManifest, codePoint, i, invocations[i].Behavior)
			}
		}
		m.Targets[codePoint] = invocations
	}
	return m, nil
}

// Raw returns the document the manifest was decoded from.
func (m Manifest) Raw() []byte { return m.raw }

// Expired reports whether the manifest should be refreshed.
func (m Manifest) Expired(now time.Time) bool {
	return !now.Before(m.Expiry)
}

// Interaction looks up an interaction by id.
func (m Manifest) Interaction(id string) (Interaction, bool) {
	in, ok := m.Interactions[id]
	return in, ok
}

// ExpiryFromHeader derives the expiry from a Cache-Control max-age directive.
// The lifetime is never shorter than floor; a missing or unparseable header
// yields the floor.
func ExpiryFromHeader(h http.Header, now time.Time, floor time.Duration) time.Time {
	lifetime := floor
	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || secs < 0 {
			continue
		}
		lifetime = max(time.Duration(secs)*time.Second, floor)
	}
	return now.Add(lifetime)
}

// persisted is the on-disk form of a manifest.
type persisted struct {
	Document  json.RawMessage `json:"document"`
	Expiry    time.Time       `json:"expiry"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// MarshalJSON encodes the manifest with its fetch metadata.
func (m Manifest) MarshalJSON() ([]byte, error) {
	doc := m.raw
	if len(doc) == 0 {
		wire := wireManifest{Targets: m.Targets}
		for _, in := range m.Interactions {
			wire.Interactions = append(wire.Interactions, in)
		}
		var err error
		if doc, err = json.Marshal(wire); err != nil {
			return nil, err
		}
	}
	return json.Marshal(persisted{Document: doc, Expiry: m.Expiry, FetchedAt: m.FetchedAt})
}

// UnmarshalJSON decodes a manifest written by MarshalJSON.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	decoded, err := Decode(p.Document, p.FetchedAt, p.Expiry)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}
