// Package targeting decides which interaction, if any, an engaged event
// should present. It resolves criteria fields against conversation state and
// keeps the engagement manifest fresh.
package targeting

import (
	"strings"

	"github.com/rafaeljc/apptentivekit/internal/customdata"
)

const (
	// VendorLocal marks events reported by the host app.
	VendorLocal = "local"
	// VendorSDK marks events the SDK engages on its own behalf.
	VendorSDK = "com.apptentive"

	// InteractionApp is the interaction slot used by events not tied to an
	// interaction.
	InteractionApp = "app"
)

// Event is something that happened in the host app or inside an interaction.
type Event struct {
	Name            string
	Vendor          string
	InteractionType string
	// InteractionID is set when the event originates from a presented
	// interaction.
	InteractionID string
	CustomData    customdata.CustomData
	ExtendedData  []map[string]any
}

// NewEvent builds a host app event.
func NewEvent(name string) Event {
	return Event{Name: name, Vendor: VendorLocal, InteractionType: InteractionApp}
}

// SDKEvent builds an event the SDK engages itself, such as app#launch.
func SDKEvent(name string) Event {
	return Event{Name: name, Vendor: VendorSDK, InteractionType: InteractionApp}
}

// InteractionEvent builds an event raised by a presented interaction, e.g. a
// survey's "submit".
func InteractionEvent(name string, interactionType, interactionID string) Event {
	return Event{
		Name:            name,
		Vendor:          VendorSDK,
		InteractionType: interactionType,
		InteractionID:   interactionID,
	}
}

// CodePoint is the key the event is targeted and counted under:
// vendor#interaction#name with each component escaped.
func (e Event) CodePoint() string {
	vendor := e.Vendor
	if vendor == "" {
		vendor = VendorLocal
	}
	interaction := e.InteractionType
	if interaction == "" {
		interaction = InteractionApp
	}
	return escapeComponent(vendor) + "#" + escapeComponent(interaction) + "#" + escapeComponent(e.Name)
}

var codePointEscaper = strings.NewReplacer("%", "%25", "#", "%23", "/", "%2F")

// escapeComponent keeps the separators of code points and field paths out of
// the individual components.
func escapeComponent(s string) string {
	return codePointEscaper.Replace(s)
}
