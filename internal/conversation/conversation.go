// Package conversation holds the SDK's aggregate root: the person, device,
// app release, invocation counters and credentials of one end user.
package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/customdata"
)

// Person is the end user as known to the SDK.
type Person struct {
	ID         string                `json:"id,omitempty"`
	Name       string                `json:"name,omitempty"`
	Email      string                `json:"email,omitempty"`
	CustomData customdata.CustomData `json:"custom_data"`
}

// Device describes the hardware and OS the host app runs on.
type Device struct {
	OSName         string                `json:"os_name,omitempty"`
	OSVersion      string                `json:"os_version,omitempty"`
	OSBuild        string                `json:"os_build,omitempty"`
	HardwareModel  string                `json:"hardware,omitempty"`
	Locale         string                `json:"locale_raw,omitempty"`
	LocaleLanguage string                `json:"locale_language_code,omitempty"`
	LocaleCountry  string                `json:"locale_country_code,omitempty"`
	UTCOffset      int                   `json:"utc_offset"`
	Carrier        string                `json:"carrier,omitempty"`
	CustomData     customdata.CustomData `json:"custom_data"`
}

// AppRelease describes the host app build and the SDK embedded in it.
type AppRelease struct {
	BundleIdentifier   string    `json:"cf_bundle_identifier,omitempty"`
	Version            string    `json:"cf_bundle_short_version_string,omitempty"`
	Build              string    `json:"cf_bundle_version,omitempty"`
	SDKVersion         string    `json:"sdk_version,omitempty"`
	SDKDistribution    string    `json:"sdk_distribution,omitempty"`
	SDKDistributionVer string    `json:"sdk_distribution_version,omitempty"`
	IsDebugBuild       bool      `json:"debug"`
	IsUpdatedVersion   bool      `json:"is_updated_version"`
	IsUpdatedBuild     bool      `json:"is_updated_build"`
	InstallTime        time.Time `json:"install_time"`
	VersionInstallTime time.Time `json:"version_install_time"`
	BuildInstallTime   time.Time `json:"build_install_time"`
}

// Conversation is the persisted state for one end user.
type Conversation struct {
	ID          string                  `json:"id,omitempty"`
	PersonID    string                  `json:"person_id,omitempty"`
	DeviceID    string                  `json:"device_id,omitempty"`
	Credentials credentials.Credentials `json:"credentials"`
	Person      Person                  `json:"person"`
	Device      Device                  `json:"device"`
	AppRelease  AppRelease              `json:"app_release"`
	Metrics     Metrics                 `json:"metrics"`
	RandomSeed  string                  `json:"random_seed,omitempty"`

	// PendingUpdate is set when an upgrade was detected and the update
	// event has not been engaged yet.
	PendingUpdate bool `json:"pending_update,omitempty"`
}

// Environment is what the running process knows about itself.
type Environment struct {
	Device     Device
	AppRelease AppRelease
}

// New builds a fresh conversation from probed environment facts.
func New(env Environment, now time.Time) Conversation {
	app := env.AppRelease
	app.InstallTime = now
	app.VersionInstallTime = now
	app.BuildInstallTime = now
	app.IsUpdatedVersion = false
	app.IsUpdatedBuild = false

	dev := env.Device
	dev.CustomData = dev.CustomData.Clone()

	return Conversation{
		Device:     dev,
		AppRelease: app,
		Metrics:    NewMetrics(),
		RandomSeed: uuid.NewString(),
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c Conversation) Clone() Conversation {
	out := c
	out.Person.CustomData = c.Person.CustomData.Clone()
	out.Device.CustomData = c.Device.CustomData.Clone()
	out.Metrics = c.Metrics.Clone()
	return out
}
