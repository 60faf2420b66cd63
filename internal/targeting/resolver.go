package targeting

import (
	"math/rand/v2"
	"time"

	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/criteria"
	"github.com/rafaeljc/apptentivekit/internal/customdata"
)

// Resolver exposes conversation state to the criteria engine. It is built
// per invocation entry and never mutates the conversation.
type Resolver struct {
	Conversation conversation.Conversation
	Event        Event
	// InteractionID is the interaction of the invocation being evaluated. It
	// backs the interaction/invokes/... fields.
	InteractionID string
	Now           time.Time
	// Random draws a fresh value in [0,100) for random/percent. Defaults to
	// math/rand.
	Random func() float64
}

// Resolve implements criteria.FieldResolver.
func (r Resolver) Resolve(field criteria.Field) criteria.Value {
	parts := field.Parts
	if len(parts) == 0 {
		return criteria.Undefined()
	}

	switch parts[0] {
	case "current_time":
		return only(parts, 1, criteria.DateTime(r.Now))
	case "application", "app_release":
		return r.application(parts[1:])
	case "sdk":
		return r.sdk(parts[1:])
	case "is_update":
		return r.isUpdate(parts[1:])
	case "time_at_install":
		return r.timeAtInstall(parts[1:])
	case "code_point":
		if len(parts) < 2 {
			return criteria.Undefined()
		}
		return r.metric(conversation.CodePointMetric, parts[1], parts[2:])
	case "interactions":
		if len(parts) < 2 {
			return criteria.Undefined()
		}
		return r.metric(conversation.InteractionMetric, parts[1], parts[2:])
	case "interaction":
		if r.InteractionID == "" {
			return criteria.Undefined()
		}
		return r.metric(conversation.InteractionMetric, r.InteractionID, parts[1:])
	case "person":
		return r.person(parts[1:])
	case "device":
		return r.device(parts[1:])
	case "event":
		if len(parts) == 3 && parts[1] == "custom_data" {
			return customValue(r.Event.CustomData, parts[2])
		}
	case "random":
		return r.random(parts[1:])
	}
	return criteria.Undefined()
}

func (r Resolver) application(rest []string) criteria.Value {
	app := r.Conversation.AppRelease
	if len(rest) != 1 {
		return criteria.Undefined()
	}
	switch rest[0] {
	case "version", "cf_bundle_short_version_string":
		return versionOrUndefined(app.Version)
	case "build", "cf_bundle_version":
		return versionOrUndefined(app.Build)
	case "bundle_identifier", "cf_bundle_identifier":
		return stringOrUndefined(app.BundleIdentifier)
	case "debug":
		return criteria.Bool(app.IsDebugBuild)
	}
	return criteria.Undefined()
}

func (r Resolver) sdk(rest []string) criteria.Value {
	app := r.Conversation.AppRelease
	if len(rest) != 1 {
		return criteria.Undefined()
	}
	switch rest[0] {
	case "version":
		return versionOrUndefined(app.SDKVersion)
	case "distribution":
		return stringOrUndefined(app.SDKDistribution)
	case "distribution_version":
		return versionOrUndefined(app.SDKDistributionVer)
	}
	return criteria.Undefined()
}

func (r Resolver) isUpdate(rest []string) criteria.Value {
	app := r.Conversation.AppRelease
	if len(rest) != 1 {
		return criteria.Undefined()
	}
	switch rest[0] {
	case "version", "cf_bundle_short_version_string":
		return criteria.Bool(app.IsUpdatedVersion)
	case "build", "cf_bundle_version":
		return criteria.Bool(app.IsUpdatedBuild)
	}
	return criteria.Undefined()
}

func (r Resolver) timeAtInstall(rest []string) criteria.Value {
	app := r.Conversation.AppRelease
	if len(rest) != 1 {
		return criteria.Undefined()
	}
	switch rest[0] {
	case "total":
		return timeOrUndefined(app.InstallTime)
	case "version", "cf_bundle_short_version_string":
		return timeOrUndefined(app.VersionInstallTime)
	case "build", "cf_bundle_version":
		return timeOrUndefined(app.BuildInstallTime)
	}
	return criteria.Undefined()
}

// metric resolves invokes/{total,version,build} and last_invoked_at/total.
// Counters for keys never invoked are zero; the timestamp is undefined.
func (r Resolver) metric(kind conversation.MetricKind, key string, rest []string) criteria.Value {
	if len(rest) != 2 {
		return criteria.Undefined()
	}
	m, ok := r.Conversation.Metrics.Lookup(kind, key)

	switch rest[0] {
	case "invokes":
		switch rest[1] {
		case "total":
			return criteria.Number(float64(m.Total))
		case "version", "cf_bundle_short_version_string":
			return criteria.Number(float64(m.Version))
		case "build", "cf_bundle_version":
			return criteria.Number(float64(m.Build))
		}
	case "last_invoked_at":
		if rest[1] == "total" && ok {
			return timeOrUndefined(m.LastInvoked)
		}
	}
	return criteria.Undefined()
}

func (r Resolver) person(rest []string) criteria.Value {
	p := r.Conversation.Person
	switch {
	case len(rest) == 2 && rest[0] == "custom_data":
		return customValue(p.CustomData, rest[1])
	case len(rest) != 1:
		return criteria.Undefined()
	}
	switch rest[0] {
	case "id":
		return stringOrUndefined(p.ID)
	case "name":
		return stringOrUndefined(p.Name)
	case "email":
		return stringOrUndefined(p.Email)
	}
	return criteria.Undefined()
}

var deviceFields = map[string]func(conversation.Device) criteria.Value{
	"os_name":              func(d conversation.Device) criteria.Value { return stringOrUndefined(d.OSName) },
	"os_version":           func(d conversation.Device) criteria.Value { return versionOrUndefined(d.OSVersion) },
	"os_build":             func(d conversation.Device) criteria.Value { return stringOrUndefined(d.OSBuild) },
	"hardware":             func(d conversation.Device) criteria.Value { return stringOrUndefined(d.HardwareModel) },
	"locale_raw":           func(d conversation.Device) criteria.Value { return stringOrUndefined(d.Locale) },
	"locale_language_code": func(d conversation.Device) criteria.Value { return stringOrUndefined(d.LocaleLanguage) },
	"locale_country_code":  func(d conversation.Device) criteria.Value { return stringOrUndefined(d.LocaleCountry) },
	"carrier":              func(d conversation.Device) criteria.Value { return stringOrUndefined(d.Carrier) },
	"utc_offset":           func(d conversation.Device) criteria.Value { return criteria.Number(float64(d.UTCOffset)) },
}

func (r Resolver) device(rest []string) criteria.Value {
	d := r.Conversation.Device
	if len(rest) == 2 && rest[0] == "custom_data" {
		return customValue(d.CustomData, rest[1])
	}
	if len(rest) != 1 {
		return criteria.Undefined()
	}
	if fn, ok := deviceFields[rest[0]]; ok {
		return fn(d)
	}
	return criteria.Undefined()
}

// random serves random/percent (fresh draw) and random/<key>/percent (sticky
// per conversation).
func (r Resolver) random(rest []string) criteria.Value {
	switch {
	case len(rest) == 1 && rest[0] == "percent":
		draw := r.Random
		if draw == nil {
			draw = func() float64 { return rand.Float64() * 100 }
		}
		return criteria.Number(draw())
	case len(rest) == 2 && rest[1] == "percent":
		if r.Conversation.RandomSeed == "" {
			return criteria.Undefined()
		}
		return criteria.Number(criteria.SamplePercent(r.Conversation.RandomSeed, rest[0]))
	}
	return criteria.Undefined()
}

func customValue(data customdata.CustomData, key string) criteria.Value {
	v, ok := data.Get(key)
	if !ok {
		return criteria.Undefined()
	}
	return criteria.FromCustomData(v)
}

func only(parts []string, n int, v criteria.Value) criteria.Value {
	if len(parts) != n {
		return criteria.Undefined()
	}
	return v
}

func stringOrUndefined(s string) criteria.Value {
	if s == "" {
		return criteria.Undefined()
	}
	return criteria.String(s)
}

func versionOrUndefined(s string) criteria.Value {
	if s == "" {
		return criteria.Undefined()
	}
	return criteria.VersionString(s)
}

func timeOrUndefined(t time.Time) criteria.Value {
	if t.IsZero() {
		return criteria.Undefined()
	}
	return criteria.DateTime(t)
}
