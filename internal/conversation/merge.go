package conversation

import (
	"github.com/rafaeljc/apptentivekit/internal/customdata"
)

// Merge reconciles a freshly probed conversation (local) with the one loaded
// from the previous session (remote). It is total and never fails.
//
// Ownership is per field group:
//   - environment facts on Device and AppRelease come from local;
//   - person/device editable fields and custom data take remote values
//     key by key, keeping keys that only local has;
//   - server-assigned identifiers, credentials, counters, the sampling
//     seed and the pending update marker come from remote wholesale.
//
// A missing remote is passed as the zero Conversation, so first launch takes
// the same path as every later one.
func Merge(local, remote Conversation) Conversation {
	out := local.Clone()

	out.ID = firstNonEmpty(remote.ID, local.ID)
	out.PersonID = firstNonEmpty(remote.PersonID, local.PersonID)
	out.DeviceID = firstNonEmpty(remote.DeviceID, local.DeviceID)
	out.RandomSeed = firstNonEmpty(remote.RandomSeed, local.RandomSeed)
	out.PendingUpdate = remote.PendingUpdate

	if !remote.Credentials.IsZero() {
		out.Credentials = remote.Credentials
	}
	if !remote.Metrics.IsZero() {
		out.Metrics = remote.Metrics.Clone()
	}

	out.Person = mergePerson(local.Person, remote.Person)
	out.Device.CustomData = mergeCustomData(local.Device.CustomData, remote.Device.CustomData)
	out.AppRelease = mergeAppRelease(local.AppRelease, remote.AppRelease)
	return out
}

func mergePerson(local, remote Person) Person {
	return Person{
		ID:         firstNonEmpty(remote.ID, local.ID),
		Name:       firstNonEmpty(remote.Name, local.Name),
		Email:      firstNonEmpty(remote.Email, local.Email),
		CustomData: mergeCustomData(local.CustomData, remote.CustomData),
	}
}

// mergeCustomData keeps local's key order, lets remote values replace local
// ones, then appends keys only remote has.
func mergeCustomData(local, remote customdata.CustomData) customdata.CustomData {
	var out customdata.CustomData
	for _, k := range local.Keys() {
		v, _ := local.Get(k)
		if rv, ok := remote.Get(k); ok {
			v = rv
		}
		_ = out.Set(k, v)
	}
	for _, k := range remote.Keys() {
		if _, ok := out.Get(k); ok {
			continue
		}
		v, _ := remote.Get(k)
		_ = out.Set(k, v)
	}
	return out
}

func mergeAppRelease(local, remote AppRelease) AppRelease {
	out := local
	if remote == (AppRelease{}) {
		return out
	}

	versionChanged := remote.Version != "" && remote.Version != local.Version
	buildChanged := remote.Build != "" && remote.Build != local.Build

	out.IsUpdatedVersion = remote.IsUpdatedVersion || versionChanged
	out.IsUpdatedBuild = remote.IsUpdatedBuild || buildChanged

	if !remote.InstallTime.IsZero() {
		out.InstallTime = remote.InstallTime
	}
	if !versionChanged && !remote.VersionInstallTime.IsZero() {
		out.VersionInstallTime = remote.VersionInstallTime
	}
	if !buildChanged && !remote.BuildInstallTime.IsZero() {
		out.BuildInstallTime = remote.BuildInstallTime
	}
	return out
}

// Upgrade describes how the running app differs from the persisted one.
type Upgrade struct {
	Version bool
	Build   bool
}

// Any reports whether either the version or the build changed.
func (u Upgrade) Any() bool { return u.Version || u.Build }

// DetectUpgrade compares the persisted app release with the running one. A
// missing persisted release is a first launch, not an upgrade.
func DetectUpgrade(persisted, running AppRelease) Upgrade {
	return Upgrade{
		Version: persisted.Version != "" && persisted.Version != running.Version,
		Build:   persisted.Build != "" && persisted.Build != running.Build,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
