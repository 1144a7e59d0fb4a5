// Package identity keeps the device's durable identity and the protocol state
// that has to survive a reboot (the pending update URL).
package identity

// MinAPIKeyLength is the shortest API key length that is considered present.
// Nothing reaches the network with a shorter key.
const MinAPIKeyLength = 5

// Identity is the device's identity as known to the cloud and the running
// build.
type Identity struct {
	Owner  string
	UDID   string
	APIKey string
	Alias  string

	CommitID        string
	VersionID       string
	FirmwareVersion string

	// AvailableUpdateURL is set while an offered update waits for a
	// confirmation or for the device to come back running it.
	AvailableUpdateURL string
}

// HasAPIKey reports whether the API key is usable for network operations.
func (i Identity) HasAPIKey() bool {
	return len(i.APIKey) >= MinAPIKeyLength
}

// HasUpdatePending reports whether an update was offered and not yet
// confirmed as installed.
func (i Identity) HasUpdatePending() bool {
	return i.AvailableUpdateURL != ""
}

// merge overlays the persisted values onto the identity. Empty values never
// replace known ones and a stored API key only wins when it is usable.
func (i *Identity) merge(r record) {
	if r.Alias != "" {
		i.Alias = r.Alias
	}
	if r.Owner != "" {
		i.Owner = r.Owner
	}
	if r.UDID != "" {
		i.UDID = r.UDID
	}
	if len(r.APIKey) >= MinAPIKeyLength {
		i.APIKey = r.APIKey
	}
	if r.Update != "" {
		i.AvailableUpdateURL = r.Update
	}
}

func (i Identity) record() record {
	return record{
		Alias:  i.Alias,
		APIKey: i.APIKey,
		Owner:  i.Owner,
		UDID:   i.UDID,
		Update: i.AvailableUpdateURL,
	}
}
