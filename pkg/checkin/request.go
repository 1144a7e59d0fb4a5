package checkin

import (
	"encoding/json"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity"
	"github.com/pkg/errors"
)

// registration is the check-in request. Every field is left out when empty.
type registration struct {
	MAC      string `json:"mac,omitempty"`
	Firmware string `json:"firmware,omitempty"`
	Version  string `json:"version,omitempty"`
	Commit   string `json:"commit,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Alias    string `json:"alias,omitempty"`
	UDID     string `json:"udid,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type request struct {
	Registration registration `json:"registration"`
}

// BuildRequest renders the check-in body for the device.
func BuildRequest(id identity.Identity, mac, platform string) ([]byte, error) {
	body, err := json.Marshal(request{
		Registration: registration{
			MAC:      mac,
			Firmware: id.FirmwareVersion,
			Version:  id.VersionID,
			Commit:   id.CommitID,
			Owner:    id.Owner,
			Alias:    id.Alias,
			UDID:     id.UDID,
			Platform: platform,
		},
	})
	return body, errors.Wrap(err, "unable to build check-in request")
}
