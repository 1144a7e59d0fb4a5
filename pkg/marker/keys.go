package marker

import "fmt"

type Key = string

const (
	// CheckinPath is the registration endpoint on the cloud API.
	CheckinPath = "/device/register"

	// Markers located in a raw check-in or command response.
	MarkerUpdate         Key = `{"update"`
	MarkerRegistration   Key = `{"registration"`
	MarkerNotification   Key = `{"notification"`
	MarkerUnauthorized   Key = "old_protocol_owner:-undefined-"
	MarkerBodyTerminator Key = "}}"

	// Registration statuses returned by the cloud.
	RegistrationOK             = "OK"
	RegistrationFirmwareUpdate = "FIRMWARE_UPDATE"

	// Persisted record keys.
	RecordAlias  Key = "alias"
	RecordAPIKey Key = "apikey"
	RecordOwner  Key = "owner"
	RecordUDID   Key = "udid"
	RecordUpdate Key = "update"
)

// CommandTopic is the topic the device receives commands on.
func CommandTopic(owner, udid string) string {
	return fmt.Sprintf("/%s/%s", owner, udid)
}

// StatusTopic is the topic the device reports its status on.
func StatusTopic(owner, udid string) string {
	return fmt.Sprintf("/%s/%s/status", owner, udid)
}

// StatusMessage renders the payload published on the status topic.
func StatusMessage(status DeviceStatus) string {
	return fmt.Sprintf(`{"status":%q}`, status)
}
