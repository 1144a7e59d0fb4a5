package marker

// Connectivity is the Connection Manager's view of the wireless link.
type Connectivity = string

const (
	ConnectivityDisconnected Connectivity = "disconnected"
	ConnectivityConnecting   Connectivity = "connecting"
	ConnectivityStation      Connectivity = "connected-station"
	// ConnectivityAccessPoint is the degraded state where the device serves
	// its own access point for local configuration. The link counts as up but
	// nothing talks to the cloud.
	ConnectivityAccessPoint Connectivity = "ap-fallback"
)

// Checkin tracks the single check-in attempt made per boot.
type Checkin = string

const (
	CheckinNotStarted Checkin = "not-started"
	CheckinInFlight   Checkin = "in-flight"
	CheckinCompleted  Checkin = "completed"
	// CheckinHalted is entered on an authorization failure and left only
	// when provisioning supplies new credentials.
	CheckinHalted Checkin = "halted"
)

// Session is the state of the pub/sub channel.
type Session = string

const (
	SessionDisconnected Session = "disconnected"
	SessionConnecting   Session = "connecting"
	SessionConnected    Session = "connected"
	SessionSubscribed   Session = "subscribed"
)

// DeviceStatus is published on the per-device status topic.
type DeviceStatus = string

const (
	StatusConnected    DeviceStatus = "connected"
	StatusDisconnected DeviceStatus = "disconnected"
	StatusRebooting    DeviceStatus = "rebooting"
)

// RadioMode mirrors the radio's operating mode as reported by the link.
type RadioMode = string

const (
	RadioModeUnknown     RadioMode = "unknown"
	RadioModeStation     RadioMode = "station"
	RadioModeAccessPoint RadioMode = "ap"
)
