package host

const (
	nmcliBin = "/usr/bin/nmcli"

	// DefaultInstaller is run with the staged image path as its only
	// argument.
	DefaultInstaller = "/usr/bin/thinx-install"
	// DefaultStagingDir holds images between download and install.
	DefaultStagingDir = "/var/lib/thinx/staging"

	nmBusName   = "org.freedesktop.NetworkManager"
	nmObject    = "/org/freedesktop/NetworkManager"
	nmStateProp = nmBusName + ".State"

	// imageVersionHeader carries the running version on image requests.
	imageVersionHeader = "X-Firmware-Version"
)

type nmState = uint32

// NetworkManager's NMState values that count as an associated link.
const (
	nmStateConnectedLocal  nmState = 50
	nmStateConnectedSite   nmState = 60
	nmStateConnectedGlobal nmState = 70
)
