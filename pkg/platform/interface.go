package platform

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
	"github.com/pkg/errors"
)

// LinkStatus is a snapshot of the radio link.
type LinkStatus struct {
	// Connected is true when the radio is associated and has an address.
	Connected bool
	Mode      marker.RadioMode
	SSID      string
}

// Link is implemented by the radio driver.
type Link interface {
	// Status reports the current state of the link.
	Status() (LinkStatus, error)
	// Join associates with the named network. The call may block for as
	// long as the driver takes to give up on a join.
	Join(ssid, pass string) error
	// StartAccessPoint switches the radio to serve its own network.
	StartAccessPoint(ssid, pass string) error
	// HardwareAddr is the radio's hardware address.
	HardwareAddr() (net.HardwareAddr, error)
}

// Image locates a firmware image on an update server.
type Image struct {
	Host string
	Port int
	// Path is the image's path on Host, with or without the leading slash.
	Path string
	// Version is sent along so the server may answer that nothing newer
	// exists.
	Version string
}

// URL is the plain HTTP location of the image.
func (i Image) URL() string {
	return fmt.Sprintf("http://%s:%d/%s", i.Host, i.Port, strings.TrimPrefix(i.Path, "/"))
}

// Flasher writes firmware images.
type Flasher interface {
	// Flash fetches and installs the image. A nil return means the
	// platform is restarting into the new image.
	Flash(ctx context.Context, image Image) error
	// FlashStream installs an image of size bytes read from r. The caller
	// is responsible for restarting afterwards.
	FlashStream(ctx context.Context, r io.Reader, size int64) error
}

// Restarter reboots the device.
type Restarter interface {
	Restart() error
}

// DeviceMAC returns the link's hardware address in the form the cloud keys
// devices by: upper case hex without separators.
func DeviceMAC(l Link) (string, error) {
	addr, err := l.HardwareAddr()
	if err != nil {
		return "", errors.WithMessage(err, "could not retrieve hardware address")
	}
	if len(addr) == 0 {
		return "", errors.New("link reported an empty hardware address")
	}
	return strings.ToUpper(strings.Replace(addr.String(), ":", "", -1)), nil
}
