package host

import (
	"context"
	"net"

	"github.com/godbus/dbus/v5"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform"
	"github.com/pkg/errors"
)

var _ platform.Link = (*Link)(nil)

// stateReader reads NetworkManager's global state.
type stateReader interface {
	State() (nmState, error)
}

// Link drives the wireless interface through NetworkManager: state is read
// over D-Bus, joins and the hotspot go through nmcli.
type Link struct {
	log   logging.Logger
	iface string
	bin   command
	state stateReader

	mode marker.RadioMode
	ssid string
}

// NewLink returns a Link for the named interface; the first interface with
// a hardware address is used when iface is empty.
func NewLink(log logging.Logger, iface string) *Link {
	return &Link{
		log:   log,
		iface: iface,
		bin:   &executable{},
		state: &systemBus{},
		mode:  marker.RadioModeUnknown,
	}
}

func (l *Link) Status() (platform.LinkStatus, error) {
	status := platform.LinkStatus{Mode: l.mode, SSID: l.ssid}
	state, err := l.state.State()
	if err != nil {
		return status, err
	}
	// A hotspot leaves NetworkManager connected-local, which doesn't mean
	// the station joined anything.
	status.Connected = state >= nmStateConnectedLocal && l.mode != marker.RadioModeAccessPoint
	return status, nil
}

func (l *Link) Join(ssid, pass string) error {
	l.log.WithField("ssid", ssid).Debug("joining network")
	args := []string{"--wait", "30", "device", "wifi", "connect", ssid}
	if pass != "" {
		args = append(args, "password", pass)
	}
	if l.iface != "" {
		args = append(args, "ifname", l.iface)
	}
	l.mode = marker.RadioModeStation
	l.ssid = ssid
	_, err := l.bin.Run(context.Background(), nmcliBin, args...)
	return errors.WithMessage(err, "join failed")
}

func (l *Link) StartAccessPoint(ssid, pass string) error {
	l.log.WithField("ssid", ssid).Warn("starting access point")
	args := []string{"device", "wifi", "hotspot", "ssid", ssid, "password", pass}
	if l.iface != "" {
		args = append(args, "ifname", l.iface)
	}
	if _, err := l.bin.Run(context.Background(), nmcliBin, args...); err != nil {
		return errors.WithMessage(err, "unable to start access point")
	}
	l.mode = marker.RadioModeAccessPoint
	l.ssid = ssid
	return nil
}

func (l *Link) HardwareAddr() (net.HardwareAddr, error) {
	if l.iface != "" {
		ifi, err := net.InterfaceByName(l.iface)
		if err != nil {
			return nil, errors.Wrapf(err, "interface %q", l.iface)
		}
		return ifi.HardwareAddr, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "unable to list interfaces")
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback != 0 || len(ifi.HardwareAddr) == 0 {
			continue
		}
		return ifi.HardwareAddr, nil
	}
	return nil, errors.New("no interface with a hardware address")
}

type systemBus struct{}

func (*systemBus) State() (nmState, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return 0, errors.Wrap(err, "unable to connect to system bus")
	}
	v, err := conn.Object(nmBusName, dbus.ObjectPath(nmObject)).GetProperty(nmStateProp)
	if err != nil {
		return 0, errors.Wrap(err, "unable to query NetworkManager state")
	}
	state, ok := v.Value().(uint32)
	if !ok {
		return 0, errors.Errorf("unexpected NetworkManager state %v", v)
	}
	return state, nil
}
