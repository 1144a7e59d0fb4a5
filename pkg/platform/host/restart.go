package host

import (
	"github.com/coreos/go-systemd/v22/login1"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform"
	"github.com/pkg/errors"
)

var _ platform.Restarter = (*Restarter)(nil)

// Restarter reboots through systemd-logind.
type Restarter struct{}

func (*Restarter) Restart() error {
	conn, err := login1.New()
	if err != nil {
		return errors.Wrap(err, "unable to connect to logind")
	}
	defer conn.Close()
	conn.Reboot(false)
	return nil
}
