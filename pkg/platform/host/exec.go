package host

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// command runs host executables on the platform's behalf.
type command interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type executable struct{}

// Run executes the command, returning its combined output.
func (e *executable) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if logging.Debuggable {
		logging.New("host").WithFields(logrus.Fields{
			"cmd": cmd.String(),
		}).Debug("Executing")
	}

	if err := cmd.Run(); err != nil {
		if logging.Debuggable {
			logging.New("host").WithFields(logrus.Fields{
				"cmd":    cmd.String(),
				"output": buf.String(),
			}).WithError(err).Error("Command errored during run")
		}
		return buf.String(), errors.Wrapf(err, "%s: %s", name, bytes.TrimSpace(buf.Bytes()))
	}
	if logging.Debuggable {
		logging.New("host").WithFields(logrus.Fields{
			"cmd":    cmd.String(),
			"output": buf.String(),
		}).Debug("Command completed successfully")
	}
	return buf.String(), nil
}
