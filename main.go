package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/agent"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/checkin"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/config"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/dispatch"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity/persist"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/link"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform/host"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/provision"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/session"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/sigcontext"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/update"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "thinx-agent",
		Usage: "keep this device registered with THiNX and apply its firmware updates",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the agent's TOML configuration",
				EnvVars: []string{"THINX_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "API key used until one is provisioned",
				EnvVars: []string{"THINX_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "owner id the device registers under",
				EnvVars: []string{"THINX_OWNER"},
			},
			&cli.StringFlag{
				Name:    "ssid",
				Usage:   "wireless network to join",
				EnvVars: []string{"THINX_WIFI_SSID"},
			},
			&cli.StringFlag{
				Name:    "pass",
				Usage:   "passphrase of the wireless network",
				EnvVars: []string{"THINX_WIFI_PASS"},
			},
			&cli.StringFlag{
				Name:    "provision-listen",
				Usage:   "address of the local provisioning endpoint",
				EnvVars: []string{"THINX_PROVISION_LISTEN"},
			},
			&cli.BoolFlag{
				Name:    "auto-update",
				Usage:   "apply offered updates without asking",
				EnvVars: []string{"THINX_AUTO_UPDATE"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				EnvVars: []string{"THINX_DEBUG"},
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "log in JSON",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logging.New("main").WithError(err).Fatal("agent stopped")
	}
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		logging.Set(logging.Level("debug"))
	}
	if c.Bool("log-json") {
		logging.Set(logging.JSON())
	}

	log := logging.New("main")

	// "debuggable" builds at runtime produce extensive logging output compared
	// to release builds with the debug flag enabled. This requires building and
	// using a distinct build in the deployment in order to use.
	if logging.Debuggable {
		log.Info("low-level logging.Debuggable is enabled in this build")
		log.Warn("logging.Debuggable dumps wire traffic, including credentials")
		delay := 3 * time.Second
		log.WithField("delay", delay).Warn("delaying start due to logging.Debuggable build")
		time.Sleep(delay)
		log.Info("starting logging.Debuggable enabled build")
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	overrides(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := sigcontext.WithSignalCancel(context.Background(), log, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return runAgent(ctx, cfg)
}

// overrides applies the flags given on the command line or environment on
// top of the configuration file.
func overrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet("api-key") {
		cfg.Device.APIKey = c.String("api-key")
	}
	if c.IsSet("owner") {
		cfg.Device.Owner = c.String("owner")
	}
	if c.IsSet("ssid") {
		cfg.WiFi.SSID = c.String("ssid")
	}
	if c.IsSet("pass") {
		cfg.WiFi.Pass = c.String("pass")
	}
	if c.IsSet("provision-listen") {
		cfg.Provision.Listen = c.String("provision-listen")
	}
	if c.IsSet("auto-update") {
		cfg.Device.AutoUpdate = c.Bool("auto-update")
	}
}

func openBuffer(cfg config.Store) (persist.Buffer, func(), error) {
	switch cfg.Driver {
	case config.StoreBadger:
		b, err := persist.OpenBadger(logging.New("persist"), cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	default:
		return persist.NewFile(cfg.Path), func() {}, nil
	}
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	log := logging.New("agent")

	buf, closeBuf, err := openBuffer(cfg.Store)
	if err != nil {
		return errors.WithMessage(err, "could not open identity storage")
	}
	defer closeBuf()

	store := identity.Open(logging.New("identity"), buf, identity.Identity{
		Owner:           cfg.Device.Owner,
		UDID:            cfg.Device.UDID,
		APIKey:          cfg.Device.APIKey,
		Alias:           cfg.Device.Alias,
		CommitID:        cfg.Device.CommitID,
		VersionID:       cfg.Device.VersionID,
		FirmwareVersion: cfg.Device.FirmwareVersion,
	})

	restarter := &host.Restarter{}
	radio := host.NewLink(logging.New("link"), cfg.Device.Interface)
	flasher := host.NewFlasher(logging.New("flasher"), restarter)

	mac, err := platform.DeviceMAC(radio)
	if err != nil {
		log.WithError(err).Warn("update offers can't be matched to this device")
	}

	orchestrator := update.New(logging.New("update"), store, flasher, update.Config{
		Host:          cfg.Cloud.URL,
		Port:          cfg.Cloud.UpdatePort,
		RecoveryHost:  cfg.Cloud.RecoveryHost,
		RecoveryPath:  cfg.Cloud.RecoveryPath,
		RecoveryImage: cfg.Cloud.RecoveryImage,
		MAC:           mac,
	})

	components := agent.Components{
		Store: store,
		Link:  radio,
		Connection: link.New(logging.New("connection"), radio, link.Config{
			SSID:           cfg.WiFi.SSID,
			Pass:           cfg.WiFi.Pass,
			APSSID:         cfg.WiFi.APSSID,
			APPass:         cfg.WiFi.APPass,
			RetryThreshold: cfg.WiFi.RetryThreshold,
		}),
		Checkin: checkin.New(logging.New("checkin"), checkin.Config{
			Host: cfg.Cloud.URL,
			Port: cfg.Cloud.APIPort,
			TLS:  cfg.Cloud.TLS,
		}),
		Dispatcher: dispatch.New(logging.New("dispatch"), store, orchestrator, cfg.Device.AutoUpdate),
		Updater:    orchestrator,
		Session: session.New(logging.New("session"), session.Config{
			Host: cfg.Cloud.MQTTURL,
			Port: cfg.Cloud.MQTTPort,
		}, flasher, restarter),
	}
	if cfg.Provision.Listen != "" {
		queue := provision.NewQueue()
		components.Provisioning = queue
		components.Server = provision.NewServer(logging.New("provision"), cfg.Provision.Listen, queue)
	}

	a, err := agent.New(log, components, cfg.Device.Platform,
		agent.WithTickInterval(cfg.Agent.TickInterval()),
		agent.WithCompletion(func(p agent.Phase) {
			log.WithField("phase", p).Info("phase complete")
		}))
	if err != nil {
		return err
	}

	return errors.WithMessage(a.Run(ctx), "run error")
}
