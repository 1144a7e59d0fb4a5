// Package config holds the agent's device and cloud settings. The values are
// the ones a firmware build would bake in; on this agent they come from a TOML
// file and are overridable from the command line.
package config

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

const (
	DefaultCloudURL      = "thinx.cloud"
	DefaultAPIPort       = 7442
	DefaultMQTTPort      = 1883
	DefaultUpdatePort    = 80
	DefaultRecoveryHost  = "images.thinx.cloud"
	DefaultRecoveryPath  = "ota.php"
	DefaultRecoveryImage = "5ccf7fee90e0"
	DefaultAPSSID        = "THiNX-AP"
	DefaultAPPass        = "PASSWORD"
	DefaultRetries       = 1000
	DefaultPlatform      = "linux"
	DefaultStoreDriver   = StoreFile
	DefaultStorePath     = "/var/lib/thinx/device.eeprom"
	DefaultTickMillis    = 1000
)

// Identity storage drivers.
const (
	StoreFile   = "file"
	StoreBadger = "badger"
)

// Config is the full agent configuration.
type Config struct {
	Device    Device    `toml:"device"`
	Cloud     Cloud     `toml:"cloud"`
	WiFi      WiFi      `toml:"wifi"`
	Store     Store     `toml:"store"`
	Provision Provision `toml:"provision"`
	Agent     Agent     `toml:"agent"`
}

// Device describes the running build and any identity known ahead of the
// first check-in.
type Device struct {
	APIKey          string `toml:"api_key"`
	Owner           string `toml:"owner"`
	UDID            string `toml:"udid"`
	Alias           string `toml:"alias"`
	CommitID        string `toml:"commit_id"`
	VersionID       string `toml:"version_id"`
	FirmwareVersion string `toml:"firmware_version"`
	Platform        string `toml:"platform" validate:"required"`
	// Interface is the network interface whose hardware address identifies
	// the device. The first non-loopback interface is used when empty.
	Interface  string `toml:"interface"`
	AutoUpdate bool   `toml:"auto_update"`
}

type Cloud struct {
	URL           string `toml:"url" validate:"required,hostname_rfc1123"`
	APIPort       int    `toml:"api_port" validate:"min=1,max=65535"`
	TLS           bool   `toml:"tls"`
	MQTTURL       string `toml:"mqtt_url" validate:"required,hostname_rfc1123"`
	MQTTPort      int    `toml:"mqtt_port" validate:"min=1,max=65535"`
	UpdatePort    int    `toml:"update_port" validate:"min=1,max=65535"`
	RecoveryHost  string `toml:"recovery_host" validate:"required"`
	RecoveryPath  string `toml:"recovery_path" validate:"required"`
	RecoveryImage string `toml:"recovery_image"`
}

type WiFi struct {
	SSID           string `toml:"ssid"`
	Pass           string `toml:"pass"`
	APSSID         string `toml:"ap_ssid" validate:"required"`
	APPass         string `toml:"ap_pass" validate:"omitempty,min=8"`
	RetryThreshold int    `toml:"retry_threshold" validate:"min=1"`
}

type Store struct {
	Driver string `toml:"driver" validate:"oneof=file badger"`
	Path   string `toml:"path" validate:"required"`
}

type Provision struct {
	// Listen is the address of the local provisioning endpoint, empty
	// disables it.
	Listen string `toml:"listen" validate:"omitempty,hostname_port"`
}

type Agent struct {
	TickMillis int `toml:"tick_interval_ms" validate:"min=10"`
}

// TickInterval is the delay between two scheduler ticks.
func (a Agent) TickInterval() time.Duration {
	return time.Duration(a.TickMillis) * time.Millisecond
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the TOML file at path. A missing path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "config file %q", path)
		}
		return nil, errors.Wrap(err, "unable to read config")
	}
	return Parse(raw)
}

// Parse decodes and validates a TOML document.
func Parse(raw []byte) (*Config, error) {
	c := &Config{}
	if err := toml.Unmarshal(raw, c); err != nil {
		return nil, errors.Wrap(err, "unable to decode config")
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration for values the agent can't run with.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return errors.Errorf("invalid config: %s fails %q", verrs[0].Namespace(), verrs[0].Tag())
	}
	return errors.Wrap(err, "invalid config")
}

func (c *Config) applyDefaults() {
	setString(&c.Device.Platform, DefaultPlatform)
	setString(&c.Cloud.URL, DefaultCloudURL)
	setInt(&c.Cloud.APIPort, DefaultAPIPort)
	setString(&c.Cloud.MQTTURL, c.Cloud.URL)
	setInt(&c.Cloud.MQTTPort, DefaultMQTTPort)
	setInt(&c.Cloud.UpdatePort, DefaultUpdatePort)
	setString(&c.Cloud.RecoveryHost, DefaultRecoveryHost)
	setString(&c.Cloud.RecoveryPath, DefaultRecoveryPath)
	setString(&c.Cloud.RecoveryImage, DefaultRecoveryImage)
	setString(&c.WiFi.APSSID, DefaultAPSSID)
	setString(&c.WiFi.APPass, DefaultAPPass)
	setInt(&c.WiFi.RetryThreshold, DefaultRetries)
	setString(&c.Store.Driver, DefaultStoreDriver)
	setString(&c.Store.Path, DefaultStorePath)
	setInt(&c.Agent.TickMillis, DefaultTickMillis)
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
