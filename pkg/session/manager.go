// Package session keeps the device's MQTT command and status channel.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/internal/logfields"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/metrics"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform"
	"github.com/pkg/errors"
)

const (
	keepAlive       = 30 * time.Second
	defaultTimeout  = 10 * time.Second
	disconnectQuiet = 250
	queueDepth      = 16
	imageMagic      = 0xe9
	imageHeaderSize = 8
	// MinUDIDLength is the shortest UDID a session is started with.
	MinUDIDLength = 4
)

var (
	// ErrCredentials is returned when the identity can't authenticate a
	// session.
	ErrCredentials = errors.New("missing session credentials")
	// ErrNotConnected is returned for operations needing a live session.
	ErrNotConnected = errors.New("session not connected")
)

// ClientFactory builds the MQTT client. It's replaced in tests.
type ClientFactory func(*mqtt.ClientOptions) mqtt.Client

// Config is the broker the session connects to.
type Config struct {
	Host string
	Port int
	// Timeout bounds each broker round trip.
	Timeout time.Duration
}

type Manager struct {
	log       logging.Logger
	cfg       Config
	newClient ClientFactory
	flasher   platform.Flasher
	restarter platform.Restarter

	client       mqtt.Client
	state        marker.Session
	commandTopic string
	statusTopic  string
	inbound      chan mqtt.Message
	lost         chan error
	seen         seenCache
}

type Option func(*Manager)

// WithClientFactory replaces the MQTT client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) {
		m.newClient = f
	}
}

func New(log logging.Logger, cfg Config, flasher platform.Flasher, restarter platform.Restarter, opts ...Option) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	m := &Manager{
		log:       log,
		cfg:       cfg,
		newClient: mqtt.NewClient,
		flasher:   flasher,
		restarter: restarter,
		inbound:   make(chan mqtt.Message, queueDepth),
		lost:      make(chan error, 1),
		seen:      newSeenCache(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.setState(marker.SessionDisconnected)
	return m
}

func (m *Manager) State() marker.Session {
	return m.state
}

func (m *Manager) setState(s marker.Session) {
	if m.state != s {
		m.log.WithField("state", s).Debug("session state")
	}
	m.state = s
	for _, known := range []marker.Session{
		marker.SessionDisconnected,
		marker.SessionConnecting,
		marker.SessionConnected,
		marker.SessionSubscribed,
	} {
		v := 0.0
		if known == s {
			v = 1
		}
		metrics.SessionState.WithLabelValues(string(known)).Set(v)
	}
}

// Connect opens the session as the device. The broker publishes the
// disconnected status on the device's behalf when the session drops.
func (m *Manager) Connect(id identity.Identity, mac string) error {
	if len(id.UDID) < MinUDIDLength || !id.HasAPIKey() {
		return ErrCredentials
	}
	log := m.log.WithFields(logfields.Identity(id))
	m.setState(marker.SessionConnecting)

	commandTopic := marker.CommandTopic(id.Owner, id.UDID)
	statusTopic := marker.StatusTopic(id.Owner, id.UDID)

	broker := fmt.Sprintf("tcp://%s", net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port)))
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(mac).
		SetUsername(id.UDID).
		SetPassword(id.APIKey).
		SetWill(statusTopic, marker.StatusMessage(marker.StatusDisconnected), 0, false).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(false).
		SetConnectTimeout(m.cfg.Timeout).
		SetDefaultPublishHandler(m.enqueue).
		SetConnectionLostHandler(m.connectionLost)

	log.WithField("broker", broker).Info("connecting session")
	client := m.newClient(opts)
	if err := wait(client.Connect(), m.cfg.Timeout); err != nil {
		m.setState(marker.SessionDisconnected)
		return errors.WithMessage(err, "unable to connect session")
	}

	m.client = client
	m.commandTopic = commandTopic
	m.statusTopic = statusTopic
	m.setState(marker.SessionConnected)
	log.Info("session connected")
	return nil
}

// SubscribeAndAnnounce subscribes to the device's command topic and
// announces the device as connected.
func (m *Manager) SubscribeAndAnnounce() error {
	if m.client == nil {
		return ErrNotConnected
	}
	log := m.log.WithFields(logfields.Topic(m.commandTopic))
	if err := wait(m.client.Subscribe(m.commandTopic, 0, m.enqueue), m.cfg.Timeout); err != nil {
		return errors.WithMessage(err, "unable to subscribe")
	}
	log.Debug("subscribed")
	if err := m.publishStatus(marker.StatusConnected); err != nil {
		return err
	}
	m.setState(marker.SessionSubscribed)
	log.Info("session subscribed")
	return nil
}

// Publish sends payload on topic.
func (m *Manager) Publish(topic string, payload []byte) error {
	if m.client == nil {
		return ErrNotConnected
	}
	if err := wait(m.client.Publish(topic, 0, false, payload), m.cfg.Timeout); err != nil {
		return errors.WithMessagef(err, "unable to publish to %s", topic)
	}
	return nil
}

// NotifyUpdateSuccess reports the installed update on the status topic.
func (m *Manager) NotifyUpdateSuccess(message []byte) error {
	return m.Publish(m.statusTopic, message)
}

// RequestConfirmation publishes the update prompt on the command topic.
func (m *Manager) RequestConfirmation(prompt []byte) error {
	return m.Publish(m.commandTopic, prompt)
}

func (m *Manager) publishStatus(status marker.DeviceStatus) error {
	return m.Publish(m.statusTopic, []byte(marker.StatusMessage(status)))
}

// Disconnect closes the session.
func (m *Manager) Disconnect() {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiet)
		m.client = nil
	}
	m.setState(marker.SessionDisconnected)
}

// Pump handles everything the client received since the last call. It
// doesn't block.
func (m *Manager) Pump(ctx context.Context) {
	for {
		select {
		case err := <-m.lost:
			m.log.WithError(err).Warn("session lost")
			m.client = nil
			m.setState(marker.SessionDisconnected)
		case msg := <-m.inbound:
			m.handle(ctx, msg)
		default:
			return
		}
	}
}

// enqueue runs on the client's goroutines.
func (m *Manager) enqueue(_ mqtt.Client, msg mqtt.Message) {
	select {
	case m.inbound <- msg:
	default:
		m.log.WithFields(logfields.Topic(msg.Topic())).Warn("inbound queue full, dropping message")
	}
}

// connectionLost runs on the client's goroutines.
func (m *Manager) connectionLost(_ mqtt.Client, err error) {
	select {
	case m.lost <- err:
	default:
	}
}

func (m *Manager) handle(ctx context.Context, msg mqtt.Message) {
	log := logging.Sub(m.log, "inbound").WithFields(logfields.Topic(msg.Topic()))
	payload := msg.Payload()

	if isImage(payload) {
		log.WithField("size", len(payload)).Info("firmware stream received")
		m.flashStream(ctx, payload)
		return
	}
	if m.seen.Seen(msg.Topic(), payload) {
		log.Debug("duplicate message")
		return
	}
	m.seen.Record(msg.Topic(), payload)
	log.WithField("payload", string(payload)).Info("message received")
}

// isImage reports whether payload carries an ESP firmware image header.
// Anything else, JSON commands with stray bytes included, stays on the
// text path.
func isImage(payload []byte) bool {
	return len(payload) >= imageHeaderSize && payload[0] == imageMagic
}

func (m *Manager) flashStream(ctx context.Context, payload []byte) {
	err := m.flasher.FlashStream(ctx, bytes.NewReader(payload), int64(len(payload)))
	metrics.UpdateApplies.WithLabelValues("stream", metrics.Result(err)).Inc()
	if err != nil {
		m.log.WithError(err).Error("firmware stream update failed")
		return
	}
	if err := m.publishStatus(marker.StatusRebooting); err != nil {
		m.log.WithError(err).Warn("unable to announce reboot")
	}
	m.Disconnect()
	m.log.Info("firmware stream installed, restarting")
	if err := m.restarter.Restart(); err != nil {
		m.log.WithError(err).Error("unable to restart")
	}
}

func wait(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errors.New("timed out waiting for broker")
	}
	return token.Error()
}
