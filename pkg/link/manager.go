// Package link drives the wireless link towards a joined network, degrading
// into serving a local access point after too many failed attempts.
package link

import (
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/metrics"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform"
)

// Config is the networks the manager joins and falls back to.
type Config struct {
	SSID string
	Pass string

	APSSID string
	APPass string

	// RetryThreshold is the number of ticks an attempt may stay in flight
	// before the radio falls back to access point mode.
	RetryThreshold int
}

// Manager is the connection state machine. It is advanced by Tick only and
// is not safe for concurrent use.
type Manager struct {
	log  logging.Logger
	link platform.Link
	cfg  Config

	state   marker.Connectivity
	retries int
}

func New(log logging.Logger, link platform.Link, cfg Config) *Manager {
	return &Manager{
		log:   log,
		link:  link,
		cfg:   cfg,
		state: marker.ConnectivityDisconnected,
	}
}

// State returns the current connectivity.
func (m *Manager) State() marker.Connectivity {
	return m.state
}

// Retries is the number of ticks the current attempt has been in flight.
func (m *Manager) Retries() int {
	return m.retries
}

// Connected reports whether the link is up, including when the device serves
// its own access point.
func (m *Manager) Connected() bool {
	return m.state == marker.ConnectivityStation || m.state == marker.ConnectivityAccessPoint
}

// Reset drops any attempt or fallback so the next tick joins again.
func (m *Manager) Reset() {
	m.log.Debug("reset")
	m.state = marker.ConnectivityDisconnected
	m.retries = 0
}

// Tick advances the state machine by one step given the link's reported
// status. Issuing a join may block for the driver's join duration.
func (m *Manager) Tick(status platform.LinkStatus) marker.Connectivity {
	if status.Connected && status.Mode != marker.RadioModeAccessPoint {
		if m.state != marker.ConnectivityStation {
			m.log.WithField("ssid", status.SSID).Info("link connected")
		}
		m.state = marker.ConnectivityStation
		m.retries = 0
		return m.state
	}

	switch m.state {
	case marker.ConnectivityAccessPoint:
		// Serving the local access point until reset or a station link
		// shows up.
	case marker.ConnectivityConnecting:
		m.retries++
		if m.retries > m.cfg.RetryThreshold {
			m.fallback()
			break
		}
		if m.retries%100 == 0 {
			m.log.WithField("retries", m.retries).Debug("join in progress")
		}
	default:
		if m.state == marker.ConnectivityStation {
			m.log.Warn("link lost")
		}
		m.join()
	}
	return m.state
}

// join issues a single join attempt and marks it in flight. A failed join
// stays in flight so the retry budget still runs out towards the fallback.
func (m *Manager) join() {
	m.state = marker.ConnectivityConnecting
	m.retries = 0
	if m.cfg.SSID == "" {
		m.log.Warn("no network configured, waiting for access point fallback")
		return
	}
	metrics.JoinAttempts.Inc()
	if err := m.link.Join(m.cfg.SSID, m.cfg.Pass); err != nil {
		m.log.WithError(err).WithField("ssid", m.cfg.SSID).Warn("join attempt failed")
	}
}

func (m *Manager) fallback() {
	m.log.WithField("ssid", m.cfg.APSSID).Warn("join retries exhausted, starting access point")
	m.retries = 0
	if err := m.link.StartAccessPoint(m.cfg.APSSID, m.cfg.APPass); err != nil {
		m.log.WithError(err).Error("unable to start access point")
		m.state = marker.ConnectivityDisconnected
		return
	}
	metrics.Fallbacks.Inc()
	m.state = marker.ConnectivityAccessPoint
}
