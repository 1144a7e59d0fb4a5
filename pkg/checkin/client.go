// Package checkin registers the device with the cloud API and returns the
// raw response for dispatching.
package checkin

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
	"github.com/pkg/errors"
)

// ResponseTimeout bounds the wait for the cloud's response.
const ResponseTimeout = 30 * time.Second

const userAgent = "THiNX-Client"

var (
	// ErrTimeout is returned when the response didn't complete in time.
	// Whatever arrived is returned along with it.
	ErrTimeout = errors.New("check-in response timed out")
	// ErrNoAPIKey is returned when the API key is too short to be sent.
	ErrNoAPIKey = errors.New("no usable API key")
)

// Dialer opens the transport connection to the cloud.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config is the cloud endpoint checked in with.
type Config struct {
	Host string
	Port int
	TLS  bool
}

// Client sends check-in requests. It makes no retries.
type Client struct {
	log     logging.Logger
	dialer  Dialer
	cfg     Config
	timeout time.Duration
}

func New(log logging.Logger, cfg Config) *Client {
	var dialer Dialer = &net.Dialer{Timeout: ResponseTimeout}
	if cfg.TLS {
		dialer = &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: ResponseTimeout},
			Config:    &tls.Config{ServerName: cfg.Host},
		}
	}
	return &Client{
		log:     log,
		dialer:  dialer,
		cfg:     cfg,
		timeout: ResponseTimeout,
	}
}

// Send posts the body and returns the raw response, status line and headers
// included, as received until the peer closed the connection.
func (c *Client) Send(ctx context.Context, apiKey string, body []byte) ([]byte, error) {
	if len(apiKey) < identity.MinAPIKeyLength {
		return nil, ErrNoAPIKey
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	log := c.log.WithField("endpoint", addr)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "API connection failed")
	}
	defer conn.Close()

	req, err := c.request(apiKey, body)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, errors.Wrap(err, "unable to set response deadline")
	}
	if err := req.Write(conn); err != nil {
		return nil, errors.Wrap(err, "unable to send check-in")
	}
	if logging.Debuggable {
		log.WithField("body", string(body)).Debug("check-in sent")
	}

	log.Debug("waiting for response")
	raw, err := readAll(conn)
	if logging.Debuggable {
		log.WithField("response", string(raw)).Debug("check-in response")
	}
	return raw, err
}

func (c *Client) request(apiKey string, body []byte) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodPost, "http://"+c.cfg.Host+marker.CheckinPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "unable to build check-in request")
	}
	req.Close = true
	req.Header.Set("Authentication", apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", "device")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// readAll accumulates the connection's bytes until the peer closes it or the
// deadline passes.
func readAll(conn net.Conn) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 512)
	for {
		n, err := conn.Read(chunk)
		buf.Write(chunk[:n])
		switch {
		case err == nil:
			continue
		case err == io.EOF:
			return buf.Bytes(), nil
		}
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return buf.Bytes(), ErrTimeout
		}
		return buf.Bytes(), errors.Wrap(err, "unable to read check-in response")
	}
}
