package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/dispatch"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity/persist"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/internal/testoutput"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/link"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/provision"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/update"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

const headers = "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nConnection: close\r\n\r\n"

type testHooks struct {
	Link      *testLink
	Sender    *testSender
	Session   *testSession
	Updater   *testUpdater
	Queue     *provision.Queue
	Buffer    *persist.Memory
	Store     *identity.Store
	Completed []Phase
}

type testLink struct {
	Connected bool
	joins     int
	aps       int
}

func (l *testLink) Status() (platform.LinkStatus, error) {
	return platform.LinkStatus{Connected: l.Connected, Mode: marker.RadioModeStation, SSID: "home"}, nil
}

func (l *testLink) Join(ssid, pass string) error {
	l.joins++
	return nil
}

func (l *testLink) StartAccessPoint(ssid, pass string) error {
	l.aps++
	return nil
}

func (l *testLink) HardwareAddr() (net.HardwareAddr, error) {
	return net.HardwareAddr{0xa0, 0xb1, 0xc2, 0xd3, 0xe4, 0xf5}, nil
}

type testSender struct {
	SendFn func(apiKey string, body []byte) ([]byte, error)
	calls  int
}

func (s *testSender) Send(ctx context.Context, apiKey string, body []byte) ([]byte, error) {
	s.calls++
	if s.SendFn == nil {
		return []byte(headers + `{"registration":{"status":"OK"}}`), nil
	}
	return s.SendFn(apiKey, body)
}

type testSession struct {
	ConnectFn     func(identity.Identity, string) error
	state         marker.Session
	pumps         int
	successes     [][]byte
	confirmations [][]byte
	disconnects   int
}

func (s *testSession) State() marker.Session {
	if s.state == "" {
		return marker.SessionDisconnected
	}
	return s.state
}

func (s *testSession) Connect(id identity.Identity, mac string) error {
	if s.ConnectFn != nil {
		if err := s.ConnectFn(id, mac); err != nil {
			return err
		}
	}
	s.state = marker.SessionConnected
	return nil
}

func (s *testSession) SubscribeAndAnnounce() error {
	s.state = marker.SessionSubscribed
	return nil
}

func (s *testSession) Pump(ctx context.Context) {
	s.pumps++
}

func (s *testSession) NotifyUpdateSuccess(message []byte) error {
	s.successes = append(s.successes, message)
	return nil
}

func (s *testSession) RequestConfirmation(prompt []byte) error {
	s.confirmations = append(s.confirmations, prompt)
	return nil
}

func (s *testSession) Disconnect() {
	s.disconnects++
	s.state = marker.SessionDisconnected
}

type testUpdater struct {
	applied []string
}

func (u *testUpdater) Apply(ctx context.Context, url string) error {
	u.applied = append(u.applied, url)
	return nil
}

func testAgent(t *testing.T, id identity.Identity) (*Agent, *testHooks) {
	log := testoutput.Logger(t, "agent")
	hooks := &testHooks{
		Link:    &testLink{Connected: true},
		Sender:  &testSender{},
		Session: &testSession{},
		Updater: &testUpdater{},
		Queue:   provision.NewQueue(),
		Buffer:  &persist.Memory{},
	}
	hooks.Store = identity.Open(log, hooks.Buffer, id)
	orchestrator := update.New(log, hooks.Store, nil, update.Config{Host: "thinx.cloud", Port: 80})

	a, err := New(log, Components{
		Store:        hooks.Store,
		Link:         hooks.Link,
		Connection:   link.New(log, hooks.Link, link.Config{SSID: "home", RetryThreshold: 2}),
		Checkin:      hooks.Sender,
		Dispatcher:   dispatch.New(log, hooks.Store, orchestrator, false),
		Updater:      hooks.Updater,
		Session:      hooks.Session,
		Provisioning: hooks.Queue,
	}, "linux", WithCompletion(func(p Phase) {
		hooks.Completed = append(hooks.Completed, p)
	}))
	assert.NilError(t, err)
	return a, hooks
}

func tick(a *Agent, n int) {
	for i := 0; i < n; i++ {
		a.Tick(context.TODO())
	}
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(testoutput.Logger(t, "agent"), Components{}, "linux")
	assert.ErrorContains(t, err, "misconfigured")
}

func TestNoCheckinWithoutAPIKey(t *testing.T) {
	for _, key := range []string{"", "k", "k123"} {
		a, hooks := testAgent(t, identity.Identity{APIKey: key})
		tick(a, 5)
		assert.Equal(t, hooks.Sender.calls, 0, "key %q", key)
		assert.Equal(t, a.CheckinState(), marker.CheckinNotStarted)
		assert.Check(t, is.Len(hooks.Completed, 0))
	}
}

func TestBootSequence(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key"})
	hooks.Sender.SendFn = func(apiKey string, body []byte) ([]byte, error) {
		assert.Equal(t, apiKey, "secret-key")
		assert.Equal(t, string(body), `{"registration":{"mac":"A0B1C2D3E4F5","platform":"linux"}}`)
		return []byte(headers + `{"registration":{"status":"OK","owner":"acme","udid":"dev-1"}}`), nil
	}

	tick(a, 1)
	assert.Equal(t, a.CheckinState(), marker.CheckinCompleted)
	assert.DeepEqual(t, hooks.Store.Get(), identity.Identity{Owner: "acme", UDID: "dev-1", APIKey: "secret-key"})
	assert.DeepEqual(t, hooks.Completed, []Phase{PhaseCheckin})
	assert.Equal(t, hooks.Session.State(), marker.SessionDisconnected)

	tick(a, 1)
	assert.Equal(t, hooks.Session.State(), marker.SessionConnected)
	assert.DeepEqual(t, hooks.Completed, []Phase{PhaseCheckin, PhaseSession})

	tick(a, 1)
	assert.Equal(t, hooks.Session.State(), marker.SessionSubscribed)
	assert.DeepEqual(t, hooks.Completed, []Phase{PhaseCheckin, PhaseSession, PhaseSubscribed})

	tick(a, 3)
	assert.Equal(t, hooks.Sender.calls, 1, "check-in happens once")
	assert.Equal(t, len(hooks.Completed), 3)
	assert.Equal(t, hooks.Session.pumps, 6)

	reloaded := identity.Open(testoutput.Logger(t, "reload"), hooks.Buffer, identity.Identity{})
	assert.Equal(t, reloaded.Get().Owner, "acme")
	assert.Equal(t, reloaded.Get().UDID, "dev-1")
}

func TestLinkDownYields(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key"})
	hooks.Link.Connected = false

	tick(a, 2)
	assert.Equal(t, hooks.Link.joins, 1)
	assert.Equal(t, hooks.Sender.calls, 0)
	assert.Equal(t, hooks.Session.pumps, 0)

	hooks.Link.Connected = true
	tick(a, 1)
	assert.Equal(t, hooks.Sender.calls, 1)
}

func TestAccessPointFallbackYields(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key"})
	hooks.Link.Connected = false

	// join, two retries within the threshold, then the fallback.
	tick(a, 4)
	assert.Equal(t, hooks.Link.aps, 1)

	tick(a, 3)
	assert.Equal(t, hooks.Link.joins, 1)
	assert.Equal(t, hooks.Sender.calls, 0)
	assert.Equal(t, hooks.Session.pumps, 0)
}

func TestCheckinFailureRetriesNextTick(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key"})
	hooks.Sender.SendFn = func(string, []byte) ([]byte, error) {
		return []byte("HTTP/1.1 200"), errors.New("check-in response timed out")
	}

	tick(a, 1)
	assert.Equal(t, a.CheckinState(), marker.CheckinNotStarted)
	assert.Check(t, is.Len(hooks.Completed, 0))

	hooks.Sender.SendFn = nil
	tick(a, 1)
	assert.Equal(t, hooks.Sender.calls, 2)
	assert.Equal(t, a.CheckinState(), marker.CheckinCompleted)
}

func TestUnauthorizedHaltsUntilProvisioned(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key"})
	hooks.Sender.SendFn = func(string, []byte) ([]byte, error) {
		return []byte(headers + `{"registration":{"status":"OK","owner":"acme"}} old_protocol_owner:-undefined-`), nil
	}

	tick(a, 3)
	assert.Equal(t, hooks.Sender.calls, 1)
	assert.Equal(t, a.CheckinState(), marker.CheckinHalted)
	assert.Equal(t, hooks.Store.Get().Owner, "", "identity unchanged")
	assert.Check(t, is.Len(hooks.Completed, 0))

	hooks.Sender.SendFn = nil
	assert.Check(t, hooks.Queue.Submit(provision.Request{Owner: "acme", APIKey: "new-secret"}))
	tick(a, 1)
	assert.Equal(t, hooks.Sender.calls, 2)
	assert.Equal(t, a.CheckinState(), marker.CheckinCompleted)
	assert.Equal(t, hooks.Store.Get().Owner, "acme")
	assert.Equal(t, hooks.Store.Get().APIKey, "new-secret")
}

func TestConfirmationWaitsForSubscription(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key", UDID: "dev-1", CommitID: "c1", VersionID: "1.0"})
	hooks.Sender.SendFn = func(string, []byte) ([]byte, error) {
		return []byte(headers + `{"update":{"commit":"c2","version":"1.1","url":"http://thinx.cloud/fw.bin"}}`), nil
	}

	tick(a, 2)
	assert.Equal(t, hooks.Store.Get().AvailableUpdateURL, "http://thinx.cloud/fw.bin")
	assert.Check(t, is.Len(hooks.Session.confirmations, 0))

	tick(a, 1)
	assert.Equal(t, hooks.Session.State(), marker.SessionSubscribed)
	assert.DeepEqual(t, hooks.Session.confirmations, [][]byte{update.ConfirmationPrompt})
	assert.Check(t, is.Len(hooks.Updater.applied, 0))
}

func TestRegistrationFirmwareUpdateApplies(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key"})
	hooks.Sender.SendFn = func(string, []byte) ([]byte, error) {
		return []byte(headers + `{"registration":{"status":"FIRMWARE_UPDATE","commit":"c2","url":"http://thinx.cloud/fw.bin"}}`), nil
	}

	tick(a, 1)
	assert.DeepEqual(t, hooks.Updater.applied, []string{"thinx.cloud/fw.bin"})
}

func TestParseErrorCompletesCheckin(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key"})
	hooks.Sender.SendFn = func(string, []byte) ([]byte, error) {
		return []byte(headers + `{"registration":{"status":`), nil
	}

	tick(a, 2)
	assert.Equal(t, hooks.Sender.calls, 1)
	assert.Equal(t, a.CheckinState(), marker.CheckinCompleted)
}

func TestSessionWithoutCredentials(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key"})
	hooks.Session.ConnectFn = func(id identity.Identity, mac string) error {
		assert.Equal(t, mac, "A0B1C2D3E4F5")
		return errors.New("missing session credentials")
	}

	tick(a, 3)
	assert.Equal(t, hooks.Session.State(), marker.SessionDisconnected)
	assert.DeepEqual(t, hooks.Completed, []Phase{PhaseCheckin})
}

func TestRunStopsOnCancel(t *testing.T) {
	a, hooks := testAgent(t, identity.Identity{APIKey: "secret-key"})
	a.interval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NilError(t, a.Run(ctx))
	assert.Equal(t, hooks.Sender.calls, 1)
	assert.Equal(t, hooks.Session.disconnects, 1)
}
