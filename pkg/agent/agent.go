package agent

import (
	"context"
	"time"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/checkin"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/dispatch"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/internal/logfields"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/link"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/metrics"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/provision"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/session"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/update"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/workgroup"
	"github.com/pkg/errors"
)

const defaultTickInterval = time.Second

// Phase names a step of the boot sequence reported to the completion
// callback.
type Phase string

const (
	PhaseCheckin    Phase = "checkin"
	PhaseSession    Phase = "session"
	PhaseSubscribed Phase = "subscribed"
)

type identityStore interface {
	Get() identity.Identity
	Update(fn func(*identity.Identity)) error
}

type sender interface {
	Send(ctx context.Context, apiKey string, body []byte) ([]byte, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, raw []byte) (update.Action, error)
}

type applier interface {
	Apply(ctx context.Context, url string) error
}

type sessioner interface {
	State() marker.Session
	Connect(id identity.Identity, mac string) error
	SubscribeAndAnnounce() error
	Pump(ctx context.Context)
	NotifyUpdateSuccess(message []byte) error
	RequestConfirmation(prompt []byte) error
	Disconnect()
}

type worker interface {
	Run(ctx context.Context) error
}

// Components are the collaborators the agent sequences.
type Components struct {
	Store      identityStore
	Link       platform.Link
	Connection *link.Manager
	Checkin    sender
	Dispatcher dispatcher
	Updater    applier
	Session    sessioner
	// Provisioning is optional. Requests are applied at the start of a tick.
	Provisioning *provision.Queue
	// Server is run next to the tick loop when set.
	Server worker
}

type Agent struct {
	log      logging.Logger
	c        Components
	platform string
	interval time.Duration
	complete func(Phase)

	checkin  marker.Checkin
	mac      string
	progress progression
}

type Option func(*Agent)

// WithCompletion registers fn to be called after each successful phase. It
// may be called more than once for a phase across a run.
func WithCompletion(fn func(Phase)) Option {
	return func(a *Agent) {
		a.complete = fn
	}
}

// WithTickInterval sets the period Run ticks at.
func WithTickInterval(d time.Duration) Option {
	return func(a *Agent) {
		a.interval = d
	}
}

// New creates an agent reporting itself as running on platformName.
func New(log logging.Logger, c Components, platformName string, opts ...Option) (*Agent, error) {
	a := &Agent{
		log:      log,
		c:        c,
		platform: platformName,
		interval: defaultTickInterval,
		complete: func(Phase) {},
		checkin:  marker.CheckinNotStarted,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.checkProviders(); err != nil {
		return nil, errors.WithMessage(err, "misconfigured")
	}
	return a, nil
}

func (a *Agent) checkProviders() error {
	switch {
	case a.c.Store == nil:
		return errors.New("identity store is nil")
	case a.c.Link == nil:
		return errors.New("link is nil")
	case a.c.Connection == nil:
		return errors.New("connection manager is nil")
	case a.c.Checkin == nil:
		return errors.New("check-in client is nil")
	case a.c.Dispatcher == nil:
		return errors.New("dispatcher is nil")
	case a.c.Updater == nil:
		return errors.New("updater is nil")
	case a.c.Session == nil:
		return errors.New("session is nil")
	case a.interval <= 0:
		return errors.New("tick interval must be positive")
	}
	return nil
}

// CheckinState returns the state of this boot's check-in.
func (a *Agent) CheckinState() marker.Checkin {
	return a.checkin
}

// Run ticks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Debug("starting")
	defer a.log.Debug("finished")
	group := workgroup.WithContext(ctx)

	if a.c.Server != nil {
		group.Work(a.c.Server.Run)
	}
	group.Work(a.loop)

	a.log.Debug("waiting on workers to finish")
	return group.Wait()
}

func (a *Agent) loop(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	defer a.c.Session.Disconnect()

	for {
		a.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick advances the device by one step. It blocks for as long as a join or
// a check-in takes.
func (a *Agent) Tick(ctx context.Context) {
	a.applyProvisioning()

	status, err := a.c.Link.Status()
	if err != nil {
		a.log.WithError(err).Warn("unable to read link status")
		status = platform.LinkStatus{}
	}
	if a.c.Connection.Tick(status) != marker.ConnectivityStation {
		// Not joined yet, or serving the local access point where the
		// cloud is unreachable.
		return
	}

	a.c.Session.Pump(ctx)

	if a.checkin != marker.CheckinCompleted {
		a.checkIn(ctx)
		return
	}
	switch a.c.Session.State() {
	case marker.SessionDisconnected:
		a.connectSession()
	case marker.SessionConnected:
		a.subscribe()
	}
}

func (a *Agent) checkIn(ctx context.Context) {
	if a.checkin == marker.CheckinHalted {
		return
	}
	id := a.c.Store.Get()
	if !id.HasAPIKey() {
		a.log.Debug("no API key, not checking in")
		return
	}
	log := a.log.WithFields(logfields.Identity(id))

	body, err := checkin.BuildRequest(id, a.deviceMAC(), a.platform)
	if err != nil {
		log.WithError(err).Error("check-in failed")
		return
	}

	a.checkin = marker.CheckinInFlight
	log.Info("checking in")
	raw, err := a.c.Checkin.Send(ctx, id.APIKey, body)
	metrics.Checkins.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		log.WithError(err).Error("check-in failed")
		a.checkin = marker.CheckinNotStarted
		return
	}

	action, err := a.c.Dispatcher.Dispatch(ctx, raw)
	if errors.Cause(err) == dispatch.ErrAuthorization {
		log.WithError(err).Error("device owner is not authorized, provide the owner id")
		a.checkin = marker.CheckinHalted
		return
	}
	a.checkin = marker.CheckinCompleted
	a.log.Info("checked in")
	a.complete(PhaseCheckin)
	if err != nil {
		log.WithError(err).Error("unable to handle check-in response")
		return
	}
	a.perform(ctx, action)
}

// perform carries out an update decision.
func (a *Agent) perform(ctx context.Context, action update.Action) {
	log := a.log.WithField("action", action.Kind.String())
	switch action.Kind {
	case update.ActionNone:
	case update.ActionApply:
		log.WithField("url", action.URL).Info("applying update")
		if err := a.c.Updater.Apply(ctx, action.URL); err != nil {
			log.WithError(err).Error("could not apply update")
		}
	case update.ActionNotifySuccess, update.ActionRequestConfirmation:
		a.progress.SetTarget(action)
		a.publishPending()
	case update.ActionDenied:
		log.Info("update declined")
	}
}

// publishPending publishes the held update message once the session is
// subscribed.
func (a *Agent) publishPending() {
	if !a.progress.Valid() || a.c.Session.State() != marker.SessionSubscribed {
		return
	}
	action := a.progress.GetTarget()
	var err error
	switch action.Kind {
	case update.ActionNotifySuccess:
		err = a.c.Session.NotifyUpdateSuccess(action.Message)
	case update.ActionRequestConfirmation:
		err = a.c.Session.RequestConfirmation(action.Message)
	}
	if err != nil {
		a.log.WithError(err).WithField("action", action.Kind.String()).Warn("unable to publish update message")
		return
	}
	a.progress.Reset()
}

func (a *Agent) connectSession() {
	err := a.c.Session.Connect(a.c.Store.Get(), a.deviceMAC())
	switch {
	case errors.Cause(err) == session.ErrCredentials:
		a.log.Debug("no session credentials yet")
	case err != nil:
		a.log.WithError(err).Warn("unable to start session")
	default:
		a.complete(PhaseSession)
	}
}

func (a *Agent) subscribe() {
	if err := a.c.Session.SubscribeAndAnnounce(); err != nil {
		a.log.WithError(err).Warn("unable to subscribe")
		return
	}
	a.complete(PhaseSubscribed)
	a.publishPending()
}

// applyProvisioning stores locally provided credentials and starts the boot
// sequence over with them.
func (a *Agent) applyProvisioning() {
	if a.c.Provisioning == nil {
		return
	}
	for _, req := range a.c.Provisioning.Drain() {
		err := a.c.Store.Update(func(id *identity.Identity) {
			if req.APIKey != "" {
				id.APIKey = req.APIKey
			}
			if req.Owner != "" {
				id.Owner = req.Owner
			}
		})
		if err != nil {
			a.log.WithError(err).Error("unable to store provisioned credentials")
		}
		a.log.WithField("owner", req.Owner).Info("credentials provisioned")
		a.checkin = marker.CheckinNotStarted
		a.c.Session.Disconnect()
		a.c.Connection.Reset()
	}
}

func (a *Agent) deviceMAC() string {
	if a.mac != "" {
		return a.mac
	}
	mac, err := platform.DeviceMAC(a.c.Link)
	if err != nil {
		a.log.WithError(err).Warn("unable to determine device MAC")
		return ""
	}
	a.mac = mac
	return mac
}
