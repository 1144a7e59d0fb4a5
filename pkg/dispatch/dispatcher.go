// Package dispatch locates, decodes and acts upon the message in a check-in
// response.
package dispatch

import (
	"context"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/metrics"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/update"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Orchestrator decides on update and notification messages.
type Orchestrator interface {
	HandleUpdate(ctx context.Context, offer update.Offer, autoUpdate bool) (update.Action, error)
	HandleNotification(ctx context.Context, responseType string, value interface{}) (update.Action, error)
}

type Dispatcher struct {
	log          logging.Logger
	store        update.IdentityStore
	orchestrator Orchestrator
	autoUpdate   bool
}

func New(log logging.Logger, store update.IdentityStore, orchestrator Orchestrator, autoUpdate bool) *Dispatcher {
	return &Dispatcher{
		log:          log,
		store:        store,
		orchestrator: orchestrator,
		autoUpdate:   autoUpdate,
	}
}

// Dispatch acts upon the message in raw and returns what's left for the
// caller to carry out.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (update.Action, error) {
	msg, err := Parse(raw)
	if err != nil {
		label := "invalid"
		if errors.Cause(err) == ErrAuthorization {
			label = "unauthorized"
		}
		metrics.Dispatched.WithLabelValues(label).Inc()
		return update.Action{}, err
	}
	metrics.Dispatched.WithLabelValues(msg.Kind.String()).Inc()

	log := d.log.WithField("kind", msg.Kind.String())
	switch msg.Kind {
	case KindRegistration:
		return d.registration(log, msg.Registration)
	case KindUpdate:
		return d.orchestrator.HandleUpdate(ctx, msg.Update.Offer(), d.autoUpdate)
	case KindNotification:
		n := msg.Notification
		return d.orchestrator.HandleNotification(ctx, n.ResponseType, n.Response)
	}
	log.Info("nothing to do")
	return update.Action{}, nil
}

func (d *Dispatcher) registration(log logrus.FieldLogger, r *Registration) (update.Action, error) {
	log = log.WithField("status", r.Status)
	switch r.Status {
	case marker.RegistrationOK:
		log.Info("registered")
		err := d.store.Update(func(id *identity.Identity) {
			if r.Alias != "" {
				id.Alias = r.Alias
			}
			if r.Owner != "" {
				id.Owner = r.Owner
			}
			if r.UDID != "" {
				id.UDID = r.UDID
			}
		})
		return update.Action{}, errors.WithMessage(err, "unable to store registration")

	case marker.RegistrationFirmwareUpdate:
		log = log.WithFields(logrus.Fields{
			"mac":     r.MAC,
			"commit":  r.Commit,
			"version": r.Version,
		})
		if r.Commit == d.store.Get().CommitID {
			log.Warn("offered firmware has the running commit")
		}
		if r.URL == "" {
			log.Warn("firmware update carries no location")
			return update.Action{}, nil
		}
		log.Info("firmware update requested")
		return update.Action{Kind: update.ActionApply, URL: update.SanitizeURL(r.URL)}, nil
	}
	log.Warn("unhandled registration status")
	return update.Action{}, nil
}
