// Package update decides whether offered firmware is installed and drives the
// flashing collaborator when it is.
package update

import (
	"context"
	"strings"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/metrics"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/platform"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrApplyFailed is returned when neither the offered image nor the recovery
// image could be flashed.
var ErrApplyFailed = errors.New("firmware update failed")

// IdentityStore is the part of the identity store the orchestrator works
// with.
type IdentityStore interface {
	Get() identity.Identity
	Update(fn func(*identity.Identity)) error
}

// Config locates the update servers.
type Config struct {
	// Host serves offered images on Port.
	Host string
	Port int
	// Recovery image fetched when the offered image can't be flashed.
	RecoveryHost  string
	RecoveryPath  string
	RecoveryImage string
	// MAC is the device's own address, compared against offers.
	MAC string
}

// Offer is an update offered by the cloud.
type Offer struct {
	MAC     string
	Commit  string
	Version string
	URL     string
	// OTT is a one time token URL used when URL is absent.
	OTT   string
	Type  string
	Files []string
}

// Candidate is the location the offer would be fetched from.
func (o Offer) Candidate() string {
	if o.URL != "" {
		return o.URL
	}
	return o.OTT
}

type Orchestrator struct {
	log     logging.Logger
	store   IdentityStore
	flasher platform.Flasher
	cfg     Config
}

func New(log logging.Logger, store IdentityStore, flasher platform.Flasher, cfg Config) *Orchestrator {
	return &Orchestrator{
		log:     log,
		store:   store,
		flasher: flasher,
		cfg:     cfg,
	}
}

// HandleUpdate decides what to do about an offered update. The candidate URL
// is persisted before anything is published or flashed.
func (o *Orchestrator) HandleUpdate(ctx context.Context, offer Offer, autoUpdate bool) (Action, error) {
	log := o.log.WithFields(logrus.Fields{
		"commit":  offer.Commit,
		"version": offer.Version,
		"type":    offer.Type,
	})
	if offer.MAC != "" && o.cfg.MAC != "" && !strings.EqualFold(offer.MAC, o.cfg.MAC) {
		log.WithField("offer-mac", offer.MAC).Warn("update offered for another device")
	}

	id := o.store.Get()
	if offer.Commit == id.CommitID && offer.Version == id.VersionID {
		if !id.HasUpdatePending() {
			log.Info("no update available")
			return Action{}, nil
		}
		log.Info("offered update is running, clearing pending update")
		err := o.store.Update(func(id *identity.Identity) {
			id.AvailableUpdateURL = ""
		})
		if err != nil {
			return Action{}, errors.WithMessage(err, "unable to clear pending update")
		}
		return notifySuccess(), nil
	}

	candidate := offer.Candidate()
	if candidate == "" {
		log.Warn("update offer carries no location")
		return Action{}, nil
	}
	err := o.store.Update(func(id *identity.Identity) {
		id.AvailableUpdateURL = candidate
	})
	if err != nil {
		return Action{}, errors.WithMessage(err, "unable to store pending update")
	}

	if !autoUpdate {
		log.Info("update available, requesting confirmation")
		return requestConfirmation(), nil
	}
	log.Info("update available, applying")
	return apply(SanitizeURL(candidate)), nil
}

// HandleNotification handles the user's answer to the confirmation prompt.
// value is the decoded "response" of the notification.
func (o *Orchestrator) HandleNotification(ctx context.Context, responseType string, value interface{}) (Action, error) {
	log := o.log.WithField("response-type", responseType)

	if !approved(responseType, value) {
		log.WithField("response", value).Info("update denied")
		return Action{Kind: ActionDenied}, nil
	}
	id := o.store.Get()
	if !id.HasUpdatePending() {
		log.Warn("update approved with no pending update")
		return Action{Kind: ActionDenied}, nil
	}
	log.Info("update approved")
	return apply(id.AvailableUpdateURL), nil
}

func approved(responseType string, value interface{}) bool {
	switch responseType {
	case "bool", "boolean":
		b, ok := value.(bool)
		return ok && b
	case "string", "String":
		s, ok := value.(string)
		return ok && s == "yes"
	}
	return false
}

// Apply flashes the firmware at url, falling back to the recovery image. It
// only returns when both attempts failed, success restarts the device.
func (o *Orchestrator) Apply(ctx context.Context, url string) error {
	primary := platform.Image{
		Host: o.cfg.Host,
		Port: o.cfg.Port,
		Path: SanitizeURL(url),
	}
	err := o.flash(ctx, "offered", primary)
	if err == nil {
		return nil
	}

	recovery := platform.Image{
		Host:    o.cfg.RecoveryHost,
		Port:    o.cfg.Port,
		Path:    o.cfg.RecoveryPath,
		Version: o.cfg.RecoveryImage,
	}
	if err := o.flash(ctx, "recovery", recovery); err != nil {
		return ErrApplyFailed
	}
	return nil
}

func (o *Orchestrator) flash(ctx context.Context, source string, image platform.Image) error {
	log := o.log.WithFields(logrus.Fields{
		"source": source,
		"image":  image.URL(),
	})
	log.Info("flashing firmware")
	err := o.flasher.Flash(ctx, image)
	metrics.UpdateApplies.WithLabelValues(source, metrics.Result(err)).Inc()
	if err != nil {
		log.WithError(err).Error("firmware update failed")
	}
	return err
}

// SanitizeURL strips the transport scheme from url.
func SanitizeURL(url string) string {
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(url, scheme) {
			return strings.TrimPrefix(url, scheme)
		}
	}
	return url
}
