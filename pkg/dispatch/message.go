package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/update"
	"github.com/pkg/errors"
)

var (
	// ErrAuthorization is returned when the cloud doesn't know the device's
	// owner.
	ErrAuthorization = errors.New("device owner not authorized")
	// ErrParse is returned when the located message can't be decoded.
	ErrParse = errors.New("unable to parse response")
)

// Message is a decoded response. Exactly one of the kind's fields is set.
type Message struct {
	Kind         Kind
	Registration *Registration
	Update       *Update
	Notification *Notification
}

type Registration struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Alias   string `json:"alias"`
	Owner   string `json:"owner"`
	UDID    string `json:"udid"`

	// Set with the FIRMWARE_UPDATE status.
	MAC     string `json:"mac"`
	Commit  string `json:"commit"`
	Version string `json:"version"`
	URL     string `json:"url"`
}

type Update struct {
	MAC     string          `json:"mac"`
	Commit  string          `json:"commit"`
	Version string          `json:"version"`
	URL     string          `json:"url"`
	OTT     string          `json:"ott"`
	Type    string          `json:"type"`
	Files   json.RawMessage `json:"files"`
}

// Offer converts the message for the orchestrator.
func (u *Update) Offer() update.Offer {
	return update.Offer{
		MAC:     u.MAC,
		Commit:  u.Commit,
		Version: u.Version,
		URL:     u.URL,
		OTT:     u.OTT,
		Type:    u.Type,
		Files:   files(u.Files),
	}
}

// files accepts either a list of names or a single name.
func files(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

type Notification struct {
	ResponseType string      `json:"response_type"`
	Response     interface{} `json:"response"`
}

// Parse classifies and decodes raw. An unknown response is not an error.
func Parse(raw []byte) (*Message, error) {
	c := Classify(raw)
	if c.Unauthorized {
		return nil, ErrAuthorization
	}
	msg := &Message{Kind: c.Kind}
	if c.Kind == KindUnknown {
		return msg, nil
	}

	body, err := extract(string(raw), c)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Registration *Registration `json:"registration"`
		Update       *Update       `json:"update"`
		Notification *Notification `json:"notification"`
	}
	// Only the first value is read; chunk trailers or other content after
	// the object are ignored.
	if err := json.NewDecoder(strings.NewReader(body)).Decode(&envelope); err != nil {
		return nil, errors.WithMessage(ErrParse, err.Error())
	}

	switch c.Kind {
	case KindRegistration:
		msg.Registration = envelope.Registration
		if msg.Registration == nil {
			return nil, errors.WithMessage(ErrParse, "missing registration node")
		}
	case KindUpdate:
		msg.Update = envelope.Update
		if msg.Update == nil {
			return nil, errors.WithMessage(ErrParse, "missing update node")
		}
	case KindNotification:
		msg.Notification = envelope.Notification
		if msg.Notification == nil {
			return nil, errors.WithMessage(ErrParse, "missing notification node")
		}
	}
	return msg, nil
}

// extract slices the message body out of the response. Registrations and
// notifications end at the first "}}" found anywhere in the text, updates
// run to the end of it.
func extract(text string, c Classification) (string, error) {
	if c.Kind == KindUpdate {
		return text[c.Offset:], nil
	}
	end := strings.Index(text, marker.MarkerBodyTerminator)
	if end < 0 {
		return "", errors.WithMessage(ErrParse, "message is not terminated")
	}
	end += len(marker.MarkerBodyTerminator)
	if end <= c.Offset {
		return "", errors.WithMessage(ErrParse, "message terminated before it starts")
	}
	return text[c.Offset:end], nil
}
