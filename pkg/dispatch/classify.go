package dispatch

import (
	"fmt"
	"strings"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/marker"
)

// Kind is the kind of message a response carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindUpdate
	KindRegistration
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindUpdate:
		return "update"
	case KindRegistration:
		return "registration"
	case KindNotification:
		return "notification"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Classification locates the message in a raw response.
type Classification struct {
	Kind Kind
	// Offset is where the message body starts.
	Offset int
	// Unauthorized is set when the response reports the device's owner as
	// unknown past the message.
	Unauthorized bool
}

var kindMarkers = []struct {
	kind   Kind
	marker string
}{
	{KindUpdate, marker.MarkerUpdate},
	{KindRegistration, marker.MarkerRegistration},
	{KindNotification, marker.MarkerNotification},
}

// Classify finds the message in raw. Markers are ranked by their offset: each
// one, in the order update, registration, notification, takes over only when
// it's found strictly further into the text than the current winner, which
// starts out as unknown at offset zero.
func Classify(raw []byte) Classification {
	text := string(raw)
	c := Classification{Kind: KindUnknown}
	for _, m := range kindMarkers {
		if i := strings.Index(text, m.marker); i > c.Offset {
			c.Kind, c.Offset = m.kind, i
		}
	}
	c.Unauthorized = strings.Index(text, marker.MarkerUnauthorized) > c.Offset
	return c
}
