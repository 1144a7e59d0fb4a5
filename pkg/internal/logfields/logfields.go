package logfields

import (
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity"

	"github.com/sirupsen/logrus"
)

// Identity returns the fields that locate a device in logs. The API key is
// never logged.
func Identity(id identity.Identity) logrus.Fields {
	return logrus.Fields{
		"owner":  id.Owner,
		"udid":   id.UDID,
		"alias":  id.Alias,
		"commit": id.CommitID,
	}
}

// Topic tags a session log line with the topic it concerns.
func Topic(topic string) logrus.Fields {
	return logrus.Fields{
		"topic": topic,
	}
}
