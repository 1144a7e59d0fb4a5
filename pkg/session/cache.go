package session

import (
	"time"

	"github.com/karlseguin/ccache"
)

const (
	seenTimeout = time.Second * 15
)

// seenCache remembers recently received messages so a redelivered message
// is handled once.
type seenCache interface {
	Seen(topic string, payload []byte) bool
	Record(topic string, payload []byte)
}

type lastSeen struct {
	cache *ccache.Cache
}

func newSeenCache() seenCache {
	return &lastSeen{
		cache: ccache.New(ccache.Configure().MaxSize(100).ItemsToPrune(10)),
	}
}

func seenKey(topic string, payload []byte) string {
	return topic + "\x00" + string(payload)
}

// Seen reports whether the same message was recorded within the timeout.
func (l *lastSeen) Seen(topic string, payload []byte) bool {
	val := l.cache.Get(seenKey(topic, payload))
	if val == nil {
		return false
	}
	return !val.Expired()
}

func (l *lastSeen) Record(topic string, payload []byte) {
	l.cache.Set(seenKey(topic, payload), true, seenTimeout)
}
