package identity

import (
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity/persist"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/pkg/errors"
)

// Store owns the device identity for the lifetime of the agent. It is not
// safe for concurrent use; the scheduler is its only caller.
type Store struct {
	log logging.Logger
	buf persist.Buffer
	id  Identity
}

// Open loads the persisted identity on top of the build's identity. An
// unreadable or invalid record is logged and ignored so the device can still
// check in with what it was built with.
func Open(log logging.Logger, buf persist.Buffer, build Identity) *Store {
	s := &Store{log: log, buf: buf, id: build}

	raw, err := buf.Read()
	if err != nil {
		log.WithError(err).Warn("unable to read persisted identity")
		return s
	}
	rec, found, err := decodeRecord(raw)
	switch {
	case err != nil:
		log.WithError(err).Warn("ignoring persisted identity")
	case !found:
		log.Info("no persisted identity")
	default:
		s.id.merge(rec)
		log.Debug("restored persisted identity")
	}
	if logging.Debuggable {
		log.WithField("record", string(raw)).Debug("persisted identity buffer")
	}
	return s
}

// Get returns a copy of the current identity.
func (s *Store) Get() Identity {
	return s.id
}

// Update mutates the identity and flushes it. The in-memory identity is
// updated even when the flush fails.
func (s *Store) Update(fn func(*Identity)) error {
	fn(&s.id)
	return s.Flush()
}

// Flush writes the identity to persistence.
func (s *Store) Flush() error {
	data, err := encodeRecord(s.id.record())
	if err != nil {
		return err
	}
	if err := s.buf.Write(data); err != nil {
		return errors.Wrap(err, "unable to persist identity")
	}
	s.log.Debug("identity flushed")
	return nil
}
