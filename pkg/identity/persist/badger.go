package persist

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/logging"
	"github.com/pkg/errors"
)

var _ Buffer = (*Badger)(nil)

var badgerKey = []byte("thinx/identity")

// Badger keeps the buffer as a single key in a badger database, for devices
// that already carry one for other state.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database at dir.
func OpenBadger(log logging.Logger, dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(log).
		WithLoggingLevel(badger.WARNING).
		WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open badger store")
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Read() ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return data, errors.Wrap(err, "unable to read identity from badger")
}

func (b *Badger) Write(data []byte) error {
	if len(data) > Size {
		return ErrOverflow
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey, append([]byte(nil), data...))
	})
	return errors.Wrap(err, "unable to write identity to badger")
}

func (b *Badger) Close() error {
	return b.db.Close()
}
