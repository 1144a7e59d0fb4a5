package identity

import (
	"bytes"
	"encoding/json"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity/persist"
	"github.com/pkg/errors"
)

var (
	// ErrRecordTooLarge is returned when the identity doesn't fit the
	// persistence buffer.
	ErrRecordTooLarge = errors.Errorf("identity record exceeds %d bytes", persist.Size)
	// ErrInvalidRecord is returned for stored data that isn't an identity
	// record, such as an erased or corrupted buffer.
	ErrInvalidRecord = errors.New("stored data is not an identity record")
)

// record is the persisted form of the identity.
type record struct {
	Alias  string `json:"alias,omitempty"`
	APIKey string `json:"apikey,omitempty"`
	Owner  string `json:"owner,omitempty"`
	UDID   string `json:"udid,omitempty"`
	Update string `json:"update,omitempty"`
}

// encodeRecord renders the record as a NUL terminated JSON object that fits
// in the persistence buffer.
func encodeRecord(r record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode identity record")
	}
	if len(data)+1 > persist.Size {
		return nil, ErrRecordTooLarge
	}
	return append(data, 0), nil
}

// decodeRecord reads a record from the raw buffer. The boolean is false when
// the buffer holds nothing at all.
func decodeRecord(raw []byte) (record, bool, error) {
	var r record
	if end := bytes.IndexByte(raw, 0); end >= 0 {
		raw = raw[:end]
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return r, false, nil
	}
	if raw[0] != '{' {
		return r, false, ErrInvalidRecord
	}
	depth := 0
	for _, b := range raw {
		switch b {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	if depth != 0 {
		return r, false, errors.WithMessage(ErrInvalidRecord, "unbalanced braces")
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, false, errors.WithMessage(ErrInvalidRecord, err.Error())
	}
	return r, true, nil
}
