package identity

import (
	"strings"
	"testing"

	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/identity/persist"
	"github.com/nawafHinai/thinx-firmware-esp8266/pkg/internal/testoutput"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

type failingBuffer struct {
	persist.Memory
	err error
}

func (f *failingBuffer) Write([]byte) error {
	return f.err
}

func build() Identity {
	return Identity{
		APIKey:          "k1234567",
		CommitID:        "c0ffee",
		VersionID:       "1.0.0",
		FirmwareVersion: "thinx-1.0.0",
	}
}

func TestRoundTrip(t *testing.T) {
	log := testoutput.Logger(t, "identity")
	buf := &persist.Memory{}

	s := Open(log, buf, build())
	err := s.Update(func(id *Identity) {
		id.Owner = "acme"
		id.UDID = "dev-1"
		id.Alias = "kitchen"
		id.APIKey = "k7654321"
		id.AvailableUpdateURL = "thinx.cloud/bin/dev-1.bin"
	})
	assert.NilError(t, err)

	restored := Open(log, buf, build()).Get()
	assert.Equal(t, restored.Owner, "acme")
	assert.Equal(t, restored.UDID, "dev-1")
	assert.Equal(t, restored.Alias, "kitchen")
	assert.Equal(t, restored.APIKey, "k7654321")
	assert.Equal(t, restored.AvailableUpdateURL, "thinx.cloud/bin/dev-1.bin")
	// the build describes the running firmware, never the record
	assert.Equal(t, restored.CommitID, "c0ffee")

	// saving the restored identity again is idempotent
	before, _ := buf.Read()
	assert.NilError(t, Open(log, buf, build()).Flush())
	after, _ := buf.Read()
	assert.DeepEqual(t, before, after)
}

func TestOpenPrecedence(t *testing.T) {
	log := testoutput.Logger(t, "identity")

	t.Run("short stored key", func(t *testing.T) {
		buf := &persist.Memory{}
		assert.NilError(t, buf.Write([]byte(`{"apikey":"abc","owner":"acme"}`+"\x00")))
		id := Open(log, buf, build()).Get()
		assert.Equal(t, id.APIKey, "k1234567")
		assert.Equal(t, id.Owner, "acme")
	})

	t.Run("stored key wins", func(t *testing.T) {
		buf := &persist.Memory{}
		assert.NilError(t, buf.Write([]byte(`{"apikey":"stored-key"}`+"\x00")))
		id := Open(log, buf, build()).Get()
		assert.Equal(t, id.APIKey, "stored-key")
	})

	t.Run("erased buffer", func(t *testing.T) {
		buf := &persist.Memory{}
		assert.NilError(t, buf.Write([]byte(strings.Repeat("\xff", persist.Size))))
		id := Open(log, buf, build()).Get()
		assert.DeepEqual(t, id, build())
	})

	t.Run("unbalanced", func(t *testing.T) {
		buf := &persist.Memory{}
		assert.NilError(t, buf.Write([]byte(`{"owner":"acme"`+"\x00")))
		id := Open(log, buf, build()).Get()
		assert.Equal(t, id.Owner, "")
	})
}

func TestDecodeRecord(t *testing.T) {
	_, found, err := decodeRecord(nil)
	assert.NilError(t, err)
	assert.Check(t, !found)

	_, _, err = decodeRecord([]byte("garbage"))
	assert.Check(t, errors.Cause(err) == ErrInvalidRecord)

	_, _, err = decodeRecord([]byte(`{"owner":}`))
	assert.Check(t, errors.Cause(err) == ErrInvalidRecord)

	r, found, err := decodeRecord([]byte(`{"udid":"dev-1"}` + "\x00trailing"))
	assert.NilError(t, err)
	assert.Check(t, found)
	assert.Equal(t, r.UDID, "dev-1")
}

func TestEncodeRecordOmitsEmpty(t *testing.T) {
	data, err := encodeRecord(record{Owner: "acme", APIKey: "k1234567"})
	assert.NilError(t, err)
	assert.Equal(t, string(data), `{"apikey":"k1234567","owner":"acme"}`+"\x00")

	_, err = encodeRecord(record{Alias: strings.Repeat("a", persist.Size)})
	assert.Equal(t, err, ErrRecordTooLarge)
}

func TestUpdateKeepsMemoryOnFlushFailure(t *testing.T) {
	buf := &failingBuffer{err: errors.New("flash worn out")}
	s := Open(testoutput.Logger(t, "identity"), buf, build())

	err := s.Update(func(id *Identity) { id.Owner = "acme" })
	assert.Check(t, is.ErrorContains(err, "flash worn out"))
	assert.Equal(t, s.Get().Owner, "acme")
}

func TestHasAPIKey(t *testing.T) {
	assert.Check(t, !Identity{APIKey: "k123"}.HasAPIKey())
	assert.Check(t, Identity{APIKey: "k1234"}.HasAPIKey())
}
