package persist

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

var _ Buffer = (*File)(nil)

// File emulates an EEPROM region with a fixed size image file. Writes go
// through a temporary file so a reboot mid-write leaves the previous image.
type File struct {
	Path string
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Read() ([]byte, error) {
	fh, err := os.Open(f.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to open identity image")
	}
	defer fh.Close()

	buf := make([]byte, Size)
	n, err := io.ReadFull(fh, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrap(err, "unable to read identity image")
	}
	return buf[:n], nil
}

func (f *File) Write(data []byte) error {
	if len(data) > Size {
		return ErrOverflow
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0750); err != nil {
		return errors.Wrap(err, "unable to create identity image dir")
	}
	image := make([]byte, Size)
	copy(image, data)

	tmp, err := ioutil.TempFile(filepath.Dir(f.Path), ".identity-")
	if err != nil {
		return errors.Wrap(err, "unable to create identity image")
	}
	_, err = tmp.Write(image)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "unable to write identity image")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.Path), "unable to replace identity image")
}
