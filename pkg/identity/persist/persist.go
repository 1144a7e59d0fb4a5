// Package persist provides the bounded durable buffer the identity is stored
// in.
package persist

import (
	"sync"

	"github.com/pkg/errors"
)

// Size is the capacity of the buffer in bytes.
const Size = 512

// ErrOverflow is returned for writes larger than Size.
var ErrOverflow = errors.Errorf("write exceeds %d byte buffer", Size)

// Buffer is a single bounded byte buffer that survives a reboot.
type Buffer interface {
	// Read returns the buffer's content. A buffer that was never written
	// returns no data and no error.
	Read() ([]byte, error)
	// Write replaces the buffer's content.
	Write(data []byte) error
}

// Memory is a Buffer that lives in process memory, used where nothing needs
// to survive the process.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

func (m *Memory) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), nil
}

func (m *Memory) Write(data []byte) error {
	if len(data) > Size {
		return ErrOverflow
	}
	m.mu.Lock()
	m.data = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}
