// Package shm provides small file-backed memory regions shared between a
// controller and its worker processes.
package shm

import (
	"encoding/binary"
	"errors"
)

var (
	ErrUnsupported = errors.New("shm: shared regions unsupported on this platform")
	ErrInvalidSize = errors.New("shm: invalid region size")
	ErrClosed      = errors.New("shm: region closed")
)

// Counter is an 8-byte region read and written as a big-endian uint64.
type Counter struct {
	r *Region
}

func NewCounter(dir string) (*Counter, error) {
	r, err := Create(dir, 8)
	if err != nil {
		return nil, err
	}
	return &Counter{r: r}, nil
}

func OpenCounter(path string) (*Counter, error) {
	r, err := Open(path, 8)
	if err != nil {
		return nil, err
	}
	return &Counter{r: r}, nil
}

func (c *Counter) Path() string { return c.r.Path() }

// Step hands the current value to fn under the exclusive lock and adds the
// returned delta. A delta is applied even when fn also returns an error.
func (c *Counter) Step(fn func(v uint64) (uint64, error)) error {
	return c.r.Update(func(b []byte) error {
		v := binary.BigEndian.Uint64(b[:8])
		delta, err := fn(v)
		binary.BigEndian.PutUint64(b[:8], v+delta)
		return err
	})
}

func (c *Counter) Load() (uint64, error) {
	var v uint64
	err := c.r.View(func(b []byte) error {
		v = binary.BigEndian.Uint64(b[:8])
		return nil
	})
	return v, err
}

func (c *Counter) Close() error { return c.r.Close() }
