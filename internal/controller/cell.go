package controller

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/shm"
)

const (
	cellHeaderSize = 1 + 8
	// DefaultCellValueCap bounds the encoded return value a worker can hand
	// back through a shared cell.
	DefaultCellValueCap = 256 * 1024
)

var ErrCellValueTooLarge = errors.New("controller: result value exceeds shared cell capacity")

// SharedCell is a Command Result status and return value in shared memory.
// Layout: status byte, u64 value length, value bytes.
type SharedCell struct {
	r *shm.Region
}

func NewSharedCell(dir string, valueCap int) (*SharedCell, error) {
	r, err := shm.Create(dir, cellHeaderSize+valueCap)
	if err != nil {
		return nil, err
	}
	return &SharedCell{r: r}, nil
}

func OpenSharedCell(path string, valueCap int) (*SharedCell, error) {
	r, err := shm.Open(path, cellHeaderSize+valueCap)
	if err != nil {
		return nil, err
	}
	return &SharedCell{r: r}, nil
}

func (c *SharedCell) Path() string { return c.r.Path() }

// Store writes a terminal outcome. The value is CBOR encoded.
func (c *SharedCell) Store(o command.Outcome) error {
	var payload []byte
	if o.Value != nil {
		var err error
		if payload, err = marshalCBOR(o.Value); err != nil {
			return fmt.Errorf("controller: encode result value: %w", err)
		}
	}
	return c.r.Update(func(b []byte) error {
		if len(payload) > len(b)-cellHeaderSize {
			b[0] = byte(o.Status)
			binary.BigEndian.PutUint64(b[1:9], 0)
			return ErrCellValueTooLarge
		}
		b[0] = byte(o.Status)
		binary.BigEndian.PutUint64(b[1:9], uint64(len(payload)))
		copy(b[cellHeaderSize:], payload)
		return nil
	})
}

// Load reads the current outcome.
func (c *SharedCell) Load() (command.Outcome, error) {
	var (
		status  command.Status
		payload []byte
	)
	err := c.r.View(func(b []byte) error {
		status = command.Status(b[0])
		n := binary.BigEndian.Uint64(b[1:9])
		if n > uint64(len(b)-cellHeaderSize) {
			return ErrCellValueTooLarge
		}
		payload = append([]byte(nil), b[cellHeaderSize:cellHeaderSize+int(n)]...)
		return nil
	})
	if err != nil {
		return command.Outcome{}, err
	}
	out := command.Outcome{Status: status}
	if len(payload) > 0 {
		var v any
		if err := unmarshalCBOR(payload, &v); err != nil {
			return out, fmt.Errorf("controller: decode result value: %w", err)
		}
		out.Value = v
	}
	return out, nil
}

func (c *SharedCell) Close() error { return c.r.Close() }
