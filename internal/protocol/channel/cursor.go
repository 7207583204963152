package channel

import "sync"

// Cursor is one direction's keystream position. Step runs fn under an
// exclusive lock and advances the position by the count fn returns, so
// encryption and the transport call it wraps happen atomically with respect
// to every other holder of the same cursor.
type Cursor interface {
	Step(fn func(pos uint64) (uint64, error)) error
	Position() (uint64, error)
	Close() error
}

// MemoryCursor is a Cursor private to this process.
type MemoryCursor struct {
	mu  sync.Mutex
	pos uint64
}

// NewMemoryCursor returns a cursor at position zero.
func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{}
}

// Step implements Cursor.
func (c *MemoryCursor) Step(fn func(pos uint64) (uint64, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := fn(c.pos)
	c.pos += n
	return err
}

// Position reports how many bytes have passed through the cursor.
func (c *MemoryCursor) Position() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos, nil
}

func (c *MemoryCursor) Close() error { return nil }
