package channel

import (
	"github.com/danmuck/tether/internal/shm"
)

// SharedCursor keeps the position in a shared memory counter so a worker
// process holding the same session stays in step with the controller.
type SharedCursor struct {
	c *shm.Counter
}

// NewSharedCursor creates a zeroed counter file under dir.
func NewSharedCursor(dir string) (*SharedCursor, error) {
	c, err := shm.NewCounter(dir)
	if err != nil {
		return nil, err
	}
	return &SharedCursor{c: c}, nil
}

// OpenSharedCursor maps an existing counter, typically in a worker process.
func OpenSharedCursor(path string) (*SharedCursor, error) {
	c, err := shm.OpenCounter(path)
	if err != nil {
		return nil, err
	}
	return &SharedCursor{c: c}, nil
}

// Path is the counter file a worker passes to OpenSharedCursor.
func (c *SharedCursor) Path() string { return c.c.Path() }

// Step implements Cursor under the counter's file lock.
func (c *SharedCursor) Step(fn func(pos uint64) (uint64, error)) error {
	return c.c.Step(fn)
}

func (c *SharedCursor) Position() (uint64, error) { return c.c.Load() }

// Close unmaps the counter. The creating process also removes the file.
func (c *SharedCursor) Close() error { return c.c.Close() }
