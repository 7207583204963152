//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Region is a fixed-size file mapped MAP_SHARED into every process that
// opens it. Access goes through Update/View, which hold an in-process mutex
// and an advisory flock on the backing file.
type Region struct {
	mu    sync.Mutex
	path  string
	fd    int
	data  []byte
	owner bool
}

// Create makes a new zero-filled region under dir. The creator removes the
// backing file on Close.
func Create(dir string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size=%d", ErrInvalidSize, size)
	}
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "tether-"+uuid.NewString()+".shm")
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("shm: truncate %s: %w", path, err)
	}
	r, err := mapRegion(path, fd, size)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	r.owner = true
	return r, nil
}

// Open maps an existing region created by another handle or process.
func Open(path string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size=%d", ErrInvalidSize, size)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	if stat.Size < int64(size) {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d", ErrInvalidSize, path, stat.Size, size)
	}
	return mapRegion(path, fd, size)
}

func mapRegion(path string, fd int, size int) (*Region, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &Region{path: path, fd: fd, data: data}, nil
}

func (r *Region) Path() string { return r.path }

func (r *Region) Size() int { return len(r.data) }

// Update runs fn with exclusive access to the mapped bytes.
func (r *Region) Update(fn func(b []byte) error) error {
	return r.locked(unix.LOCK_EX, fn)
}

// View runs fn with shared access. fn must not modify b.
func (r *Region) View(fn func(b []byte) error) error {
	return r.locked(unix.LOCK_SH, fn)
}

func (r *Region) locked(how int, fn func(b []byte) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return ErrClosed
	}
	if err := flock(r.fd, how); err != nil {
		return fmt.Errorf("shm: lock %s: %w", r.path, err)
	}
	defer flock(r.fd, unix.LOCK_UN)
	return fn(r.data)
}

func flock(fd int, how int) error {
	for {
		err := unix.Flock(fd, how)
		if err != unix.EINTR {
			return err
		}
	}
}

// Close unmaps the region. The creating handle also removes the file.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil
	}
	var firstErr error
	if err := unix.Munmap(r.data); err != nil {
		firstErr = fmt.Errorf("shm: munmap %s: %w", r.path, err)
	}
	r.data = nil
	if err := unix.Close(r.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("shm: close %s: %w", r.path, err)
	}
	if r.owner {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func Supported() bool { return true }
