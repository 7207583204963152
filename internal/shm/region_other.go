//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package shm

// Region is unavailable on this platform; callers fall back to in-process
// state.
type Region struct{}

func Create(dir string, size int) (*Region, error) { return nil, ErrUnsupported }

func Open(path string, size int) (*Region, error) { return nil, ErrUnsupported }

func (r *Region) Path() string { return "" }

func (r *Region) Size() int { return 0 }

func (r *Region) Update(fn func(b []byte) error) error { return ErrUnsupported }

func (r *Region) View(fn func(b []byte) error) error { return ErrUnsupported }

func (r *Region) Close() error { return nil }

func Supported() bool { return false }
