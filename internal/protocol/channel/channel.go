package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tether/internal/protocol/wire"
)

var (
	ErrNotEstablished     = errors.New("channel: handshake not completed")
	ErrAlreadyEstablished = errors.New("channel: handshake already completed")
	ErrHandshake          = errors.New("channel: handshake failed")
	ErrNotShareable       = errors.New("channel: session cursors are not shareable")
	ErrClosed             = errors.New("channel: closed")
)

// Config holds handshake and per-operation parameters.
type Config struct {
	KeyBits           int
	KeystreamLen      int
	MaxPublicKeyBytes uint64
	MaxKeystreamLen   int
	Timeout           time.Duration
	HandshakeTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		KeyBits:           2048,
		KeystreamLen:      1024,
		MaxPublicKeyBytes: 16 * 1024,
		MaxKeystreamLen:   64 * 1024,
		Timeout:           5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultConfig. Timeout is kept as is;
// zero means no per-operation deadline.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.KeyBits <= 0 {
		c.KeyBits = d.KeyBits
	}
	if c.KeystreamLen <= 0 {
		c.KeystreamLen = d.KeystreamLen
	}
	if c.MaxPublicKeyBytes == 0 {
		c.MaxPublicKeyBytes = d.MaxPublicKeyBytes
	}
	if c.MaxKeystreamLen <= 0 {
		c.MaxKeystreamLen = d.MaxKeystreamLen
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	return c
}

// state is the session shared by every handle cloned from one channel.
type state struct {
	conn net.Conn
	cfg  Config

	hsMu        sync.Mutex
	established atomic.Bool
	sendKey     []byte
	recvKey     []byte
	sendCur     Cursor
	recvCur     Cursor

	refs      atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// Channel is one handle on an encrypted session. Handles are cheap; each
// carries its own operation timeout and must be closed.
type Channel struct {
	s       *state
	timeout time.Duration
	closed  atomic.Bool
}

// New wraps conn with process-private cursors.
func New(conn net.Conn, cfg Config) *Channel {
	return NewWithCursors(conn, cfg, NewMemoryCursor(), NewMemoryCursor())
}

// NewShared wraps conn with cursors in shared memory under dir, which makes
// the channel exportable to a worker process.
func NewShared(conn net.Conn, cfg Config, dir string) (*Channel, error) {
	send, err := NewSharedCursor(dir)
	if err != nil {
		return nil, err
	}
	recv, err := NewSharedCursor(dir)
	if err != nil {
		send.Close()
		return nil, err
	}
	return NewWithCursors(conn, cfg, send, recv), nil
}

func NewWithCursors(conn net.Conn, cfg Config, send, recv Cursor) *Channel {
	cfg = cfg.WithDefaults()
	s := &state{conn: conn, cfg: cfg, sendCur: send, recvCur: recv}
	s.refs.Store(1)
	return &Channel{s: s, timeout: cfg.Timeout}
}

func (c *Channel) Established() bool { return c.s.established.Load() }

func (c *Channel) RemoteAddr() net.Addr { return c.s.conn.RemoteAddr() }

func (c *Channel) Timeout() time.Duration { return c.timeout }

// Clone returns another handle on the same session.
func (c *Channel) Clone() *Channel {
	return c.WithTimeout(c.timeout)
}

// WithTimeout returns a new handle whose operations use d as deadline.
// Zero disables the deadline.
func (c *Channel) WithTimeout(d time.Duration) *Channel {
	c.s.refs.Add(1)
	return &Channel{s: c.s, timeout: d}
}

// Close releases this handle. The transport closes with the last handle.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.s.refs.Add(-1) > 0 {
		return nil
	}
	return c.s.shutdown()
}

// Abort closes the transport immediately, failing every blocked operation
// on every handle. Handles still need Close to release shared state.
func (c *Channel) Abort() error {
	err := c.s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *state) shutdown() error {
	s.closeOnce.Do(func() {
		err := s.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		if cerr := s.sendCur.Close(); err == nil {
			err = cerr
		}
		if cerr := s.recvCur.Close(); err == nil {
			err = cerr
		}
		s.closeErr = err
	})
	return s.closeErr
}

// Write encrypts p and writes it as one transport write.
func (c *Channel) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if !c.s.established.Load() {
		return 0, ErrNotEstablished
	}
	var written int
	err := c.s.sendCur.Step(func(pos uint64) (uint64, error) {
		buf := make([]byte, len(p))
		xorAt(buf, p, c.s.sendKey, pos)
		if err := c.s.conn.SetWriteDeadline(c.deadline()); err != nil {
			return 0, err
		}
		n, err := c.s.conn.Write(buf)
		written = n
		return uint64(n), err
	})
	if err != nil {
		return written, fmt.Errorf("%w: write: %w", wire.ErrConnection, err)
	}
	return written, nil
}

// Read reads and decrypts up to len(p) bytes.
func (c *Channel) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if !c.s.established.Load() {
		return 0, ErrNotEstablished
	}
	var read int
	err := c.s.recvCur.Step(func(pos uint64) (uint64, error) {
		if err := c.s.conn.SetReadDeadline(c.deadline()); err != nil {
			return 0, err
		}
		n, err := c.s.conn.Read(p)
		xorAt(p[:n], p[:n], c.s.recvKey, pos)
		read = n
		return uint64(n), err
	})
	if err != nil {
		if errors.Is(err, io.EOF) {
			return read, io.EOF
		}
		return read, fmt.Errorf("%w: read: %w", wire.ErrConnection, err)
	}
	return read, nil
}

func (c *Channel) deadline() time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

// Positions reports the send and receive cursor positions.
func (c *Channel) Positions() (send uint64, recv uint64, err error) {
	if send, err = c.s.sendCur.Position(); err != nil {
		return 0, 0, err
	}
	recv, err = c.s.recvCur.Position()
	return send, recv, err
}

func xorAt(dst, src, key []byte, pos uint64) {
	klen := uint64(len(key))
	off := pos % klen
	for i := range src {
		dst[i] = src[i] ^ key[off]
		off++
		if off == klen {
			off = 0
		}
	}
}

// Handshake exchanges keystreams with the peer. Both ends run the same
// procedure; the send half runs concurrently so unbuffered transports work.
func (c *Channel) Handshake(ctx context.Context) error {
	s := c.s
	s.hsMu.Lock()
	defer s.hsMu.Unlock()
	if s.established.Load() {
		return ErrAlreadyEstablished
	}

	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	defer s.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	defer stop()

	sendKey, recvKey, err := exchange(s.conn, s.cfg)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, ctx.Err())
		}
		return err
	}
	s.sendKey = sendKey
	s.recvKey = recvKey
	s.established.Store(true)
	return nil
}
