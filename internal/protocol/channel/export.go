package channel

import (
	"fmt"
	"net"
	"os"
	"time"
)

// Exported is the session state a worker process needs to resume a channel.
// It travels alongside a duplicated transport file.
type Exported struct {
	SendKey        []byte        `cbor:"1,keyasint"`
	RecvKey        []byte        `cbor:"2,keyasint"`
	SendCursorPath string        `cbor:"3,keyasint"`
	RecvCursorPath string        `cbor:"4,keyasint"`
	Timeout        time.Duration `cbor:"5,keyasint"`
}

type pathCursor interface {
	Path() string
}

type fileConn interface {
	File() (*os.File, error)
}

// Export duplicates the transport and captures the session so another
// process can Import it. The caller owns the returned file.
func (c *Channel) Export() (Exported, *os.File, error) {
	if !c.s.established.Load() {
		return Exported{}, nil, ErrNotEstablished
	}
	send, okSend := c.s.sendCur.(pathCursor)
	recv, okRecv := c.s.recvCur.(pathCursor)
	if !okSend || !okRecv {
		return Exported{}, nil, ErrNotShareable
	}
	fc, ok := c.s.conn.(fileConn)
	if !ok {
		return Exported{}, nil, fmt.Errorf("%w: transport %T has no file", ErrNotShareable, c.s.conn)
	}
	f, err := fc.File()
	if err != nil {
		return Exported{}, nil, fmt.Errorf("channel: export transport: %w", err)
	}
	return Exported{
		SendKey:        c.s.sendKey,
		RecvKey:        c.s.recvKey,
		SendCursorPath: send.Path(),
		RecvCursorPath: recv.Path(),
		Timeout:        c.timeout,
	}, f, nil
}

// Import rebuilds an established channel from an exported session and the
// transport file received from the parent.
func Import(exp Exported, f *os.File) (*Channel, error) {
	if len(exp.SendKey) == 0 || len(exp.RecvKey) == 0 {
		return nil, fmt.Errorf("%w: exported session has no keys", ErrNotEstablished)
	}
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("channel: import transport: %w", err)
	}
	_ = f.Close()
	send, err := OpenSharedCursor(exp.SendCursorPath)
	if err != nil {
		conn.Close()
		return nil, err
	}
	recv, err := OpenSharedCursor(exp.RecvCursorPath)
	if err != nil {
		send.Close()
		conn.Close()
		return nil, err
	}
	cfg := DefaultConfig()
	cfg.Timeout = exp.Timeout
	ch := NewWithCursors(conn, cfg, send, recv)
	ch.s.sendKey = exp.SendKey
	ch.s.recvKey = exp.RecvKey
	ch.s.established.Store(true)
	return ch, nil
}
