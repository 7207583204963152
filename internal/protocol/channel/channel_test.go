package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/tether/internal/protocol/wire"
	"github.com/danmuck/tether/internal/testutil/testlog"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.KeyBits = 1024
	cfg.KeystreamLen = 300
	cfg.Timeout = 2 * time.Second
	return cfg
}

func handshakePair(t *testing.T, a, b *Channel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- b.Handshake(ctx) }()
	if err := a.Handshake(ctx); err != nil {
		t.Fatalf("handshake a: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("handshake b: %v", err)
	}
}

func pipePair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	ca, cb := net.Pipe()
	a := New(ca, testConfig())
	b := New(cb, testConfig())
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	handshakePair(t, a, b)
	return a, b
}

func TestHandshakeOverPipeAndRoundTrip(t *testing.T) {
	testlog.Start(t)
	a, b := pipePair(t)

	go func() {
		_ = wire.SendString(a, "ping")
		_ = wire.SendInteger(a, -7)
	}()
	got, err := wire.ReceiveString(b)
	if err != nil || got != "ping" {
		t.Fatalf("receive string: %q %v", got, err)
	}
	n, err := wire.ReceiveInteger(b)
	if err != nil || n != -7 {
		t.Fatalf("receive integer: %d %v", n, err)
	}

	go func() { _ = wire.SendBoolean(b, true) }()
	ok, err := wire.ReceiveBoolean(a)
	if err != nil || !ok {
		t.Fatalf("reverse direction: %v %v", ok, err)
	}
}

func TestPayloadLongerThanKeystreamWraps(t *testing.T) {
	testlog.Start(t)
	a, b := pipePair(t)
	payload := bytes.Repeat([]byte("0123456789"), 200)
	for i := 0; i < 3; i++ {
		go func() { _ = wire.SendBytes(a, payload) }()
		got, err := wire.ReceiveBytes(b)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch on round %d", i)
		}
	}
	send, _, _ := a.Positions()
	_, recv, _ := b.Positions()
	if send != recv || send != uint64(3*(8+len(payload))) {
		t.Fatalf("cursor drift: send=%d recv=%d", send, recv)
	}
}

func TestCiphertextDiffersFromPlaintext(t *testing.T) {
	testlog.Start(t)
	ca, cb := net.Pipe()
	a := New(ca, testConfig())
	peer := New(cb, testConfig())
	defer a.Close()
	defer peer.Close()
	handshakePair(t, a, peer)

	plain := []byte("a plaintext message of some length")
	go func() { _, _ = a.Write(plain) }()
	raw := make([]byte, len(plain))
	if _, err := io.ReadFull(cb, raw); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if bytes.Equal(raw, plain) {
		t.Fatalf("expected ciphertext on the wire")
	}
}

func TestOperationsBeforeHandshakeFail(t *testing.T) {
	testlog.Start(t)
	ca, cb := net.Pipe()
	defer cb.Close()
	ch := New(ca, testConfig())
	defer ch.Close()
	if _, err := ch.Write([]byte("x")); !errors.Is(err, ErrNotEstablished) {
		t.Fatalf("expected ErrNotEstablished on write, got %v", err)
	}
	if _, err := ch.Read(make([]byte, 1)); !errors.Is(err, ErrNotEstablished) {
		t.Fatalf("expected ErrNotEstablished on read, got %v", err)
	}
}

func TestSecondHandshakeRejected(t *testing.T) {
	testlog.Start(t)
	a, _ := pipePair(t)
	if err := a.Handshake(context.Background()); !errors.Is(err, ErrAlreadyEstablished) {
		t.Fatalf("expected ErrAlreadyEstablished, got %v", err)
	}
}

func TestHandshakeRejectsGarbagePeer(t *testing.T) {
	testlog.Start(t)
	ca, cb := net.Pipe()
	ch := New(ca, testConfig())
	defer ch.Close()
	go func() {
		_ = wire.SendBytes(cb, []byte("not a key"))
		_, _ = io.Copy(io.Discard, cb)
	}()
	err := ch.Handshake(context.Background())
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
	if ch.Established() {
		t.Fatalf("channel must not be established")
	}
}

func TestHandshakeHonorsContext(t *testing.T) {
	testlog.Start(t)
	ca, cb := net.Pipe()
	defer cb.Close()
	ch := New(ca, testConfig())
	defer ch.Close()
	go func() { _, _ = io.Copy(io.Discard, cb) }()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := ch.Handshake(ctx); !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake on silent peer, got %v", err)
	}
}

func TestCloneSharesCursorsAndRefcountsTransport(t *testing.T) {
	testlog.Start(t)
	a, b := pipePair(t)
	clone := a.Clone()
	bulk := a.WithTimeout(time.Minute)
	if bulk.Timeout() != time.Minute || clone.Timeout() != a.Timeout() {
		t.Fatalf("unexpected clone timeouts: %v %v", bulk.Timeout(), clone.Timeout())
	}

	go func() {
		_ = wire.SendString(a, "one")
		_ = wire.SendString(clone, "two")
		_ = wire.SendString(bulk, "three")
	}()
	for _, want := range []string{"one", "two", "three"} {
		got, err := wire.ReceiveString(b)
		if err != nil || got != want {
			t.Fatalf("want %q got %q err=%v", want, got, err)
		}
	}

	if err := clone.Close(); err != nil {
		t.Fatalf("close clone: %v", err)
	}
	if err := bulk.Close(); err != nil {
		t.Fatalf("close bulk: %v", err)
	}
	go func() { _ = wire.SendString(a, "still open") }()
	if got, err := wire.ReceiveString(b); err != nil || got != "still open" {
		t.Fatalf("transport closed early: %q %v", got, err)
	}
	if _, err := clone.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on closed handle, got %v", err)
	}

	a.Close()
	if _, err := wire.ReceiveString(b); !errors.Is(err, wire.ErrConnection) {
		t.Fatalf("expected connection error after last close, got %v", err)
	}
}

func TestReadTimeoutIsConnectionError(t *testing.T) {
	testlog.Start(t)
	a, _ := pipePair(t)
	short := a.WithTimeout(30 * time.Millisecond)
	defer short.Close()
	if _, err := wire.ReceiveString(short); !errors.Is(err, wire.ErrConnection) {
		t.Fatalf("expected connection error on timeout, got %v", err)
	}
}

func TestExportRequiresSharedCursors(t *testing.T) {
	testlog.Start(t)
	a, _ := pipePair(t)
	if _, _, err := a.Export(); !errors.Is(err, ErrNotShareable) {
		t.Fatalf("expected ErrNotShareable, got %v", err)
	}
}
