package controller

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/danmuck/tether/internal/protocol/channel"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// DefaultAcceptTimeout bounds one Accept call when the listener supports
// deadlines.
const DefaultAcceptTimeout = time.Second

// ChannelFactory wraps an accepted conn in an unestablished channel.
type ChannelFactory func(conn net.Conn) (*channel.Channel, error)

// PrivateChannels builds channels with process-private cursors.
func PrivateChannels(cfg channel.Config) ChannelFactory {
	return func(conn net.Conn) (*channel.Channel, error) {
		return channel.New(conn, cfg), nil
	}
}

// SharedChannels builds channels whose cursors live in shared memory under
// dir, so sessions can be handed to worker processes.
func SharedChannels(cfg channel.Config, dir string) ChannelFactory {
	return func(conn net.Conn) (*channel.Channel, error) {
		return channel.NewShared(conn, cfg, dir)
	}
}

// Acceptor admits agents into an EndpointSet.
type Acceptor struct {
	set           *EndpointSet
	cfg           session.Config
	newChannel    ChannelFactory
	acceptTimeout time.Duration
}

func NewAcceptor(set *EndpointSet, cfg session.Config, factory ChannelFactory) *Acceptor {
	cfg = cfg.WithDefaults()
	if factory == nil {
		factory = PrivateChannels(cfg.Channel())
	}
	return &Acceptor{set: set, cfg: cfg, newChannel: factory, acceptTimeout: DefaultAcceptTimeout}
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// Run accepts until ctx ends or the listener is closed. Per-connection
// failures never stop the loop.
func (a *Acceptor) Run(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	dl, hasDeadline := ln.(deadlineListener)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if hasDeadline {
			_ = dl.SetDeadline(time.Now().Add(a.acceptTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Warn().Err(err).Msg("controller.Acceptor accept failed")
			continue
		}
		go a.admit(ctx, conn)
	}
}

func (a *Acceptor) admit(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	ch, err := a.newChannel(conn)
	if err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("controller.Acceptor channel setup failed")
		_ = conn.Close()
		return
	}

	hsCtx, cancel := context.WithTimeout(ctx, a.cfg.HandshakeTimeout)
	defer cancel()
	if err := ch.Handshake(hsCtx); err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("controller.Acceptor handshake failed")
		_ = ch.Close()
		return
	}
	hello, err := session.ReadHello(ch, a.cfg.MaxNameLen)
	if err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("controller.Acceptor hello failed")
		_ = ch.Close()
		return
	}

	e := NewEndpoint("", hello.Platform, ch, a.cfg)
	a.set.Admit(e, hello.Name)
	log.Info().Str("remote", remote).Str("endpoint", e.Name()).Str("platform", hello.Platform.String()).
		Str("requested", hello.Name).Msg("controller.Acceptor endpoint connected")
}
