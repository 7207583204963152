package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/channel"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var ErrControllerAddressRequired = errors.New("agent: controller address required")

type Config struct {
	ControllerAddr string
	// Name is sent in the hello so the controller can restore the endpoint
	// name after a reconnect. Empty lets the controller pick one.
	Name     string
	Platform session.Platform
	Session  session.Config
	// MaxReconnects bounds consecutive failed sessions; 0 retries forever.
	MaxReconnects int
}

func DefaultConfig() Config {
	return Config{
		ControllerAddr: "127.0.0.1:9400",
		Platform:       session.CurrentPlatform(),
		Session:        session.DefaultConfig(),
	}
}

// Agent keeps one session to the controller alive and serves commands on it.
type Agent struct {
	cfg      Config
	dispatch *Dispatcher
	rng      *rand.Rand
}

func New(cfg Config, reg *command.Registry) (*Agent, error) {
	if strings.TrimSpace(cfg.ControllerAddr) == "" {
		return nil, ErrControllerAddressRequired
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.Session = cfg.Session.WithDefaults()
	if !cfg.Platform.Valid() {
		cfg.Platform = session.CurrentPlatform()
	}
	return &Agent{
		cfg:      cfg,
		dispatch: NewDispatcher(reg, cfg.Session),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run connects, serves and reconnects until ctx ends, a command requests
// shutdown, or MaxReconnects consecutive sessions fail.
func (a *Agent) Run(ctx context.Context) error {
	var attempt int
	for {
		served, err := a.serveOnce(ctx)
		if errors.Is(err, command.ErrShutdownRequested) {
			log.Info().Msg("agent.Run shutdown requested by controller")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if served {
			attempt = 0
		}
		attempt++
		log.Warn().Int("attempt", attempt).Str("addr", a.cfg.ControllerAddr).Err(err).Msg("agent.Run session ended")
		if a.cfg.MaxReconnects > 0 && attempt >= a.cfg.MaxReconnects {
			return err
		}
		if err := a.sleepBackoff(ctx, attempt); err != nil {
			return nil
		}
	}
}

// serveOnce runs one session. served reports whether the handshake and
// hello completed.
func (a *Agent) serveOnce(ctx context.Context) (served bool, err error) {
	dialer := net.Dialer{Timeout: a.cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", a.cfg.ControllerAddr)
	if err != nil {
		return false, err
	}
	ch := channel.New(conn, a.cfg.Session.Channel())
	defer ch.Close()
	stop := context.AfterFunc(ctx, func() { _ = ch.Abort() })
	defer stop()

	if err := ch.Handshake(ctx); err != nil {
		return false, err
	}
	hello := session.Hello{Name: a.cfg.Name, Platform: a.cfg.Platform}
	if err := session.WriteHello(ch, hello); err != nil {
		return false, fmt.Errorf("agent: send hello: %w", err)
	}
	log.Info().Str("addr", a.cfg.ControllerAddr).Str("name", a.cfg.Name).Msg("agent.Run connected")

	for {
		if err := a.dispatch.HandleNext(ctx, ch); err != nil {
			return true, err
		}
	}
}

func (a *Agent) sleepBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(a.cfg.Session.Backoff, attempt, a.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
