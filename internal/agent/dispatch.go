package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/channel"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/danmuck/tether/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

var ErrConnectionReset = errors.New("agent: connection reset")

// Dispatcher answers one controller request at a time.
type Dispatcher struct {
	reg *command.Registry
	cfg session.Config
}

func NewDispatcher(reg *command.Registry, cfg session.Config) *Dispatcher {
	return &Dispatcher{reg: reg, cfg: cfg.WithDefaults()}
}

// HandleNext waits for one command name and serves it. Command body
// failures are logged and swallowed; only a broken stream or a shutdown
// request is returned.
func (d *Dispatcher) HandleNext(ctx context.Context, ch *channel.Channel) error {
	// No deadline while idle: a timeout mid-name would desync the keystream.
	idle := ch.WithTimeout(0)
	name, err := wire.ReceiveString(idle)
	idle.Close()
	if err != nil {
		if errors.Is(err, wire.ErrInvalidString) {
			return d.reply(ch, session.ReplyNotFound)
		}
		return fmt.Errorf("%w: %w", ErrConnectionReset, err)
	}

	if name == session.Ping {
		if _, err := ch.Write([]byte(session.Pong)); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionReset, err)
		}
		return nil
	}

	desc, ok := d.reg.Lookup(name)
	if !ok {
		log.Warn().Str("command", name).Msg("agent.dispatch command not found")
		return d.reply(ch, session.ReplyNotFound)
	}
	if err := d.reply(ch, session.ReplyRunning); err != nil {
		return err
	}
	return d.run(ctx, desc, ch)
}

func (d *Dispatcher) reply(ch *channel.Channel, token string) error {
	if err := wire.SendString(ch, token); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionReset, err)
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, desc command.Descriptor, ch *channel.Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("command", desc.Name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("agent.dispatch command panicked")
			err = nil
		}
	}()
	s := &command.AgentSession{
		Channel:     ch,
		BulkTimeout: d.cfg.BulkTimeout,
		Platform:    session.CurrentPlatform(),
	}
	err = desc.Command.AgentSide(ctx, s)
	switch {
	case err == nil:
		log.Debug().Str("command", desc.Name).Msg("agent.dispatch command complete")
		return nil
	case errors.Is(err, command.ErrShutdownRequested):
		return err
	default:
		log.Warn().Str("command", desc.Name).Err(err).Msg("agent.dispatch command failed")
		return nil
	}
}
