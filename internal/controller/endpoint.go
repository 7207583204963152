package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/channel"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/danmuck/tether/internal/protocol/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxAttempts is the total attempt budget of ExecuteCommand. Name
// sends and status reads draw from the same budget.
const DefaultMaxAttempts = 3

// EndpointInfo is a point-in-time view of one endpoint.
type EndpointInfo struct {
	Name        string
	Addr        string
	Platform    session.Platform
	Alive       bool
	Selected    bool
	ConnectedAt time.Time
}

// Endpoint is the controller-side handle of one connected agent.
type Endpoint struct {
	nameMu sync.RWMutex
	name   string

	platform    session.Platform
	addr        string
	connectedAt time.Time
	ch          *channel.Channel
	opTimeout   time.Duration
	bulkTimeout time.Duration
	maxAttempts int

	alive    atomic.Bool
	selected atomic.Bool

	// opMu serializes use of the channel between commands and pings.
	opMu sync.Mutex
}

func NewEndpoint(name string, platform session.Platform, ch *channel.Channel, cfg session.Config) *Endpoint {
	cfg = cfg.WithDefaults()
	name = strings.TrimSpace(name)
	if name == "" {
		name = RandomName()
	}
	addr := ""
	if ra := ch.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	e := &Endpoint{
		name:        name,
		platform:    platform,
		addr:        addr,
		connectedAt: time.Now(),
		ch:          ch,
		opTimeout:   cfg.OpTimeout,
		bulkTimeout: cfg.BulkTimeout,
		maxAttempts: DefaultMaxAttempts,
	}
	e.alive.Store(true)
	return e
}

// RandomName returns an 8 character endpoint name.
func RandomName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (e *Endpoint) Name() string {
	e.nameMu.RLock()
	defer e.nameMu.RUnlock()
	return e.name
}

func (e *Endpoint) setName(name string) {
	e.nameMu.Lock()
	e.name = name
	e.nameMu.Unlock()
}

func (e *Endpoint) Platform() session.Platform { return e.platform }

func (e *Endpoint) Addr() string { return e.addr }

func (e *Endpoint) Channel() *channel.Channel { return e.ch }

func (e *Endpoint) Alive() bool { return e.alive.Load() }

func (e *Endpoint) Selected() bool { return e.selected.Load() }

func (e *Endpoint) Info() EndpointInfo {
	return EndpointInfo{
		Name:        e.Name(),
		Addr:        e.addr,
		Platform:    e.platform,
		Alive:       e.alive.Load(),
		Selected:    e.selected.Load(),
		ConnectedAt: e.connectedAt,
	}
}

// Kill marks the endpoint dead and closes its session.
func (e *Endpoint) Kill() {
	e.alive.Store(false)
	_ = e.ch.Abort()
	_ = e.ch.Close()
}

// Ping checks liveness with the keep-alive token. An endpoint that is busy
// running a command is reported alive without touching the wire.
func (e *Endpoint) Ping(killIfDead bool) bool {
	if !e.alive.Load() {
		return false
	}
	if !e.opMu.TryLock() {
		return true
	}
	defer e.opMu.Unlock()

	err := e.ping()
	if err == nil {
		return true
	}
	log.Warn().Str("endpoint", e.Name()).Err(err).Msg("controller.Endpoint ping failed")
	e.alive.Store(false)
	if killIfDead {
		_ = e.ch.Abort()
	}
	return false
}

// ping sends the keep-alive token and reads until the stream ends in Pong.
// Bytes a timed-out command left behind are drained through the channel so
// the receive cursor stays aligned with the agent.
func (e *Endpoint) ping() error {
	if err := wire.SendString(e.ch, session.Ping); err != nil {
		return err
	}
	deadline := time.Now().Add(e.opTimeout)
	buf := make([]byte, 512)
	tail := make([]byte, 0, 2*len(session.Pong))
	drained := 0
	for {
		n, err := e.ch.Read(buf)
		tail = append(tail, buf[:n]...)
		if len(tail) > len(session.Pong) {
			drained += len(tail) - len(session.Pong)
			tail = append(tail[:0], tail[len(tail)-len(session.Pong):]...)
		}
		if string(tail) == session.Pong {
			if drained > 0 {
				log.Debug().Str("endpoint", e.Name()).Int("bytes", drained).Msg("controller.Endpoint ping drained stale data")
			}
			return nil
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && time.Now().Before(deadline) {
				continue
			}
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: no ping reply, last bytes %q", wire.ErrConnection, tail)
		}
	}
}

// ExecuteCommand runs desc on the agent and maps the controller side's
// outcome onto the result vocabulary. out receives the command's output;
// in is only used by interactive commands.
func (e *Endpoint) ExecuteCommand(ctx context.Context, desc command.Descriptor, params []command.Token, out io.Writer, in io.Reader) command.Outcome {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.executeLocked(ctx, desc, params, out, in)
}

func (e *Endpoint) executeLocked(ctx context.Context, desc command.Descriptor, params []command.Token, out io.Writer, in io.Reader) command.Outcome {
	if out == nil {
		out = io.Discard
	}
	name := e.Name()
	sent := false
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return command.Outcome{Status: command.StatusTimeout}
		}
		if !sent {
			if err := wire.SendString(e.ch, desc.Name); err != nil {
				log.Warn().Str("endpoint", name).Str("command", desc.Name).Int("attempt", attempt).Err(err).
					Msg("controller.Endpoint send command failed")
				continue
			}
			sent = true
		}
		reply, err := wire.ReceiveString(e.ch)
		if err != nil {
			log.Warn().Str("endpoint", name).Str("command", desc.Name).Int("attempt", attempt).Err(err).
				Msg("controller.Endpoint status read failed")
			continue
		}
		switch reply {
		case session.ReplyNotFound:
			return command.Outcome{Status: command.StatusNotFound}
		case session.ReplyRunning:
			return e.runControllerSide(ctx, desc, params, out, in)
		default:
			fmt.Fprintf(out, "unexpected status reply %q\n", reply)
			return command.Failed()
		}
	}
	return command.Outcome{Status: command.StatusRetryExhausted}
}

func (e *Endpoint) runControllerSide(ctx context.Context, desc command.Descriptor, params []command.Token, out io.Writer, in io.Reader) (outcome command.Outcome) {
	name := e.Name()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("endpoint", name).Str("command", desc.Name).Interface("panic", r).
				Bytes("stack", debug.Stack()).Msg("controller.Endpoint controller side panicked")
			fmt.Fprintf(out, "command %s panicked: %v\n", desc.Name, r)
			outcome = command.Failed()
		}
	}()
	s := &command.ControllerSession{
		Endpoint:    name,
		Platform:    e.platform,
		Channel:     e.ch,
		BulkTimeout: e.bulkTimeout,
		Out:         out,
		In:          in,
	}
	got := desc.Command.ControllerSide(ctx, s, params)
	switch got.Status {
	case command.StatusSuccess, command.StatusPartialSuccess:
		return got
	case command.StatusConnError:
		e.alive.Store(false)
	}
	if got.Status != command.StatusFailure {
		fmt.Fprintf(out, "command %s ended with %s\n", desc.Name, got.Status)
	}
	return command.Outcome{Status: command.StatusFailure, Value: got.Value}
}
