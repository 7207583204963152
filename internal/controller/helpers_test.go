package controller

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/tether/internal/agent"
	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/channel"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/danmuck/tether/internal/protocol/wire"
	"github.com/stretchr/testify/require"
)

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.KeyBits = 1024
	cfg.KeystreamLen = 256
	cfg.OpTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 5 * time.Second
	cfg.Backoff.InitialDelay = 20 * time.Millisecond
	cfg.Backoff.MaxDelay = 200 * time.Millisecond
	cfg.Backoff.Jitter = false
	return cfg.WithDefaults()
}

func testRegistry() *command.Registry {
	b := command.NewBuilder()
	if err := b.Reserve(LocalCommandNames()...); err != nil {
		panic(err)
	}
	b.MustAdd(command.Descriptor{
		Name:        "double",
		Usage:       "double [ n ]",
		Description: "Doubles an integer on the agent",
		Args:        []command.ArgType{command.Integer},
		Command: command.Func{
			Agent: func(ctx context.Context, s *command.AgentSession) error {
				n, err := wire.ReceiveInteger(s.Channel)
				if err != nil {
					return err
				}
				return wire.SendInteger(s.Channel, n*2)
			},
			Controller: func(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
				if err := wire.SendInteger(s.Channel, params[0].Int); err != nil {
					return command.ErrorOutcome(err)
				}
				v, err := wire.ReceiveInteger(s.Channel)
				if err != nil {
					return command.ErrorOutcome(err)
				}
				fmt.Fprintf(s.Out, "doubled %d\n", v)
				return command.Succeeded(v)
			},
		},
	})
	b.MustAdd(command.Descriptor{
		Name:        "winonly",
		Description: "Runs on windows agents only",
		Platforms:   command.Platforms(session.PlatformWindows),
		Command:     command.Func{},
	})
	b.MustAdd(command.Descriptor{
		Name:        "single",
		Description: "Allows one selected endpoint",
		MaxSelected: 1,
		Command:     command.Func{},
	})
	b.MustAdd(command.Descriptor{
		Name:        "bye",
		Description: "Stops the agent",
		Terminates:  true,
		Command: command.Func{
			Agent: func(ctx context.Context, s *command.AgentSession) error {
				if err := wire.SendBoolean(s.Channel, true); err != nil {
					return err
				}
				return command.ErrShutdownRequested
			},
			Controller: func(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
				if _, err := wire.ReceiveBoolean(s.Channel); err != nil {
					return command.ErrorOutcome(err)
				}
				return command.Succeeded(nil)
			},
		},
	})
	b.MustAdd(command.Descriptor{
		Name:        "slow",
		Description: "Agent stalls before answering",
		Command: command.Func{
			Agent: func(ctx context.Context, s *command.AgentSession) error {
				time.Sleep(time.Second)
				return wire.SendBoolean(s.Channel, true)
			},
			Controller: func(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
				if _, err := wire.ReceiveBoolean(s.Channel); err != nil {
					return command.ErrorOutcome(err)
				}
				return command.Succeeded(nil)
			},
		},
	})
	b.MustAdd(command.Descriptor{
		Name:        "bad_param",
		Description: "Controller side reports a parameter error",
		Command: command.Func{
			Controller: func(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
				return command.Outcome{Status: command.StatusParamError}
			},
		},
	})
	return b.Build()
}

// startAcceptor serves set on a loopback listener and returns its address.
func startAcceptor(t *testing.T, set *EndpointSet, factory ChannelFactory) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a := NewAcceptor(set, testSession(), factory)
	go func() {
		defer close(done)
		_ = a.Run(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		set.RemoveAll()
	})
	return ln.Addr().String()
}

// startAgent runs a real agent against addr until the test ends.
func startAgent(t *testing.T, addr, name string, platform session.Platform) <-chan error {
	t.Helper()
	cfg := agent.DefaultConfig()
	cfg.ControllerAddr = addr
	cfg.Name = name
	cfg.Platform = platform
	cfg.Session = testSession()
	a, err := agent.New(cfg, testRegistry())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		done <- a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Errorf("agent %s did not stop", name)
		}
	})
	return done
}

func waitForEndpoint(t *testing.T, set *EndpointSet, name string) *Endpoint {
	t.Helper()
	var e *Endpoint
	require.Eventually(t, func() bool {
		var ok bool
		e, ok = set.Lookup(name)
		return ok
	}, 10*time.Second, 10*time.Millisecond, "endpoint %s never connected", name)
	return e
}

// pipeEndpoint returns an endpoint on one side of an established pipe and
// the peer channel.
func pipeEndpoint(t *testing.T, name string, chCfg channel.Config) (*Endpoint, *channel.Channel) {
	t.Helper()
	a, b := net.Pipe()
	ctrl := channel.New(a, chCfg)
	peer := channel.New(b, testSession().Channel())
	t.Cleanup(func() {
		ctrl.Close()
		peer.Close()
	})
	errCh := make(chan error, 1)
	go func() { errCh <- peer.Handshake(context.Background()) }()
	require.NoError(t, ctrl.Handshake(context.Background()))
	require.NoError(t, <-errCh)
	return NewEndpoint(name, session.PlatformLinux, ctrl, testSession()), peer
}

// idleEndpoint returns an endpoint whose transport nobody reads.
func idleEndpoint(t *testing.T, name string) (*Endpoint, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	ch := channel.New(a, testSession().Channel())
	t.Cleanup(func() {
		ch.Close()
		b.Close()
	})
	return NewEndpoint(name, session.PlatformLinux, ch, testSession()), b
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
