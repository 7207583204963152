package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/danmuck/tether/internal/shm"
	"github.com/rs/zerolog/log"
)

const (
	IsolationProcess   = "process"
	IsolationGoroutine = "goroutine"
)

var ErrInvalidIsolation = errors.New("controller: invalid isolation mode")

// ServiceConfig configures the controller listener and execution model.
type ServiceConfig struct {
	ListenAddr string
	// Isolation selects how ordinary double commands run: "process" re-execs
	// WorkerExecutable per endpoint, "goroutine" stays in-process.
	Isolation        string
	WorkerExecutable string
	WorkerArgs       []string
	// ShmDir holds shared cursors and result cells; empty uses the OS temp dir.
	ShmDir   string
	ValueCap int
	Session  session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr: ":9400",
		Isolation:  IsolationProcess,
		WorkerArgs: []string{"--worker"},
		ValueCap:   DefaultCellValueCap,
		Session:    session.DefaultConfig(),
	}
}

// Service runs the acceptor and the operator console over one endpoint set.
type Service struct {
	cfg    ServiceConfig
	reg    *command.Registry
	set    *EndpointSet
	runner Runner
	accept *Acceptor
}

func NewService(cfg ServiceConfig, reg *command.Registry) (*Service, error) {
	d := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = d.ListenAddr
	}
	if cfg.ValueCap <= 0 {
		cfg.ValueCap = d.ValueCap
	}
	cfg.Session = cfg.Session.WithDefaults()
	cfg.Isolation = strings.ToLower(strings.TrimSpace(cfg.Isolation))
	if cfg.Isolation == "" {
		cfg.Isolation = d.Isolation
	}

	set := NewEndpointSet()
	s := &Service{cfg: cfg, reg: reg, set: set}
	switch cfg.Isolation {
	case IsolationProcess:
		if !shm.Supported() {
			log.Warn().Msg("controller.NewService process isolation unsupported here, using goroutines")
			s.useGoroutines()
			break
		}
		exe := cfg.WorkerExecutable
		if exe == "" {
			var err error
			if exe, err = os.Executable(); err != nil {
				return nil, fmt.Errorf("controller: resolve worker executable: %w", err)
			}
		}
		s.runner = &ProcessRunner{Executable: exe, Args: cfg.WorkerArgs, Dir: cfg.ShmDir, ValueCap: cfg.ValueCap}
		s.accept = NewAcceptor(set, cfg.Session, SharedChannels(cfg.Session.Channel(), cfg.ShmDir))
	case IsolationGoroutine:
		s.useGoroutines()
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidIsolation, cfg.Isolation)
	}
	return s, nil
}

func (s *Service) useGoroutines() {
	s.cfg.Isolation = IsolationGoroutine
	s.runner = GoroutineRunner{}
	s.accept = NewAcceptor(s.set, s.cfg.Session, PrivateChannels(s.cfg.Session.Channel()))
}

func (s *Service) Endpoints() *EndpointSet { return s.set }

func (s *Service) Isolation() string { return s.cfg.Isolation }

// Run listens on the configured address and serves until the operator
// exits or ctx ends.
func (s *Service) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Str("isolation", s.cfg.Isolation).Msg("controller.Service.Run listening")
	return s.Serve(ctx, ln, in, out)
}

// Serve runs on an existing listener. All endpoints are killed on return.
func (s *Service) Serve(ctx context.Context, ln net.Listener, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer ln.Close()

	console, err := NewConsole(s.set, s.reg, s.runner, in, out)
	if err != nil {
		return err
	}
	s.set.OnConnect(func(e *Endpoint) {
		fmt.Fprintf(out, "\nEndpoint '%s' connected from %s\n", e.Name(), e.Addr())
	})

	var wg sync.WaitGroup
	acceptErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptErr <- s.accept.Run(ctx, ln)
	}()
	consoleErr := make(chan error, 1)
	go func() {
		consoleErr <- console.Run(ctx)
	}()

	select {
	case err = <-consoleErr:
	case err = <-acceptErr:
	case <-ctx.Done():
	}
	cancel()
	_ = ln.Close()
	wg.Wait()
	s.set.RemoveAll()
	log.Info().Msg("controller.Service.Serve stopped")
	return err
}
