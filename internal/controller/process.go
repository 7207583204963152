package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/danmuck/tether/internal/command"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrNoWorkerExecutable = errors.New("controller: worker executable not configured")

// ProcessRunner runs each job in a re-executed worker process. The session
// transport is passed as an extra file, the job as CBOR on stdin, and the
// outcome comes back through a shared result cell. The endpoint stays
// reserved until the worker exits.
type ProcessRunner struct {
	Executable string
	Args       []string
	Env        []string
	// Dir holds shared cells; empty uses the OS temp dir.
	Dir      string
	ValueCap int
}

type processUnit struct {
	done chan struct{}
	cmd  *exec.Cmd
}

func (u *processUnit) Done() <-chan struct{} { return u.done }

// Abandon sends SIGTERM to the worker.
func (u *processUnit) Abandon() {
	if u.cmd.Process != nil {
		_ = u.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// Start hands the endpoint to a worker process and waits for it in the
// background. The endpoint is released when the worker exits.
func (p *ProcessRunner) Start(ctx context.Context, job Job) (Unit, error) {
	if p.Executable == "" {
		return nil, ErrNoWorkerExecutable
	}
	valueCap := p.ValueCap
	if valueCap <= 0 {
		valueCap = DefaultCellValueCap
	}
	e := job.Endpoint
	e.opMu.Lock()
	release := e.opMu.Unlock

	u, err := p.start(e, job, valueCap, release)
	if err != nil {
		release()
		return nil, err
	}
	return u, nil
}

func (p *ProcessRunner) start(e *Endpoint, job Job, valueCap int, release func()) (*processUnit, error) {
	exp, f, err := e.ch.Export()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cell, err := NewSharedCell(p.Dir, valueCap)
	if err != nil {
		return nil, err
	}
	wj := WorkerJob{
		ID:          uuid.NewString(),
		Endpoint:    e.Name(),
		Platform:    e.platform,
		Command:     job.Descriptor.Name,
		Params:      job.Params,
		Session:     exp,
		BulkTimeout: e.bulkTimeout,
		ResultPath:  cell.Path(),
		ValueCap:    valueCap,
	}
	payload, err := EncodeWorkerJob(wj)
	if err != nil {
		cell.Close()
		return nil, err
	}

	cmd := exec.Command(p.Executable, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = job.Result.Writer()
	cmd.Stderr = job.Result.Writer()
	cmd.ExtraFiles = []*os.File{f}
	if err := cmd.Start(); err != nil {
		cell.Close()
		return nil, fmt.Errorf("controller: start worker: %w", err)
	}
	log.Debug().Str("endpoint", wj.Endpoint).Str("command", wj.Command).Str("job", wj.ID).
		Int("pid", cmd.Process.Pid).Msg("controller.ProcessRunner worker started")

	u := &processUnit{done: make(chan struct{}), cmd: cmd}
	go func() {
		defer close(u.done)
		defer release()
		defer cell.Close()
		waitErr := cmd.Wait()
		outcome, err := cell.Load()
		if err != nil {
			log.Warn().Str("job", wj.ID).Err(err).Msg("controller.ProcessRunner read result cell")
		}
		if !outcome.Status.Terminal() {
			if waitErr != nil {
				fmt.Fprintf(job.Result.Writer(), "worker exited: %v\n", waitErr)
			}
			outcome = command.Failed()
		}
		job.Result.Finish(outcome)
	}()
	return u, nil
}
