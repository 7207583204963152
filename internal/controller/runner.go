package controller

import (
	"context"
	"io"

	"github.com/danmuck/tether/internal/command"
)

// Job is one endpoint's unit of an execution.
type Job struct {
	Endpoint   *Endpoint
	Descriptor command.Descriptor
	Params     []command.Token
	Result     *Result
}

// Unit is a started job.
type Unit interface {
	// Done is closed when the unit stopped and its Result is final.
	Done() <-chan struct{}
	// Abandon asks the unit to stop. It never blocks.
	Abandon()
}

// Runner starts jobs. Start must not block on the job itself unless the
// runner is explicitly synchronous.
type Runner interface {
	Start(ctx context.Context, job Job) (Unit, error)
}

type doneUnit struct {
	done   chan struct{}
	cancel context.CancelFunc
}

func (u *doneUnit) Done() <-chan struct{} { return u.done }

// Abandon cancels the job context. Inline units have nothing to cancel.
func (u *doneUnit) Abandon() {
	if u.cancel != nil {
		u.cancel()
	}
}

// GoroutineRunner runs each job on its own goroutine with output captured
// in the job's Result.
type GoroutineRunner struct{}

// Start returns at once. The unit is done when the command outcome is recorded.
func (GoroutineRunner) Start(ctx context.Context, job Job) (Unit, error) {
	ctx, cancel := context.WithCancel(ctx)
	u := &doneUnit{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(u.done)
		defer cancel()
		o := job.Endpoint.ExecuteCommand(ctx, job.Descriptor, job.Params, job.Result.Writer(), nil)
		job.Result.Finish(o)
	}()
	return u, nil
}

// InlineRunner runs the job synchronously in the caller's goroutine, wired
// to the operator's console.
type InlineRunner struct {
	Out io.Writer
	In  io.Reader
}

// Start returns only after the job has finished, so its unit is already done.
func (r InlineRunner) Start(ctx context.Context, job Job) (Unit, error) {
	u := &doneUnit{done: make(chan struct{})}
	defer close(u.done)
	job.Result.markStreamed()
	o := job.Endpoint.ExecuteCommand(ctx, job.Descriptor, job.Params, r.Out, r.In)
	job.Result.Finish(o)
	return u, nil
}
