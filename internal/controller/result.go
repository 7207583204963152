package controller

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/tether/internal/command"
)

// Result is one endpoint's share of an execution. The coordinator creates
// it; exactly one runner unit finishes it.
type Result struct {
	Endpoint string

	status atomic.Uint32
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	value    any
	output   bytes.Buffer
	streamed bool
}

func NewResult(endpoint string) *Result {
	return &Result{Endpoint: endpoint, done: make(chan struct{})}
}

func (r *Result) Status() command.Status { return command.Status(r.status.Load()) }

// Done is closed once the result reaches a terminal status.
func (r *Result) Done() <-chan struct{} { return r.done }

// Finish records a terminal outcome. The first terminal outcome wins.
func (r *Result) Finish(o command.Outcome) bool {
	if !o.Status.Terminal() {
		return false
	}
	if !r.status.CompareAndSwap(uint32(command.StatusPending), uint32(o.Status)) {
		return false
	}
	r.mu.Lock()
	r.value = o.Value
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
	return true
}

// Abandon marks a still-pending result as timed out.
func (r *Result) Abandon() bool {
	return r.Finish(command.Outcome{Status: command.StatusTimeout})
}

func (r *Result) Value() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Output returns everything captured for this endpoint.
func (r *Result) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output.String()
}

// Streamed reports whether output went straight to the console.
func (r *Result) Streamed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamed
}

func (r *Result) markStreamed() {
	r.mu.Lock()
	r.streamed = true
	r.mu.Unlock()
}

// Writer captures output for this endpoint. Safe for concurrent use.
func (r *Result) Writer() io.Writer { return &resultWriter{r: r} }

type resultWriter struct{ r *Result }

func (w *resultWriter) Write(p []byte) (int, error) {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	return w.r.output.Write(p)
}
