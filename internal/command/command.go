package command

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/danmuck/tether/internal/protocol/channel"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/danmuck/tether/internal/protocol/wire"
)

// ErrShutdownRequested is returned by an agent-side procedure that wants the
// agent process to exit after replying.
var ErrShutdownRequested = errors.New("command: agent shutdown requested")

// DoubleCommand is a command with an agent half and a controller half that
// talk over the same channel after the "running" reply.
type DoubleCommand interface {
	AgentSide(ctx context.Context, s *AgentSession) error
	ControllerSide(ctx context.Context, s *ControllerSession, params []Token) Outcome
}

// AgentSession is the agent-side view of one command run.
type AgentSession struct {
	Channel     *channel.Channel
	BulkTimeout time.Duration
	Platform    session.Platform
}

// Bulk returns a handle with the bulk transfer timeout. Callers close it.
func (s *AgentSession) Bulk() *channel.Channel {
	return s.Channel.WithTimeout(s.BulkTimeout)
}

// ControllerSession is the controller-side view of one command run against
// one endpoint.
type ControllerSession struct {
	Endpoint    string
	Platform    session.Platform
	Channel     *channel.Channel
	BulkTimeout time.Duration
	// Out receives everything the command prints for this endpoint.
	Out io.Writer
	// In is the operator's input stream for interactive commands.
	In io.Reader
}

func (s *ControllerSession) Bulk() *channel.Channel {
	return s.Channel.WithTimeout(s.BulkTimeout)
}

// StatusForError maps a transport error onto the result vocabulary.
func StatusForError(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, wire.ErrConnection), errors.Is(err, io.EOF):
		return StatusConnError
	default:
		return StatusFailure
	}
}

// ErrorOutcome reports err as the command's outcome.
func ErrorOutcome(err error) Outcome {
	return Outcome{Status: StatusForError(err)}
}

// Func adapts two functions into a DoubleCommand.
type Func struct {
	Agent      func(ctx context.Context, s *AgentSession) error
	Controller func(ctx context.Context, s *ControllerSession, params []Token) Outcome
}

func (f Func) AgentSide(ctx context.Context, s *AgentSession) error {
	if f.Agent == nil {
		return nil
	}
	return f.Agent(ctx, s)
}

func (f Func) ControllerSide(ctx context.Context, s *ControllerSession, params []Token) Outcome {
	if f.Controller == nil {
		return Succeeded(nil)
	}
	return f.Controller(ctx, s, params)
}
