package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// RunCommand runs a shell line on the agent and returns its combined output.
//
// Framing: STRING(line), answered on the bulk handle by INTEGER(exit code)
// BYTES(output). Exit code -1 means the process could not be started.
type RunCommand struct{}

func runLine(ctx context.Context, line string) (int64, []byte) {
	out, err := shellCommand(ctx, line).CombinedOutput()
	code := exitCode(err)
	if code == -1 && err != nil {
		out = append(out, []byte(err.Error())...)
	}
	return code, out
}

// AgentSide runs the line under the bulk timeout and sends the exit code and output.
func (RunCommand) AgentSide(ctx context.Context, s *command.AgentSession) error {
	line, err := wire.ReceiveString(s.Channel)
	if err != nil {
		return err
	}
	bulk := s.Bulk()
	defer bulk.Close()
	runCtx := ctx
	if s.BulkTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.BulkTimeout)
		defer cancel()
	}
	code, out := runLine(runCtx, line)
	if err := wire.SendInteger(bulk, code); err != nil {
		return err
	}
	return wire.SendBytes(bulk, out)
}

// ControllerSide prints the output. A non-zero exit code is a partial success.
func (RunCommand) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	if err := wire.SendString(s.Channel, params[0].Str); err != nil {
		return transportFailure(s.Out, "send command", err)
	}
	bulk := s.Bulk()
	defer bulk.Close()
	code, err := wire.ReceiveInteger(bulk)
	if err != nil {
		return transportFailure(s.Out, "receive exit code", err)
	}
	out, err := wire.ReceiveBytes(bulk)
	if err != nil {
		return transportFailure(s.Out, "receive output", err)
	}
	s.Out.Write(out)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		fmt.Fprintln(s.Out)
	}
	switch {
	case code == 0:
		return command.Succeeded(code)
	case code > 0:
		fmt.Fprintf(s.Out, "exit status %d\n", code)
		return command.Partial(code)
	default:
		return command.Failed()
	}
}

// RunDetached starts a shell line on the agent without waiting for it.
//
// Framing: STRING(line), answered by status then INTEGER(pid).
type RunDetached struct{}

// AgentSide starts the process and reaps it in the background.
func (RunDetached) AgentSide(ctx context.Context, s *command.AgentSession) error {
	line, err := wire.ReceiveString(s.Channel)
	if err != nil {
		return err
	}
	cmd := detachedCommand(line)
	startErr := cmd.Start()
	if err := sendStatus(s.Channel, startErr, line); err != nil || startErr != nil {
		return err
	}
	pid := int64(cmd.Process.Pid)
	go func() {
		err := cmd.Wait()
		log.Debug().Int64("pid", pid).Int64("exit", exitCode(err)).Msg("detached command exited")
	}()
	return wire.SendInteger(s.Channel, pid)
}

func (RunDetached) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	if err := wire.SendString(s.Channel, params[0].Str); err != nil {
		return transportFailure(s.Out, "send command", err)
	}
	ok, detail, err := receiveStatus(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive status", err)
	}
	if !ok {
		fmt.Fprintf(s.Out, "Could not start command: %s\n", detail)
		return command.Failed()
	}
	pid, err := wire.ReceiveInteger(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive pid", err)
	}
	fmt.Fprintf(s.Out, "Started '%s' with pid %d\n", detail, pid)
	return command.Succeeded(pid)
}

// Shell is an interactive line-at-a-time shell on one agent.
//
// Framing: the controller sends BOOLEAN(more) and, when true, STRING(line);
// each line is answered on the bulk handle by STRING(cwd) INTEGER(exit code)
// BYTES(output). BOOLEAN(false) ends the session.
type Shell struct{}

const shellExit = "exit"

// AgentSide runs lines until the controller ends the session. cd changes
// the agent's working directory.
func (Shell) AgentSide(ctx context.Context, s *command.AgentSession) error {
	// The operator may idle between lines.
	idle := s.Channel.WithTimeout(0)
	defer idle.Close()
	bulk := s.Bulk()
	defer bulk.Close()
	for {
		more, err := wire.ReceiveBoolean(idle)
		if err != nil || !more {
			return err
		}
		line, err := wire.ReceiveString(idle)
		if err != nil {
			return err
		}
		code, out := shellLine(ctx, line, s)
		wd, _ := os.Getwd()
		if err := wire.SendString(bulk, wd); err != nil {
			return err
		}
		if err := wire.SendInteger(bulk, code); err != nil {
			return err
		}
		if err := wire.SendBytes(bulk, out); err != nil {
			return err
		}
	}
}

func shellLine(ctx context.Context, line string, s *command.AgentSession) (int64, []byte) {
	fields := strings.Fields(line)
	if len(fields) > 0 && fields[0] == "cd" {
		target := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "cd"))
		if target == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return 1, []byte(err.Error() + "\n")
			}
			target = home
		}
		if err := os.Chdir(target); err != nil {
			return 1, []byte(err.Error() + "\n")
		}
		return 0, nil
	}
	runCtx := ctx
	if s.BulkTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.BulkTimeout)
		defer cancel()
	}
	return runLine(runCtx, line)
}

// ControllerSide reads lines from the console until exit or end of input.
func (Shell) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	if s.In == nil {
		fmt.Fprintln(s.Out, "shell needs an interactive console")
		wire.SendBoolean(s.Channel, false)
		return command.Failed()
	}
	// Reuse the console's reader so lines after exit stay with the console.
	in, ok := s.In.(*bufio.Reader)
	if !ok {
		in = bufio.NewReader(s.In)
	}
	bulk := s.Bulk()
	defer bulk.Close()
	prompt := "shell> "
	lines := int64(0)
	for {
		fmt.Fprint(s.Out, prompt)
		line, readErr := in.ReadString('\n')
		line = strings.TrimSpace(line)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			fmt.Fprintf(s.Out, "\nread input: %v\n", readErr)
		}
		if line == shellExit || (readErr != nil && line == "") {
			if err := wire.SendBoolean(s.Channel, false); err != nil {
				return transportFailure(s.Out, "end shell", err)
			}
			return command.Succeeded(lines)
		}
		if line == "" {
			continue
		}
		if err := wire.SendBoolean(s.Channel, true); err != nil {
			return transportFailure(s.Out, "send line", err)
		}
		if err := wire.SendString(s.Channel, line); err != nil {
			return transportFailure(s.Out, "send line", err)
		}
		wd, err := wire.ReceiveString(bulk)
		if err != nil {
			return transportFailure(s.Out, "receive working directory", err)
		}
		code, err := wire.ReceiveInteger(bulk)
		if err != nil {
			return transportFailure(s.Out, "receive exit code", err)
		}
		out, err := wire.ReceiveBytes(bulk)
		if err != nil {
			return transportFailure(s.Out, "receive output", err)
		}
		s.Out.Write(out)
		if code != 0 {
			fmt.Fprintf(s.Out, "[exit %d]\n", code)
		}
		lines++
		prompt = wd + " shell> "
		if readErr != nil {
			wire.SendBoolean(s.Channel, false)
			return command.Succeeded(lines)
		}
	}
}
