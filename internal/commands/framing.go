package commands

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/wire"
)

// sendStatus replies BOOLEAN(ok) STRING(detail). A non-nil opErr turns the
// reply into a failure carrying the error text.
func sendStatus(w io.Writer, opErr error, detail string) error {
	if opErr != nil {
		detail = opErr.Error()
	}
	if err := wire.SendBoolean(w, opErr == nil); err != nil {
		return err
	}
	return wire.SendString(w, detail)
}

func receiveStatus(r io.Reader) (ok bool, detail string, err error) {
	if ok, err = wire.ReceiveBoolean(r); err != nil {
		return false, "", err
	}
	detail, err = wire.ReceiveString(r)
	return ok, detail, err
}

// transportFailure prints a transport error and maps it to an outcome.
func transportFailure(out io.Writer, what string, err error) command.Outcome {
	fmt.Fprintf(out, "%s: %v\n", what, err)
	return command.ErrorOutcome(err)
}

// shellCommand runs line through the platform shell.
func shellCommand(ctx context.Context, line string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", line)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", line)
}

// detachedCommand is shellCommand without a lifetime bound.
func detachedCommand(line string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", line)
	}
	return exec.Command("/bin/sh", "-c", line)
}

// exitCode extracts a process exit status; -1 when the process never ran.
func exitCode(err error) int64 {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return int64(ee.ExitCode())
	}
	return -1
}
