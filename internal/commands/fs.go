package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/wire"
	"github.com/dustin/go-humanize"
)

// ListDir lists a directory on the agent, defaulting to its working
// directory.
type ListDir struct{}

type dirEntry struct {
	name    string
	dir     bool
	size    int64
	modTime int64
	// stat reports whether size and modTime are known.
	stat bool
}

func readDir(path string) (string, []dirEntry, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", nil, err
		}
		path = wd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	items, err := os.ReadDir(abs)
	if err != nil {
		return abs, nil, err
	}
	out := make([]dirEntry, 0, len(items))
	for _, it := range items {
		e := dirEntry{name: it.Name(), dir: it.IsDir()}
		if info, err := it.Info(); err == nil {
			e.size, e.modTime, e.stat = info.Size(), info.ModTime().Unix(), true
		}
		out = append(out, e)
	}
	return abs, out, nil
}

// AgentSide lists the directory, or the working directory when none is given.
func (ListDir) AgentSide(ctx context.Context, s *command.AgentSession) error {
	hasPath, err := wire.ReceiveBoolean(s.Channel)
	if err != nil {
		return err
	}
	path := ""
	if hasPath {
		if path, err = wire.ReceiveString(s.Channel); err != nil {
			return err
		}
	}
	abs, entries, readErr := readDir(path)
	if err := sendStatus(s.Channel, readErr, abs); err != nil || readErr != nil {
		return err
	}
	bulk := s.Bulk()
	defer bulk.Close()
	if err := wire.SendInteger(bulk, int64(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := wire.SendString(bulk, e.name); err != nil {
			return err
		}
		if err := wire.SendBoolean(bulk, e.dir); err != nil {
			return err
		}
		if err := wire.SendBoolean(bulk, e.stat); err != nil {
			return err
		}
		if err := wire.SendInteger(bulk, e.size); err != nil {
			return err
		}
		if err := wire.SendInteger(bulk, e.modTime); err != nil {
			return err
		}
	}
	return nil
}

func (ListDir) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	if err := wire.SendBoolean(s.Channel, len(params) > 0); err != nil {
		return transportFailure(s.Out, "send path", err)
	}
	if len(params) > 0 {
		if err := wire.SendString(s.Channel, params[0].Str); err != nil {
			return transportFailure(s.Out, "send path", err)
		}
	}
	ok, detail, err := receiveStatus(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive status", err)
	}
	if !ok {
		fmt.Fprintf(s.Out, "Could not list directory: %s\n", detail)
		return command.Failed()
	}

	bulk := s.Bulk()
	defer bulk.Close()
	n, err := wire.ReceiveInteger(bulk)
	if err != nil {
		return transportFailure(s.Out, "receive entry count", err)
	}
	fmt.Fprintf(s.Out, "%s (%d entries)\n", detail, n)
	names := make([]any, 0, n)
	unknown := 0
	for i := int64(0); i < n; i++ {
		var e dirEntry
		if e.name, err = wire.ReceiveString(bulk); err != nil {
			return transportFailure(s.Out, "receive entry", err)
		}
		if e.dir, err = wire.ReceiveBoolean(bulk); err != nil {
			return transportFailure(s.Out, "receive entry", err)
		}
		if e.stat, err = wire.ReceiveBoolean(bulk); err != nil {
			return transportFailure(s.Out, "receive entry", err)
		}
		if e.size, err = wire.ReceiveInteger(bulk); err != nil {
			return transportFailure(s.Out, "receive entry", err)
		}
		if e.modTime, err = wire.ReceiveInteger(bulk); err != nil {
			return transportFailure(s.Out, "receive entry", err)
		}
		names = append(names, e.name)
		fmt.Fprintln(s.Out, formatEntry(e))
		if !e.stat {
			unknown++
		}
	}
	if unknown > 0 {
		fmt.Fprintf(s.Out, "%d entries could not be inspected\n", unknown)
		return command.Partial(names)
	}
	return command.Succeeded(names)
}

func formatEntry(e dirEntry) string {
	kind := "<FILE>"
	if e.dir {
		kind = "<DIR> "
	}
	if !e.stat {
		return fmt.Sprintf("%s %10s %-16s %s", kind, "?", "?", e.name)
	}
	size := humanize.IBytes(uint64(e.size))
	if e.dir {
		size = "-"
	}
	return fmt.Sprintf("%s %10s %-16s %s", kind, size, humanize.Time(time.Unix(e.modTime, 0)), e.name)
}

// PathOp applies one filesystem operation to a path on the agent.
type PathOp struct {
	// Verb names the operation in operator messages.
	Verb string
	Op   func(path string) (string, error)
}

// AgentSide applies the operation and reports its status.
func (p PathOp) AgentSide(ctx context.Context, s *command.AgentSession) error {
	path, err := wire.ReceiveString(s.Channel)
	if err != nil {
		return err
	}
	detail, opErr := p.Op(path)
	return sendStatus(s.Channel, opErr, detail)
}

// ControllerSide sends the path and prints the agent's verdict.
func (p PathOp) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	if err := wire.SendString(s.Channel, params[0].Str); err != nil {
		return transportFailure(s.Out, "send path", err)
	}
	ok, detail, err := receiveStatus(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive status", err)
	}
	if !ok {
		fmt.Fprintf(s.Out, "Could not %s '%s': %s\n", p.Verb, params[0].Str, detail)
		return command.Failed()
	}
	fmt.Fprintf(s.Out, "%s\n", detail)
	return command.Succeeded(detail)
}

func changeDir(path string) (string, error) {
	if err := os.Chdir(path); err != nil {
		return "", err
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return "Working directory is now " + wd, nil
}

func makeDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return "Created " + path, nil
}

func deleteFile(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if err := os.Remove(path); err != nil {
		return "", err
	}
	return "Deleted " + path, nil
}
