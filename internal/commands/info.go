package commands

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"sort"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/wire"
	"github.com/mitchellh/go-ps"
)

// Echo round-trips a string through the agent.
type Echo struct{}

// AgentSide sends the text straight back.
func (Echo) AgentSide(ctx context.Context, s *command.AgentSession) error {
	text, err := wire.ReceiveString(s.Channel)
	if err != nil {
		return err
	}
	return wire.SendString(s.Channel, text)
}

func (Echo) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	if err := wire.SendString(s.Channel, params[0].Str); err != nil {
		return transportFailure(s.Out, "send text", err)
	}
	got, err := wire.ReceiveString(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive echo", err)
	}
	fmt.Fprintln(s.Out, got)
	if got != params[0].Str {
		return command.Partial(got)
	}
	return command.Succeeded(got)
}

// SysInfo reports basic host facts as key/value pairs.
type SysInfo struct{}

func sysInfoFacts() map[string]string {
	facts := map[string]string{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
		"cpus": fmt.Sprint(runtime.NumCPU()),
		"pid":  fmt.Sprint(os.Getpid()),
	}
	if h, err := os.Hostname(); err == nil {
		facts["hostname"] = h
	}
	if wd, err := os.Getwd(); err == nil {
		facts["cwd"] = wd
	}
	if u, err := user.Current(); err == nil {
		facts["user"] = u.Username
	}
	return facts
}

// AgentSide sends the host facts sorted by key.
func (SysInfo) AgentSide(ctx context.Context, s *command.AgentSession) error {
	facts := sysInfoFacts()
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := wire.SendInteger(s.Channel, int64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := wire.SendString(s.Channel, k); err != nil {
			return err
		}
		if err := wire.SendString(s.Channel, facts[k]); err != nil {
			return err
		}
	}
	return nil
}

func (SysInfo) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	n, err := wire.ReceiveInteger(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive fact count", err)
	}
	facts := make(map[string]any, n)
	for i := int64(0); i < n; i++ {
		k, err := wire.ReceiveString(s.Channel)
		if err != nil {
			return transportFailure(s.Out, "receive fact", err)
		}
		v, err := wire.ReceiveString(s.Channel)
		if err != nil {
			return transportFailure(s.Out, "receive fact", err)
		}
		facts[k] = v
		fmt.Fprintf(s.Out, "%-10s -> %s\n", k, v)
	}
	return command.Succeeded(facts)
}

// ListProcesses lists the agent host's processes.
type ListProcesses struct{}

func (ListProcesses) AgentSide(ctx context.Context, s *command.AgentSession) error {
	procs, listErr := ps.Processes()
	if err := sendStatus(s.Channel, listErr, ""); err != nil || listErr != nil {
		return err
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Pid() < procs[j].Pid() })
	bulk := s.Bulk()
	defer bulk.Close()
	if err := wire.SendInteger(bulk, int64(len(procs))); err != nil {
		return err
	}
	for _, p := range procs {
		if err := wire.SendInteger(bulk, int64(p.Pid())); err != nil {
			return err
		}
		if err := wire.SendInteger(bulk, int64(p.PPid())); err != nil {
			return err
		}
		if err := wire.SendString(bulk, p.Executable()); err != nil {
			return err
		}
	}
	return nil
}

// ControllerSide prints one row per process.
func (ListProcesses) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	ok, detail, err := receiveStatus(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive status", err)
	}
	if !ok {
		fmt.Fprintf(s.Out, "Could not list processes: %s\n", detail)
		return command.Failed()
	}
	bulk := s.Bulk()
	defer bulk.Close()
	n, err := wire.ReceiveInteger(bulk)
	if err != nil {
		return transportFailure(s.Out, "receive process count", err)
	}
	fmt.Fprintf(s.Out, "%8s %8s  %s\n", "PID", "PPID", "EXECUTABLE")
	for i := int64(0); i < n; i++ {
		pid, err := wire.ReceiveInteger(bulk)
		if err != nil {
			return transportFailure(s.Out, "receive process", err)
		}
		ppid, err := wire.ReceiveInteger(bulk)
		if err != nil {
			return transportFailure(s.Out, "receive process", err)
		}
		exe, err := wire.ReceiveString(bulk)
		if err != nil {
			return transportFailure(s.Out, "receive process", err)
		}
		fmt.Fprintf(s.Out, "%8d %8d  %s\n", pid, ppid, exe)
	}
	return command.Succeeded(n)
}

// Disconnect acknowledges and stops the agent.
type Disconnect struct{}

// AgentSide acknowledges and asks the agent to shut down.
func (Disconnect) AgentSide(ctx context.Context, s *command.AgentSession) error {
	if err := wire.SendBoolean(s.Channel, true); err != nil {
		return err
	}
	return command.ErrShutdownRequested
}

func (Disconnect) ControllerSide(ctx context.Context, s *command.ControllerSession, params []command.Token) command.Outcome {
	ack, err := wire.ReceiveBoolean(s.Channel)
	if err != nil {
		return transportFailure(s.Out, "receive acknowledgement", err)
	}
	if !ack {
		return command.Failed()
	}
	fmt.Fprintf(s.Out, "Agent '%s' is shutting down.\n", s.Endpoint)
	return command.Succeeded(nil)
}
