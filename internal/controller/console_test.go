package controller

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/danmuck/tether/internal/testutil/testlog"
	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func newTestConsole(t *testing.T, set *EndpointSet, input string) (*Console, *lockedBuffer) {
	t.Helper()
	color.NoColor = true
	out := &lockedBuffer{}
	c, err := NewConsole(set, testRegistry(), GoroutineRunner{}, strings.NewReader(input), out)
	require.NoError(t, err)
	return c, out
}

func TestNewConsoleRejectsLocalNameCollision(t *testing.T) {
	testlog.Start(t)
	b := command.NewBuilder()
	b.MustAdd(command.Descriptor{Name: "select", Command: command.Func{}})
	_, err := NewConsole(NewEndpointSet(), b.Build(), nil, strings.NewReader(""), &bytes.Buffer{})
	require.ErrorIs(t, err, ErrLocalCollision)
}

func TestConsoleReportsUnknownAndInvalidLines(t *testing.T) {
	testlog.Start(t)
	c, out := newTestConsole(t, NewEndpointSet(), "")

	c.Execute("nope")
	c.Execute("select")
	c.Execute("select a b")
	c.Execute("double notanumber")
	c.Execute(`select "unterminated`)
	c.Execute("   ")

	text := out.String()
	require.Contains(t, text, "Command 'nope' doesn't exist.")
	require.Contains(t, text, "Not enough arguments supplied, use 1 argument(s) at least.")
	require.Contains(t, text, "Too many arguments supplied, use 1 argument(s) at most.")
	require.Contains(t, text, "Invalid argument type supplied.")
	require.Contains(t, text, "Could not parse command.")
}

func TestConsoleLocalCommands(t *testing.T) {
	testlog.Start(t)
	set := NewEndpointSet()
	a, _ := idleEndpoint(t, "alpha")
	require.NoError(t, set.Add(a))
	c, out := newTestConsole(t, set, "")

	c.Execute("select alpha")
	c.Execute("select alpha")
	c.Execute("list_endpoints selected")
	c.Execute("list_endpoints bogus")
	c.Execute("rename alpha ALPHA")
	c.Execute("rename alpha beta")
	c.Execute("deselect beta")
	c.Execute("remove gamma")
	c.Execute("help rename")
	c.Execute("help")

	text := out.String()
	require.Contains(t, text, "Selected 'alpha'")
	require.Contains(t, text, "Endpoint 'alpha' already selected.")
	require.Contains(t, text, "You have 1 selected endpoints:")
	require.Contains(t, text, "If given, the first argument must be 'new', 'selected' or 'alive', not 'bogus'.")
	require.Contains(t, text, "The first parameter must not be the same as the second one.")
	require.Contains(t, text, "Renamed endpoint 'alpha' to 'beta'.")
	require.Contains(t, text, "Deselected 'beta'")
	require.Contains(t, text, "No endpoint named 'gamma'.")
	require.Contains(t, text, "Usage: rename [ current name ] [ new name ]")
	require.Contains(t, text, "double:")
	require.Contains(t, text, "select_all:")
}

func TestConsoleNoSelectionMessage(t *testing.T) {
	testlog.Start(t)
	c, out := newTestConsole(t, NewEndpointSet(), "")
	c.Execute("double 2")
	require.Contains(t, out.String(), "No selected endpoints")
}

func TestConsoleSelectThenFanOut(t *testing.T) {
	testlog.Start(t)
	set := NewEndpointSet()
	addr := startAcceptor(t, set, nil)
	startAgent(t, addr, "alpha", session.PlatformLinux)
	startAgent(t, addr, "beta", session.PlatformLinux)
	waitForEndpoint(t, set, "alpha")
	waitForEndpoint(t, set, "beta")

	c, out := newTestConsole(t, set, "select alpha\ndouble 21\n")
	require.NoError(t, c.Run(context.Background()))
	require.True(t, c.Stopped(), "EOF runs exit")

	text := out.String()
	require.Contains(t, text, "Completed execution of command on endpoint 'alpha' (status: success):")
	require.Contains(t, text, "doubled 42")
	require.NotContains(t, text, "endpoint 'beta'")
	require.Contains(t, text, "Exiting...")
}

func TestConsoleExitWithoutConfirmationWhenNotInteractive(t *testing.T) {
	testlog.Start(t)
	set := NewEndpointSet()
	a, _ := idleEndpoint(t, "alpha")
	require.NoError(t, set.Add(a))
	c, out := newTestConsole(t, set, "exit\nselect alpha\n")
	require.NoError(t, c.Run(context.Background()))
	require.Contains(t, out.String(), "Exiting...")
	require.NotContains(t, out.String(), "Selected", "lines after exit are not read")
}

func TestConsoleSkipNoticesNameCommand(t *testing.T) {
	testlog.Start(t)
	c, out := newTestConsole(t, NewEndpointSet(), "")
	c.printExecution(&Execution{
		Command: "winonly",
		Results: map[string]*Result{},
		Skipped: []SkipNotice{
			{Endpoint: "gone", Reason: SkipDead},
			{Endpoint: "alpha", Reason: SkipUnsupported},
			{Endpoint: "beta", Reason: SkipAbandoned, Detail: "context canceled"},
			{Endpoint: "gamma", Reason: SkipStartFailed, Detail: "spawn failed"},
		},
	})

	text := out.String()
	require.Contains(t, text, "Endpoint 'gone' is dead, skipping command 'winonly'.")
	require.Contains(t, text, "Endpoint 'alpha's platform isn't supported by command 'winonly', skipping.")
	require.Contains(t, text, "Command 'winonly' was cancelled before it reached endpoint 'beta'.")
	require.Contains(t, text, "Endpoint 'gamma' skipped command 'winonly': spawn failed")
}
