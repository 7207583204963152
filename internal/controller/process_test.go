//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package controller

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/danmuck/tether/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

const testWorkerEnv = "TETHER_CONTROLLER_TEST_WORKER"

// TestMain doubles as the worker process when the test binary is
// re-executed by ProcessRunner.
func TestMain(m *testing.M) {
	if os.Getenv(testWorkerEnv) == "1" {
		os.Exit(runTestWorker())
	}
	os.Exit(m.Run())
}

func runTestWorker() int {
	job, err := ReadWorkerJob(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	f := os.NewFile(WorkerSessionFD, "session")
	if err := RunWorkerJob(context.Background(), testRegistry(), job, f, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func TestProcessRunnerRunsJobInWorker(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	set := NewEndpointSet()
	addr := startAcceptor(t, set, SharedChannels(testSession().Channel(), dir))
	startAgent(t, addr, "alpha", session.PlatformLinux)
	e := waitForEndpoint(t, set, "alpha")
	set.Select("alpha")

	exe, err := os.Executable()
	require.NoError(t, err)
	runner := &ProcessRunner{
		Executable: exe,
		Args:       []string{"-test.run=^$"},
		Env:        []string{testWorkerEnv + "=1"},
		Dir:        dir,
	}
	desc, _ := testRegistry().Lookup("double")
	exec, err := NewCoordinator(set, runner, nil).Execute(context.Background(), desc, []command.Token{command.IntToken(21)})
	require.NoError(t, err)

	res := exec.Results["alpha"]
	require.Equal(t, command.StatusSuccess, res.Status(), res.Output())
	require.EqualValues(t, 42, res.Value())
	require.Contains(t, res.Output(), "doubled 42")

	// Cursors advanced in the worker are visible here, so the session stays usable.
	require.True(t, e.Ping(false))
	exec, err = NewCoordinator(set, GoroutineRunner{}, nil).Execute(context.Background(), desc, []command.Token{command.IntToken(5)})
	require.NoError(t, err)
	require.EqualValues(t, 10, exec.Results["alpha"].Value())
}

func TestProcessRunnerRequiresSharedChannel(t *testing.T) {
	testlog.Start(t)
	set := NewEndpointSet()
	addr := startAcceptor(t, set, nil)
	startAgent(t, addr, "alpha", session.PlatformLinux)
	waitForEndpoint(t, set, "alpha")
	set.Select("alpha")

	exe, err := os.Executable()
	require.NoError(t, err)
	desc, _ := testRegistry().Lookup("double")
	exec, err := NewCoordinator(set, &ProcessRunner{Executable: exe}, nil).Execute(context.Background(), desc, []command.Token{command.IntToken(1)})
	require.NoError(t, err)
	require.Empty(t, exec.Order)
	require.Len(t, exec.Skipped, 1)
	require.Equal(t, SkipStartFailed, exec.Skipped[0].Reason)
}
