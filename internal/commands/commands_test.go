package commands

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tether/internal/agent"
	"github.com/danmuck/tether/internal/command"
	"github.com/danmuck/tether/internal/controller"
	"github.com/danmuck/tether/internal/protocol/channel"
	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/danmuck/tether/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.KeyBits = 1024
	cfg.KeystreamLen = 256
	cfg.OpTimeout = 2 * time.Second
	cfg.BulkTimeout = 5 * time.Second
	return cfg.WithDefaults()
}

// harness pairs a controller endpoint with an agent dispatcher over a pipe.
type harness struct {
	t    *testing.T
	reg  *command.Registry
	e    *controller.Endpoint
	peer *channel.Channel
	d    *agent.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := NewRegistry(controller.LocalCommandNames()...)
	require.NoError(t, err)
	a, b := net.Pipe()
	ctrl := channel.New(a, testSession().Channel())
	peer := channel.New(b, testSession().Channel())
	t.Cleanup(func() {
		ctrl.Close()
		peer.Close()
	})
	errCh := make(chan error, 1)
	go func() { errCh <- peer.Handshake(context.Background()) }()
	require.NoError(t, ctrl.Handshake(context.Background()))
	require.NoError(t, <-errCh)
	return &harness{
		t:    t,
		reg:  reg,
		e:    controller.NewEndpoint("alpha", session.PlatformLinux, ctrl, testSession()),
		peer: peer,
		d:    agent.NewDispatcher(reg, testSession()),
	}
}

// run executes one command end to end and returns the outcome, the printed
// output and the agent-side error.
func (h *harness) run(name string, in io.Reader, params ...command.Token) (command.Outcome, string, error) {
	h.t.Helper()
	desc, ok := h.reg.Lookup(name)
	require.True(h.t, ok, "command %s not registered", name)
	done := make(chan error, 1)
	go func() { done <- h.d.HandleNext(context.Background(), h.peer) }()
	var buf bytes.Buffer
	out := h.e.ExecuteCommand(context.Background(), desc, params, &buf, in)
	select {
	case err := <-done:
		return out, buf.String(), err
	case <-time.After(10 * time.Second):
		h.t.Fatalf("agent side of %s never finished", name)
		return out, "", nil
	}
}

func TestNewRegistryRegistersBuiltins(t *testing.T) {
	testlog.Start(t)
	reg, err := NewRegistry(controller.LocalCommandNames()...)
	require.NoError(t, err)
	require.Equal(t, len(Builtins()), reg.Len())
	for _, name := range controller.LocalCommandNames() {
		if _, ok := reg.Lookup(name); ok {
			t.Fatalf("local command %s leaked into the registry", name)
		}
	}
	shell, ok := reg.Lookup("shell")
	require.True(t, ok)
	require.True(t, shell.InController)
	require.Equal(t, 1, shell.MaxSelected)
}

func TestNewRegistryRejectsReservedCollision(t *testing.T) {
	testlog.Start(t)
	_, err := NewRegistry("echo")
	require.ErrorIs(t, err, command.ErrDuplicateName)
}

func TestEchoAndSysInfo(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)

	out, printed, err := h.run("echo", nil, command.StrToken("hello there"))
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	require.Equal(t, "hello there", out.Value)
	require.Contains(t, printed, "hello there")

	out, printed, err = h.run("sysinfo", nil)
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	facts, ok := out.Value.(map[string]any)
	require.True(t, ok)
	require.Equal(t, runtime.GOOS, facts["os"])
	require.Contains(t, printed, "arch")
}

func TestFilesystemCommands(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")

	out, _, err := h.run("make_dir", nil, command.StrToken(sub))
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	require.DirExists(t, sub)

	file := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(file, []byte("hi"), 0o644))

	out, printed, err := h.run("list_dir", nil, command.StrToken(dir))
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	require.ElementsMatch(t, []any{"a", "note.txt"}, out.Value)
	require.Contains(t, printed, "<DIR>")
	require.Contains(t, printed, "note.txt")

	out, printed, err = h.run("delete_file", nil, command.StrToken(sub))
	require.NoError(t, err)
	require.Equal(t, command.StatusFailure, out.Status, "directories are refused")
	require.Contains(t, printed, "is a directory")

	out, _, err = h.run("delete_file", nil, command.StrToken(file))
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	require.NoFileExists(t, file)

	out, printed, err = h.run("list_dir", nil, command.StrToken(filepath.Join(dir, "missing")))
	require.NoError(t, err)
	require.Equal(t, command.StatusFailure, out.Status)
	require.Contains(t, printed, "Could not list directory")
}

func TestUploadAndDownload(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("tether "), 4096)
	local := filepath.Join(dir, "local.bin")
	require.NoError(t, os.WriteFile(local, payload, 0o644))

	remote := filepath.Join(dir, "remote", "copy.bin")
	out, _, err := h.run("upload_file", nil, command.StrToken(local), command.StrToken(remote))
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	got, err := os.ReadFile(remote)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	back := filepath.Join(dir, "back.bin")
	out, printed, err := h.run("download_file", nil, command.StrToken(remote), command.StrToken(back))
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	require.Equal(t, int64(len(payload)), out.Value)
	require.Contains(t, printed, "Saved")
	got, err = os.ReadFile(back)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestUploadMissingLocalFile(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	missing := filepath.Join(t.TempDir(), "nope")
	out, printed, err := h.run("upload_file", nil, command.StrToken(missing), command.StrToken(missing+".copy"))
	require.NoError(t, err)
	require.Equal(t, command.StatusFailure, out.Status, "parameter errors collapse to failure")
	require.Contains(t, printed, "Could not read")

	// the session stays usable
	out, _, err = h.run("echo", nil, command.StrToken("still here"))
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	testlog.Start(t)
	require.NotNil(t, zstdEncoder)
	require.NotNil(t, zstdDecoder)
	if _, err := decompress([]byte("definitely not zstd")); err == nil {
		t.Fatalf("expected decode error")
	}
	raw := []byte(strings.Repeat("x", 1000))
	got, err := decompress(compress(raw))
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestRunCommand(t *testing.T) {
	testlog.Start(t)
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	h := newHarness(t)

	out, printed, err := h.run("run_command", nil, command.StrToken("echo hello"))
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	require.Contains(t, printed, "hello")

	out, printed, err = h.run("run_command", nil, command.StrToken("echo oops; exit 3"))
	require.NoError(t, err)
	require.Equal(t, command.StatusPartialSuccess, out.Status)
	require.Equal(t, int64(3), out.Value)
	require.Contains(t, printed, "exit status 3")
}

func TestRunDetached(t *testing.T) {
	testlog.Start(t)
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	h := newHarness(t)
	out, printed, err := h.run("run_detached", nil, command.StrToken("true"))
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	pid, ok := out.Value.(int64)
	require.True(t, ok)
	require.Positive(t, pid)
	require.Contains(t, printed, "Started 'true'")
}

func TestShellSession(t *testing.T) {
	testlog.Start(t)
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	h := newHarness(t)
	in := strings.NewReader("echo first\n\nfalse\nexit\n")
	out, printed, err := h.run("shell", in)
	require.NoError(t, err)
	require.Equal(t, command.StatusSuccess, out.Status)
	require.Equal(t, int64(2), out.Value)
	require.Contains(t, printed, "first")
	require.Contains(t, printed, "[exit 1]")
}

func TestShellNeedsConsole(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	out, printed, err := h.run("shell", nil)
	require.NoError(t, err)
	require.Equal(t, command.StatusFailure, out.Status)
	require.Contains(t, printed, "interactive console")
}

func TestDisconnectRequestsShutdown(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	out, printed, err := h.run("disconnect", nil)
	require.ErrorIs(t, err, command.ErrShutdownRequested)
	require.Equal(t, command.StatusSuccess, out.Status)
	require.Contains(t, printed, "shutting down")
}
