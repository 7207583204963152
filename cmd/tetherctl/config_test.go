package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/tether/internal/controller"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
listen = "127.0.0.1:9555"
isolation = "Goroutine"
value_cap = 1024

[session]
op_timeout = "3s"
keystream_len = 512
`)
	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9555" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.Isolation != controller.IsolationGoroutine {
		t.Fatalf("unexpected isolation: %q", cfg.Isolation)
	}
	if cfg.ValueCap != 1024 {
		t.Fatalf("unexpected value cap: %d", cfg.ValueCap)
	}
	if cfg.Session.OpTimeout != 3*time.Second {
		t.Fatalf("unexpected op timeout: %s", cfg.Session.OpTimeout)
	}
	if cfg.Session.KeystreamLen != 512 {
		t.Fatalf("unexpected keystream len: %d", cfg.Session.KeystreamLen)
	}
	if len(cfg.WorkerArgs) != 1 || cfg.WorkerArgs[0] != "--worker" {
		t.Fatalf("worker args must keep defaults: %v", cfg.WorkerArgs)
	}
}

func TestLoadServiceConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := loadServiceConfig(writeConfig(t, "shm_dir = \"/dev/shm\"\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	d := controller.DefaultServiceConfig()
	if cfg.ListenAddr != d.ListenAddr || cfg.Isolation != d.Isolation {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.ShmDir != "/dev/shm" {
		t.Fatalf("unexpected shm dir: %q", cfg.ShmDir)
	}
}

func TestLoadServiceConfigRejectsIsolation(t *testing.T) {
	_, err := loadServiceConfig(writeConfig(t, "isolation = \"thread\"\n"))
	if !errors.Is(err, controller.ErrInvalidIsolation) {
		t.Fatalf("expected invalid isolation, got %v", err)
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, "listen = \":9500\"\n")
	opts, _, err := parseFlags([]string{"--config", path, "--listen", ":9600", "--isolation", "goroutine"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := serviceConfig(opts)
	if err != nil {
		t.Fatalf("service config: %v", err)
	}
	if cfg.ListenAddr != ":9600" {
		t.Fatalf("flag must win over config: %q", cfg.ListenAddr)
	}
	if cfg.Isolation != controller.IsolationGoroutine {
		t.Fatalf("unexpected isolation: %q", cfg.Isolation)
	}
}

func TestWorkerFlagIsHidden(t *testing.T) {
	opts, fs, err := parseFlags([]string{"--worker"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if !opts.worker {
		t.Fatalf("expected worker mode")
	}
	if f := fs.Lookup("worker"); f == nil || !f.Hidden {
		t.Fatalf("worker flag must be hidden")
	}
}
