package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/tether/internal/protocol/session"
	"github.com/danmuck/tether/internal/testutil/testlog"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestApplySessionOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
[session]
op_timeout = "2s"
key_bits = 1024
backoff_jitter = false
`)
	var raw AgentFile
	meta, err := Decode(path, &raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cfg := session.DefaultConfig()
	if err := ApplySession(meta, raw.Session, &cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.OpTimeout != 2*time.Second {
		t.Fatalf("unexpected op timeout: %s", cfg.OpTimeout)
	}
	if cfg.KeyBits != 1024 {
		t.Fatalf("unexpected key bits: %d", cfg.KeyBits)
	}
	if cfg.Backoff.Jitter {
		t.Fatalf("expected jitter disabled")
	}
	d := session.DefaultConfig()
	if cfg.BulkTimeout != d.BulkTimeout || cfg.KeystreamLen != d.KeystreamLen {
		t.Fatalf("undefined keys must keep defaults: %+v", cfg)
	}
}

func TestApplySessionRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"duration": "[session]\nop_timeout = \"soon\"\n",
		"negative": "[session]\nbulk_timeout = \"-1s\"\n",
		"key_bits": "[session]\nkey_bits = 512\n",
		"factor":   "[session]\nbackoff_multiplier = 0.5\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			var raw AgentFile
			meta, err := Decode(writeFile(t, content), &raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			cfg := session.DefaultConfig()
			if err := ApplySession(meta, raw.Session, &cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	var raw ControllerFile
	if _, err := Decode(writeFile(t, "listen = \":1\"\nlisten_port = 9\n"), &raw); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestTemplatesValidate(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{KindController, KindAgent} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s template", kind)
		}
		if err := Validate(kind, path); err != nil {
			t.Fatalf("validate %s template: %v", kind, err)
		}
	}
	if _, err := Template("daemon"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
