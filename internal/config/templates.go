package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindController = "controller"
	KindAgent      = "agent"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindController:
		return controllerTemplate, nil
	case KindAgent:
		return agentTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const sessionTemplate = `
[session]
connect_timeout = "5s"
handshake_timeout = "10s"
op_timeout = "5s"
bulk_timeout = "60s"
key_bits = 2048
keystream_len = 1024
max_name_len = 64
backoff_initial = "250ms"
backoff_max = "5s"
backoff_multiplier = 2.0
backoff_jitter = true
`

const controllerTemplate = `listen = ":9400"
# process | goroutine
isolation = "process"
# empty uses the OS temp dir
shm_dir = ""
value_cap = 262144
` + sessionTemplate

const agentTemplate = `controller = "127.0.0.1:9400"
name = ""
# 0 reconnects forever
max_reconnects = 0
` + sessionTemplate
