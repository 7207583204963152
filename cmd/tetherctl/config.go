package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/tether/internal/config"
	"github.com/danmuck/tether/internal/controller"
)

// tetherctl loader for TOML config with default overlay.
func loadServiceConfig(path string) (controller.ServiceConfig, error) {
	cfg := controller.DefaultServiceConfig()

	var raw config.ControllerFile
	meta, err := config.Decode(path, &raw)
	if err != nil {
		return controller.ServiceConfig{}, fmt.Errorf("load tetherctl config: %w", err)
	}

	if meta.IsDefined("listen") {
		cfg.ListenAddr = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("isolation") {
		cfg.Isolation = strings.ToLower(strings.TrimSpace(raw.Isolation))
	}
	if meta.IsDefined("shm_dir") {
		cfg.ShmDir = strings.TrimSpace(raw.ShmDir)
	}
	if meta.IsDefined("value_cap") {
		if raw.ValueCap <= 0 {
			return controller.ServiceConfig{}, fmt.Errorf("load tetherctl config: value_cap must be positive")
		}
		cfg.ValueCap = raw.ValueCap
	}
	if err := config.ApplySession(meta, raw.Session, &cfg.Session); err != nil {
		return controller.ServiceConfig{}, fmt.Errorf("load tetherctl config: %w", err)
	}

	switch cfg.Isolation {
	case controller.IsolationProcess, controller.IsolationGoroutine:
	default:
		return controller.ServiceConfig{}, fmt.Errorf("load tetherctl config: %w: %q", controller.ErrInvalidIsolation, cfg.Isolation)
	}
	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}
