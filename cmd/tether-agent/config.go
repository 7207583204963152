package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/tether/internal/agent"
	"github.com/danmuck/tether/internal/config"
)

// tether-agent loader for TOML config with default overlay.
func loadAgentConfig(path string) (agent.Config, error) {
	cfg := agent.DefaultConfig()

	var raw config.AgentFile
	meta, err := config.Decode(path, &raw)
	if err != nil {
		return agent.Config{}, fmt.Errorf("load agent config: %w", err)
	}

	if meta.IsDefined("controller") {
		cfg.ControllerAddr = strings.TrimSpace(raw.Controller)
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("max_reconnects") {
		if raw.MaxReconnects < 0 {
			return agent.Config{}, fmt.Errorf("load agent config: max_reconnects must not be negative")
		}
		cfg.MaxReconnects = raw.MaxReconnects
	}
	if err := config.ApplySession(meta, raw.Session, &cfg.Session); err != nil {
		return agent.Config{}, fmt.Errorf("load agent config: %w", err)
	}

	if cfg.ControllerAddr == "" {
		return agent.Config{}, fmt.Errorf("load agent config: %w", agent.ErrControllerAddressRequired)
	}
	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}
