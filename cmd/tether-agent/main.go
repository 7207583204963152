package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/tether/internal/agent"
	"github.com/danmuck/tether/internal/commands"
	"github.com/danmuck/tether/internal/controller"
	"github.com/danmuck/tether/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	controller string
	name       string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("tether-agent", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config.toml")
	fs.StringVar(&opts.controller, "controller", "", "controller address (overrides config)")
	fs.StringVarP(&opts.name, "name", "n", "", "endpoint name to request (overrides config)")
	return opts, fs.Parse(args)
}

func agentConfig(opts options) (agent.Config, error) {
	cfg := agent.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := loadAgentConfig(opts.configPath)
		if err != nil {
			return agent.Config{}, err
		}
		cfg = loaded
	}
	if opts.controller != "" {
		cfg.ControllerAddr = opts.controller
	}
	if opts.name != "" {
		cfg.Name = opts.name
	}
	return cfg, nil
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "tether-agent: %v\n", err)
		return 2
	}
	logging.ConfigureRuntime()

	cfg, err := agentConfig(opts)
	if err != nil {
		log.Error().Err(err).Msg("tether-agent config")
		return 1
	}
	// The agent registers the same table as the controller so names line up.
	reg, err := commands.NewRegistry(controller.LocalCommandNames()...)
	if err != nil {
		log.Error().Err(err).Msg("tether-agent registry")
		return 1
	}
	a, err := agent.New(cfg, reg)
	if err != nil {
		log.Error().Err(err).Msg("tether-agent")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info().Str("controller", cfg.ControllerAddr).Str("platform", cfg.Platform.String()).Msg("tether-agent starting")
	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("tether-agent stopped")
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
