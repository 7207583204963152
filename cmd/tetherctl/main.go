package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/tether/internal/commands"
	"github.com/danmuck/tether/internal/controller"
	"github.com/danmuck/tether/internal/logging"
	"github.com/danmuck/tether/internal/worker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	listen     string
	isolation  string
	worker     bool
}

func parseFlags(args []string) (options, *pflag.FlagSet, error) {
	var opts options
	fs := pflag.NewFlagSet("tetherctl", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config.toml")
	fs.StringVarP(&opts.listen, "listen", "l", "", "listen address (overrides config)")
	fs.StringVar(&opts.isolation, "isolation", "", "command isolation: process|goroutine (overrides config)")
	fs.BoolVar(&opts.worker, "worker", false, "run one command job from stdin")
	_ = fs.MarkHidden("worker")
	err := fs.Parse(args)
	return opts, fs, err
}

func serviceConfig(opts options) (controller.ServiceConfig, error) {
	cfg := controller.DefaultServiceConfig()
	if opts.configPath != "" {
		loaded, err := loadServiceConfig(opts.configPath)
		if err != nil {
			return controller.ServiceConfig{}, err
		}
		cfg = loaded
	}
	if opts.listen != "" {
		cfg.ListenAddr = opts.listen
	}
	if opts.isolation != "" {
		cfg.Isolation = opts.isolation
	}
	return cfg, nil
}

func run(args []string) int {
	opts, _, err := parseFlags(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "tetherctl: %v\n", err)
		return 2
	}

	reg, err := commands.NewRegistry(controller.LocalCommandNames()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tetherctl: %v\n", err)
		return 1
	}
	if opts.worker {
		return worker.Main(reg, os.Stdin, os.Stdout)
	}

	logging.ConfigureRuntime()
	cfg, err := serviceConfig(opts)
	if err != nil {
		log.Error().Err(err).Msg("tetherctl config")
		return 1
	}
	svc, err := controller.NewService(cfg, reg)
	if err != nil {
		log.Error().Err(err).Msg("tetherctl service")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := svc.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("tetherctl stopped")
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
