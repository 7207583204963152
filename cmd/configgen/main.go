package main

import (
	"fmt"
	"os"

	"github.com/danmuck/tether/internal/config"
	"github.com/spf13/pflag"
)

func defaultPath(kind string) (string, error) {
	switch kind {
	case config.KindController:
		return "cmd/tetherctl/config.toml", nil
	case config.KindAgent:
		return "cmd/tether-agent/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := fs.String("kind", config.KindController, "config kind: controller|agent")
	output := fs.String("output", "", "output path for config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *validate {
		path := *input
		if path == "" {
			p, err := defaultPath(*kind)
			if err != nil {
				return err
			}
			path = p
		}
		if err := config.Validate(*kind, path); err != nil {
			return err
		}
		fmt.Printf("Validated %s config at %s\n", *kind, path)
		return nil
	}

	target := *output
	if target == "" {
		p, err := defaultPath(*kind)
		if err != nil {
			return err
		}
		target = p
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	fmt.Printf("Wrote %s config template to %s\n", *kind, target)
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}
