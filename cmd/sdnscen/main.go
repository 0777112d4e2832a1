package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/idlab-discover/sdnscen/internal/config"
)

// FlagStore holds the options shared by every command.
type FlagStore struct {
	Config  string `short:"c" long:"config" description:"Harness configuration file (YAML)"`
	EnvFile string `long:"env-file" description:"Dotenv file with controller overrides" default:".env"`
	Backend string `short:"b" long:"backend" description:"Override the configured emulation backend" choice:"netns" choice:"kube" choice:"dry-run"`
	Output  string `short:"o" long:"output" description:"Override the configured output directory"`
	Debug   bool   `long:"debug" description:"Log at debug level in a human readable format"`
}

type app struct {
	ctx   context.Context
	flags FlagStore
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{ctx: ctx}
	parser := flags.NewParser(&a.flags, flags.Default)
	commands := []struct {
		name, short, long string
		data              interface{}
	}{
		{"run", "Run scenario files", "Run scenario files, or every scenario in the given directories, one at a time.", &runCommand{app: a}},
		{"watch", "Run scenarios as they appear", "Watch a directory and run every scenario file created or changed in it.", &watchCommand{app: a}},
		{"topo", "Build and print a topology", "Build a topology from the catalog and print it as YAML, or list the catalog.", &topoCommand{}},
		{"preflight", "Check the controller", "Ping the controller host and list the devices it has discovered.", &preflightCommand{app: a}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) {
			if ferr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			// already printed by the parser
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies command line overrides and builds the logger.
func (a *app) setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(a.flags.Config, a.flags.EnvFile)
	if err != nil {
		return cfg, nil, err
	}
	if a.flags.Backend != "" {
		cfg.Backend.Type = a.flags.Backend
	}
	if a.flags.Output != "" {
		cfg.OutputDir = a.flags.Output
	}
	logger, err := newLogger(a.flags.Debug)
	if err != nil {
		return cfg, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, logger, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
