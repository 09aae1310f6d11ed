// Command xhcictl brings up xHCI controllers and exercises their rings.
//
// Usage:
//
//	xhcictl [-config file[,file...]] [-v] [-json] <command> [flags]
//
// Commands:
//
//	sim     drive No Op commands through the simulated controller
//	probe   list xHCI functions and optionally bring one up (Linux)
//	serve   run a controller and export metrics (Linux)
//
// A configuration file is YAML; see package config for the keys.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/subcommands"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/pkg/config"
)

// componentCLI identifies this executable for structured logging.
const componentCLI pkg.Component = "xhcictl"

func main() {
	configPath := flag.String("config", "", "comma-separated YAML configuration files; later files override earlier ones")
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(simCmd), "")
	registerPlatform(subcommands.Register)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		pkg.LogError(componentCLI, "configuration", "error", err)
		os.Exit(int(subcommands.ExitUsageError))
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *jsonLog {
		cfg.Log.Format = "json"
	}
	if err := cfg.ApplyLogging(); err != nil {
		pkg.LogError(componentCLI, "logging", "error", err)
		os.Exit(int(subcommands.ExitUsageError))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx, &cfg)
	stop()
	os.Exit(int(status))
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(strings.Split(path, ",")...)
}

// configArg extracts the configuration passed to subcommands.Execute.
func configArg(args []interface{}) *config.Config {
	if len(args) > 0 {
		if c, ok := args[0].(*config.Config); ok {
			return c
		}
	}
	c := config.Default()
	return &c
}
