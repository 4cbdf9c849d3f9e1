// Command toolasha runs the companion core: a local websocket relay that
// tees game traffic, mirrors character state, and drives feature modules
// through character switches.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tib-san/Toolasha-sub001/pkg/app"
	"github.com/tib-san/Toolasha-sub001/pkg/config"
	"github.com/tib-san/Toolasha-sub001/pkg/console"
	"github.com/tib-san/Toolasha-sub001/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "toolasha:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", defaultConfigPath(), "path to config file")
		withConsole = flag.Bool("console", false, "start the developer console")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := app.NewContainer(ctx, cfg)
	defer c.Close()

	logger.InfoCF("app", "starting", map[string]interface{}{
		"listen":   cfg.Relay.Listen,
		"upstream": cfg.Relay.Upstream,
	})

	// Confirm interception within the configured retry window; on
	// exhaustion the core fails closed and the relay keeps forwarding.
	if cfg.Relay.AttachAttempts > 0 {
		go func() {
			if _, err := c.Interceptor.Attach(ctx, c.Relay.Current, cfg.Relay.AttachAttempts, cfg.Relay.AttachInterval.Std()); err != nil {
				logger.WarnCF("app", "interception not confirmed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	if *withConsole || cfg.Console.Enabled {
		go func() {
			if err := console.New(c.Store, c.Lifecycle, c.Observer, c.Features, c.Flags).Run(ctx); err != nil {
				logger.ErrorCF("app", "console stopped", map[string]interface{}{"error": err.Error()})
			}
			stop()
		}()
	}

	return c.Relay.Start(ctx)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "toolasha.yaml"
	}
	return home + "/.toolasha/toolasha.yaml"
}
