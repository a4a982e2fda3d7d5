// Package main is the fixfinder command line tool. It ranks the commits of a
// vulnerability's repository by how likely they are to be its fix.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/osv/fixfinder/config"
	"github.com/google/osv/fixfinder/utility/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InitGlobalLogger(ctx)
	defer logger.Close()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Interrupted")
			logger.Close()
			os.Exit(130)
		}
		logger.Fatal("fixfinder failed", slog.Any("err", err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "fixfinder",
		Usage:   "finds the commits most likely to fix a disclosed vulnerability",
		Suggest: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:      "config",
				Aliases:   []string{"c"},
				Usage:     "path to a TOML config file (default: ./" + config.DefaultConfigName + " if present)",
				TakesFile: true,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug output",
			},
		},
		Before: func(c *cli.Context) error {
			logger.SetVerbose(c.Bool("verbose"))
			return nil
		},
		Commands: []*cli.Command{
			matchCommand(),
			calibrateCommand(),
			windowCommand(),
			scoreCommand(),
			checkCommand(),
		},
	}
}

// loadConfig reads the --config file, or fixfinder.toml in the working
// directory when the flag is unset.
func loadConfig(c *cli.Context) (config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}

	return config.TryLoad(".")
}
