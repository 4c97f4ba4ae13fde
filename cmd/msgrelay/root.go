package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/msgrelay/internal/config"
	"github.com/tinytelemetry/msgrelay/internal/logging"
)

// app carries flag values shared by every command.
type app struct {
	configPath string
	// logOutput replaces stderr for log lines. Tests point it at a buffer.
	logOutput io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "msgrelay",
		Short: "Forward new Messages to a webhook, mailbox or broker",
		Long: `msgrelay polls the local Messages database for new inbound messages,
filters them by sender and business hours, and forwards them to one sink
(webhook, email, NATS or Kafka). Its position is kept in a cursor so a
restart never replays or skips messages.

Running msgrelay without a subcommand starts the relay loop.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDaemon(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default is $HOME/.msgrelay/config.yml)")

	root.AddCommand(
		a.runCmd(),
		a.onceCmd(),
		a.initCmd(),
		a.seedCmd(),
		a.statusCmd(),
		a.deadLetterCmd(),
	)
	return root
}

func (a *app) loadConfig() (config.Config, error) {
	return config.Load(a.configPath)
}

func (a *app) newLogger(cfg config.Config) (*slog.Logger, func()) {
	logger, cleanup := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Stderr: a.logOutput,
	})
	logging.SetDefault(logger)
	return logger, cleanup
}

// setup loads the config, starts logging and wires the components. The
// returned func undoes all of it.
func (a *app) setup(ctx context.Context, mode wireMode) (*components, func(), error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, closeLog := a.newLogger(cfg)

	c, err := wire(ctx, cfg, logger, mode)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return c, func() {
		if err := c.Close(); err != nil {
			logger.Warn("shutdown: closing resources", logging.Error(err))
		}
		closeLog()
	}, nil
}
