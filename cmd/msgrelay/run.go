package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/msgrelay/internal/httpserver"
	"github.com/tinytelemetry/msgrelay/internal/ledger"
	"github.com/tinytelemetry/msgrelay/internal/logging"
)

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the relay loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDaemon(cmd)
		},
	}
}

// runDaemon runs the relay loop, the status API and ledger retention until
// SIGINT or SIGTERM. A second signal kills the process.
func (a *app) runDaemon(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, cleanup, err := a.setup(ctx, wireDeliver)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	printStartupBanner(out, c)

	if c.deadLetter != nil {
		if pending, err := c.deadLetter.Pending(); err == nil && len(pending) > 0 {
			c.logger.Warn("dead-letter log has undelivered entries",
				logging.Count(len(pending)), "path", c.deadLetter.Path())
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		if cmd.Context().Err() == nil {
			fmt.Fprintln(out, "\nShutting down gracefully... (press Ctrl+C again to force)")
		}
		// Restore default signal handling so a second Ctrl+C exits at once.
		stop()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.relay.Run(gctx)
	})

	if c.cfg.API.Enabled {
		opts := httpserver.Options{
			Gatherer: c.registry,
			Logger:   c.logger.With(logging.Component("api")),
		}
		if c.ledger != nil {
			opts.History = c.ledger
		}
		srv := httpserver.NewServer(c.cfg.API.Addr, c.relay, opts)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
	}

	if cleaner := ledger.NewRetentionCleaner(c.ledger, c.cfg.Ledger.RetentionDays, c.logger.With(logging.Component("ledger"))); cleaner != nil {
		g.Go(func() error {
			return cleaner.Run(gctx)
		})
	}

	err = g.Wait()
	c.logger.Info("shutdown complete")
	return err
}
