package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/msgrelay/internal/config"
)

func (a *app) onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single relay cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, cleanup, err := a.setup(ctx, wireDeliver)
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := c.relay.RunCycle(ctx)
			position := fmt.Sprintf("cursor %d (unchanged)", rep.CursorBefore)
			if rep.Persisted {
				position = fmt.Sprintf("cursor %d -> %d", rep.CursorBefore, rep.CursorAfter)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"cycle %s: fetched %d, admitted %d, delivered %d, failed %d, %s\n",
				rep.Outcome, rep.Fetched, rep.Admitted, rep.Delivered, rep.Failed, position)
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write the default configuration to the config path. An existing file is
never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			path = config.ExpandHome(path)

			created, err := config.WriteDefault(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !created {
				fmt.Fprintf(out, "Config already exists at %s (left unchanged)\n", path)
				return nil
			}
			fmt.Fprintf(out, "Created config at %s\n", path)
			fmt.Fprintln(out, "Next: set sink.webhook.url (or another sink), then run `msgrelay seed`.")
			return nil
		},
	}
}

func (a *app) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Move the cursor to the newest message without forwarding",
		Long: `Set the cursor to the current newest message so existing history is not
forwarded. Run this once after init.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, cleanup, err := a.setup(cmd.Context(), wireInspect)
			if err != nil {
				return err
			}
			defer cleanup()

			seq, err := c.relay.Seed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cursor seeded at message %d\n", seq)
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cursor position, backlog and configured paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, cleanup, err := a.setup(cmd.Context(), wireInspect)
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := c.relay.Status(cmd.Context())
			if err != nil {
				return err
			}
			pending := -1
			if c.deadLetter != nil {
				if entries, err := c.deadLetter.Pending(); err == nil {
					pending = len(entries)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(c.cfg, rep, pending))
			return nil
		},
	}
}
