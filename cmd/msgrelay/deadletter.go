package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/msgrelay/internal/config"
	"github.com/tinytelemetry/msgrelay/internal/deadletter"
	"github.com/tinytelemetry/msgrelay/internal/logging"
	"github.com/tinytelemetry/msgrelay/internal/sink"
)

var errDeadLetterDisabled = errors.New("dead-letter log is disabled (set dead-letter.enabled: true)")

func (a *app) deadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Inspect and replay failed deliveries",
	}
	cmd.AddCommand(a.deadLetterListCmd(), a.deadLetterReplayCmd())
	return cmd
}

func (a *app) openDeadLetter() (config.Config, *deadletter.Log, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	if !cfg.DeadLetter.Enabled {
		return cfg, nil, errDeadLetterDisabled
	}
	log, err := deadletter.Open(cfg.DeadLetter.Path)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

func (a *app) deadLetterListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List undelivered entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, err := a.openDeadLetter()
			if err != nil {
				return err
			}
			defer log.Close()

			entries, err := log.Pending()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No undelivered entries.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tFAILED AT\tSINK\tMESSAGES\tSUBJECT\tREASON")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
					e.Seq, e.FailedAt.Local().Format(time.DateTime), e.Sink,
					len(e.SequenceIDs), truncate(e.Subject, 40), truncate(e.Reason, 60))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d undelivered entr%s in %s\n", len(entries), plural(len(entries), "y", "ies"), log.Path())
			return nil
		},
	}
}

func (a *app) deadLetterReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Resend undelivered entries through the configured sink",
		Long: `Resend undelivered entries oldest first, paced like a regular cycle.
Replay stops at the first entry the sink refuses, or between entries on
Ctrl+C; later entries stay queued. The cursor is not touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := a.openDeadLetter()
			if err != nil {
				return err
			}
			defer log.Close()

			logger, closeLog := a.newLogger(cfg)
			defer closeLog()

			s, err := sink.New(cfg.Sink, logger.With(logging.Component("sink")))
			if err != nil {
				return err
			}
			if closer, ok := s.(sink.Closer); ok {
				defer closer.Close()
			}

			res, err := log.Redeliver(ctx, s)
			fmt.Fprintf(cmd.OutOrStdout(), "Redelivered %d, %d remaining\n", res.Delivered, res.Remaining)
			if err != nil {
				return err
			}
			if res.LastErr != nil {
				return fmt.Errorf("replay stopped: %w", res.LastErr)
			}
			return nil
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
