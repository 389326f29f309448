package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/allot/internal/ir"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Watch    bool
	Interval time.Duration
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired claims",
		Long: `Delete every claim older than the claim TTL, in all events.

Expired claims are also cleared lazily when their owner asks for work, so
sweeping only matters for reviewers who never come back. With --watch the
sweep repeats every --interval (or sweep_interval from the config file)
until interrupted.

Example:
  allot sweep --db ./allot.db
  allot sweep --db ./allot.db --watch --interval 10m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts.RootOptions, cmd, func(s *session) error {
				if opts.Watch {
					return runSweeper(cmd, s, opts.Interval)
				}
				n, err := s.engine.SweepExpired(cmd.Context())
				if err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(CountResult{Op: "sweep", Count: n})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep sweeping until interrupted")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "sweep interval for --watch (default from config)")

	return cmd
}

// runSweeper sweeps periodically until SIGINT or SIGTERM.
func runSweeper(cmd *cobra.Command, s *session, interval time.Duration) error {
	if interval <= 0 {
		interval = s.cfg.SweepInterval
	}
	if interval <= 0 {
		return NewExitError(ExitCommandError, "--watch needs --interval or sweep_interval in the config file")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.logger.Info("sweeping expired claims", "interval", interval.String(), "ttl", s.engine.ClaimTTL().String())
	err := s.engine.RunSweeper(ctx, interval)
	if errors.Is(err, context.Canceled) {
		s.logger.Info("sweeper stopped")
		return nil
	}
	return err
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <event>",
		Short: "Mark units as consumed by everyone who reviewed them",
		Long: `Add every author of a stored review to the consumed set of the
reviewed unit. Use this after reviews were imported or written outside
allot so those reviewers are not offered the unit again.

Example:
  allot reconcile --db ./allot.db spring-2026`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(s *session) error {
				n, err := s.engine.Reconcile(cmd.Context(), ir.Event(args[0]))
				if err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(CountResult{Op: "reconcile", Event: args[0], Count: n})
			})
		},
	}
}
