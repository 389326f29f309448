package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/allot/internal/ir"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <event>",
		Short: "Show units of an event in assignment order",
		Long: `Show the units of an event in the order they would be handed out,
with completion counts, the reviewer holding each claim and who has
already consumed each unit.

Example:
  allot status --db ./allot.db spring-2026
  allot status --db ./allot.db spring-2026 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(s *session) error {
				snap, err := s.engine.Snapshot(cmd.Context(), ir.Event(args[0]))
				if err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(newStatusView(snap))
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <event>",
		Short: "Show skip counts per reviewer",
		Long: `Show how many units each reviewer skipped in an event.
Flags are not skips and are not counted.

Example:
  allot stats --db ./allot.db spring-2026`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(s *session) error {
				stats, err := s.engine.SkipStats(cmd.Context(), ir.Event(args[0]))
				if err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(StatsView{Event: args[0], Skips: stats})
			})
		},
	}
}

// NewFlaggedCommand creates the flagged command.
func NewFlaggedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flagged <reviewer> <event>",
		Short: "List units a reviewer flagged",
		Long: `List the units a reviewer flagged in an event, newest first.

Example:
  allot flagged --db ./allot.db alice spring-2026`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(s *session) error {
				flags, err := s.engine.FlaggedUnits(cmd.Context(), ir.Reviewer(args[0]), ir.Event(args[1]))
				if err != nil {
					return s.out.Fail(err)
				}
				view := FlaggedView{Reviewer: args[0], Event: args[1], Flags: make([]FlagView, len(flags))}
				for i, f := range flags {
					view.Flags[i] = FlagView{Unit: string(f.Unit), Reason: f.Reason, Timestamp: f.Timestamp.UTC()}
				}
				return s.out.Success(view)
			})
		},
	}
}
