package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/allot/internal/allocation"
	"github.com/roach88/allot/internal/ir"
)

// NewRegisterCommand creates the register command.
func NewRegisterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <event> <unit>...",
		Short: "Register units for review in an event",
		Long: `Register units for review in an event.

Registering a unit that already exists is a no-op, so the command can be
re-run with the full unit list.

Example:
  allot register --db ./allot.db spring-2026 app-101 app-102 app-103`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(s *session) error {
				units := make([]ir.Unit, len(args)-1)
				for i, u := range args[1:] {
					units[i] = ir.Unit(u)
				}
				n, err := s.engine.RegisterAll(cmd.Context(), ir.Event(args[0]), units...)
				if err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(RegisterResult{Event: args[0], Units: args[1:], Created: n})
			})
		},
	}
}

// NextOptions holds flags for the next command.
type NextOptions struct {
	*RootOptions
	Start string // RFC 3339 start time; empty means now
}

// NewNextCommand creates the next command.
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "next <reviewer> <event>",
		Short: "Get the reviewer's next assignment",
		Long: `Get the reviewer's next assignment in an event.

If the reviewer already holds a live claim it is returned unchanged.
Otherwise the least-reviewed unit the reviewer has not seen is claimed.

Exit codes:
  0 - Claim returned
  1 - No eligible unit, or the operation failed
  2 - Command error

Example:
  allot next --db ./allot.db alice spring-2026`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var start time.Time
			if opts.Start != "" {
				var err error
				if start, err = time.Parse(time.RFC3339, opts.Start); err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --start %q", opts.Start), err)
				}
			}
			return withSession(opts.RootOptions, cmd, func(s *session) error {
				claim, err := s.engine.NextAssignment(cmd.Context(), ir.Reviewer(args[0]), ir.Event(args[1]), start)
				if err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(newClaimView(claim, s.engine.ClaimTTL()))
			})
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "claim start time (RFC 3339, default now)")

	return cmd
}

// NewCurrentCommand creates the current command.
func NewCurrentCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "current <reviewer> <event>",
		Short: "Show the reviewer's live claim",
		Long: `Show the reviewer's live claim in an event.

A claim older than the claim TTL is deleted and reported as absent.

Example:
  allot current --db ./allot.db alice spring-2026`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(s *session) error {
				claim, found, err := s.engine.Current(cmd.Context(), ir.Reviewer(args[0]), ir.Event(args[1]))
				if err != nil {
					return s.out.Fail(err)
				}
				if !found {
					return s.out.Fail(fmt.Errorf("%s in %s: %w", args[0], args[1], allocation.ErrNoActiveClaim))
				}
				return s.out.Success(newClaimView(claim, s.engine.ClaimTTL()))
			})
		},
	}
}
