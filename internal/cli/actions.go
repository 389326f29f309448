package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/allot/internal/allocation"
	"github.com/roach88/allot/internal/ir"
)

// resolveClaim loads a claim by id. An unknown id is reported as a claim
// the reviewer does not own.
func resolveClaim(ctx context.Context, s *session, id string) (ir.Claim, error) {
	claim, err := s.engine.Lookup(ctx, id)
	if errors.Is(err, allocation.ErrNoActiveClaim) {
		return ir.Claim{}, fmt.Errorf("claim %s: %w", id, allocation.ErrClaimNotOwned)
	}
	return claim, err
}

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	ActiveTime time.Duration
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <reviewer> <claim-id>",
		Short: "Complete a claim",
		Long: `Complete a claim after its review was written.

With --active-time the review is recorded in the database too, unless the
reviewer already has one for the unit.

Example:
  allot submit --db ./allot.db alice 0192f3c4-... --active-time 4m30s`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts.RootOptions, cmd, func(s *session) error {
				ctx := cmd.Context()
				claim, err := resolveClaim(ctx, s, args[1])
				if err != nil {
					return s.out.Fail(err)
				}

				req := allocation.SubmitRequest{Reviewer: ir.Reviewer(args[0]), Claim: claim}
				if cmd.Flags().Changed("active-time") {
					if opts.ActiveTime < 0 {
						return NewExitError(ExitCommandError, "--active-time must not be negative")
					}
					active := opts.ActiveTime
					req.ActiveTime = &active
				}
				unit, err := s.engine.Submit(ctx, req)
				if err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(ActionResult{
					Action:   "submit",
					Reviewer: args[0],
					Event:    string(claim.Event),
					Unit:     string(unit),
					Claim:    claim.ID,
				})
			})
		},
	}

	cmd.Flags().DurationVar(&opts.ActiveTime, "active-time", 0, "record a review with this active time")

	return cmd
}

// NewSkipCommand creates the skip command.
func NewSkipCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <reviewer> <claim-id>",
		Short: "Decline a claim",
		Long: `Decline a claim. The reviewer will not be offered the unit again and
the skip is counted in stats. Any review the reviewer wrote for the unit
is deleted.

Example:
  allot skip --db ./allot.db alice 0192f3c4-...`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(s *session) error {
				ctx := cmd.Context()
				claim, err := resolveClaim(ctx, s, args[1])
				if err != nil {
					return s.out.Fail(err)
				}
				if err := s.engine.Skip(ctx, ir.Reviewer(args[0]), claim); err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(ActionResult{
					Action:   "skip",
					Reviewer: args[0],
					Event:    string(claim.Event),
					Unit:     string(claim.Unit),
					Claim:    claim.ID,
				})
			})
		},
	}
}

// FlagOptions holds flags for the flag command.
type FlagOptions struct {
	*RootOptions
	Reason string
}

// NewFlagCommand creates the flag command.
func NewFlagCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FlagOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "flag <reviewer> <claim-id>",
		Short: "Flag a claimed unit for someone else",
		Long: `Flag a claimed unit as needing someone else's attention.

A flagged review is recorded, the reviewer will not be offered the unit
again and the flag is not counted as a skip.

Example:
  allot flag --db ./allot.db alice 0192f3c4-... --reason "conflict of interest"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts.RootOptions, cmd, func(s *session) error {
				ctx := cmd.Context()
				claim, err := resolveClaim(ctx, s, args[1])
				if err != nil {
					return s.out.Fail(err)
				}
				if err := s.engine.FlagAndSkip(ctx, ir.Reviewer(args[0]), claim, opts.Reason); err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(ActionResult{
					Action:   "flag",
					Reviewer: args[0],
					Event:    string(claim.Event),
					Unit:     string(claim.Unit),
					Claim:    claim.ID,
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the unit needs someone else")

	return cmd
}

// NewAbandonCommand creates the abandon command.
func NewAbandonCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <reviewer> <event>",
		Short: "Release the reviewer's claim without recording anything",
		Long: `Release the reviewer's claim in an event. The unit becomes available
to everyone again, the reviewer included.

Example:
  allot abandon --db ./allot.db alice spring-2026`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(s *session) error {
				if err := s.engine.Abandon(cmd.Context(), ir.Reviewer(args[0]), ir.Event(args[1])); err != nil {
					return s.out.Fail(err)
				}
				return s.out.Success(ActionResult{Action: "abandon", Reviewer: args[0], Event: args[1]})
			})
		},
	}
}
