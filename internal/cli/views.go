package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/allot/internal/allocation"
	"github.com/roach88/allot/internal/ir"
)

// ClaimView is a claim as shown to CLI users.
type ClaimView struct {
	ID        string    `json:"id"`
	Reviewer  string    `json:"reviewer"`
	Event     string    `json:"event"`
	Unit      string    `json:"unit"`
	StartTime time.Time `json:"start_time"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newClaimView(c ir.Claim, ttl time.Duration) ClaimView {
	return ClaimView{
		ID:        c.ID,
		Reviewer:  string(c.Reviewer),
		Event:     string(c.Event),
		Unit:      string(c.Unit),
		StartTime: c.StartTime.UTC(),
		ExpiresAt: c.StartTime.Add(ttl).UTC(),
	}
}

func (v ClaimView) String() string {
	return fmt.Sprintf("claim %s: %s reviews %s in %s (expires %s)",
		v.ID, v.Reviewer, v.Unit, v.Event, v.ExpiresAt.Format(time.RFC3339))
}

// ActionResult reports a terminal action.
type ActionResult struct {
	Action   string `json:"action"`
	Reviewer string `json:"reviewer"`
	Event    string `json:"event,omitempty"`
	Unit     string `json:"unit,omitempty"`
	Claim    string `json:"claim,omitempty"`
}

func (r ActionResult) String() string {
	if r.Unit == "" {
		return fmt.Sprintf("%s: %s released their claim in %s", r.Action, r.Reviewer, r.Event)
	}
	return fmt.Sprintf("%s: %s finished %s in %s (claim %s)", r.Action, r.Reviewer, r.Unit, r.Event, r.Claim)
}

// RegisterResult reports a register command.
type RegisterResult struct {
	Event   string   `json:"event"`
	Units   []string `json:"units"`
	Created int      `json:"created"`
}

func (r RegisterResult) String() string {
	return fmt.Sprintf("registered %d new of %d unit(s) in %s", r.Created, len(r.Units), r.Event)
}

// UnitView is one status record.
type UnitView struct {
	Unit        string   `json:"unit"`
	Completions int64    `json:"completions"`
	ConsumedBy  []string `json:"consumed_by"`
	ClaimedBy   string   `json:"claimed_by,omitempty"`
}

// StatusView is the status of one event in fairness order.
type StatusView struct {
	Event string     `json:"event"`
	Units []UnitView `json:"units"`
}

func newStatusView(snap allocation.EventSnapshot) StatusView {
	holders := make(map[ir.Unit]ir.Reviewer, len(snap.Claims))
	for _, c := range snap.Claims {
		holders[c.Unit] = c.Reviewer
	}

	v := StatusView{Event: string(snap.Event), Units: make([]UnitView, 0, len(snap.Statuses))}
	for _, rec := range snap.Statuses {
		consumers := rec.SortedConsumers()
		by := make([]string, len(consumers))
		for i, r := range consumers {
			by[i] = string(r)
		}
		v.Units = append(v.Units, UnitView{
			Unit:        string(rec.Unit),
			Completions: rec.Completions,
			ConsumedBy:  by,
			ClaimedBy:   string(holders[rec.Unit]),
		})
	}
	return v
}

func (v StatusView) String() string {
	if len(v.Units) == 0 {
		return fmt.Sprintf("no units registered in %s", v.Event)
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tCOMPLETIONS\tCLAIMED BY\tCONSUMED BY")
	for _, u := range v.Units {
		claimed := u.ClaimedBy
		if claimed == "" {
			claimed = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", u.Unit, u.Completions, claimed, strings.Join(u.ConsumedBy, ","))
	}
	tw.Flush()
	return strings.TrimSuffix(b.String(), "\n")
}

// StatsView lists skip counts of an event.
type StatsView struct {
	Event string                `json:"event"`
	Skips []allocation.SkipStat `json:"skips"`
}

func (v StatsView) String() string {
	if len(v.Skips) == 0 {
		return fmt.Sprintf("no skips in %s", v.Event)
	}
	lines := make([]string, len(v.Skips))
	for i, s := range v.Skips {
		lines[i] = fmt.Sprintf("%s\t%d", s.Reviewer, s.Skips)
	}
	return strings.Join(lines, "\n")
}

// FlagView is one flag record.
type FlagView struct {
	Unit      string    `json:"unit"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FlaggedView lists a reviewer's flags in an event, newest first.
type FlaggedView struct {
	Reviewer string     `json:"reviewer"`
	Event    string     `json:"event"`
	Flags    []FlagView `json:"flags"`
}

func (v FlaggedView) String() string {
	if len(v.Flags) == 0 {
		return fmt.Sprintf("%s flagged nothing in %s", v.Reviewer, v.Event)
	}
	lines := make([]string, len(v.Flags))
	for i, f := range v.Flags {
		lines[i] = fmt.Sprintf("%s\t%s\t%s", f.Timestamp.Format(time.RFC3339), f.Unit, f.Reason)
	}
	return strings.Join(lines, "\n")
}

// CountResult reports maintenance commands.
type CountResult struct {
	Op    string `json:"op"`
	Event string `json:"event,omitempty"`
	Count int    `json:"count"`
}

func (r CountResult) String() string {
	switch r.Op {
	case "sweep":
		return fmt.Sprintf("swept %d expired claim(s)", r.Count)
	case "reconcile":
		return fmt.Sprintf("reconciled %s: %d consumer(s) added", r.Event, r.Count)
	}
	return fmt.Sprintf("%s: %d", r.Op, r.Count)
}
