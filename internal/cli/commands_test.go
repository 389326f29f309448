package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decode parses a JSON CLIResponse whose data has type T.
func decode[T any](t *testing.T, out string) (string, T, *CLIError) {
	t.Helper()
	var resp struct {
		Status string    `json:"status"`
		Data   T         `json:"data"`
		Error  *CLIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp.Status, resp.Data, resp.Error
}

func TestCLI_RoundTrip(t *testing.T) {
	db := filepath.Join(t.TempDir(), "allot.db")

	out, err := execute(t, "--db", db, "--format", "json", "register", "spring", "a", "b")
	require.NoError(t, err)
	status, reg, _ := decode[RegisterResult](t, out)
	assert.Equal(t, "ok", status)
	assert.Equal(t, 2, reg.Created)

	out, err = execute(t, "--db", db, "--format", "json", "next", "alice", "spring")
	require.NoError(t, err)
	_, claim, _ := decode[ClaimView](t, out)
	assert.Equal(t, "a", claim.Unit)
	assert.Equal(t, "alice", claim.Reviewer)
	require.NotEmpty(t, claim.ID)
	assert.True(t, claim.StartTime.Add(12*time.Hour).Equal(claim.ExpiresAt))

	// Re-ask returns the same claim.
	out, err = execute(t, "--db", db, "--format", "json", "next", "alice", "spring")
	require.NoError(t, err)
	_, again, _ := decode[ClaimView](t, out)
	assert.Equal(t, claim.ID, again.ID)

	out, err = execute(t, "--db", db, "--format", "json", "current", "alice", "spring")
	require.NoError(t, err)
	_, current, _ := decode[ClaimView](t, out)
	assert.Equal(t, claim.ID, current.ID)

	// Someone else's claim is refused.
	out, err = execute(t, "--db", db, "--format", "json", "submit", "bob", claim.ID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	_, _, cliErr := decode[any](t, out)
	require.NotNil(t, cliErr)
	assert.Equal(t, CodeClaimNotOwned, cliErr.Code)

	out, err = execute(t, "--db", db, "--format", "json", "submit", "alice", claim.ID, "--active-time", "3m")
	require.NoError(t, err)
	_, action, _ := decode[ActionResult](t, out)
	assert.Equal(t, ActionResult{Action: "submit", Reviewer: "alice", Event: "spring", Unit: "a", Claim: claim.ID}, action)

	out, err = execute(t, "--db", db, "--format", "json", "status", "spring")
	require.NoError(t, err)
	_, view, _ := decode[StatusView](t, out)
	require.Len(t, view.Units, 2)
	assert.Equal(t, UnitView{Unit: "b", Completions: 0, ConsumedBy: []string{}}, view.Units[0])
	assert.Equal(t, UnitView{Unit: "a", Completions: 1, ConsumedBy: []string{"alice"}}, view.Units[1])

	// The submitted claim id is gone.
	out, err = execute(t, "--db", db, "--format", "json", "skip", "alice", claim.ID)
	require.Error(t, err)
	_, _, cliErr = decode[any](t, out)
	assert.Equal(t, CodeClaimNotOwned, cliErr.Code)
}

func TestCLI_SkipFlagAndStats(t *testing.T) {
	db := filepath.Join(t.TempDir(), "allot.db")

	_, err := execute(t, "--db", db, "register", "spring", "a", "b", "c")
	require.NoError(t, err)

	next := func(reviewer string) ClaimView {
		out, err := execute(t, "--db", db, "--format", "json", "next", reviewer, "spring")
		require.NoError(t, err)
		_, c, _ := decode[ClaimView](t, out)
		return c
	}

	first := next("alice")
	_, err = execute(t, "--db", db, "skip", "alice", first.ID)
	require.NoError(t, err)

	second := next("alice")
	assert.Equal(t, "b", second.Unit)
	_, err = execute(t, "--db", db, "flag", "alice", second.ID, "--reason", "conflict of interest")
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "--format", "json", "stats", "spring")
	require.NoError(t, err)
	_, stats, _ := decode[StatsView](t, out)
	require.Len(t, stats.Skips, 1)
	assert.Equal(t, "alice", string(stats.Skips[0].Reviewer))
	assert.Equal(t, 1, stats.Skips[0].Skips)

	out, err = execute(t, "--db", db, "--format", "json", "flagged", "alice", "spring")
	require.NoError(t, err)
	_, flagged, _ := decode[FlaggedView](t, out)
	require.Len(t, flagged.Flags, 1)
	assert.Equal(t, "b", flagged.Flags[0].Unit)
	assert.Equal(t, "conflict of interest", flagged.Flags[0].Reason)

	// The flag wrote a review; reconcile finds nothing new to add.
	out, err = execute(t, "--db", db, "--format", "json", "reconcile", "spring")
	require.NoError(t, err)
	_, rec, _ := decode[CountResult](t, out)
	assert.Equal(t, 0, rec.Count)
}

func TestCLI_AbandonAndNoEligible(t *testing.T) {
	db := filepath.Join(t.TempDir(), "allot.db")

	_, err := execute(t, "--db", db, "register", "spring", "a")
	require.NoError(t, err)
	_, err = execute(t, "--db", db, "next", "alice", "spring")
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "--format", "json", "next", "bob", "spring")
	require.Error(t, err)
	assert.True(t, IsReported(err))
	_, _, cliErr := decode[any](t, out)
	assert.Equal(t, CodeNoEligibleUnit, cliErr.Code)

	out, err = execute(t, "--db", db, "abandon", "alice", "spring")
	require.NoError(t, err)
	assert.Contains(t, out, "alice released their claim in spring")

	_, err = execute(t, "--db", db, "abandon", "alice", "spring")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = execute(t, "--db", db, "current", "alice", "spring")
	require.Error(t, err)
	assert.Contains(t, out, "Error ["+CodeNoActiveClaim+"]")

	out, err = execute(t, "--db", db, "next", "bob", "spring")
	require.NoError(t, err)
	assert.Contains(t, out, "bob reviews a in spring")
}

func TestCLI_NoDatabase(t *testing.T) {
	_, err := execute(t, "status", "spring")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no database")
}

func TestCLI_InvalidArgument(t *testing.T) {
	db := filepath.Join(t.TempDir(), "allot.db")
	_, err := execute(t, "--db", db, "next", "  ", "spring")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCLI_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	cfgPath := filepath.Join(dir, "allot.cue")
	require.NoError(t, os.WriteFile(cfgPath, []byte("db: \""+db+"\"\nclaim_ttl: \"30m\"\n"), 0o644))

	_, err := execute(t, "--config", cfgPath, "register", "spring", "a")
	require.NoError(t, err)
	_, err = os.Stat(db)
	require.NoError(t, err, "database should be created at the configured path")

	out, err := execute(t, "--config", cfgPath, "--format", "json", "next", "alice", "spring")
	require.NoError(t, err)
	_, claim, _ := decode[ClaimView](t, out)
	assert.True(t, claim.StartTime.Add(30*time.Minute).Equal(claim.ExpiresAt))

	// --claim-ttl overrides the file.
	out, err = execute(t, "--config", cfgPath, "--claim-ttl", "2h", "--format", "json", "current", "alice", "spring")
	require.NoError(t, err)
	_, claim, _ = decode[ClaimView](t, out)
	assert.True(t, claim.StartTime.Add(2*time.Hour).Equal(claim.ExpiresAt))
}

func TestCLI_BadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "allot.cue")
	require.NoError(t, os.WriteFile(cfgPath, []byte("max_retries: -1\n"), 0o644))

	_, err := execute(t, "--config", cfgPath, "status", "spring")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestCLI_MetricsFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "allot.db")
	metricsPath := filepath.Join(dir, "allot.prom")

	_, err := execute(t, "--db", db, "register", "spring", "a")
	require.NoError(t, err)
	_, err = execute(t, "--db", db, "--metrics-file", metricsPath, "next", "alice", "spring")
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `allot_allocation_claims_issued_total{event="spring"} 1`)
}

func TestCLI_Sweep(t *testing.T) {
	db := filepath.Join(t.TempDir(), "allot.db")

	_, err := execute(t, "--db", db, "register", "spring", "a")
	require.NoError(t, err)
	_, err = execute(t, "--db", db, "next", "alice", "spring", "--start", "2020-01-01T00:00:00Z")
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "--format", "json", "sweep")
	require.NoError(t, err)
	_, res, _ := decode[CountResult](t, out)
	assert.Equal(t, 1, res.Count)

	_, err = execute(t, "--db", db, "sweep", "--watch")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCLI_NextBadStart(t *testing.T) {
	_, err := execute(t, "--db", filepath.Join(t.TempDir(), "allot.db"), "next", "alice", "spring", "--start", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCLI_NextStartOutOfRange(t *testing.T) {
	db := filepath.Join(t.TempDir(), "allot.db")

	_, err := execute(t, "--db", db, "register", "spring", "a")
	require.NoError(t, err)

	out, err := execute(t, "--db", db, "--format", "json", "next", "alice", "spring", "--start", "2300-01-01T00:00:00Z")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	_, _, cliErr := decode[any](t, out)
	assert.Equal(t, CodeInvalidArgument, cliErr.Code)

	_, err = execute(t, "--db", db, "current", "alice", "spring")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
