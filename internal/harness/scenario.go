package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario registers units, plays a flow of allocation operations against
// a fresh engine and asserts on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ClaimTTL overrides the engine's claim lifetime (Go duration syntax).
	// Empty means the engine default of 12h.
	ClaimTTL string `yaml:"claim_ttl,omitempty"`

	// Setup establishes the initial ledger and review content.
	Setup Setup `yaml:"setup"`

	// Flow contains the operations to run, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup lists what exists before the flow starts.
type Setup struct {
	// Register adds units to events.
	Register []RegisterStep `yaml:"register"`

	// Reviews seeds review content written outside the engine.
	Reviews []SeedReview `yaml:"reviews,omitempty"`
}

// RegisterStep registers units for one event.
type RegisterStep struct {
	Event string   `yaml:"event"`
	Units []string `yaml:"units"`
}

// SeedReview is review content that exists before the flow.
type SeedReview struct {
	Author string `yaml:"author"`
	Unit   string `yaml:"unit"`
}

// FlowStep is one engine operation.
type FlowStep struct {
	// Op is one of next, current, submit, skip, abandon, flag, sweep.
	Op string `yaml:"op"`

	// Reviewer performs the operation.
	Reviewer string `yaml:"reviewer,omitempty"`

	// Event scopes next, current and abandon.
	Event string `yaml:"event,omitempty"`

	// Claim is an alias. next and current store the returned claim under
	// it; submit, skip and flag act on the claim stored under it.
	Claim string `yaml:"claim,omitempty"`

	// Advance moves the clock forward before the step runs.
	Advance string `yaml:"advance,omitempty"`

	// Reason is the flag reason.
	Reason string `yaml:"reason,omitempty"`

	// ActiveTime asks submit to create review content.
	ActiveTime string `yaml:"active_time,omitempty"`

	// Expect validates the step's outcome. Nil means the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Outcome is ok or one of the error outcomes, e.g. no_eligible_unit.
	Outcome string `yaml:"outcome"`

	// Unit is the unit the returned claim must cover.
	Unit string `yaml:"unit,omitempty"`

	// SameAs names a claim alias whose id the returned claim must share.
	SameAs string `yaml:"same_as,omitempty"`

	// Swept is the number of claims a sweep step must remove.
	Swept *int `yaml:"swept,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "status": completions and consumed set of one unit
	// - "claims": number of live claims in an event
	// - "skips": number of skip records of a reviewer in an event
	// - "trace_count": number of steps with the given op and outcome
	Type string `yaml:"type"`

	Event    string `yaml:"event,omitempty"`
	Unit     string `yaml:"unit,omitempty"`
	Reviewer string `yaml:"reviewer,omitempty"`
	Op       string `yaml:"op,omitempty"`
	Outcome  string `yaml:"outcome,omitempty"`

	// Completions is the expected completion count (status).
	Completions *int64 `yaml:"completions,omitempty"`

	// ConsumedBy is the expected consumed set in any order (status).
	ConsumedBy []string `yaml:"consumed_by,omitempty"`

	// Count is the expected number (claims, skips, trace_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus     = "status"
	AssertClaims     = "claims"
	AssertSkips      = "skips"
	AssertTraceCount = "trace_count"
)

// Flow operations.
const (
	OpNext    = "next"
	OpCurrent = "current"
	OpSubmit  = "submit"
	OpSkip    = "skip"
	OpAbandon = "abandon"
	OpFlag    = "flag"
	OpSweep   = "sweep"
)

// Step outcomes.
const (
	OutcomeOK                  = "ok"
	OutcomeNoEligibleUnit      = "no_eligible_unit"
	OutcomeClaimNotOwned       = "claim_not_owned"
	OutcomeNoActiveClaim       = "no_active_claim"
	OutcomeUnitNotRegistered   = "unit_not_registered"
	OutcomeClaimConflict       = "claim_conflict"
	OutcomeInvalidArgument     = "invalid_argument"
	OutcomeCollaboratorFailure = "collaborator_failure"
)

var knownOutcomes = map[string]bool{
	OutcomeOK:                  true,
	OutcomeNoEligibleUnit:      true,
	OutcomeClaimNotOwned:       true,
	OutcomeNoActiveClaim:       true,
	OutcomeUnitNotRegistered:   true,
	OutcomeClaimConflict:       true,
	OutcomeInvalidArgument:     true,
	OutcomeCollaboratorFailure: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", p, s.Name, prev)
		}
		seen[s.Name] = p
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.ClaimTTL != "" {
		if d, err := time.ParseDuration(s.ClaimTTL); err != nil || d <= 0 {
			return fmt.Errorf("claim_ttl: must be a positive duration, got %q", s.ClaimTTL)
		}
	}

	if len(s.Setup.Register) == 0 {
		return fmt.Errorf("setup.register list is required and must be non-empty")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, reg := range s.Setup.Register {
		if reg.Event == "" {
			return fmt.Errorf("setup.register[%d]: event is required", i)
		}
		if len(reg.Units) == 0 {
			return fmt.Errorf("setup.register[%d]: units list is required", i)
		}
	}

	for i, r := range s.Setup.Reviews {
		if r.Author == "" || r.Unit == "" {
			return fmt.Errorf("setup.reviews[%d]: author and unit are required", i)
		}
	}

	for i := range s.Flow {
		if err := validateStep(i, &s.Flow[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the fields each op needs.
func validateStep(index int, step *FlowStep) error {
	switch step.Op {
	case OpNext, OpCurrent, OpAbandon:
		if step.Reviewer == "" || step.Event == "" {
			return fmt.Errorf("flow[%d]: reviewer and event are required for %s", index, step.Op)
		}
	case OpSubmit, OpSkip, OpFlag:
		if step.Reviewer == "" || step.Claim == "" {
			return fmt.Errorf("flow[%d]: reviewer and claim are required for %s", index, step.Op)
		}
	case OpSweep:
	case "":
		return fmt.Errorf("flow[%d]: op is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", index, step.Op)
	}

	if step.Advance != "" {
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("flow[%d]: advance: %w", index, err)
		}
	}
	if step.ActiveTime != "" {
		if step.Op != OpSubmit {
			return fmt.Errorf("flow[%d]: active_time is only valid for submit", index)
		}
		if _, err := time.ParseDuration(step.ActiveTime); err != nil {
			return fmt.Errorf("flow[%d]: active_time: %w", index, err)
		}
	}
	if step.Reason != "" && step.Op != OpFlag {
		return fmt.Errorf("flow[%d]: reason is only valid for flag", index)
	}

	if step.Expect != nil {
		if !knownOutcomes[step.Expect.Outcome] {
			return fmt.Errorf("flow[%d].expect: unknown outcome %q", index, step.Expect.Outcome)
		}
		if step.Expect.Swept != nil && step.Op != OpSweep {
			return fmt.Errorf("flow[%d].expect: swept is only valid for sweep", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStatus:
		if a.Event == "" || a.Unit == "" {
			return fmt.Errorf("assertions[%d]: event and unit are required for status", index)
		}
		if a.Completions == nil && a.ConsumedBy == nil {
			return fmt.Errorf("assertions[%d]: completions or consumed_by is required for status", index)
		}
	case AssertClaims:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for claims", index)
		}
	case AssertSkips:
		if a.Event == "" || a.Reviewer == "" {
			return fmt.Errorf("assertions[%d]: event and reviewer are required for skips", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Outcome != "" && !knownOutcomes[a.Outcome] {
			return fmt.Errorf("assertions[%d]: unknown outcome %q", index, a.Outcome)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Type != AssertStatus {
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	}
	return nil
}
