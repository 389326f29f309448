package harness

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Step     int    `json:"step"`
	Op       string `json:"op"`
	Reviewer string `json:"reviewer,omitempty"`
	Event    string `json:"event,omitempty"`
	Outcome  string `json:"outcome"`
	Unit     string `json:"unit,omitempty"`
	ClaimID  string `json:"claim_id,omitempty"`

	// Elapsed is the fake clock offset in seconds when the step ran.
	Elapsed int64 `json:"elapsed"`

	// Swept is set for sweep steps.
	Swept int `json:"swept,omitempty"`
}

// UnitState is the final ledger state of one unit.
type UnitState struct {
	Unit        string   `json:"unit"`
	Completions int64    `json:"completions"`
	ConsumedBy  []string `json:"consumed_by"`
}

// ClaimState is a claim still live at the end of a scenario.
type ClaimState struct {
	ID       string `json:"id"`
	Reviewer string `json:"reviewer"`
	Unit     string `json:"unit"`
}

// EventState is the final state of one event.
type EventState struct {
	Units  []UnitState    `json:"units"`
	Claims []ClaimState   `json:"claims"`
	Skips  map[string]int `json:"skips"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion holds.
	Pass bool `json:"pass"`

	// Trace contains every flow step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final state keyed by event.
	State map[string]EventState `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]EventState),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
