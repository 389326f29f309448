package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoldenScenarios(t *testing.T) {
	scenarios, err := LoadScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "fairness.yaml"))
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalSnapshot(s.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshalSnapshot_Shape(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Step: 0, Op: OpSweep, Outcome: OutcomeOK, Elapsed: 60})
	result.State["spring"] = EventState{
		Units:  []UnitState{{Unit: "a", Completions: 2, ConsumedBy: []string{"alice"}}},
		Claims: []ClaimState{},
		Skips:  map[string]int{"bob": 1},
	}

	data, err := MarshalSnapshot("shape", result)
	require.NoError(t, err)

	want := `{"scenario_name":"shape",` +
		`"state":{"spring":{"claims":[],"skips":{"bob":1},"units":[{"completions":2,"consumed_by":["alice"],"unit":"a"}]}},` +
		`"trace":[{"elapsed":60,"op":"sweep","outcome":"ok","step":0,"swept":0}]}`
	assert.Equal(t, want, string(data))
}
