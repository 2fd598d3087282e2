package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func proposeAndCommit() []Step {
	return []Step{
		{Op: OpProposeDTU, Args: map[string]any{"title": "Entropy", "tags": []any{"physics"}, "session": "s1"}, As: "p1"},
		{Op: OpCommit, Args: map[string]any{"proposal": "$p1", "trace": "gt_1"}, As: "d1"},
	}
}

func TestRun_ProjectScenariosPass(t *testing.T) {
	paths, err := filepath.Glob("../../testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
			assert.Len(t, result.Steps, len(scenario.Steps), "every step should run")
		})
	}
}

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"governance_commit", "scheduler_allocation", "journal_compaction"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("../../testdata/scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_BindsAliases(t *testing.T) {
	result, err := Run(&Scenario{
		Name:  "aliases",
		Steps: proposeAndCommit(),
		Assertions: []Assertion{
			{Type: AssertDTUCount, Count: intp(1)},
			{Type: AssertTagsEqual, DTU: "$d1", Tags: []string{"physics"}},
			{Type: AssertProposalStatus, Proposal: "$p1", Status: "committed"},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, map[string]string{"p1": "prop_1", "d1": "dtu_1"}, result.Aliases)
	assert.Equal(t, []StepOutcome{
		{Index: 0, Op: OpProposeDTU, ID: "prop_1"},
		{Index: 1, Op: OpCommit, ID: "dtu_1"},
	}, result.Steps)
}

func TestRun_UnexpectedErrorStopsFlow(t *testing.T) {
	result, err := Run(&Scenario{
		Name: "unexpected",
		Steps: []Step{
			{Op: OpProposeDTU, Args: map[string]any{"title": "Entropy"}, As: "p1"},
			{Op: OpCommit, Args: map[string]any{"proposal": "$p1"}},
			{Op: OpCommit, Args: map[string]any{"proposal": "$p1", "trace": "gt_1"}},
		},
		Assertions: []Assertion{{Type: AssertDTUCount, Count: intp(0)}},
	})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "gate_trace_required", result.Steps[1].Error)
	require.Len(t, result.Errors, 1, "assertions still run and pass")
	assert.Contains(t, result.Errors[0], "steps[1] commit: unexpected error")
}

func TestRun_ExpectErrorMismatch(t *testing.T) {
	result, err := Run(&Scenario{
		Name: "mismatch",
		Steps: []Step{
			{Op: OpProposeDTU, Args: map[string]any{"title": "Entropy"}, As: "p1", ExpectError: "invalid_input"},
			{Op: OpCommit, Args: map[string]any{"proposal": "$p1"}, ExpectError: "proposal_not_found"},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected error invalid_input, got success")
	assert.Contains(t, result.Errors[1], "expected error proposal_not_found, got gate_trace_required")
}

func TestRun_FailingAssertion(t *testing.T) {
	result, err := Run(&Scenario{
		Name:  "assert",
		Steps: proposeAndCommit(),
		Assertions: []Assertion{
			{Type: AssertDTUCount, Count: intp(2)},
			{Type: AssertProposalStatus, Proposal: "$p1", Status: "rejected"},
			{Type: AssertEventCount, Event: "dtu_created", Entity: "$d1", Count: intp(1)},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Assertion failed: dtu_count")
	assert.Contains(t, result.Errors[0], "Expected: 2 canonical dtus")
	assert.Contains(t, result.Errors[1], "prop_1 is committed")
}

func TestRun_InfrastructureErrors(t *testing.T) {
	tests := []struct {
		name     string
		scenario *Scenario
		wantErr  string
	}{
		{
			name: "unknown alias",
			scenario: &Scenario{Name: "x", Steps: []Step{
				{Op: OpCommit, Args: map[string]any{"proposal": "$missing"}},
			}},
			wantErr: `unknown alias "$missing"`,
		},
		{
			name: "bad arg type",
			scenario: &Scenario{Name: "x", Steps: []Step{
				{Op: OpProposeDTU, Args: map[string]any{"title": []any{"not", "a", "string"}}},
			}},
			wantErr: `arg "title": want string`,
		},
		{
			name: "bad duration",
			scenario: &Scenario{Name: "x", Steps: []Step{
				{Op: OpAdvance, Args: map[string]any{"duration": "soon"}},
			}},
			wantErr: `arg "duration"`,
		},
		{
			name: "invalid policy",
			scenario: &Scenario{Name: "x", Policy: "policy: weights: risk: -1", Steps: []Step{
				{Op: OpScan},
			}},
			wantErr: "failed to compile policy",
		},
		{
			name:     "invalid scenario",
			scenario: &Scenario{Name: "x"},
			wantErr:  "invalid scenario",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(tt.scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/activation_spread.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_TraceMatchesJournal(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/field_merge.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Trace, len(result.Events))
	for i, e := range result.Events {
		assert.Equal(t, e.Seq, result.Trace[i].Seq)
		assert.Equal(t, string(e.Type), result.Trace[i].Type)
		assert.Equal(t, e.EntityID, result.Trace[i].EntityID)
	}
}

func TestRun_WorkItemsAndWeights(t *testing.T) {
	result, err := Run(&Scenario{
		Name:   "weights",
		Agents: []Agent{{ID: "analyst_1", Role: "analyst"}},
		Steps: []Step{
			{Op: OpCreateWorkItem, Args: map[string]any{"type": "low_confidence", "signals": map[string]any{"risk": 1.0}}, As: "w1"},
			{Op: OpCreateWorkItem, Args: map[string]any{"type": "hot_node", "signals": map[string]any{"impact": 1.0}, "deadline": "30m"}, As: "w2"},
			{Op: OpUpdateWeights, Args: map[string]any{"weights": map[string]any{"risk": 0.9}}},
			{Op: OpDequeue, Args: map[string]any{"item": "$w2"}},
			{Op: OpDequeue, Args: map[string]any{"item": "$w2"}, ExpectError: "not_found"},
			{Op: OpUpdateBudget, Args: map[string]any{"max_items": 0}, ExpectError: "invalid_budget"},
			{Op: OpAllocate, As: "a1"},
			{Op: OpComplete, Args: map[string]any{"allocation": "$a1", "stop_reason": "MAX_TURNS"}},
		},
		Assertions: []Assertion{
			{Type: AssertQueueSorted},
			{Type: AssertAllocationCount, Status: "completed", Count: intp(1)},
			{Type: AssertAllocationCount, Status: "active", Count: intp(0)},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "alloc_1", result.Aliases["a1"])
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{Type: AssertDTUCount, Expected: "1 canonical dtus", Actual: "0 canonical dtus"}
	assert.Equal(t, "Assertion failed: dtu_count\n  Expected: 1 canonical dtus\n  Actual: 0 canonical dtus", err.Error())
}

func TestResolveAliases_Nested(t *testing.T) {
	aliases := map[string]string{"d1": "dtu_1"}
	got, err := resolveAliases(map[string]any{
		"target": "$d1",
		"patch":  map[string]any{"related": []any{"$d1", "dtu_2"}},
		"amount": 0.5,
		"price":  "$",
	}, aliases)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"target": "dtu_1",
		"patch":  map[string]any{"related": []any{"dtu_1", "dtu_2"}},
		"amount": 0.5,
		"price":  "$",
	}, got)
}
