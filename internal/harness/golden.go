package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/lattice/internal/ir"
)

// GoldenDir is where RunWithGolden keeps traces, relative to the test's
// package directory.
const GoldenDir = "testdata/golden"

// MarshalTrace renders a result's trace as canonical JSON:
//
//	{"scenario_name":...,"trace":[{"actor":...,"entity":...,"seq":1,"session":...,"type":...}]}
//
// Empty attribution fields are omitted. Keys are sorted, so the bytes only
// change when the journal does.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	events := make([]any, 0, len(result.Trace))
	for _, e := range result.Trace {
		m := map[string]any{"seq": e.Seq, "type": e.Type}
		for k, v := range map[string]string{"entity": e.EntityID, "actor": e.ActorID, "session": e.SessionID} {
			if v != "" {
				m[k] = v
			}
		}
		events = append(events, m)
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         events,
	})
}

// RunWithGolden runs scenario and compares its trace with
// GoldenDir/<name>.golden. A mismatch fails t; `go test -update`
// rewrites the file. The error is for runs that could not complete.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	trace, err := MarshalTrace(scenario.Name, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, trace)
	return result, nil
}
