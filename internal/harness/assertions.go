package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/lattice/internal/journal"
	"github.com/roach88/lattice/internal/lattice"
	"github.com/roach88/lattice/internal/scheduler"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext is the final state assertions read from.
type AssertionContext struct {
	Lattice   *lattice.Lattice
	Scheduler *scheduler.Scheduler
	Aliases   map[string]string
}

func (c *AssertionContext) resolve(s string) (string, error) {
	return resolveAlias(s, c.Aliases)
}

// EvaluateAssertions evaluates all assertions and returns one message per
// failure.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	for i, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			errors = append(errors, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errors
}

func evaluate(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertDTUCount:
		return assertCount(a.Type, "canonical dtus", *a.Count, actx.Lattice.DTUCount())
	case AssertStagingEmpty:
		if n := actx.Lattice.StagingSize(); n != 0 {
			return &AssertionError{Type: a.Type, Expected: "no staged entries", Actual: fmt.Sprintf("%d staged", n)}
		}
		return nil
	case AssertProposalStatus:
		return assertProposalStatus(a, actx)
	case AssertWorkingSetOrder:
		return assertWorkingSetOrder(a, actx)
	case AssertTagsEqual:
		return assertTagsEqual(a, actx)
	case AssertEventCount:
		return assertEventCount(a, actx)
	case AssertQueueSorted:
		if !actx.Scheduler.QueueSorted() {
			return &AssertionError{Type: a.Type, Expected: "queue in priority order", Actual: "out of order"}
		}
		return nil
	case AssertAllocationCount:
		n := len(actx.Scheduler.Active())
		if a.Status == "completed" {
			n = len(actx.Scheduler.Completed(0))
		}
		return assertCount(a.Type, a.Status+" allocations", *a.Count, n)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertCount(typ, what string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%d %s", want, what),
		Actual:   fmt.Sprintf("%d %s", got, what),
	}
}

func assertProposalStatus(a Assertion, actx *AssertionContext) error {
	id, err := actx.resolve(a.Proposal)
	if err != nil {
		return err
	}
	p, err := actx.Lattice.GetProposal(id)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "proposal " + id, Actual: err.Error()}
	}
	if string(p.Status) != a.Status {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s is %s", id, a.Status),
			Actual:   fmt.Sprintf("%s is %s", id, p.Status),
		}
	}
	return nil
}

// assertWorkingSetOrder compares the top len(Order) entries of a session
// working set against Order exactly.
func assertWorkingSetOrder(a Assertion, actx *AssertionContext) error {
	want, err := resolveAll(a.Order, actx.Aliases)
	if err != nil {
		return err
	}
	k := max(len(want), 1)
	got := []string{}
	for _, e := range actx.Lattice.WorkingSet(a.Session, k) {
		got = append(got, e.DTUID)
	}
	if len(want) == 0 {
		want = []string{}
		if len(got) == 0 {
			return nil
		}
	}
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertTagsEqual compares tags as sets.
func assertTagsEqual(a Assertion, actx *AssertionContext) error {
	id, err := actx.resolve(a.DTU)
	if err != nil {
		return err
	}
	res, err := actx.Lattice.ReadDTU(id, "harness")
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: "dtu " + id, Actual: err.Error()}
	}
	want := slices.Clone(a.Tags)
	got := slices.Clone(res.DTU.Tags)
	slices.Sort(want)
	slices.Sort(got)
	want = slices.Compact(want)
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertEventCount(a Assertion, actx *AssertionContext) error {
	t := journal.EventType(a.Event)
	events := actx.Lattice.EventsByType(t)
	what := a.Event + " events"
	if a.Entity != "" {
		id, err := actx.resolve(a.Entity)
		if err != nil {
			return err
		}
		events = slices.DeleteFunc(actx.Lattice.EventsByEntity(id), func(e journal.Event) bool {
			return e.Type != t
		})
		what += " for " + id
	}
	return assertCount(a.Type, what, *a.Count, len(events))
}
