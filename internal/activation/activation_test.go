package activation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/ir"
)

func newTestTracker(opts ...Option) *Tracker {
	base := []Option{WithClock(func() time.Time { return time.Unix(1700000000, 0) })}
	return NewTracker(append(base, opts...)...)
}

func chainGraph(t *testing.T) *edge.Graph {
	t.Helper()
	g := edge.NewGraph(nil)
	w1, w2 := 0.8, 0.7
	_, err := g.Create(edge.Input{Source: "a", Target: "b", Type: edge.TypeSupports, Weight: &w1})
	require.NoError(t, err)
	_, err = g.Create(edge.Input{Source: "b", Target: "c", Type: edge.TypeDerives, Weight: &w2})
	require.NoError(t, err)
	return g
}

func TestActivate_ClampsAndCaps(t *testing.T) {
	tr := newTestTracker()

	rec, err := tr.Activate("s1", "d1", 0.7, "read")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, rec.Score, 1e-9)

	rec, err = tr.Activate("s1", "d1", 0.7, "read again")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Score, "capped at 1.0")
	assert.Equal(t, 2, rec.Count)
	assert.Equal(t, "read again", rec.Reason)

	rec, err = tr.Activate("s1", "d2", 5, "over")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Score)

	rec, err = tr.Activate("s1", "d3", -3, "under")
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Score)
}

func TestActivate_RequiresIDs(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Activate("", "d1", 0.5, "")
	assert.True(t, ir.IsCode(err, ir.CodeInvalidInput))
}

func TestActivate_UpdatesGlobal(t *testing.T) {
	tr := newTestTracker()
	_, _ = tr.Activate("s1", "d1", 0.9, "")
	_, _ = tr.Activate("s2", "d1", 0.2, "")

	g, ok := tr.Global("d1")
	require.True(t, ok)
	assert.InDelta(t, 0.9, g.MaxScore, 1e-9)
	assert.InDelta(t, 0.2, g.LastScore, 1e-9)
	assert.Equal(t, "s2", g.LastSession)
	assert.Equal(t, 2, g.Count)

	hot := tr.Hot(0.8)
	require.Len(t, hot, 1)
	assert.Equal(t, "d1", hot[0].DTUID)
}

func TestSpread_RequiresActivatedSource(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Spread("s1", "a", 2, chainGraph(t))
	assert.True(t, ir.IsCode(err, ir.CodeSourceNotActivated))

	_, _ = tr.Activate("other", "a", 1, "")
	_, err = tr.Spread("s1", "a", 2, chainGraph(t))
	assert.True(t, ir.IsCode(err, ir.CodeSourceNotActivated), "activation is per session")
}

func TestSpread_MonotonicDecayAlongChain(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Activate("s1", "a", 1.0, "seed")
	require.NoError(t, err)

	res, err := tr.Spread("s1", "a", 2, chainGraph(t))
	require.NoError(t, err)
	require.Len(t, res.Reached, 2)
	assert.Equal(t, "b", res.Reached[0].DTUID)
	assert.Equal(t, 1, res.Reached[0].Hops)
	assert.InDelta(t, 0.4, res.Reached[0].Amount, 1e-9)
	assert.InDelta(t, 0.14, res.Reached[1].Amount, 1e-9)

	ws := tr.WorkingSet("s1", 10)
	require.Len(t, ws, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{ws[0].DTUID, ws[1].DTUID, ws[2].DTUID})
	assert.GreaterOrEqual(t, ws[0].Score, ws[1].Score)
	assert.GreaterOrEqual(t, ws[1].Score, ws[2].Score)

	rec, _ := tr.Get("s1", "c")
	assert.Equal(t, "spread:a", rec.Reason)
}

func TestSpread_HopLimit(t *testing.T) {
	tr := newTestTracker()
	_, _ = tr.Activate("s1", "a", 1.0, "")

	res, err := tr.Spread("s1", "a", 1, chainGraph(t))
	require.NoError(t, err)
	require.Len(t, res.Reached, 1)
	_, ok := tr.Get("s1", "c")
	assert.False(t, ok)
}

func TestSpread_StrictDecreaseEvenWithFullWeight(t *testing.T) {
	g := edge.NewGraph(nil)
	one := 1.0
	_, _ = g.Create(edge.Input{Source: "a", Target: "b", Type: edge.TypeSupports, Weight: &one})
	_, _ = g.Create(edge.Input{Source: "b", Target: "c", Type: edge.TypeSupports, Weight: &one})

	tr := newTestTracker()
	_, _ = tr.Activate("s1", "a", 1.0, "")
	res, err := tr.Spread("s1", "a", 3, g)
	require.NoError(t, err)
	require.Len(t, res.Reached, 2)
	assert.Less(t, res.Reached[0].Amount, 1.0)
	assert.Less(t, res.Reached[1].Amount, res.Reached[0].Amount)
}

func TestSpread_StopsBelowMinimumAndOnCycles(t *testing.T) {
	g := edge.NewGraph(nil)
	w := 0.01
	full := 1.0
	_, _ = g.Create(edge.Input{Source: "a", Target: "weak", Type: edge.TypeSupports, Weight: &w})
	_, _ = g.Create(edge.Input{Source: "a", Target: "b", Type: edge.TypeSupports, Weight: &full})
	_, _ = g.Create(edge.Input{Source: "b", Target: "a", Type: edge.TypeSupports, Weight: &full})

	tr := newTestTracker()
	_, _ = tr.Activate("s1", "a", 1.0, "")
	res, err := tr.Spread("s1", "a", 5, g)
	require.NoError(t, err)
	require.Len(t, res.Reached, 1)
	assert.Equal(t, "b", res.Reached[0].DTUID)

	rec, _ := tr.Get("s1", "a")
	assert.Equal(t, 1, rec.Count, "source is not re-boosted through a cycle")
}

func TestWorkingSet_TopKAndUnknownSession(t *testing.T) {
	tr := newTestTracker()
	_, _ = tr.Activate("s1", "d1", 0.3, "")
	_, _ = tr.Activate("s1", "d2", 0.9, "")
	_, _ = tr.Activate("s1", "d3", 0.6, "")

	ws := tr.WorkingSet("s1", 2)
	require.Len(t, ws, 2)
	assert.Equal(t, "d2", ws[0].DTUID)
	assert.Equal(t, "d3", ws[1].DTUID)

	empty := tr.WorkingSet("nope", 5)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestDecayAndClear(t *testing.T) {
	tr := newTestTracker()
	_, _ = tr.Activate("s1", "d1", 0.8, "")
	_, _ = tr.Activate("s1", "d2", 0.4, "")

	assert.Equal(t, 2, tr.Decay("s1", 0.5))
	rec, _ := tr.Get("s1", "d1")
	assert.InDelta(t, 0.4, rec.Score, 1e-9)

	tr.Decay("s1", 3)
	rec, _ = tr.Get("s1", "d1")
	assert.InDelta(t, 0.4, rec.Score, 1e-9, "factor clamps to 1")

	assert.Equal(t, 0, tr.Decay("unknown", 0.5))

	assert.True(t, tr.Clear("s1"))
	assert.False(t, tr.Clear("s1"))
	assert.Empty(t, tr.WorkingSet("s1", 10))
	_, ok := tr.Global("d1")
	assert.True(t, ok, "global aggregate survives session clear")
}

func TestWithHopDecay_IgnoresOutOfRange(t *testing.T) {
	tr := NewTracker(WithHopDecay(1.5))
	assert.Equal(t, DefaultHopDecay, tr.hopDecay)
	tr = NewTracker(WithHopDecay(0.25))
	assert.Equal(t, 0.25, tr.hopDecay)
}
