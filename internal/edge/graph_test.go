package edge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lattice/internal/ir"
)

func f64(v float64) *float64 { return &v }

func fixedNow() time.Time { return time.Unix(1700000000, 0).UTC() }

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	return NewGraph(fixedNow)
}

func mustCreate(t *testing.T, g *Graph, src, dst string, typ Type, weight float64) Edge {
	t.Helper()
	e, err := g.Create(Input{Source: src, Target: dst, Type: typ, Weight: f64(weight)})
	require.NoError(t, err)
	return e
}

func TestCreate_SelfEdgeRejected(t *testing.T) {
	g := newTestGraph(t)
	for _, typ := range Types() {
		_, err := g.Create(Input{Source: "a", Target: "a", Type: typ})
		assert.True(t, ir.IsCode(err, ir.CodeSelfEdgeNotAllowed), "type %s", typ)
	}
	assert.Equal(t, 0, g.Len())
}

func TestCreate_InvalidType(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.Create(Input{Source: "a", Target: "b", Type: "likes"})
	assert.True(t, ir.IsCode(err, ir.CodeInvalidEdgeType))
}

func TestCreate_MissingEndpoints(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.Create(Input{Source: "a", Type: TypeSupports})
	assert.True(t, ir.IsCode(err, ir.CodeInvalidInput))
}

func TestCreate_DuplicateTripleRejectedOtherTypeAllowed(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, "a", "b", TypeSupports, 0.5)

	_, err := g.Create(Input{Source: "a", Target: "b", Type: TypeSupports})
	assert.True(t, ir.IsCode(err, ir.CodeDuplicateEdge))

	_, err = g.Create(Input{Source: "a", Target: "b", Type: TypeDerives})
	require.NoError(t, err)

	_, err = g.Create(Input{Source: "b", Target: "a", Type: TypeSupports})
	require.NoError(t, err, "reverse direction is a different triple")

	assert.Equal(t, 3, g.Len())
	assert.True(t, g.Exists("a", "b", TypeDerives))
}

func TestCreate_ClampsAndDefaults(t *testing.T) {
	g := newTestGraph(t)

	e, err := g.Create(Input{Source: "a", Target: "b", Type: TypeSupports, Weight: f64(100), Confidence: f64(-50)})
	require.NoError(t, err)
	assert.Equal(t, 1.0, e.Weight)
	assert.Equal(t, 0.0, e.Confidence)

	d, err := g.Create(Input{Source: "a", Target: "c", Type: TypeSupports})
	require.NoError(t, err)
	assert.Equal(t, DefaultWeight, d.Weight)
	assert.Equal(t, DefaultConfidence, d.Confidence)
	assert.Equal(t, fixedNow(), d.CreatedAt)
	assert.Equal(t, ir.MustEdgeID("a", "c", "supports"), d.ID)
}

func TestUpdate_ClampsAndUnionsEvidence(t *testing.T) {
	g := newTestGraph(t)
	e, err := g.Create(Input{Source: "a", Target: "b", Type: TypeCauses, Evidence: []string{"ev1"}})
	require.NoError(t, err)

	updated, err := g.Update(e.ID, Update{Weight: f64(7), Confidence: f64(-1), Evidence: []string{"ev2", "ev1"}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, updated.Weight)
	assert.Equal(t, 0.0, updated.Confidence)
	assert.ElementsMatch(t, []string{"ev1", "ev2"}, updated.Evidence)

	again, err := g.Update(e.ID, Update{Evidence: []string{"ev3"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ev1", "ev2", "ev3"}, again.Evidence, "evidence is never replaced")
	assert.Equal(t, 1.0, again.Weight, "nil weight leaves value unchanged")

	_, err = g.Update("edge_missing", Update{})
	assert.True(t, ir.IsCode(err, ir.CodeNotFound))
}

func TestRemove_ScrubsIndices(t *testing.T) {
	g := newTestGraph(t)
	e := mustCreate(t, g, "a", "b", TypeSupports, 0.5)
	mustCreate(t, g, "a", "c", TypeSupports, 0.5)

	_, err := g.Remove(e.ID)
	require.NoError(t, err)

	assert.Len(t, g.Outgoing("a"), 1)
	assert.Empty(t, g.Incoming("b"))
	assert.Equal(t, 0, g.Degree("b"))
	assert.Empty(t, g.Query(Filter{Target: "b"}))

	_, err = g.Remove(e.ID)
	assert.True(t, ir.IsCode(err, ir.CodeNotFound))

	m := g.Metrics()
	assert.Equal(t, 2, m.Created)
	assert.Equal(t, 1, m.Removed)
	assert.Equal(t, 1, m.Active)

	// Recreating a removed triple is allowed.
	_, err = g.Create(Input{Source: "a", Target: "b", Type: TypeSupports})
	assert.NoError(t, err)
}

func TestQuery_Filters(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, "a", "b", TypeSupports, 0.9)
	mustCreate(t, g, "a", "c", TypeContradicts, 0.2)
	mustCreate(t, g, "b", "c", TypeSupports, 0.6)

	assert.Len(t, g.Query(Filter{}), 3)
	assert.Len(t, g.Query(Filter{Source: "a"}), 2)
	assert.Len(t, g.Query(Filter{Target: "c"}), 2)
	assert.Len(t, g.Query(Filter{Source: "a", Target: "c"}), 1)
	assert.Len(t, g.Query(Filter{Type: TypeSupports}), 2)
	assert.Len(t, g.Query(Filter{MinWeight: 0.5}), 2)
	assert.Len(t, g.Query(Filter{Source: "missing"}), 0)

	conf := g.Query(Filter{MinConfidence: 0.6})
	assert.Empty(t, conf, "default confidence is 0.5")
}

func TestNeighborhood(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, "a", "b", TypeSupports, 0.5)
	mustCreate(t, g, "c", "a", TypeDerives, 0.5)
	mustCreate(t, g, "a", "d", TypeRequires, 0.5)

	n := g.Neighborhood("a")
	assert.Equal(t, "a", n.NodeID)
	assert.Len(t, n.Outgoing, 2)
	assert.Len(t, n.Incoming, 1)
	assert.Equal(t, 3, n.Total)

	empty := g.Neighborhood("zzz")
	assert.Equal(t, 0, empty.Total)
	assert.NotNil(t, empty.Outgoing)
}

func TestFindPaths(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, "a", "b", TypeSupports, 0.5)
	mustCreate(t, g, "b", "c", TypeDerives, 0.5)
	mustCreate(t, g, "a", "c", TypeReferences, 0.5)
	mustCreate(t, g, "c", "a", TypeCauses, 0.5) // cycle back to start

	paths := g.FindPaths("a", "c", 3)
	require.Len(t, paths, 2)
	assert.Equal(t, Path{"a", "c"}, paths[0])
	assert.Equal(t, Path{"a", "b", "c"}, paths[1])

	short := g.FindPaths("a", "c", 1)
	require.Len(t, short, 1)
	assert.Equal(t, 1, short[0].Hops())
}

func TestFindPaths_Disconnected(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, "a", "b", TypeSupports, 0.5)
	mustCreate(t, g, "x", "y", TypeSupports, 0.5)

	paths := g.FindPaths("a", "y", 5)
	assert.NotNil(t, paths)
	assert.Empty(t, paths)
	assert.Empty(t, g.FindPaths("a", "a", 5))
}

func TestFindPaths_ParallelEdgesCountOnce(t *testing.T) {
	g := newTestGraph(t)
	mustCreate(t, g, "a", "b", TypeSupports, 0.5)
	mustCreate(t, g, "a", "b", TypeDerives, 0.5)

	assert.Len(t, g.FindPaths("a", "b", 2), 1)
}

func TestReturnedEdgesAreCopies(t *testing.T) {
	g := newTestGraph(t)
	e, err := g.Create(Input{Source: "a", Target: "b", Type: TypeSupports, Evidence: []string{"x"}})
	require.NoError(t, err)

	e.Evidence[0] = "mutated"
	stored, ok := g.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, "x", stored.Evidence[0])
}
