package edge

import (
	"sort"
	"time"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/ir"
)

// Path search bounds.
const (
	MaxPathHops = 10
	MaxPaths    = 100
)

// Graph is the edge arena with by-source and by-target indices.
type Graph struct {
	edges    map[string]*Edge
	bySource map[string]map[string]struct{}
	byTarget map[string]map[string]struct{}
	now      func() time.Time
	metrics  Metrics
}

// NewGraph creates an empty graph. now stamps creation and update times;
// nil uses time.Now.
func NewGraph(now func() time.Time) *Graph {
	if now == nil {
		now = time.Now
	}
	return &Graph{
		edges:    make(map[string]*Edge),
		bySource: make(map[string]map[string]struct{}),
		byTarget: make(map[string]map[string]struct{}),
		now:      now,
	}
}

// Create validates and inserts a new edge.
//
// Checks, in order:
//   - self_edge_not_allowed: Source == Target
//   - invalid_edge_type: Type outside the closed set
//   - duplicate_edge: an edge with the same (Source, Target, Type) exists
//
// Weight and Confidence are clamped into [0, 1].
func (g *Graph) Create(in Input) (Edge, error) {
	if err := Validate(in); err != nil {
		return Edge{}, err
	}

	id := ir.MustEdgeID(in.Source, in.Target, string(in.Type))
	if _, exists := g.edges[id]; exists {
		return Edge{}, ir.NewError(ir.CodeDuplicateEdge,
			"edge %s -[%s]-> %s already exists", in.Source, in.Type, in.Target).
			WithDetail("edge_id", id)
	}

	now := g.now()
	e := &Edge{
		ID:         id,
		Source:     in.Source,
		Target:     in.Target,
		Type:       in.Type,
		Weight:     valueOr(in.Weight, DefaultWeight),
		Confidence: valueOr(in.Confidence, DefaultConfidence),
		Evidence:   dtu.UnionStrings(nil, in.Evidence),
		CreatedBy:  in.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	g.edges[id] = e
	index(g.bySource, e.Source, id)
	index(g.byTarget, e.Target, id)
	g.metrics.Created++

	return e.clone(), nil
}

// Validate checks the structural rules of an edge input without touching
// the graph. Used by proposals to reject malformed edges early.
func Validate(in Input) error {
	if in.Source == "" || in.Target == "" {
		return ir.NewError(ir.CodeInvalidInput, "edge source and target are required")
	}
	if in.Source == in.Target {
		return ir.NewError(ir.CodeSelfEdgeNotAllowed, "edge from %q to itself is not allowed", in.Source)
	}
	if !in.Type.Valid() {
		return ir.NewError(ir.CodeInvalidEdgeType, "unknown edge type %q", in.Type)
	}
	return nil
}

// Exists reports whether an edge with the triple is present.
func (g *Graph) Exists(source, target string, t Type) bool {
	_, ok := g.edges[ir.MustEdgeID(source, target, string(t))]
	return ok
}

// Get returns a copy of the edge with id.
func (g *Graph) Get(id string) (Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, false
	}
	return e.clone(), true
}

// Query returns copies of edges matching f, ordered by creation time then id.
func (g *Graph) Query(f Filter) []Edge {
	var candidates map[string]struct{}
	switch {
	case f.Source != "":
		candidates = g.bySource[f.Source]
	case f.Target != "":
		candidates = g.byTarget[f.Target]
	}

	out := []Edge{}
	if f.Source != "" || f.Target != "" {
		for id := range candidates {
			if e := g.edges[id]; e != nil && f.matches(e) {
				out = append(out, e.clone())
			}
		}
	} else {
		for _, e := range g.edges {
			if f.matches(e) {
				out = append(out, e.clone())
			}
		}
	}
	sortEdges(out)
	return out
}

// Update adjusts weight and confidence (clamped) and unions evidence.
func (g *Graph) Update(id string, u Update) (Edge, error) {
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, ir.NotFound("edge", id)
	}
	if u.Weight != nil {
		e.Weight = dtu.Clamp01(*u.Weight)
	}
	if u.Confidence != nil {
		e.Confidence = dtu.Clamp01(*u.Confidence)
	}
	e.Evidence = dtu.UnionStrings(e.Evidence, u.Evidence)
	e.UpdatedAt = g.now()
	g.metrics.Updated++
	return e.clone(), nil
}

// Remove deletes the edge and scrubs both indices.
func (g *Graph) Remove(id string) (Edge, error) {
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, ir.NotFound("edge", id)
	}
	delete(g.edges, id)
	unindex(g.bySource, e.Source, id)
	unindex(g.byTarget, e.Target, id)
	g.metrics.Removed++
	return e.clone(), nil
}

// Outgoing returns edges whose source is nodeID.
func (g *Graph) Outgoing(nodeID string) []Edge {
	return g.collect(g.bySource[nodeID])
}

// Incoming returns edges whose target is nodeID.
func (g *Graph) Incoming(nodeID string) []Edge {
	return g.collect(g.byTarget[nodeID])
}

// Neighborhood returns outgoing and incoming edges of nodeID.
// An unknown node yields empty lists.
func (g *Graph) Neighborhood(nodeID string) Neighborhood {
	out := g.Outgoing(nodeID)
	in := g.Incoming(nodeID)
	return Neighborhood{
		NodeID:   nodeID,
		Outgoing: out,
		Incoming: in,
		Total:    len(out) + len(in),
	}
}

// Degree returns the number of edges touching nodeID.
func (g *Graph) Degree(nodeID string) int {
	return len(g.bySource[nodeID]) + len(g.byTarget[nodeID])
}

// Len returns the number of edges.
func (g *Graph) Len() int {
	return len(g.edges)
}

// Metrics returns a copy of the lifecycle counters.
func (g *Graph) Metrics() Metrics {
	m := g.metrics
	m.Active = len(g.edges)
	return m
}

// FindPaths returns simple directed paths from a to b with at most maxHops
// edges. maxHops is clamped to [1, MaxPathHops] and at most MaxPaths paths
// are returned. Disconnected nodes yield an empty result, not an error.
//
// Paths are ordered by length, then lexically.
func (g *Graph) FindPaths(a, b string, maxHops int) []Path {
	paths := []Path{}
	if a == "" || b == "" || a == b {
		return paths
	}
	maxHops = max(1, min(maxHops, MaxPathHops))

	visited := map[string]bool{a: true}
	current := Path{a}
	var walk func(node string)
	walk = func(node string) {
		if len(paths) >= MaxPaths || current.Hops() >= maxHops {
			return
		}
		for _, next := range g.successors(node) {
			if visited[next] {
				continue
			}
			current = append(current, next)
			if next == b {
				paths = append(paths, append(Path(nil), current...))
			} else {
				visited[next] = true
				walk(next)
				visited[next] = false
			}
			current = current[:len(current)-1]
			if len(paths) >= MaxPaths {
				return
			}
		}
	}
	walk(a)

	sort.SliceStable(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		for k := range paths[i] {
			if paths[i][k] != paths[j][k] {
				return paths[i][k] < paths[j][k]
			}
		}
		return false
	})
	return paths
}

// successors returns distinct target ids of nodeID's outgoing edges, sorted.
func (g *Graph) successors(nodeID string) []string {
	seen := make(map[string]bool)
	var out []string
	for id := range g.bySource[nodeID] {
		if e := g.edges[id]; e != nil && !seen[e.Target] {
			seen[e.Target] = true
			out = append(out, e.Target)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Graph) collect(ids map[string]struct{}) []Edge {
	out := make([]Edge, 0, len(ids))
	for id := range ids {
		if e := g.edges[id]; e != nil {
			out = append(out, e.clone())
		}
	}
	sortEdges(out)
	return out
}

func index(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func unindex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].CreatedAt.Before(edges[j].CreatedAt)
		}
		return edges[i].ID < edges[j].ID
	})
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return dtu.Clamp01(*v)
}
