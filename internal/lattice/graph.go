package lattice

import (
	"strings"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
)

// CreateEdge inserts an edge directly. Both endpoints must exist as
// canonical or shadow DTUs (not_found otherwise). The new relation is
// mirrored into the related ids of canonical endpoints.
func (l *Lattice) CreateEdge(in edge.Input) (edge.Edge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createEdgeLocked(in, "", "")
}

func (l *Lattice) createEdgeLocked(in edge.Input, sessionID, proposalID string) (edge.Edge, error) {
	if err := edge.Validate(in); err != nil {
		return edge.Edge{}, err
	}
	// Committed edges join canonical DTUs only; direct creation may also
	// reach a shadow.
	for _, id := range []string{in.Source, in.Target} {
		switch {
		case l.store.Has(id):
		case proposalID == "" && l.store.Exists(id):
		case l.store.Exists(id):
			return edge.Edge{}, ir.NewError(ir.CodeNotFound, "dtu %q is a shadow, not canonical", id).WithDetail("id", id)
		default:
			return edge.Edge{}, ir.NotFound("dtu", id)
		}
	}
	e, err := l.edges.Create(in)
	if err != nil {
		return edge.Edge{}, err
	}
	l.store.Mutate(e.Target, func(d *dtu.DTU) { d.AddRelated(e.Source) })
	l.store.Mutate(e.Source, func(d *dtu.DTU) { d.AddRelated(e.Target) })

	payload := map[string]any{
		"edgeId":    e.ID,
		"source":    e.Source,
		"target":    e.Target,
		"type":      string(e.Type),
		"createdBy": e.CreatedBy,
		"refs":      []string{e.Source, e.Target},
	}
	if sessionID != "" {
		payload["sessionId"] = sessionID
	}
	if proposalID != "" {
		payload["proposalId"] = proposalID
	}
	l.record(journal.EventEdgeCreated, payload)
	return e, nil
}

// UpdateEdge adjusts weight and confidence and unions evidence.
func (l *Lattice) UpdateEdge(id string, u edge.Update, actorID string) (edge.Edge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.edges.Update(id, u)
	if err != nil {
		return edge.Edge{}, err
	}
	l.record(journal.EventEdgeUpdated, map[string]any{
		"edgeId":  e.ID,
		"actorId": actorID,
		"source":  e.Source,
		"target":  e.Target,
		"type":    string(e.Type),
		"refs":    []string{e.Source, e.Target},
	})
	return e, nil
}

// RemoveEdge deletes an edge and scrubs its indices. Related ids on the
// endpoints are left alone: they are a redundant neighbor hint.
func (l *Lattice) RemoveEdge(id, actorID string) (edge.Edge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.edges.Remove(id)
	if err != nil {
		return edge.Edge{}, err
	}
	l.record(journal.EventEdgeRemoved, map[string]any{
		"edgeId":  e.ID,
		"actorId": actorID,
		"source":  e.Source,
		"target":  e.Target,
		"type":    string(e.Type),
		"refs":    []string{e.Source, e.Target},
	})
	return e, nil
}

// QueryEdges returns edges matching f.
func (l *Lattice) QueryEdges(f edge.Filter) []edge.Edge {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.edges.Query(f)
}

// Neighborhood returns the one-hop view of nodeID.
func (l *Lattice) Neighborhood(nodeID string) edge.Neighborhood {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.edges.Neighborhood(nodeID)
}

// FindPaths returns simple directed paths from a to b.
func (l *Lattice) FindPaths(a, b string, maxHops int) []edge.Path {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.edges.FindPaths(a, b, maxHops)
}

// EdgeMetrics returns edge lifecycle counters.
func (l *Lattice) EdgeMetrics() edge.Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.edges.Metrics()
}

// EdgeCount returns the number of edges.
func (l *Lattice) EdgeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.edges.Len()
}

// PutShadow stores a non-canonical copy visible to ReadDTU only. Shadow
// DTUs are never commit targets.
func (l *Lattice) PutShadow(d dtu.DTU) error {
	if strings.TrimSpace(d.ID) == "" {
		return ir.NewError(ir.CodeInvalidInput, "shadow dtu id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if d.CreatedAt.IsZero() {
		d.CreatedAt = l.now()
	}
	if d.Tier == "" {
		d.Tier = dtu.TierShadow
	}
	l.store.PutShadow(d)
	return nil
}
