package lattice

import (
	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/edge"
)

// LowCoherence returns ids of canonical DTUs with coherence below threshold.
func (l *Lattice) LowCoherence(threshold float64) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	l.store.Scan(func(d *dtu.DTU) {
		if d.Coherence < threshold {
			ids = append(ids, d.ID)
		}
	})
	return ids
}

// Isolated returns ids of canonical DTUs with no edges in either direction.
func (l *Lattice) Isolated() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	l.store.Scan(func(d *dtu.DTU) {
		if l.edges.Degree(d.ID) == 0 {
			ids = append(ids, d.ID)
		}
	})
	return ids
}

// ContradictionEdges returns every contradicts edge.
func (l *Lattice) ContradictionEdges() []edge.Edge {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.edges.Query(edge.Filter{Type: edge.TypeContradicts})
}

// HotNodes returns ids whose global activation peak is at least threshold.
func (l *Lattice) HotNodes(threshold float64) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	for _, g := range l.activation.Hot(threshold) {
		ids = append(ids, g.DTUID)
	}
	return ids
}
