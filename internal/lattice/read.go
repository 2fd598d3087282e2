package lattice

import (
	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/ir"
)

// ReadDTU returns a deep copy of the DTU with id, checking canonical then
// shadow storage. Fails not_found if absent in both.
func (l *Lattice) ReadDTU(id, readerID string) (ReadResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	l.reads.Add(1)
	d, src, ok := l.store.Lookup(id)
	if !ok {
		return ReadResult{}, ir.NotFound("dtu", id).WithDetail("reader", readerID)
	}
	return ReadResult{DTU: d, Source: src}, nil
}

// QueryLattice returns copies of canonical DTUs matching f, ordered by id.
func (l *Lattice) QueryLattice(f Filter) []dtu.DTU {
	l.mu.RLock()
	defer l.mu.RUnlock()

	l.reads.Add(1)
	return l.store.Query(dtu.Filter{
		Tags:         f.Tags,
		Tier:         f.Tier,
		MinResonance: f.MinResonance,
		MinCoherence: f.MinCoherence,
	}, l.limits.clampLimit(f.Limit))
}

// DTUCount returns the number of canonical DTUs.
func (l *Lattice) DTUCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Len()
}

// ReadStaging returns everything staged under proposalID across staged DTUs,
// edges and artifacts. Fails not_found when nothing is staged.
func (l *Lattice) ReadStaging(proposalID string) (StagingView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	view := StagingView{ProposalID: proposalID, Artifacts: []Artifact{}}
	found := false
	if p, ok := l.stagedDTUs[proposalID]; ok {
		c := p.clonePayload().(DTUPayload)
		view.DTU = &c
		found = true
	}
	if e, ok := l.stagedEdges[proposalID]; ok {
		c := cloneEdgeInput(e)
		view.Edge = &c
		found = true
	}
	if arts, ok := l.stagedArtifacts[proposalID]; ok {
		view.Artifacts = cloneArtifacts(arts)
		found = true
	}
	if !found {
		return StagingView{}, ir.NotFound("staging entry", proposalID)
	}
	return view, nil
}

// StagingSize returns the number of proposal ids with any staged entry.
func (l *Lattice) StagingSize() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make(map[string]struct{})
	for id := range l.stagedDTUs {
		ids[id] = struct{}{}
	}
	for id := range l.stagedEdges {
		ids[id] = struct{}{}
	}
	for id := range l.stagedArtifacts {
		ids[id] = struct{}{}
	}
	return len(ids)
}

// GetProposal returns a copy of the proposal with id.
func (l *Lattice) GetProposal(id string) (Proposal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.proposals[id]
	if !ok {
		return Proposal{}, ir.NewError(ir.CodeProposalNotFound, "proposal %q not found", id).WithDetail("id", id)
	}
	return p.clone(), nil
}

// ListProposals returns proposals in creation order. An empty status lists
// every proposal.
func (l *Lattice) ListProposals(status Status) []Proposal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []Proposal{}
	for _, id := range l.proposalOrder {
		p := l.proposals[id]
		if status == "" || p.Status == status {
			out = append(out, p.clone())
		}
	}
	return out
}

// PendingCount returns the governance backlog size.
func (l *Lattice) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pendingLocked()
}

// CommitLog returns a copy of the commit log, oldest first.
func (l *Lattice) CommitLog() []CommitRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]CommitRecord{}, l.commitLog...)
}
