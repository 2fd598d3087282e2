package lattice

import (
	"slices"
	"sort"
	"strings"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
	"github.com/roach88/lattice/internal/merge"
)

// ProposeDTU stages a dtu_create proposal. Strings are truncated to the
// configured limits and metrics clamped into [0, 1]. A blank title fails
// invalid_input.
func (l *Lattice) ProposeDTU(in DTUInput, by ProposerRef) (Proposal, error) {
	if err := requireProposer(by); err != nil {
		return Proposal{}, err
	}
	payload, err := l.normalizeDTU(in)
	if err != nil {
		return Proposal{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.newProposalLocked(ProposalDTUCreate, payload, by, "")
	l.stagedDTUs[p.ID] = payload.clonePayload().(DTUPayload)
	l.recordProposalLocked(p)
	return p.clone(), nil
}

// ProposeEdit stages a dtu_edit proposal against a canonical DTU.
//
// Fails target_dtu_not_found if targetID is not canonical (shadow copies are
// never commit targets) and invalid_input if the patch names no editable
// field. Edit proposals are not mirrored into staging.
func (l *Lattice) ProposeEdit(targetID string, patch map[string]any, by ProposerRef) (Proposal, error) {
	if err := requireProposer(by); err != nil {
		return Proposal{}, err
	}
	patch = l.normalizePatch(patch)
	if !hasEditableField(patch) {
		return Proposal{}, ir.NewError(ir.CodeInvalidInput,
			"edit patch names no editable field (allowed: %s)", strings.Join(editableFields, ", "))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.store.Has(targetID) {
		return Proposal{}, ir.NewError(ir.CodeTargetDTUNotFound, "edit target %q is not a canonical dtu", targetID).
			WithDetail("target_id", targetID)
	}
	p := l.newProposalLocked(ProposalDTUEdit, EditPayload{Patch: patch}, by, targetID)
	l.recordProposalLocked(p)
	return p.clone(), nil
}

// ProposeEdge stages an edge_create proposal. Type and self-edge rules are
// checked now; endpoint existence and duplicates are checked at COMMIT.
func (l *Lattice) ProposeEdge(in edge.Input, by ProposerRef) (Proposal, error) {
	if err := requireProposer(by); err != nil {
		return Proposal{}, err
	}
	if err := edge.Validate(in); err != nil {
		return Proposal{}, err
	}
	in = cloneEdgeInput(in)
	if in.CreatedBy == "" {
		in.CreatedBy = by.ProposerID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.newProposalLocked(ProposalEdgeCreate, EdgePayload{Edge: in}, by, "")
	l.stagedEdges[p.ID] = cloneEdgeInput(in)
	l.recordProposalLocked(p)
	return p.clone(), nil
}

// AttachArtifact stages an artifact under a pending proposal.
func (l *Lattice) AttachArtifact(proposalID string, a Artifact) error {
	if strings.TrimSpace(a.Name) == "" {
		return ir.NewError(ir.CodeInvalidInput, "artifact name is required")
	}
	a.Content = truncate(a.Content, l.limits.MaxContentLen)
	a.Meta = dtu.CloneMeta(a.Meta)

	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.pendingProposalLocked(proposalID)
	if err != nil {
		return err
	}
	l.stagedArtifacts[p.ID] = append(l.stagedArtifacts[p.ID], a)
	return nil
}

func (l *Lattice) newProposalLocked(t ProposalType, payload Payload, by ProposerRef, targetID string) *Proposal {
	now := l.now()
	p := &Proposal{
		ID:         l.ids.NewID("prop"),
		Type:       t,
		Status:     StatusPending,
		ProposedBy: by.ProposerID,
		SessionID:  by.SessionID,
		Payload:    payload,
		TargetID:   targetID,
		Provenance: Provenance{
			Source:     ProvenanceEmergent,
			ProposedBy: by.ProposerID,
			SessionID:  by.SessionID,
			CreatedAt:  now,
		},
		CreatedAt: now,
	}
	l.proposals[p.ID] = p
	l.proposalOrder = append(l.proposalOrder, p.ID)
	l.metrics.Proposals++
	return p
}

func (l *Lattice) recordProposalLocked(p *Proposal) {
	payload := map[string]any{
		"proposalId":   p.ID,
		"proposalType": string(p.Type),
		"proposedBy":   p.ProposedBy,
	}
	if p.SessionID != "" {
		payload["sessionId"] = p.SessionID
	}
	if p.TargetID != "" {
		payload["refs"] = []string{p.TargetID}
	}
	l.record(journal.EventProposalCreated, payload)
	l.logger.Debug("proposal created", "proposal_id", p.ID, "type", p.Type, "actor", p.ProposedBy)
}

func (l *Lattice) pendingProposalLocked(id string) (*Proposal, error) {
	p, ok := l.proposals[id]
	if !ok {
		return nil, ir.NewError(ir.CodeProposalNotFound, "proposal %q not found", id).WithDetail("id", id)
	}
	if p.Status != StatusPending {
		return nil, ir.NewError(ir.CodeProposalNotPending, "proposal %q is %s", id, p.Status).
			WithDetail("status", string(p.Status))
	}
	return p, nil
}

func requireProposer(by ProposerRef) error {
	if strings.TrimSpace(by.ProposerID) == "" {
		return ir.NewError(ir.CodeInvalidInput, "proposer id is required")
	}
	return nil
}

func (l *Lattice) normalizeDTU(in DTUInput) (DTUPayload, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return DTUPayload{}, ir.NewError(ir.CodeInvalidInput, "dtu title is required")
	}
	tier := in.Tier
	if tier == "" {
		tier = l.limits.DefaultTier
	}
	return DTUPayload{
		Title:      truncate(title, l.limits.MaxTitleLen),
		Content:    truncate(in.Content, l.limits.MaxContentLen),
		Summary:    truncate(in.Summary, l.limits.MaxSummaryLen),
		Tags:       l.normalizeTags(in.Tags),
		Tier:       tier,
		Resonance:  l.metric(in.Resonance),
		Coherence:  l.metric(in.Coherence),
		Stability:  l.metric(in.Stability),
		RelatedIDs: dtu.UnionStrings(nil, in.RelatedIDs),
		Meta:       dtu.CloneMeta(in.Meta),
	}, nil
}

func (l *Lattice) metric(v *float64) float64 {
	if v == nil {
		return *l.limits.DefaultMetric
	}
	return dtu.Clamp01(*v)
}

// normalizeTags trims, truncates and dedups tags, keeping at most MaxTags.
func (l *Lattice) normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = truncate(strings.TrimSpace(t), l.limits.MaxTagLen)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
		if len(out) == l.limits.MaxTags {
			break
		}
	}
	return out
}

// normalizePatch deep-copies patch and applies the same string limits and
// clamps as ProposeDTU. Keys outside the allow-list are kept: COMMIT drops
// them and reports them in CommitResult.Dropped.
func (l *Lattice) normalizePatch(patch map[string]any) map[string]any {
	out := dtu.CloneMeta(patch)
	if out == nil {
		return map[string]any{}
	}
	limits := map[string]int{
		"title":   l.limits.MaxTitleLen,
		"content": l.limits.MaxContentLen,
		"summary": l.limits.MaxSummaryLen,
	}
	for k, n := range limits {
		if s, ok := out[k].(string); ok {
			out[k] = truncate(s, n)
		}
	}
	for _, k := range []string{"resonance", "coherence", "stability"} {
		if f, ok := out[k].(float64); ok {
			out[k] = dtu.Clamp01(f)
		}
	}
	switch tags := out["tags"].(type) {
	case []string:
		out["tags"] = l.normalizeTags(tags)
	case []any:
		strs := make([]string, 0, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok {
				strs = append(strs, s)
			}
		}
		if len(strs) == len(tags) {
			out["tags"] = l.normalizeTags(strs)
		}
	}
	return out
}

func hasEditableField(patch map[string]any) bool {
	for k := range patch {
		if slices.Contains(editableFields, k) {
			return true
		}
	}
	return false
}

// splitPatch separates allow-listed keys from the rest. Immutable keys stay
// in the merge patch so the merger records them as immutable conflicts; they
// are never applied. Dropped keys are sorted.
func splitPatch(patch map[string]any) (map[string]any, []string) {
	allowed := make(map[string]any, len(patch))
	var dropped []string
	for k, v := range patch {
		if slices.Contains(editableFields, k) || merge.Classify(k) == merge.KindImmutable {
			allowed[k] = v
		} else {
			dropped = append(dropped, k)
		}
	}
	sort.Strings(dropped)
	return allowed, dropped
}
