package lattice

import (
	"fmt"
	"time"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
	"github.com/roach88/lattice/internal/merge"
)

// CommitProposal applies a pending proposal to canonical state.
//
// Checks, in order:
//   - proposal_not_found: unknown id
//   - proposal_not_pending: status is not pending
//   - gate_trace_required: no gate trace, or an empty trace id
//
// There is no bypass for the gate trace. If the apply step fails, the
// proposal moves to conflict, the conflict counter increments and the
// returned error carries merge_conflict wrapping the cause.
func (l *Lattice) CommitProposal(id string, in CommitInput) (CommitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.pendingProposalLocked(id)
	if err != nil {
		return CommitResult{}, err
	}
	if in.GateTrace == nil || in.GateTrace.TraceID == "" {
		return CommitResult{}, ir.NewError(ir.CodeGateTraceRequired,
			"commit of %s requires a gate trace", id).WithDetail("proposal_id", id)
	}

	now := l.now()
	res := CommitResult{}
	switch payload := p.Payload.(type) {
	case DTUPayload:
		res.ResultID = l.applyCreateLocked(p, payload, in, now)
	case EditPayload:
		res.ResultID, res.Merge, res.Dropped, err = l.applyEditLocked(p, payload, now)
	case EdgePayload:
		var e edge.Edge
		e, err = l.createEdgeLocked(payload.Edge, p.SessionID, p.ID)
		res.ResultID = e.ID
	default:
		err = fmt.Errorf("unknown payload %T", p.Payload)
	}
	if err != nil {
		return CommitResult{}, l.conflictLocked(p, err, now)
	}

	p.Status = StatusCommitted
	p.GateTrace = in.GateTrace.clone()
	p.CommittedBy = in.CommittedBy
	p.ReviewedAt = now
	p.ResultID = res.ResultID
	l.purgeStagingLocked(p.ID)
	l.commitLog = append(l.commitLog, CommitRecord{
		ProposalID:  p.ID,
		Type:        p.Type,
		ResultID:    res.ResultID,
		CommittedBy: in.CommittedBy,
		GateTraceID: in.GateTrace.TraceID,
		At:          now,
	})
	l.metrics.Commits++

	l.record(journal.EventProposalCommitted, map[string]any{
		"proposalId":   p.ID,
		"proposalType": string(p.Type),
		"committedBy":  in.CommittedBy,
		"gateTraceId":  in.GateTrace.TraceID,
		"resultId":     res.ResultID,
		"refs":         []string{res.ResultID},
	})
	l.logger.Info("proposal committed",
		"proposal_id", p.ID,
		"type", p.Type,
		"actor", in.CommittedBy,
		"gate_trace", in.GateTrace.TraceID,
		"result_id", res.ResultID)

	res.Proposal = p.clone()
	return res, nil
}

// RejectProposal moves a pending proposal to rejected and clears its staging.
func (l *Lattice) RejectProposal(id, reason, rejectedBy string) (Proposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.pendingProposalLocked(id)
	if err != nil {
		return Proposal{}, err
	}

	p.Status = StatusRejected
	p.RejectionReason = reason
	p.ReviewedAt = l.now()
	l.purgeStagingLocked(p.ID)
	l.metrics.Rejections++

	l.record(journal.EventProposalRejected, map[string]any{
		"proposalId": p.ID,
		"rejectedBy": rejectedBy,
		"reason":     reason,
	})
	l.logger.Info("proposal rejected", "proposal_id", p.ID, "type", p.Type, "actor", rejectedBy, "reason", reason)
	return p.clone(), nil
}

func (l *Lattice) applyCreateLocked(p *Proposal, payload DTUPayload, in CommitInput, now time.Time) string {
	meta := dtu.CloneMeta(payload.Meta)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["source"] = ProvenanceEmergent
	meta["proposalId"] = p.ID
	meta["proposedBy"] = p.ProposedBy
	meta["sessionId"] = p.SessionID
	meta["gateTraceId"] = in.GateTrace.TraceID
	meta["committedBy"] = in.CommittedBy

	d := dtu.DTU{
		ID:         l.ids.NewID("dtu"),
		Title:      payload.Title,
		Content:    payload.Content,
		Summary:    payload.Summary,
		Tags:       dtu.UnionStrings(nil, payload.Tags),
		Tier:       payload.Tier,
		Resonance:  payload.Resonance,
		Coherence:  payload.Coherence,
		Stability:  payload.Stability,
		RelatedIDs: dtu.UnionStrings(nil, payload.RelatedIDs),
		OwnerID:    p.ProposedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
		Meta:       meta,
	}
	l.store.Put(d)

	l.record(journal.EventDTUCreated, map[string]any{
		"dtuId":       d.ID,
		"title":       d.Title,
		"proposalId":  p.ID,
		"proposedBy":  p.ProposedBy,
		"committedBy": in.CommittedBy,
		"sessionId":   p.SessionID,
	})
	return d.ID
}

func (l *Lattice) applyEditLocked(p *Proposal, payload EditPayload, now time.Time) (string, *merge.Result, []string, error) {
	if !l.store.Has(p.TargetID) {
		return "", nil, nil, ir.NewError(ir.CodeTargetDTUNotFound, "edit target %q is no longer canonical", p.TargetID)
	}
	patch, dropped := splitPatch(payload.Patch)
	res, err := l.merger.FieldLevelMerge(p.TargetID, patch, p.ProposedBy)
	if err != nil {
		return "", nil, nil, err
	}

	l.store.Mutate(p.TargetID, func(d *dtu.DTU) {
		if d.Meta == nil {
			d.Meta = map[string]any{}
		}
		d.Meta["lastEditedBy"] = p.ProposedBy
		d.Meta["lastEditedAt"] = now.UTC().Format(time.RFC3339Nano)
		d.Meta["lastEditProposal"] = p.ID
		d.UpdatedAt = now
	})

	l.record(journal.EventDTUEdited, map[string]any{
		"dtuId":      p.TargetID,
		"editedBy":   p.ProposedBy,
		"proposalId": p.ID,
		"sessionId":  p.SessionID,
		"fields":     res.Applied,
		"conflicts":  len(res.Conflicts),
	})
	if len(res.Conflicts) > 0 {
		l.logger.Warn("edit merged with conflicts",
			"proposal_id", p.ID, "dtu_id", p.TargetID, "conflicts", len(res.Conflicts))
	}
	return p.TargetID, &res, dropped, nil
}

func (l *Lattice) conflictLocked(p *Proposal, cause error, now time.Time) error {
	p.Status = StatusConflict
	p.ConflictReason = cause.Error()
	p.ReviewedAt = now
	l.metrics.Conflicts++

	l.record(journal.EventProposalConflict, map[string]any{
		"proposalId": p.ID,
		"reason":     cause.Error(),
	})
	l.logger.Warn("proposal apply failed", "proposal_id", p.ID, "type", p.Type, "error", cause)

	return ir.WrapError(ir.CodeMergeConflict, cause, "proposal %s could not be applied", p.ID).
		WithDetail("proposal_id", p.ID)
}

func (l *Lattice) purgeStagingLocked(id string) {
	delete(l.stagedDTUs, id)
	delete(l.stagedEdges, id)
	delete(l.stagedArtifacts, id)
}
