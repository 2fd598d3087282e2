package lattice

import (
	"slices"
	"time"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/merge"
)

// ProposalType is the closed set of mutation intents.
type ProposalType string

const (
	ProposalDTUCreate  ProposalType = "dtu_create"
	ProposalDTUEdit    ProposalType = "dtu_edit"
	ProposalEdgeCreate ProposalType = "edge_create"
)

// Status is a proposal's position in its state machine:
//
//	pending -> committed | rejected | conflict
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusRejected  Status = "rejected"
	StatusConflict  Status = "conflict"
)

// ProvenanceEmergent marks DTUs created through governed proposals.
const ProvenanceEmergent = "emergent"

// GateTrace is governance's proof of approval. Its presence is required by
// COMMIT; its contents are recorded, not verified.
type GateTrace struct {
	TraceID string         `json:"traceId" yaml:"traceId"`
	Passed  bool           `json:"passed" yaml:"passed"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

func (g *GateTrace) clone() *GateTrace {
	if g == nil {
		return nil
	}
	c := *g
	c.Details = dtu.CloneMeta(g.Details)
	return &c
}

// ProposerRef identifies who proposes and in which session.
type ProposerRef struct {
	ProposerID string `json:"proposer_id" yaml:"proposer_id"`
	SessionID  string `json:"session_id" yaml:"session_id"`
}

// Provenance is stamped on every proposal at creation.
type Provenance struct {
	Source     string    `json:"source"`
	ProposedBy string    `json:"proposed_by"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// DTUInput is the caller's description of a new DTU. Nil metrics take
// Limits.DefaultMetric.
type DTUInput struct {
	Title      string         `json:"title" yaml:"title"`
	Content    string         `json:"content" yaml:"content"`
	Summary    string         `json:"summary" yaml:"summary"`
	Tags       []string       `json:"tags" yaml:"tags"`
	Tier       dtu.Tier       `json:"tier" yaml:"tier"`
	Resonance  *float64       `json:"resonance,omitempty" yaml:"resonance,omitempty"`
	Coherence  *float64       `json:"coherence,omitempty" yaml:"coherence,omitempty"`
	Stability  *float64       `json:"stability,omitempty" yaml:"stability,omitempty"`
	RelatedIDs []string       `json:"related_ids" yaml:"related_ids"`
	Meta       map[string]any `json:"meta" yaml:"meta"`
}

// Payload is the tagged union carried by a proposal. The concrete type
// always matches Proposal.Type.
type Payload interface {
	proposalType() ProposalType
	clonePayload() Payload
}

// DTUPayload is the validated body of a dtu_create proposal.
type DTUPayload struct {
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Summary    string         `json:"summary"`
	Tags       []string       `json:"tags"`
	Tier       dtu.Tier       `json:"tier"`
	Resonance  float64        `json:"resonance"`
	Coherence  float64        `json:"coherence"`
	Stability  float64        `json:"stability"`
	RelatedIDs []string       `json:"related_ids"`
	Meta       map[string]any `json:"meta"`
}

func (DTUPayload) proposalType() ProposalType { return ProposalDTUCreate }

func (p DTUPayload) clonePayload() Payload {
	p.Tags = slices.Clone(p.Tags)
	p.RelatedIDs = slices.Clone(p.RelatedIDs)
	p.Meta = dtu.CloneMeta(p.Meta)
	return p
}

// EditPayload is the patch of a dtu_edit proposal.
type EditPayload struct {
	Patch map[string]any `json:"patch"`
}

func (EditPayload) proposalType() ProposalType { return ProposalDTUEdit }

func (p EditPayload) clonePayload() Payload {
	return EditPayload{Patch: dtu.CloneMeta(p.Patch)}
}

// EdgePayload is the relation of an edge_create proposal.
type EdgePayload struct {
	Edge edge.Input `json:"edge"`
}

func (EdgePayload) proposalType() ProposalType { return ProposalEdgeCreate }

func (p EdgePayload) clonePayload() Payload {
	p.Edge = cloneEdgeInput(p.Edge)
	return p
}

func cloneEdgeInput(in edge.Input) edge.Input {
	if in.Weight != nil {
		w := *in.Weight
		in.Weight = &w
	}
	if in.Confidence != nil {
		c := *in.Confidence
		in.Confidence = &c
	}
	in.Evidence = slices.Clone(in.Evidence)
	return in
}

// Proposal is a staged intent to mutate the canonical graph.
type Proposal struct {
	ID              string       `json:"id"`
	Type            ProposalType `json:"type"`
	Status          Status       `json:"status"`
	ProposedBy      string       `json:"proposed_by"`
	SessionID       string       `json:"session_id"`
	Payload         Payload      `json:"payload"`
	TargetID        string       `json:"target_id,omitempty"`
	Provenance      Provenance   `json:"provenance"`
	GateTrace       *GateTrace   `json:"gate_trace,omitempty"`
	CommittedBy     string       `json:"committed_by,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	ConflictReason  string       `json:"conflict_reason,omitempty"`
	ResultID        string       `json:"result_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ReviewedAt      time.Time    `json:"reviewed_at,omitzero"`
}

func (p *Proposal) clone() Proposal {
	c := *p
	if p.Payload != nil {
		c.Payload = p.Payload.clonePayload()
	}
	c.GateTrace = p.GateTrace.clone()
	return c
}

// CommitInput is governance's approval of a proposal.
type CommitInput struct {
	GateTrace   *GateTrace `json:"gateTrace" yaml:"gateTrace"`
	CommittedBy string     `json:"committedBy" yaml:"committedBy"`
}

// CommitResult reports a successful commit.
type CommitResult struct {
	Proposal Proposal `json:"proposal"`
	// ResultID is the DTU id (create, edit) or edge id (edge_create).
	ResultID string `json:"result_id"`
	// Merge is set for dtu_edit commits.
	Merge *merge.Result `json:"merge,omitempty"`
	// Dropped lists patch keys outside the editable allow-list.
	Dropped []string `json:"dropped,omitempty"`
}

// CommitRecord is one entry of the in-memory commit log.
type CommitRecord struct {
	ProposalID  string       `json:"proposal_id"`
	Type        ProposalType `json:"type"`
	ResultID    string       `json:"result_id"`
	CommittedBy string       `json:"committed_by"`
	GateTraceID string       `json:"gate_trace_id"`
	At          time.Time    `json:"at"`
}

// Artifact is a supporting document staged alongside a proposal.
type Artifact struct {
	Name    string         `json:"name" yaml:"name"`
	Kind    string         `json:"kind" yaml:"kind"`
	Content string         `json:"content" yaml:"content"`
	Meta    map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// StagingView is everything staged under one proposal id.
type StagingView struct {
	ProposalID string      `json:"proposal_id"`
	DTU        *DTUPayload `json:"dtu,omitempty"`
	Edge       *edge.Input `json:"edge,omitempty"`
	Artifacts  []Artifact  `json:"artifacts"`
}

// ReadResult is a deep copy of a DTU tagged with where it was found.
type ReadResult struct {
	DTU    dtu.DTU    `json:"dtu"`
	Source dtu.Source `json:"source"`
}

// Filter narrows QueryLattice. Limit <= 0 takes Limits.DefaultQueryLimit and
// is capped at Limits.MaxQueryLimit.
type Filter struct {
	Tags         []string `json:"tags" yaml:"tags"`
	Tier         dtu.Tier `json:"tier" yaml:"tier"`
	MinResonance float64  `json:"min_resonance" yaml:"min_resonance"`
	MinCoherence float64  `json:"min_coherence" yaml:"min_coherence"`
	Limit        int      `json:"limit" yaml:"limit"`
}

// Metrics are the lattice's read-only counters.
type Metrics struct {
	Reads      int64 `json:"reads"`
	Proposals  int   `json:"proposals"`
	Commits    int   `json:"commits"`
	Rejections int   `json:"rejections"`
	Conflicts  int   `json:"conflicts"`
	DTUs       int   `json:"dtus"`
	Shadows    int   `json:"shadows"`
	Edges      int   `json:"edges"`
	Pending    int   `json:"pending"`
}

// editableFields is the allow-list applied to dtu_edit patches at COMMIT.
var editableFields = []string{
	"title", "content", "summary", "tags", "tier",
	"resonance", "coherence", "stability", "meta",
}

func cloneArtifacts(in []Artifact) []Artifact {
	out := make([]Artifact, len(in))
	for i, a := range in {
		a.Meta = dtu.CloneMeta(a.Meta)
		out[i] = a
	}
	return out
}
