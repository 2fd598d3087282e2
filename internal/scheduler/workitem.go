package scheduler

import (
	"slices"
	"strings"
	"time"

	"github.com/roach88/lattice/internal/dtu"
)

// WorkType is the closed set of cognitive work categories.
type WorkType string

const (
	WorkContradiction      WorkType = "contradiction"
	WorkLowConfidence      WorkType = "low_confidence"
	WorkUserPrompt         WorkType = "user_prompt"
	WorkHotNode            WorkType = "hot_node"
	WorkGovernanceBacklog  WorkType = "governance_backlog"
	WorkMissingEdges       WorkType = "missing_edges"
	WorkArtifactValidation WorkType = "artifact_validation"
	WorkStaleNode          WorkType = "stale_node"
	WorkSynthesis          WorkType = "synthesis"
	WorkExploration        WorkType = "exploration"
)

var workTypes = []WorkType{
	WorkContradiction, WorkLowConfidence, WorkUserPrompt, WorkHotNode,
	WorkGovernanceBacklog, WorkMissingEdges, WorkArtifactValidation,
	WorkStaleNode, WorkSynthesis, WorkExploration,
}

// WorkTypes returns every work type in declaration order.
func WorkTypes() []WorkType {
	return slices.Clone(workTypes)
}

// Valid reports whether t is a known work type.
func (t WorkType) Valid() bool {
	return slices.Contains(workTypes, t)
}

// ItemStatus is a work item's lifecycle position:
//
//	queued -> active -> completed
//	queued -> expired
type ItemStatus string

const (
	ItemQueued    ItemStatus = "queued"
	ItemActive    ItemStatus = "active"
	ItemCompleted ItemStatus = "completed"
	ItemExpired   ItemStatus = "expired"
)

// Signals drive priority. Every value is clamped into [0, 1].
type Signals struct {
	Impact                float64 `json:"impact" yaml:"impact"`
	Risk                  float64 `json:"risk" yaml:"risk"`
	Uncertainty           float64 `json:"uncertainty" yaml:"uncertainty"`
	Novelty               float64 `json:"novelty" yaml:"novelty"`
	ContradictionPressure float64 `json:"contradictionPressure" yaml:"contradictionPressure"`
	GovernancePressure    float64 `json:"governancePressure" yaml:"governancePressure"`
	Effort                float64 `json:"effort" yaml:"effort"`
}

func (s Signals) clamp() Signals {
	return Signals{
		Impact:                dtu.Clamp01(s.Impact),
		Risk:                  dtu.Clamp01(s.Risk),
		Uncertainty:           dtu.Clamp01(s.Uncertainty),
		Novelty:               dtu.Clamp01(s.Novelty),
		ContradictionPressure: dtu.Clamp01(s.ContradictionPressure),
		GovernancePressure:    dtu.Clamp01(s.GovernancePressure),
		Effort:                dtu.Clamp01(s.Effort),
	}
}

// WorkItemInput describes a unit of work to enqueue.
type WorkItemInput struct {
	Type        WorkType   `json:"type" yaml:"type"`
	Scope       string     `json:"scope" yaml:"scope"`
	InputRefs   []string   `json:"inputRefs" yaml:"inputRefs"`
	CreatedBy   string     `json:"createdBy" yaml:"createdBy"`
	Description string     `json:"description" yaml:"description"`
	Signals     Signals    `json:"signals" yaml:"signals"`
	Deadline    *time.Time `json:"deadline,omitempty" yaml:"deadline,omitempty"`
}

// WorkItem is a scored unit of work.
type WorkItem struct {
	ID          string     `json:"id"`
	Type        WorkType   `json:"type"`
	Scope       string     `json:"scope"`
	InputRefs   []string   `json:"input_refs"`
	CreatedBy   string     `json:"created_by"`
	Description string     `json:"description"`
	Signals     Signals    `json:"signals"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Priority    float64    `json:"priority"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`

	// seq is the enqueue order; equal priorities keep it.
	seq int64
}

func (w *WorkItem) clone() WorkItem {
	c := *w
	c.InputRefs = slices.Clone(w.InputRefs)
	if w.Deadline != nil {
		d := *w.Deadline
		c.Deadline = &d
	}
	return c
}

// key identifies equivalent work for scan deduplication.
func (w *WorkItem) key() string {
	return workKey(w.Type, w.InputRefs)
}

func workKey(t WorkType, refs []string) string {
	return string(t) + "|" + strings.Join(refs, ",")
}
