package journal

import (
	"slices"
	"time"

	"github.com/roach88/lattice/internal/dtu"
)

// EventType is the closed set of journal event kinds.
type EventType string

const (
	EventDTUCreated          EventType = "dtu_created"
	EventDTUEdited           EventType = "dtu_edited"
	EventDTUActivated        EventType = "dtu_activated"
	EventEdgeCreated         EventType = "edge_created"
	EventEdgeUpdated         EventType = "edge_updated"
	EventEdgeRemoved         EventType = "edge_removed"
	EventProposalCreated     EventType = "proposal_created"
	EventProposalCommitted   EventType = "proposal_committed"
	EventProposalRejected    EventType = "proposal_rejected"
	EventProposalConflict    EventType = "proposal_conflict"
	EventTurnRecorded        EventType = "turn_recorded"
	EventAllocationCreated   EventType = "allocation_created"
	EventAllocationCompleted EventType = "allocation_completed"
	EventActivationSpread    EventType = "activation_spread"
	EventConflictResolved    EventType = "conflict_resolved"
	EventJournalCompacted    EventType = "journal_compacted"
	EventSystem              EventType = "system_event"
)

var eventTypes = []EventType{
	EventDTUCreated, EventDTUEdited, EventDTUActivated,
	EventEdgeCreated, EventEdgeUpdated, EventEdgeRemoved,
	EventProposalCreated, EventProposalCommitted, EventProposalRejected, EventProposalConflict,
	EventTurnRecorded, EventAllocationCreated, EventAllocationCompleted,
	EventActivationSpread, EventConflictResolved, EventJournalCompacted, EventSystem,
}

// EventTypes returns every known event type in declaration order.
func EventTypes() []EventType {
	return slices.Clone(eventTypes)
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return slices.Contains(eventTypes, t)
}

// Event is one immutable journal entry.
type Event struct {
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload"`
	ActorID   string         `json:"actor_id,omitempty"`
	EntityID  string         `json:"entity_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// clone returns e with a deep copy of its payload.
func (e Event) clone() Event {
	e.Payload = dtu.CloneMeta(e.Payload)
	return e
}

// Snapshot summarizes events dropped by compaction.
type Snapshot struct {
	ID             string            `json:"id"`
	CompactedCount int               `json:"compacted_count"`
	FromSeq        int64             `json:"from_seq"`
	ToSeq          int64             `json:"to_seq"`
	CountsByType   map[EventType]int `json:"counts_by_type"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Payload keys consulted, in order, when deriving event attribution.
var (
	actorKeys   = []string{"actorId", "proposedBy", "editedBy", "committedBy", "rejectedBy", "createdBy", "resolvedBy", "agentId"}
	entityKeys  = []string{"entityId", "dtuId", "edgeId", "proposalId", "allocationId", "workItemId"}
	sessionKeys = []string{"sessionId"}
)

func firstString(payload map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
