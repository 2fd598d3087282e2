package harness

import "github.com/roach88/lattice/internal/journal"

// TraceEvent is the attribution of one archived journal event.
// Payloads are left out so traces stay stable across float formatting.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	EntityID  string `json:"entity,omitempty"`
	ActorID   string `json:"actor,omitempty"`
	SessionID string `json:"session,omitempty"`
}

// StepOutcome records what one step did.
type StepOutcome struct {
	Index int    `json:"index"`
	Op    string `json:"op"`
	// ID is the id the step produced, if any.
	ID string `json:"id,omitempty"`
	// Error is the error code the step failed with, if any.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	Steps []StepOutcome `json:"steps"`

	// Trace is the journal as read back from the archive, in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Aliases maps `as` names to the ids they were bound to.
	Aliases map[string]string `json:"aliases,omitempty"`

	// Events and Snapshots are the retained journal and its compaction
	// snapshots at the end of the run.
	Events    []journal.Event    `json:"-"`
	Snapshots []journal.Snapshot `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Steps:   []StepOutcome{},
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Aliases: map[string]string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func traceOf(events []journal.Event) []TraceEvent {
	out := make([]TraceEvent, len(events))
	for i, e := range events {
		out[i] = TraceEvent{
			Seq:       e.Seq,
			Type:      string(e.Type),
			EntityID:  e.EntityID,
			ActorID:   e.ActorID,
			SessionID: e.SessionID,
		}
	}
	return out
}
