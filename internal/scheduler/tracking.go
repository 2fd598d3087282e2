package scheduler

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
)

// Stop reasons.
const (
	StopMaxTurns  = "MAX_TURNS"
	StopCompleted = "COMPLETED"
)

// TurnStatus is the result of RecordTurn.
type TurnStatus struct {
	AllocationID string `json:"allocation_id"`
	Turns        int    `json:"turns"`
	MaxTurns     int    `json:"max_turns"`
	Stop         bool   `json:"stop"`
	StopReason   string `json:"stop_reason,omitempty"`
}

// CompleteInput closes an allocation.
type CompleteInput struct {
	StopReason       string   `json:"stopReason" yaml:"stopReason"`
	Description      string   `json:"description" yaml:"description"`
	ConfidenceLabels []string `json:"confidenceLabels" yaml:"confidenceLabels"`
}

// Summary describes a completed allocation.
type Summary struct {
	TurnsUsed       int            `json:"turns_used"`
	ProposalIDs     []string       `json:"proposal_ids"`
	StopReason      string         `json:"stop_reason"`
	Description     string         `json:"description"`
	ConfidenceTally map[string]int `json:"confidence_tally"`
	Duration        time.Duration  `json:"duration"`
}

func (s Summary) clone() Summary {
	s.ProposalIDs = slices.Clone(s.ProposalIDs)
	s.ConfidenceTally = maps.Clone(s.ConfidenceTally)
	return s
}

// RecordTurn counts one turn against an active allocation. Turns stop
// counting at the per-item cap; from then on Stop is true with MAX_TURNS.
//
// Unknown and completed allocations fail with allocation_not_found.
func (s *Scheduler) RecordTurn(allocationID string) (TurnStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.activeLocked(allocationID)
	if err != nil {
		return TurnStatus{}, err
	}
	if a.Turns < a.MaxTurns {
		a.Turns++
		s.journal(journal.EventTurnRecorded, map[string]any{
			"allocationId": a.ID,
			"workItemId":   a.Item.ID,
			"turn":         a.Turns,
		})
	}

	ts := TurnStatus{AllocationID: a.ID, Turns: a.Turns, MaxTurns: a.MaxTurns}
	if a.Turns >= a.MaxTurns {
		ts.Stop = true
		ts.StopReason = StopMaxTurns
	}
	return ts, nil
}

// RecordProposal appends proposalID to an active allocation. Repeats are
// ignored.
func (s *Scheduler) RecordProposal(allocationID, proposalID string) (Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.activeLocked(allocationID)
	if err != nil {
		return Allocation{}, err
	}
	if proposalID == "" {
		return Allocation{}, ir.NewError(ir.CodeInvalidInput, "proposal id is required")
	}
	if !slices.Contains(a.ProposalIDs, proposalID) {
		a.ProposalIDs = append(a.ProposalIDs, proposalID)
	}
	return a.clone(), nil
}

// CompleteAllocation moves an active allocation to completed history,
// freeing one session slot. An empty stop reason becomes COMPLETED.
//
// Completing twice fails with allocation_not_active; unknown ids fail with
// allocation_not_found.
func (s *Scheduler) CompleteAllocation(allocationID string, in CompleteInput) (Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.active[allocationID]
	if !ok {
		if s.completedLocked(allocationID) {
			return Allocation{}, ir.NewError(ir.CodeAllocationNotActive,
				"allocation %q is already completed", allocationID).WithDetail("id", allocationID)
		}
		return Allocation{}, ir.NewError(ir.CodeAllocationNotFound,
			"allocation %q not found", allocationID).WithDetail("id", allocationID)
	}

	now := s.now()
	reason := in.StopReason
	if reason == "" {
		reason = StopCompleted
	}
	tally := make(map[string]int, len(in.ConfidenceLabels))
	for _, label := range in.ConfidenceLabels {
		tally[label]++
	}

	a.Status = AllocationCompleted
	a.CompletedAt = now
	a.Item.Status = ItemCompleted
	a.Summary = &Summary{
		TurnsUsed:       a.Turns,
		ProposalIDs:     slices.Clone(a.ProposalIDs),
		StopReason:      reason,
		Description:     in.Description,
		ConfidenceTally: tally,
		Duration:        now.Sub(a.CreatedAt),
	}

	delete(s.active, a.ID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == a.ID })
	s.completed = append(s.completed, a.clone())
	if over := len(s.completed) - s.cfg.CompletedHistory; over > 0 {
		s.completed = slices.Delete(s.completed, 0, over)
	}
	s.budget.release()

	s.journal(journal.EventAllocationCompleted, map[string]any{
		"allocationId": a.ID,
		"workItemId":   a.Item.ID,
		"stopReason":   reason,
		"turns":        a.Turns,
		"proposals":    slices.Clone(a.ProposalIDs),
		"refs":         slices.Clone(a.Item.InputRefs),
	})
	s.logger.Info("allocation completed",
		"allocation", a.ID,
		"stop_reason", reason,
		"turns", a.Turns,
		"proposals", len(a.ProposalIDs),
	)
	return a.clone(), nil
}

// Active returns active allocations in creation order.
func (s *Scheduler) Active() []Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Allocation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.active[id].clone())
	}
	return out
}

// GetActive returns an active allocation.
func (s *Scheduler) GetActive(allocationID string) (Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.activeLocked(allocationID)
	if err != nil {
		return Allocation{}, err
	}
	return a.clone(), nil
}

// Completed returns up to limit completed allocations, most recent first.
// limit <= 0 returns the whole history.
func (s *Scheduler) Completed(limit int) []Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.completed)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Allocation, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.completed[i].clone())
	}
	return out
}

func (s *Scheduler) activeLocked(id string) (*Allocation, error) {
	a, ok := s.active[id]
	if !ok {
		return nil, ir.NewError(ir.CodeAllocationNotFound, "allocation %q not found", id).
			WithDetail("id", id)
	}
	return a, nil
}

func (s *Scheduler) completedLocked(id string) bool {
	for _, a := range s.completed {
		if a.ID == id {
			return true
		}
	}
	return false
}
