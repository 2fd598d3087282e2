package scheduler

import (
	"slices"
	"time"

	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
)

// AllocationStatus is active until CompleteAllocation.
type AllocationStatus string

const (
	AllocationActive    AllocationStatus = "active"
	AllocationCompleted AllocationStatus = "completed"
)

// Allocation is a work item assigned to a team for a bounded number of turns.
type Allocation struct {
	ID          string           `json:"id"`
	Item        WorkItem         `json:"item"`
	Team        []Member         `json:"team"`
	Status      AllocationStatus `json:"status"`
	Turns       int              `json:"turns"`
	MaxTurns    int              `json:"max_turns"`
	ProposalIDs []string         `json:"proposal_ids"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt time.Time        `json:"completed_at,omitzero"`
	Summary     *Summary         `json:"summary,omitempty"`
}

func (a *Allocation) clone() Allocation {
	c := *a
	c.Item = a.Item.clone()
	c.Team = slices.Clone(a.Team)
	c.ProposalIDs = slices.Clone(a.ProposalIDs)
	if a.Summary != nil {
		s := a.Summary.clone()
		c.Summary = &s
	}
	return c
}

func (a *Allocation) agentIDs() []string {
	ids := make([]string, len(a.Team))
	for i, m := range a.Team {
		ids[i] = m.AgentID
	}
	return ids
}

// AllocateResult lists allocations made and items left queued because no
// free agent filled their primary role.
type AllocateResult struct {
	Allocations []Allocation `json:"allocations"`
	Deferred    []WorkItem   `json:"deferred"`
}

// Allocate assigns up to k of the highest-priority queued items.
//
// The budget is a hard ceiling: at most min(k, remaining) allocations are
// made. When nothing remains the call fails with BUDGET_EXHAUSTED. Items
// whose primary role has no free agent are deferred and stay queued in
// place. k <= 0 is treated as 1.
func (s *Scheduler) Allocate(k int) (AllocateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	status := s.budget.check(now)
	if status.Remaining == 0 {
		s.logger.Warn("attention budget exhausted",
			"started", status.StartedThisCycle,
			"active", status.ActiveSessions,
			"queue_len", s.queue.len(),
		)
		return AllocateResult{}, ir.NewError(ir.CodeBudgetExhausted,
			"attention budget exhausted: %d started this cycle, %d active",
			status.StartedThisCycle, status.ActiveSessions)
	}
	if k <= 0 {
		k = 1
	}
	want := min(k, status.Remaining)

	res := AllocateResult{Allocations: []Allocation{}, Deferred: []WorkItem{}}
	busy := s.busyLocked()
	agents := s.roster.Agents()

	var picked []*WorkItem
	for _, w := range s.queue.items {
		if len(picked) == want {
			break
		}
		team, ok := formTeam(s.cfg.Affinity[w.Type], agents, busy)
		if !ok {
			res.Deferred = append(res.Deferred, w.clone())
			continue
		}
		for _, m := range team {
			busy[m.AgentID] = true
		}
		picked = append(picked, w)

		a := &Allocation{
			ID:          s.ids.NewID("alloc"),
			Team:        team,
			Status:      AllocationActive,
			MaxTurns:    s.cfg.MaxTurnsPerItem,
			ProposalIDs: []string{},
			CreatedAt:   now,
		}
		w.Status = ItemActive
		a.Item = w.clone()
		s.active[a.ID] = a
		s.order = append(s.order, a.ID)
		s.budget.start()
		res.Allocations = append(res.Allocations, a.clone())
	}
	for _, w := range picked {
		s.queue.remove(w.ID)
	}

	for _, a := range res.Allocations {
		s.journal(journal.EventAllocationCreated, map[string]any{
			"allocationId": a.ID,
			"workItemId":   a.Item.ID,
			"workType":     string(a.Item.Type),
			"priority":     a.Item.Priority,
			"agents":       a.agentIDs(),
			"refs":         slices.Clone(a.Item.InputRefs),
		})
		s.logger.Info("work allocated",
			"allocation", a.ID,
			"work_item", a.Item.ID,
			"type", a.Item.Type,
			"team", len(a.Team),
		)
	}
	if len(res.Deferred) > 0 {
		s.logger.Debug("work deferred", "count", len(res.Deferred))
	}
	return res, nil
}

func (s *Scheduler) busyLocked() map[string]bool {
	busy := make(map[string]bool)
	for _, a := range s.active {
		for _, m := range a.Team {
			busy[m.AgentID] = true
		}
	}
	return busy
}
